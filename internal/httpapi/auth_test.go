package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"mesa/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func forgedExpiry() time.Time {
	return time.Now().UTC().Add(time.Hour)
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:     "admin",
				Password:     "admin123",
				Role:         RoleAdmin,
				RestaurantID: "rest-demo",
				Active:       true,
				CreatedAt:    time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestTokenCarriesRoleAndRestaurant(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"ana": {Username: "ana", Password: mustHashPassword(t, "s3cret"), Role: RoleWaiter, RestaurantID: "rest-demo", Active: true},
	}}
	manager := NewAuthManager("test-secret", time.Hour, store)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "  ANA ", Password: "s3cret"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "ana" || actor.Role != RoleWaiter || actor.RestaurantID != "rest-demo" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestInactiveUserCannotLogin(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"gone": {Username: "gone", Password: mustHashPassword(t, "pass1234"), Role: RoleCashier, Active: false},
	}}
	manager := NewAuthManager("test-secret", time.Hour, store)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "gone", Password: "pass1234"}); err == nil {
		t.Fatalf("expected inactive account to be refused")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, nil)
	token, err := manager.sign("admin", RoleAdmin, "", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
