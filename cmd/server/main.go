package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mesa/backend/internal/cache"
	"mesa/backend/internal/cashledger"
	"mesa/backend/internal/catalog"
	"mesa/backend/internal/config"
	"mesa/backend/internal/httpapi"
	"mesa/backend/internal/inventory"
	"mesa/backend/internal/logger"
	"mesa/backend/internal/notify"
	"mesa/backend/internal/service"
	"mesa/backend/internal/store"
	"mesa/backend/internal/store/memory"
	pgstore "mesa/backend/internal/store/postgres"
	"mesa/backend/internal/tables"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Install(logger.New("mesa-backend", cfg.LogLevel))
	if err := validateSecurityConfig(cfg); err != nil {
		slog.Error("invalid security configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(startCtx); err != nil {
			log.Fatalf("schema migration failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		slog.Info("repository ready", slog.String("backend", "postgres"))
	} else {
		repo = memory.NewSeeded()
		slog.Info("repository ready", slog.String("backend", "memory"))
	}

	menuCache := cache.MenuCache(cache.NoopMenuCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisMenuCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			slog.Warn("redis unavailable, using noop cache", slog.Any("error", err))
		} else {
			menuCache = redisCache
			closers = append(closers, redisCache.Close)
			slog.Info("menu cache ready", slog.String("backend", "redis"))
		}
	}

	hub := notify.NewHub()
	sinks := []notify.Sink{hub, notify.NewFiscalSink(repo, notify.LogEmitter{})}
	if cfg.AMQPURL != "" {
		publisher, err := notify.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			slog.Warn("amqp unavailable, order events stay in-process", slog.Any("error", err))
		} else {
			sinks = append(sinks, publisher)
			closers = append(closers, publisher.Close)
			slog.Info("order events published", slog.String("exchange", cfg.AMQPExchange))
		}
	}
	dispatcher := notify.NewDispatcher(cfg.NotifyWorkers, cfg.NotifyMaxAttempts, sinks...)
	dispatcher.Start(context.Background())

	cash := cashledger.New(repo)
	stock := inventory.New(repo, cash)
	registry := tables.New(repo)
	menus := catalog.NewReader(repo, menuCache, time.Duration(cfg.MenuCacheTTLSeconds)*time.Second)
	svc := service.New(repo, menus, stock, cash, registry, dispatcher)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(httpapi.Dependencies{
		Orders:    svc,
		Cash:      cash,
		Inventory: stock,
		Tables:    registry,
		Events:    hub,
		Auth:      auth,
	}, cfg.AllowedOrigin)

	go cash.RunScheduler(ctx, time.Duration(cfg.RecurringIntervalMinutes)*time.Minute)

	// No WriteTimeout: the event stream holds responses open.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		slog.Info("mesa backend listening", slog.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", slog.Any("error", err))
	}
	dispatcher.Close()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			slog.Error("close error", slog.Any("error", err))
		}
	}

	slog.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
