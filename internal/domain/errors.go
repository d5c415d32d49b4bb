package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidSelection   = errors.New("invalid selection")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrOrderClosed        = fmt.Errorf("order is closed: %w", ErrInvalidTransition)
	ErrSessionAlreadyOpen = errors.New("cashier session already open")
	ErrNoOpenSession      = errors.New("no open cashier session")
	ErrAlreadyConfirmed   = errors.New("stock entry already confirmed")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrNotProducible      = errors.New("ingredient has no recipe")
	ErrConflict           = errors.New("conflict")
	ErrInvalidPayment     = errors.New("invalid payment")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrForbidden          = errors.New("forbidden")
)
