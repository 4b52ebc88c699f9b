package repository

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks transient storage failures. Callers may retry.
	ErrStoreUnavailable = errors.New("message store unavailable")
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailTaken       = errors.New("email already registered")
)

// classify wraps a storage error. Caller cancellation passes through
// unchanged; everything else is reported as ErrStoreUnavailable.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", op, context.Canceled)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
