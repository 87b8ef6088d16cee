// Package completion adapts language-model backends to the single text
// completion call the conversation core depends on.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrProviderFailure wraps every error returned by a Provider built here,
// including timeouts, so callers can map them with errors.Is.
var ErrProviderFailure = errors.New("completion provider failure")

// Provider turns a prompt into raw model text. The reply carries no
// structural guarantee; validation happens downstream.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f ProviderFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// WithTimeout bounds every call to p by d. A zero or negative d leaves calls
// unbounded except by the caller's context.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return ProviderFunc(func(ctx context.Context, prompt string) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		text, err := p.Complete(callCtx, prompt)
		if err != nil {
			return "", wrap(err)
		}
		return text, nil
	})
}

func wrap(err error) error {
	if errors.Is(err, ErrProviderFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProviderFailure, err)
}
