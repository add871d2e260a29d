package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ogolikhin/procgraph/internal/process"
)

// BreakerOptions tunes the circuit breaker around a backend.
type BreakerOptions struct {
	// Failures is the number of consecutive failures that opens the circuit.
	Failures uint32

	// Timeout is how long the circuit stays open before a trial request.
	Timeout time.Duration

	Logger *slog.Logger
}

// BreakerBackend wraps a Backend so that a failing store is short-circuited
// instead of retried on every request. Not-found and read-only answers are
// treated as successes.
type BreakerBackend struct {
	Backend
	cb *gobreaker.CircuitBreaker[any]
}

// NewBreakerBackend wraps inner with a circuit breaker.
func NewBreakerBackend(inner Backend, opts BreakerOptions) *BreakerBackend {
	if opts.Failures == 0 {
		opts.Failures = 5
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	failures := opts.Failures
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "storage",
		MaxRequests: 1,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrProcessNotFound) || errors.Is(err, ErrReadOnly)
		},
	})
	return &BreakerBackend{Backend: inner, cb: cb}
}

// State reports the breaker state: "closed", "half-open" or "open".
func (b *BreakerBackend) State() string {
	return b.cb.State().String()
}

// Save implements Backend.
func (b *BreakerBackend) Save(ctx context.Context, m *process.Model) (string, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.Backend.Save(ctx, m)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Get implements Backend.
func (b *BreakerBackend) Get(ctx context.Context, id int) (*Record, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.Backend.Get(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// Delete implements Backend.
func (b *BreakerBackend) Delete(ctx context.Context, id int) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.Backend.Delete(ctx, id)
	})
	return err
}

// List implements Backend.
func (b *BreakerBackend) List(ctx context.Context) ([]Summary, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.Backend.List(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Summary), nil
}

// Search implements Backend.
func (b *BreakerBackend) Search(ctx context.Context, query string, limit int) ([]Summary, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.Backend.Search(ctx, query, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Summary), nil
}
