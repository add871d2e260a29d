package storage

import (
	"context"
	"log/slog"

	"github.com/ogolikhin/procgraph/internal/config"
)

// Open initializes the backend the configuration selects and wraps it in a
// circuit breaker. DatabaseURL wins over Path; with neither the store lives
// in memory.
func Open(ctx context.Context, cfg config.StorageConfig, readOnly bool, logger *slog.Logger) (*BreakerBackend, error) {
	var (
		backend  Backend
		location string
	)
	switch {
	case cfg.DatabaseURL != "":
		backend, location = NewPostgresBackend(nil), cfg.DatabaseURL
	case cfg.Path != "":
		backend, location = NewBadgerBackend(), cfg.Path
	default:
		backend = NewMemoryBackend()
	}

	if err := backend.Initialize(ctx, location, readOnly); err != nil {
		return nil, err
	}
	return NewBreakerBackend(backend, BreakerOptions{Logger: logger}), nil
}
