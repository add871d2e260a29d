// Package storage provides the process storage backends for procgraph.
//
// It defines the Backend interface that all storage implementations must
// satisfy, along with the record types shared by them.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ogolikhin/procgraph/internal/process"
)

// ErrProcessNotFound is returned for an unknown process id.
var ErrProcessNotFound = errors.New("storage: process not found")

var (
	// ErrClosed is returned by a backend that is not initialized.
	ErrClosed = errors.New("storage: backend not initialized")

	// ErrReadOnly is returned by writes to a backend opened read-only.
	ErrReadOnly = errors.New("storage: backend is read-only")
)

// Record is one stored process model.
type Record struct {
	Model *process.Model `json:"model"`

	// Revision changes on every save.
	Revision string `json:"revision"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary describes a stored process without its shapes and links.
type Summary struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Revision  string    `json:"revision"`
	Shapes    int       `json:"shapes"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Score is the search relevance; zero outside Search.
	Score float64 `json:"score,omitempty"`
}

func (r *Record) summary() Summary {
	return Summary{
		ID:        r.Model.ID,
		Name:      r.Model.Name,
		Revision:  r.Revision,
		Shapes:    r.Model.ShapeCount(),
		UpdatedAt: r.UpdatedAt,
	}
}

// Backend defines the interface for storage implementations.
//
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Initialize opens or creates the storage at the given location (a
	// directory or a database URL). If readOnly is true, writes fail.
	Initialize(ctx context.Context, location string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// Save stores m, replacing any process with the same id, and returns
	// the new revision.
	Save(ctx context.Context, m *process.Model) (string, error)

	// Get returns the stored process or ErrProcessNotFound.
	Get(ctx context.Context, id int) (*Record, error)

	// Delete removes a process. Deleting an unknown id returns
	// ErrProcessNotFound.
	Delete(ctx context.Context, id int) error

	// List returns summaries of all processes ordered by id.
	List(ctx context.Context) ([]Summary, error)

	// Search returns processes whose name or shape names match query, best
	// first. A limit of zero or less returns every match.
	Search(ctx context.Context, query string, limit int) ([]Summary, error)
}
