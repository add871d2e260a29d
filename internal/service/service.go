// Package service ties storage to process graphs. It is the entry point the
// CLI, the HTTP API and the MCP server share: processes are read from the
// store, built into graphs once per revision and answered from memory.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ogolikhin/procgraph/internal/config"
	"github.com/ogolikhin/procgraph/internal/editor"
	"github.com/ogolikhin/procgraph/internal/graph"
	"github.com/ogolikhin/procgraph/internal/loader"
	"github.com/ogolikhin/procgraph/internal/process"
	"github.com/ogolikhin/procgraph/internal/storage"
)

// ErrConflict is returned when a process changes between the read and the
// save of an edit.
var ErrConflict = errors.New("service: process changed during edit")

type cached struct {
	revision string
	graph    *graph.ProcessGraph
}

// Service serves process graphs out of a storage backend.
type Service struct {
	store    storage.Backend
	opts     graph.Options
	settings editor.Settings
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[int]cached

	// edit serializes writes so an edit never saves over a newer revision.
	edit sync.Mutex
}

// New creates a service over store using the settings in cfg.
func New(store storage.Backend, cfg config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := cfg.ShapeLimit
	if limit < 0 {
		limit = 0
	}
	return &Service{
		store: store,
		opts:  cfg.GraphOptions(logger),
		settings: editor.Settings{
			ShapeLimit: limit,
			SMB:        cfg.SMB,
			Labels:     cfg.Labels,
		},
		logger: logger,
		cache:  make(map[int]cached),
	}
}

// Settings returns the editor settings.
func (s *Service) Settings() editor.Settings {
	return s.settings
}

// Graph returns the graph of a stored process. Graphs are cached per
// revision; the returned graph must not be mutated.
func (s *Service) Graph(ctx context.Context, id int) (*graph.ProcessGraph, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cache[id]; ok && c.revision == rec.Revision {
		return c.graph, nil
	}

	g := graph.New(rec.Model, s.opts)
	if diag := g.UpdateTreeAndFlows(); len(diag.SkippedLinks) > 0 || len(diag.Unreachable) > 0 || diag.MissingStart {
		s.logger.Warn("process graph is malformed",
			"process", id,
			"skipped_links", len(diag.SkippedLinks),
			"unreachable", len(diag.Unreachable),
			"missing_start", diag.MissingStart)
	}
	s.cache[id] = cached{revision: rec.Revision, graph: g}
	return g, nil
}

// Save stores a process and returns its new revision.
func (s *Service) Save(ctx context.Context, m *process.Model) (string, error) {
	s.edit.Lock()
	defer s.edit.Unlock()
	return s.save(ctx, m)
}

func (s *Service) save(ctx context.Context, m *process.Model) (string, error) {
	if err := loader.Validate(m); err != nil {
		return "", err
	}
	if limit := s.settings.ShapeLimit; limit > 0 && m.ShapeCount() > limit {
		return "", fmt.Errorf("process %d has %d shapes: %w", m.ID, m.ShapeCount(), graph.ErrShapeLimit)
	}

	rev, err := s.store.Save(ctx, m)
	if err != nil {
		return "", err
	}
	s.forget(m.ID)
	s.logger.Info("process saved", "process", m.ID, "revision", rev, "shapes", m.ShapeCount())
	return rev, nil
}

// Import reads a JSON or HCL process file and saves it.
func (s *Service) Import(ctx context.Context, path string) (*process.Model, string, error) {
	m, err := loader.LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	rev, err := s.Save(ctx, m)
	if err != nil {
		return nil, "", err
	}
	return m, rev, nil
}

// Delete removes a stored process.
func (s *Service) Delete(ctx context.Context, id int) error {
	s.edit.Lock()
	defer s.edit.Unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.forget(id)
	s.logger.Info("process deleted", "process", id)
	return nil
}

// List returns summaries of the stored processes.
func (s *Service) List(ctx context.Context) ([]storage.Summary, error) {
	return s.store.List(ctx)
}

// Search finds processes by name or shape name.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]storage.Summary, error) {
	return s.store.Search(ctx, query, limit)
}

// InsertOptions lists what may be inserted on a link of a stored process.
func (s *Service) InsertOptions(ctx context.Context, id, sourceID, destinationID int) ([]editor.Option, error) {
	g, err := s.Graph(ctx, id)
	if err != nil {
		return nil, err
	}
	return editor.InsertOptions(g, s.settings, sourceID, destinationID)
}

// Insert adds an element on a link of a stored process, saves the result and
// returns the ids of the new shapes. Inserts through one service are applied
// in turn; a process saved by another writer meanwhile yields ErrConflict.
func (s *Service) Insert(ctx context.Context, id int, kind editor.Kind, sourceID, destinationID int) ([]int, string, error) {
	s.edit.Lock()
	defer s.edit.Unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	// Work on a private graph; cached graphs are shared with readers.
	g := graph.New(rec.Model, s.opts)
	ids, err := editor.Insert(g, s.settings, kind, sourceID, destinationID)
	if err != nil {
		return nil, "", err
	}

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if cur.Revision != rec.Revision {
		return nil, "", fmt.Errorf("process %d: %w", id, ErrConflict)
	}

	rev, err := s.save(ctx, g.Model())
	if err != nil {
		return nil, "", err
	}
	return ids, rev, nil
}

func (s *Service) forget(id int) {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
}
