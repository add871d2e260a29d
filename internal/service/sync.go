package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ogolikhin/procgraph/internal/loader"
	"github.com/ogolikhin/procgraph/internal/storage"
)

// Syncer mirrors a directory of process files into the store. Each file holds
// one process; removing the file deletes the process.
type Syncer struct {
	svc  *Service
	root string

	mu  sync.Mutex
	ids map[string]int // relative path -> process id
}

// NewSyncer returns a syncer for the process files below root.
func (s *Service) NewSyncer(root string) *Syncer {
	return &Syncer{svc: s, root: root, ids: make(map[string]int)}
}

// Load imports every process file below root. Files that fail to decode or
// save are logged and skipped; the count of saved processes is returned.
func (y *Syncer) Load(ctx context.Context) (int, error) {
	entries, err := loader.Walk(y.root)
	if err != nil {
		return 0, fmt.Errorf("walking %s: %w", y.root, err)
	}

	saved := 0
	for _, e := range entries {
		m, err := e.Model()
		if err != nil {
			y.svc.logger.Warn("skipping process file", "path", e.RelPath, "error", err)
			continue
		}
		if _, err := y.svc.Save(ctx, m); err != nil {
			y.svc.logger.Warn("saving process file failed", "path", e.RelPath, "error", err)
			continue
		}
		y.mu.Lock()
		y.ids[e.RelPath] = m.ID
		y.mu.Unlock()
		saved++
	}
	return saved, nil
}

// Apply stores the changes of one watcher batch.
func (y *Syncer) Apply(ctx context.Context, events []loader.Event) {
	y.mu.Lock()
	defer y.mu.Unlock()

	for _, ev := range events {
		switch {
		case ev.Removed:
			id, ok := y.ids[ev.RelPath]
			if !ok {
				continue
			}
			delete(y.ids, ev.RelPath)
			if err := y.svc.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrProcessNotFound) {
				y.svc.logger.Warn("deleting process failed", "path", ev.RelPath, "process", id, "error", err)
			}
		case ev.Err != nil:
			y.svc.logger.Warn("skipping process file", "path", ev.RelPath, "error", ev.Err)
		default:
			if _, err := y.svc.Save(ctx, ev.Model); err != nil {
				y.svc.logger.Warn("saving process file failed", "path", ev.RelPath, "error", err)
				continue
			}
			y.ids[ev.RelPath] = ev.Model.ID
		}
	}
}

// Run loads root and then applies changes until ctx is cancelled.
func (y *Syncer) Run(ctx context.Context, delay time.Duration) error {
	n, err := y.Load(ctx)
	if err != nil {
		return err
	}
	y.svc.logger.Info("process files loaded", "root", y.root, "processes", n)
	return loader.Watch(ctx, y.root, delay, y.Apply)
}
