package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/ogolikhin/procgraph/internal/logging"
	"github.com/ogolikhin/procgraph/internal/process"
)

// DefaultBatchDelay is how long Watch waits for more changes before
// reporting a batch.
const DefaultBatchDelay = 2 * time.Second

// Event reports one changed process file.
type Event struct {
	RelPath string

	// Model is the decoded model; nil when the file was removed or failed
	// to decode.
	Model *process.Model

	// Removed is set when the file no longer exists.
	Removed bool

	// Err is the read or decode error.
	Err error
}

// Handler receives the events of one batch.
type Handler func(ctx context.Context, events []Event)

// Watch monitors root for changes to process files and calls handle with
// each batch. Files whose content did not change are not reported. It blocks
// until ctx is cancelled.
func Watch(ctx context.Context, root string, delay time.Duration, handle Handler) error {
	logger := logging.FromContext(ctx)
	if delay <= 0 {
		delay = DefaultBatchDelay
	}

	matcher, err := loadMatcher(root)
	if err != nil {
		return fmt.Errorf("loading ignore rules: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := addDirs(watcher, root, root, matcher); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	hashes := make(map[string]string)
	entries, err := Walk(root)
	if err != nil {
		return fmt.Errorf("initial walk: %w", err)
	}
	for _, e := range entries {
		hashes[e.RelPath] = e.SHA256
	}

	changed := make(map[string]bool)
	batchTimer := time.NewTimer(delay)
	batchTimer.Stop()

	logger.Info("watching for process changes", "root", root, "files", len(entries))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !shouldSkipDir(info.Name(), event.Name, root, matcher) {
						if err := addDirs(watcher, event.Name, root, matcher); err != nil {
							logger.Warn("watching new directory", "path", event.Name, "error", err)
						}
					}
					continue
				}
			}

			if !shouldLoadFile(event.Name, root, matcher) {
				continue
			}
			relPath, err := filepath.Rel(root, event.Name)
			if err != nil {
				continue
			}
			changed[relPath] = true
			batchTimer.Reset(delay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)

		case <-batchTimer.C:
			if len(changed) == 0 {
				continue
			}
			events := collectChanges(root, changed, hashes)
			changed = make(map[string]bool)
			if len(events) == 0 {
				continue
			}
			logger.Debug("process files changed", "count", len(events))
			handle(ctx, events)
		}
	}
}

// collectChanges turns changed paths into events and updates hashes.
func collectChanges(root string, changed map[string]bool, hashes map[string]string) []Event {
	events := make([]Event, 0, len(changed))
	for relPath := range changed {
		path := filepath.Join(root, relPath)

		entry, err := readEntry(root, path)
		if os.IsNotExist(err) {
			if _, known := hashes[relPath]; known {
				delete(hashes, relPath)
				events = append(events, Event{RelPath: relPath, Removed: true})
			}
			continue
		}
		if err != nil {
			events = append(events, Event{RelPath: relPath, Err: err})
			continue
		}

		if hashes[relPath] == entry.SHA256 {
			continue
		}
		hashes[relPath] = entry.SHA256

		m, err := entry.Model()
		events = append(events, Event{RelPath: relPath, Model: m, Err: err})
	}
	return events
}

// addDirs watches dir and every non-ignored directory below it.
func addDirs(watcher *fsnotify.Watcher, dir, root string, matcher gitignore.Matcher) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && shouldSkipDir(d.Name(), path, root, matcher) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
