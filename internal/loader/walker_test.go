package loader

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		fullPath := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
		require.NoError(t, os.WriteFile(fullPath, []byte(content), 0o644))
	}
}

func TestWalk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"review.json":           decisionJSON,
		"fixtures/review.hcl":   decisionHCL,
		"fixtures/draft.json":   decisionJSON,
		"README.md":             "# processes",
		".gitignore":            "drafts/\nfixtures/draft.json\n",
		"drafts/wip.json":       decisionJSON,
		"node_modules/x.json":   "{}",
		".procgraph/cache.json": "{}",
	})

	entries, err := Walk(root)
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.RelPath)
	}
	sort.Strings(paths)
	assert.Equal(t, []string{filepath.Join("fixtures", "review.hcl"), "review.json"}, paths)

	for _, e := range entries {
		assert.Len(t, e.SHA256, 64)
		m, err := e.Model()
		require.NoError(t, err)
		assert.Equal(t, 7, m.ID)
	}
}

func TestLoadGitignore(t *testing.T) {
	t.Parallel()

	t.Run("Missing", func(t *testing.T) {
		t.Parallel()
		patterns, err := loadGitignore(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, patterns)
	})

	t.Run("SkipsCommentsAndBlanks", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeFiles(t, root, map[string]string{".gitignore": "# comment\n\n*.bak\nbuild/\n"})

		patterns, err := loadGitignore(root)
		require.NoError(t, err)
		assert.Len(t, patterns, 2)
	})
}

func TestFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "json", Format("a/b/process.JSON"))
	assert.Equal(t, "hcl", Format("process.hcl"))
	assert.Equal(t, "", Format("process.yaml"))
}

func TestWatch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"review.json": decisionJSON})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batches := make(chan []Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, root, 50*time.Millisecond, func(_ context.Context, events []Event) {
			batches <- events
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	writeFiles(t, root, map[string]string{"new.hcl": decisionHCL})

	select {
	case events := <-batches:
		require.Len(t, events, 1)
		assert.Equal(t, "new.hcl", events[0].RelPath)
		require.NoError(t, events[0].Err)
		assert.Equal(t, 7, events[0].Model.ID)
	case <-ctx.Done():
		t.Fatal("no change reported")
	}

	require.NoError(t, os.Remove(filepath.Join(root, "review.json")))

	select {
	case events := <-batches:
		require.Len(t, events, 1)
		assert.True(t, events[0].Removed)
		assert.Nil(t, events[0].Model)
	case <-ctx.Done():
		t.Fatal("no removal reported")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCollectChanges_SkipsUnchanged(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"review.json": decisionJSON})
	entries, err := Walk(root)
	require.NoError(t, err)

	hashes := map[string]string{"review.json": entries[0].SHA256}
	events := collectChanges(root, map[string]bool{"review.json": true}, hashes)
	assert.Empty(t, events)

	writeFiles(t, root, map[string]string{"review.json": `{"shapes": [`})
	events = collectChanges(root, map[string]bool{"review.json": true}, hashes)
	require.Len(t, events, 1)
	assert.Error(t, events[0].Err)

	events = collectChanges(root, map[string]bool{"gone.json": true}, hashes)
	assert.Empty(t, events)
}
