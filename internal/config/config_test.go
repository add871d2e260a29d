package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()

	assert.Equal(t, DefaultShapeLimit, cfg.ShapeLimit)
	assert.False(t, cfg.SMB)
	assert.True(t, cfg.AutoRebuild())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.NotNil(t, cfg.Labels)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("EmptyPath", func(t *testing.T) {
		t.Parallel()
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("File", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "procgraph.yaml")
		content := `
shape_limit: 40
smb: true
labels:
  ST_New_User_Task_Label: Nouvelle tâche
tree:
  auto_rebuild: false
log:
  level: debug
  format: json
storage:
  path: /var/lib/procgraph
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 40, cfg.ShapeLimit)
		assert.True(t, cfg.SMB)
		assert.Equal(t, "Nouvelle tâche", cfg.Labels["ST_New_User_Task_Label"])
		assert.False(t, cfg.AutoRebuild())
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.Equal(t, "/var/lib/procgraph", cfg.Storage.Path)
		assert.Equal(t, ":8080", cfg.HTTP.Addr)

		opts := cfg.GraphOptions(nil)
		assert.Equal(t, 40, opts.ShapeLimit)
		assert.True(t, opts.StrictFreshness)
	})

	t.Run("Missing", func(t *testing.T) {
		t.Parallel()
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("Malformed", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("shape_limit: [1"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestGraphOptions_UnlimitedShapes(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.ShapeLimit = -1

	assert.Equal(t, 0, cfg.GraphOptions(nil).ShapeLimit)
}
