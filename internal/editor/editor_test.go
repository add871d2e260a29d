package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogolikhin/procgraph/internal/graph"
	"github.com/ogolikhin/procgraph/internal/process"
)

// linearModel builds Start(1) -> UserTask(2) -> SystemTask(3) -> End(4).
func linearModel() *process.Model {
	return &process.Model{
		ID: 1,
		Shapes: []*process.Shape{
			{ID: 1, Type: process.ShapeStart, Name: "Start"},
			{ID: 2, Type: process.ShapeUserTask, Name: "User Task 1"},
			{ID: 3, Type: process.ShapeSystemTask, Name: "System Task 1"},
			{ID: 4, Type: process.ShapeEnd, Name: "End"},
		},
		Links: []*process.Link{
			{SourceID: 1, DestinationID: 2},
			{SourceID: 2, DestinationID: 3},
			{SourceID: 3, DestinationID: 4},
		},
	}
}

func kinds(options []Option) map[Kind]Option {
	result := make(map[Kind]Option, len(options))
	for _, o := range options {
		result[o.Kind] = o
	}
	return result
}

func TestInsertOptions(t *testing.T) {
	t.Parallel()

	t.Run("AfterSystemTask", func(t *testing.T) {
		t.Parallel()
		g := graph.New(linearModel(), graph.Options{})
		options, err := InsertOptions(g, Settings{}, 3, 4)
		require.NoError(t, err)

		byKind := kinds(options)
		assert.True(t, byKind[KindUserTask].Enabled)
		assert.True(t, byKind[KindUserDecision].Enabled)
		assert.False(t, byKind[KindSystemDecision].Enabled)
		assert.Equal(t, ReasonPosition, byKind[KindSystemDecision].Reason)
		assert.NotContains(t, byKind, KindBranch)
	})

	t.Run("AfterUserTask", func(t *testing.T) {
		t.Parallel()
		g := graph.New(linearModel(), graph.Options{})
		options, err := InsertOptions(g, Settings{}, 2, 3)
		require.NoError(t, err)

		byKind := kinds(options)
		assert.False(t, byKind[KindUserTask].Enabled)
		assert.True(t, byKind[KindSystemDecision].Enabled)
	})

	t.Run("SMB", func(t *testing.T) {
		t.Parallel()
		g := graph.New(linearModel(), graph.Options{})
		options, err := InsertOptions(g, Settings{SMB: true}, 2, 3)
		require.NoError(t, err)
		assert.NotContains(t, kinds(options), KindSystemDecision)
	})

	t.Run("ShapeLimit", func(t *testing.T) {
		t.Parallel()
		g := graph.New(linearModel(), graph.Options{})
		options, err := InsertOptions(g, Settings{ShapeLimit: 6}, 3, 4)
		require.NoError(t, err)

		byKind := kinds(options)
		assert.True(t, byKind[KindUserTask].Enabled)
		assert.False(t, byKind[KindUserDecision].Enabled)
		assert.Equal(t, ReasonShapeLimit, byKind[KindUserDecision].Reason)
	})

	t.Run("ReadOnly", func(t *testing.T) {
		t.Parallel()
		m := linearModel()
		m.Status.IsReadOnly = true
		g := graph.New(m, graph.Options{})
		options, err := InsertOptions(g, Settings{}, 3, 4)
		require.NoError(t, err)
		for _, o := range options {
			assert.False(t, o.Enabled)
			assert.Equal(t, ReasonReadOnly, o.Reason)
		}
	})

	t.Run("UnknownLink", func(t *testing.T) {
		t.Parallel()
		g := graph.New(linearModel(), graph.Options{})
		_, err := InsertOptions(g, Settings{}, 1, 4)
		assert.ErrorIs(t, err, graph.ErrLinkNotFound)
	})
}

func TestDefaultName(t *testing.T) {
	t.Parallel()

	g := graph.New(linearModel(), graph.Options{})

	assert.Equal(t, "User Task 2", DefaultName(g, Settings{}, process.ShapeUserTask))
	assert.Equal(t, "User Decision 1", DefaultName(g, Settings{}, process.ShapeUserDecision))
	assert.Equal(t, "Tâche 2", DefaultName(g, Settings{Labels: map[string]string{LabelUserTask: "Tâche"}}, process.ShapeUserTask))
	assert.Equal(t, "End", DefaultName(g, Settings{}, process.ShapeEnd))
}

func TestSettings_Label(t *testing.T) {
	t.Parallel()

	s := Settings{Labels: map[string]string{LabelSystemTask: "", "custom": "Custom"}}

	assert.Equal(t, "System Task", s.Label(LabelSystemTask))
	assert.Equal(t, "Custom", s.Label("custom"))
	assert.Equal(t, "unknown_key", s.Label("unknown_key"))
}

func TestToolbarState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status process.Status
		dirty  bool
		want   Toolbar
	}{
		{"Unlocked", process.Status{}, false, Toolbar{Delete: true}},
		{"UnlockedDirty", process.Status{}, true, Toolbar{Save: true, Publish: true, Delete: true}},
		{"LockedByMe", process.Status{IsLocked: true, IsLockedByMe: true}, false, Toolbar{Publish: true, Discard: true, Delete: true}},
		{"LockedByOther", process.Status{IsLocked: true}, true, Toolbar{}},
		{"ReadOnly", process.Status{IsReadOnly: true, IsLocked: true, IsLockedByMe: true}, true, Toolbar{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ToolbarState(tt.status, tt.dirty))
		})
	}
}
