package graph

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogolikhin/procgraph/internal/process"
)

func shape(id int, t process.ShapeType) *process.Shape {
	return &process.Shape{ID: id, Type: t, Name: string(t)}
}

func link(src, dst, order int) *process.Link {
	return &process.Link{SourceID: src, DestinationID: dst, OrderIndex: order}
}

// decisionModel builds
// Start(1) -> UserTask(2) -> UserDecision(3){0: SystemTask(4) -> End(5), 1: End(5)}.
func decisionModel() *process.Model {
	return &process.Model{
		ID:   100,
		Name: "decision",
		Shapes: []*process.Shape{
			shape(1, process.ShapeStart),
			shape(2, process.ShapeUserTask),
			shape(3, process.ShapeUserDecision),
			shape(4, process.ShapeSystemTask),
			shape(5, process.ShapeEnd),
		},
		Links: []*process.Link{
			link(1, 2, 0),
			link(2, 3, 0),
			link(3, 4, 0),
			link(3, 5, 1),
			link(4, 5, 0),
		},
		DecisionBranchDestinationLinks: []*process.Link{
			link(3, 5, 0),
			link(3, 5, 1),
		},
	}
}

// nestedModel builds two nested user decisions, each branch a user task
// followed by a system task:
//
//	Start(1) -> UT(2) -> ST(3) -> UD(4)
//	  UD(4) 0: UT(5) -> ST(6) -> UD(7)
//	    UD(7) 0: UT(8)  -> ST(9)  -> End(99)
//	    UD(7) 1: UT(10) -> ST(11) -> End(99)
//	  UD(4) 1: UT(12) -> ST(13) -> End(99)
func nestedModel() *process.Model {
	return &process.Model{
		ID:   200,
		Name: "nested",
		Shapes: []*process.Shape{
			shape(1, process.ShapeStart),
			shape(2, process.ShapeUserTask),
			shape(3, process.ShapeSystemTask),
			shape(4, process.ShapeUserDecision),
			shape(5, process.ShapeUserTask),
			shape(6, process.ShapeSystemTask),
			shape(7, process.ShapeUserDecision),
			shape(8, process.ShapeUserTask),
			shape(9, process.ShapeSystemTask),
			shape(10, process.ShapeUserTask),
			shape(11, process.ShapeSystemTask),
			shape(12, process.ShapeUserTask),
			shape(13, process.ShapeSystemTask),
			shape(99, process.ShapeEnd),
		},
		Links: []*process.Link{
			link(1, 2, 0),
			link(2, 3, 0),
			link(3, 4, 0),
			link(4, 5, 0),
			link(4, 12, 1),
			link(5, 6, 0),
			link(6, 7, 0),
			link(7, 8, 0),
			link(7, 10, 1),
			link(8, 9, 0),
			link(9, 99, 0),
			link(10, 11, 0),
			link(11, 99, 0),
			link(12, 13, 0),
			link(13, 99, 0),
		},
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("Nil", func(t *testing.T) {
		t.Parallel()
		g := New(nil, Options{})

		assert.Equal(t, 0, g.ShapeCount())
		assert.Empty(t, g.Links())
		assert.Equal(t, StateStale, g.State())
	})

	t.Run("CopiesModel", func(t *testing.T) {
		t.Parallel()
		m := decisionModel()
		g := New(m, Options{})

		m.Shapes[0].Name = "changed"
		m.Links[0].DestinationID = 42

		s, ok := g.Shape(1)
		require.True(t, ok)
		assert.Equal(t, "Start", s.Name)
		assert.Equal(t, 2, g.Links()[0].DestinationID)
	})

	t.Run("DuplicateShapeKeepsFirst", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		m := decisionModel()
		m.Shapes = append(m.Shapes, &process.Shape{ID: 2, Type: process.ShapeSystemTask, Name: "dup"})
		g := New(m, Options{Logger: logger})

		assert.Equal(t, 5, g.ShapeCount())
		s, _ := g.Shape(2)
		assert.Equal(t, process.ShapeUserTask, s.Type)
		assert.Contains(t, buf.String(), "duplicate shape id ignored")
	})
}

func TestProcessGraph_Store(t *testing.T) {
	t.Parallel()

	g := New(decisionModel(), Options{})

	t.Run("ShapesKeepOrder", func(t *testing.T) {
		t.Parallel()
		var ids []int
		for _, s := range g.Shapes() {
			ids = append(ids, s.ID)
		}
		assert.Equal(t, []int{1, 2, 3, 4, 5}, ids)
	})

	t.Run("ShapeMissing", func(t *testing.T) {
		t.Parallel()
		_, ok := g.Shape(404)
		assert.False(t, ok)
	})

	t.Run("ShapeReturnsCopy", func(t *testing.T) {
		t.Parallel()
		s, _ := g.Shape(4)
		s.Name = "mutated"
		again, _ := g.Shape(4)
		assert.Equal(t, "SystemTask", again.Name)
	})

	t.Run("SpecialShapes", func(t *testing.T) {
		t.Parallel()
		start, ok := g.StartShapeID()
		require.True(t, ok)
		assert.Equal(t, 1, start)

		end, ok := g.EndShapeID()
		require.True(t, ok)
		assert.Equal(t, 5, end)

		_, ok = g.PreconditionShapeID()
		assert.False(t, ok)
	})

	t.Run("BranchDestinationLinks", func(t *testing.T) {
		t.Parallel()
		assert.Len(t, g.BranchDestinationLinks(), 2)
	})

	t.Run("ModelRoundTrip", func(t *testing.T) {
		t.Parallel()
		m := g.Model()
		assert.Equal(t, 100, m.ID)
		assert.Equal(t, "decision", m.Name)
		assert.Len(t, m.Shapes, 5)
		assert.Len(t, m.Links, 5)
		assert.Len(t, m.DecisionBranchDestinationLinks, 2)

		m.Shapes[0].Name = "changed"
		s, _ := g.Shape(1)
		assert.Equal(t, "Start", s.Name)
	})
}

func TestProcessGraph_SetStatus(t *testing.T) {
	t.Parallel()

	g := New(decisionModel(), Options{})
	g.UpdateTreeAndFlows()

	g.SetStatus(process.Status{IsPublished: true, HasEverBeenPublished: true})

	assert.True(t, g.Status().IsPublished)
	assert.Equal(t, StateFresh, g.State())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stale", StateStale.String())
	assert.Equal(t, "tree-fresh", StateTreeFresh.String())
	assert.Equal(t, "fresh", StateFresh.String())
}
