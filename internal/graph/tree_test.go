package graph

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogolikhin/procgraph/internal/process"
)

func TestUpdateTree_Structure(t *testing.T) {
	t.Parallel()

	g := New(nestedModel(), Options{})
	diag := g.UpdateTree()

	assert.Empty(t, diag.SkippedLinks)
	assert.Empty(t, diag.Unreachable)
	assert.Equal(t, StateTreeFresh, g.State())

	tree, err := g.Tree()
	require.NoError(t, err)
	assert.False(t, tree.HasFlows())

	for _, s := range g.Shapes() {
		assert.True(t, tree.Contains(s.ID), "shape %d reachable from start", s.ID)
	}

	ref, ok := tree.Ref(4)
	require.True(t, ok)
	assert.Equal(t, 3, ref.Depth)
	assert.Equal(t, []int{3}, ref.PrevIDs)
	assert.Equal(t, []int{5, 12}, ref.NextIDs)
	assert.False(t, ref.HasParent)

	end, _ := tree.Ref(99)
	assert.ElementsMatch(t, []int{9, 11, 13}, end.PrevIDs)

	order := tree.Order()
	assert.Equal(t, 1, order[0])
	assert.Len(t, order, 14)
}

func TestUpdateTreeAndFlows_Decision(t *testing.T) {
	t.Parallel()

	g := New(decisionModel(), Options{})
	g.UpdateTreeAndFlows()
	assert.Equal(t, StateFresh, g.State())

	tree, err := g.Tree()
	require.NoError(t, err)
	require.True(t, tree.HasFlows())

	flows := tree.Flows()
	require.Len(t, flows, 3)
	assert.Equal(t, []int{1, 2, 3, 5}, flows[MainFlowID].ShapeIDs)
	assert.Equal(t, -1, flows[MainFlowID].ParentID)
	assert.Equal(t, []int{4}, flows[1].ShapeIDs)
	assert.Empty(t, flows[2].ShapeIDs)

	for _, f := range flows[1:] {
		assert.Equal(t, MainFlowID, f.ParentID)
		assert.Equal(t, 3, f.DecisionID)
		assert.Equal(t, 1, f.Depth)
	}

	st, _ := tree.Ref(4)
	assert.True(t, st.HasParent)
	assert.Equal(t, 3, st.ParentID)

	end, _ := tree.Ref(5)
	assert.Equal(t, MainFlowID, end.FlowID)
	assert.Equal(t, 3, end.ParentID)
	assert.Equal(t, 3, end.Index)

	task, _ := tree.Ref(2)
	assert.False(t, task.HasParent)
}

func TestUpdateTreeAndFlows_Nested(t *testing.T) {
	t.Parallel()

	g := New(nestedModel(), Options{})
	g.UpdateTreeAndFlows()
	tree, err := g.Tree()
	require.NoError(t, err)

	flows := tree.Flows()
	require.Len(t, flows, 5)

	tests := []struct {
		id       int
		shapeIDs []int
		parent   int
		decision int
		depth    int
	}{
		{0, []int{1, 2, 3, 4, 99}, -1, 0, 0},
		{1, []int{5, 6, 7}, 0, 4, 1},
		{2, []int{8, 9}, 1, 7, 2},
		{3, []int{10, 11}, 1, 7, 2},
		{4, []int{12, 13}, 0, 4, 1},
	}
	for _, tt := range tests {
		f := flows[tt.id]
		assert.Equal(t, tt.shapeIDs, f.ShapeIDs, "flow %d", tt.id)
		assert.Equal(t, tt.parent, f.ParentID, "flow %d", tt.id)
		assert.Equal(t, tt.depth, f.Depth, "flow %d", tt.id)
		if tt.parent >= 0 {
			assert.Equal(t, tt.decision, f.DecisionID, "flow %d", tt.id)
		}
	}

	parents := map[int]int{5: 4, 6: 4, 7: 4, 8: 7, 11: 7, 12: 4, 99: 4}
	for id, parent := range parents {
		ref, ok := tree.Ref(id)
		require.True(t, ok)
		assert.True(t, ref.HasParent, "shape %d", id)
		assert.Equal(t, parent, ref.ParentID, "shape %d", id)
	}
}

func TestUpdateTreeAndFlows_MergingPoint(t *testing.T) {
	t.Parallel()

	// Start(1) -> SD(2){0: ST(3) -> MP(4), 1: ST(5) -> MP(4)} -> UT(6) -> End(7)
	m := &process.Model{
		Shapes: []*process.Shape{
			shape(1, process.ShapeStart),
			shape(2, process.ShapeSystemDecision),
			shape(3, process.ShapeSystemTask),
			shape(4, process.ShapeMergingPoint),
			shape(5, process.ShapeSystemTask),
			shape(6, process.ShapeUserTask),
			shape(7, process.ShapeEnd),
		},
		Links: []*process.Link{
			link(1, 2, 0),
			link(2, 3, 0),
			link(2, 5, 1),
			link(3, 4, 0),
			link(5, 4, 0),
			link(4, 6, 0),
			link(6, 7, 0),
		},
	}
	g := New(m, Options{})
	g.UpdateTreeAndFlows()
	tree, err := g.Tree()
	require.NoError(t, err)

	main, _ := tree.Flow(MainFlowID)
	assert.Equal(t, []int{1, 2, 4, 6, 7}, main.ShapeIDs)

	mp, _ := tree.Ref(4)
	assert.Equal(t, 2, mp.ParentID)

	task, _ := tree.Ref(6)
	assert.Equal(t, 4, task.ParentID)
}

func TestUpdateTreeAndFlows_BranchDestinationLink(t *testing.T) {
	t.Parallel()

	// Branch 0 of UD(2) merges at UT(5) although both branches also reach End(6).
	m := &process.Model{
		Shapes: []*process.Shape{
			shape(1, process.ShapeStart),
			shape(2, process.ShapeUserDecision),
			shape(3, process.ShapeUserTask),
			shape(4, process.ShapeUserTask),
			shape(5, process.ShapeUserTask),
			shape(6, process.ShapeEnd),
		},
		Links: []*process.Link{
			link(1, 2, 0),
			link(2, 3, 0),
			link(2, 4, 1),
			link(3, 5, 0),
			link(4, 6, 0),
			link(5, 6, 0),
		},
		DecisionBranchDestinationLinks: []*process.Link{
			link(2, 5, 0),
			link(2, 6, 1),
		},
	}
	g := New(m, Options{})
	g.UpdateTreeAndFlows()
	tree, err := g.Tree()
	require.NoError(t, err)

	branch, _ := tree.Flow(1)
	assert.Equal(t, []int{3}, branch.ShapeIDs)

	dest, _ := tree.Ref(5)
	assert.Equal(t, MainFlowID, dest.FlowID)
	assert.Equal(t, 2, dest.ParentID)

	end, _ := tree.Ref(6)
	assert.Equal(t, MainFlowID, end.FlowID)
}

// assertFlowChains checks that every flow is a straight line: each branch
// flow starts at a successor of its decision, and each shape is linked to the
// next one unless it is a decision, whose merge point follows it.
func assertFlowChains(t *testing.T, g *ProcessGraph, flows []Flow) {
	t.Helper()
	for _, f := range flows {
		if f.ID != MainFlowID && len(f.ShapeIDs) > 0 {
			_, ok := g.LinkIndex(f.DecisionID, f.ShapeIDs[0])
			assert.True(t, ok, "flow %d starts at %d, not a successor of decision %d", f.ID, f.ShapeIDs[0], f.DecisionID)
		}
		for i := 1; i < len(f.ShapeIDs); i++ {
			prev, next := f.ShapeIDs[i-1], f.ShapeIDs[i]
			if g.IsDecision(prev) {
				continue
			}
			_, ok := g.LinkIndex(prev, next)
			assert.True(t, ok, "flow %d: no link %d -> %d", f.ID, prev, next)
		}
	}
}

func TestUpdateTreeAndFlows_BranchToEnd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		shapes []*process.Shape
		links  []*process.Link
		main   []int
		nested map[int]int // shape -> decision owning its flow
	}{
		{
			// Start(1) -> D1(2){0: D2(3){0: UT(4) -> M1(6), 1: UT(5) -> End(7)}, 1: UT(8) -> M1(6)}, M1(6) -> End(7)
			name: "NestedBranchLeavesThroughEnd",
			shapes: []*process.Shape{
				shape(1, process.ShapeStart),
				shape(2, process.ShapeUserDecision),
				shape(3, process.ShapeSystemDecision),
				shape(4, process.ShapeUserTask),
				shape(5, process.ShapeUserTask),
				shape(6, process.ShapeMergingPoint),
				shape(7, process.ShapeEnd),
				shape(8, process.ShapeUserTask),
			},
			links: []*process.Link{
				link(1, 2, 0),
				link(2, 3, 0),
				link(2, 8, 1),
				link(3, 4, 0),
				link(3, 5, 1),
				link(4, 6, 0),
				link(5, 7, 0),
				link(8, 6, 0),
				link(6, 7, 0),
			},
			main:   []int{1, 2, 6, 7},
			nested: map[int]int{3: 2, 4: 3, 5: 3, 8: 2},
		},
		{
			// Start(1) -> UD(2){0: UT(3) -> ST(4) -> End(9), 1: UT(5) -> ST(6) -> End(9)}
			name: "BothBranchesEnd",
			shapes: []*process.Shape{
				shape(1, process.ShapeStart),
				shape(2, process.ShapeUserDecision),
				shape(3, process.ShapeUserTask),
				shape(4, process.ShapeSystemTask),
				shape(5, process.ShapeUserTask),
				shape(6, process.ShapeSystemTask),
				shape(9, process.ShapeEnd),
			},
			links: []*process.Link{
				link(1, 2, 0),
				link(2, 3, 0),
				link(2, 5, 1),
				link(3, 4, 0),
				link(4, 9, 0),
				link(5, 6, 0),
				link(6, 9, 0),
			},
			main:   []int{1, 2, 9},
			nested: map[int]int{3: 2, 4: 2, 5: 2, 6: 2},
		},
		{
			// Start(1) -> D1(2){0: D2(3){0: UT(4) -> M1(6), 1: UT(5) -> M1(6)}, 1: UT(8) -> M1(6)}, M1(6) -> End(7)
			name: "NestedBranchesMergeAtOuterMerge",
			shapes: []*process.Shape{
				shape(1, process.ShapeStart),
				shape(2, process.ShapeUserDecision),
				shape(3, process.ShapeUserDecision),
				shape(4, process.ShapeUserTask),
				shape(5, process.ShapeUserTask),
				shape(6, process.ShapeMergingPoint),
				shape(7, process.ShapeEnd),
				shape(8, process.ShapeUserTask),
			},
			links: []*process.Link{
				link(1, 2, 0),
				link(2, 3, 0),
				link(2, 8, 1),
				link(3, 4, 0),
				link(3, 5, 1),
				link(4, 6, 0),
				link(5, 6, 0),
				link(8, 6, 0),
				link(6, 7, 0),
			},
			main:   []int{1, 2, 6, 7},
			nested: map[int]int{3: 2, 4: 3, 5: 3, 8: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(&process.Model{Shapes: tt.shapes, Links: tt.links}, Options{})
			diag := g.UpdateTreeAndFlows()
			assert.Empty(t, diag.Unreachable)

			tree, err := g.Tree()
			require.NoError(t, err)

			main, ok := tree.Flow(MainFlowID)
			require.True(t, ok)
			assert.Equal(t, tt.main, main.ShapeIDs)

			for id, decision := range tt.nested {
				f, err := g.FlowOf(id)
				require.NoError(t, err)
				assert.Equal(t, decision, f.DecisionID, "shape %d", id)
				assert.NotEqual(t, MainFlowID, f.ID, "shape %d", id)
			}

			start, end := tt.main[0], tt.main[len(tt.main)-1]
			same, err := g.IsInSameFlow(start, end)
			require.NoError(t, err)
			assert.True(t, same)

			child, err := g.IsInChildFlow(start, end)
			require.NoError(t, err)
			assert.False(t, child)

			assertFlowChains(t, g, tree.Flows())
		})
	}
}

func TestUpdateTreeAndFlows_Loop(t *testing.T) {
	t.Parallel()

	// Start(1) -> UT(2) -> UD(3){0: UT(4) -> End(5), 1: back to UT(2)}
	m := &process.Model{
		Shapes: []*process.Shape{
			shape(1, process.ShapeStart),
			shape(2, process.ShapeUserTask),
			shape(3, process.ShapeUserDecision),
			shape(4, process.ShapeUserTask),
			shape(5, process.ShapeEnd),
		},
		Links: []*process.Link{
			link(1, 2, 0),
			link(2, 3, 0),
			link(3, 4, 0),
			link(3, 2, 1),
			link(4, 5, 0),
		},
	}
	g := New(m, Options{})
	diag := g.UpdateTreeAndFlows()
	assert.Empty(t, diag.Unreachable)

	tree, err := g.Tree()
	require.NoError(t, err)
	assert.Equal(t, 5, tree.Len())

	same, err := g.IsInSameFlow(2, 5)
	require.NoError(t, err)
	assert.True(t, same)
}

func TestUpdateTree_DanglingLinks(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	m := decisionModel()
	m.Links = append(m.Links, link(4, 404, 1), link(405, 2, 0))
	g := New(m, Options{Logger: logger})

	diag := g.UpdateTreeAndFlows()

	require.Len(t, diag.SkippedLinks, 2)
	assert.Equal(t, 404, diag.SkippedLinks[0].DestinationID)
	assert.Equal(t, 405, diag.SkippedLinks[1].SourceID)
	assert.Equal(t, diag, g.Diagnostics())
	assert.Contains(t, buf.String(), "skipping dangling link")

	tree, err := g.Tree()
	require.NoError(t, err)
	assert.Equal(t, 5, tree.Len())
	assert.False(t, tree.Contains(404))
}

func TestUpdateTree_BrokenChain(t *testing.T) {
	t.Parallel()

	// The link 2 -> 3 is missing: everything after the break is left out.
	m := decisionModel()
	m.Links = m.Links[:1]
	m.Links = append(m.Links, link(3, 4, 0), link(4, 5, 0))
	g := New(m, Options{})

	diag := g.UpdateTreeAndFlows()

	assert.Equal(t, []int{3, 4, 5}, diag.Unreachable)
	tree, err := g.Tree()
	require.NoError(t, err)
	assert.Equal(t, 2, tree.Len())
}

func TestUpdateTree_MissingStart(t *testing.T) {
	t.Parallel()

	m := decisionModel()
	m.Shapes = m.Shapes[1:]
	g := New(m, Options{})

	diag := g.UpdateTreeAndFlows()

	assert.True(t, diag.MissingStart)
	assert.Equal(t, []int{2, 3, 4, 5}, diag.Unreachable)
	tree, err := g.Tree()
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Len())
}

func TestTree_RefIsCopy(t *testing.T) {
	t.Parallel()

	g := New(decisionModel(), Options{})
	tree, err := g.Tree()
	require.NoError(t, err)

	ref, ok := tree.Ref(3)
	require.True(t, ok)
	ref.NextIDs[0] = 999

	again, _ := tree.Ref(3)
	assert.Equal(t, []int{4, 5}, again.NextIDs)

	_, ok = tree.Ref(404)
	assert.False(t, ok)
	_, ok = tree.Flow(404)
	assert.False(t, ok)
}
