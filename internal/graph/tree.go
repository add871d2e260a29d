package graph

import (
	"slices"

	"github.com/ogolikhin/procgraph/internal/process"
)

// MainFlowID is the id of the flow rooted at the Start shape.
const MainFlowID = 0

// TreeShapeRef is the derived position of one reachable shape.
type TreeShapeRef struct {
	// ID is the shape id.
	ID int `json:"id"`

	// ParentID is the nearest ancestor decision or merge point. HasParent is
	// false on the main flow before the first decision and before flows are
	// built.
	ParentID  int  `json:"parentId"`
	HasParent bool `json:"hasParent"`

	// FlowID is the straight-line sequence containing the shape.
	FlowID int `json:"flowId"`

	// Index is the ordinal position within the flow.
	Index int `json:"index"`

	// Order is the position in breadth-first order from Start.
	Order int `json:"order"`

	// Depth is the number of hops from Start.
	Depth int `json:"depth"`

	// PrevIDs and NextIDs are the neighbour shape ids, next ids in order
	// index order.
	PrevIDs []int `json:"prevIds"`
	NextIDs []int `json:"nextIds"`
}

// Flow is one straight-line sequence of shapes. Every flow but the main one
// is a branch of a decision.
type Flow struct {
	ID int `json:"id"`

	// ParentID is the flow the owning decision sits in; -1 for the main flow.
	ParentID int `json:"parentId"`

	// DecisionID and OrderIndex identify the branch that opened the flow.
	DecisionID int `json:"decisionId"`
	OrderIndex int `json:"orderindex"`

	// Depth is the nesting depth; the main flow is 0.
	Depth int `json:"depth"`

	// ShapeIDs lists the flow members in walk order.
	ShapeIDs []int `json:"shapeIds"`
}

// Tree maps reachable shape ids to their TreeShapeRef. A Tree never changes
// after it is built.
type Tree struct {
	refs     map[int]*TreeShapeRef
	order    []int
	flows    []*Flow
	hasFlows bool
}

// Len returns the number of reachable shapes.
func (t *Tree) Len() int {
	return len(t.refs)
}

// HasFlows reports whether flow ids and parents were computed.
func (t *Tree) HasFlows() bool {
	return t.hasFlows
}

// Ref returns a copy of the reference for the given shape id.
func (t *Tree) Ref(id int) (TreeShapeRef, bool) {
	ref, ok := t.refs[id]
	if !ok {
		return TreeShapeRef{}, false
	}
	c := *ref
	c.PrevIDs = slices.Clone(ref.PrevIDs)
	c.NextIDs = slices.Clone(ref.NextIDs)
	return c, true
}

// Contains reports whether the shape is reachable from Start.
func (t *Tree) Contains(id int) bool {
	_, ok := t.refs[id]
	return ok
}

// Order returns the reachable shape ids in breadth-first order from Start.
func (t *Tree) Order() []int {
	return slices.Clone(t.order)
}

// Flow returns a copy of the flow with the given id.
func (t *Tree) Flow(id int) (Flow, bool) {
	if id < 0 || id >= len(t.flows) {
		return Flow{}, false
	}
	f := *t.flows[id]
	f.ShapeIDs = slices.Clone(f.ShapeIDs)
	return f, true
}

// Flows returns copies of all flows ordered by id.
func (t *Tree) Flows() []Flow {
	result := make([]Flow, 0, len(t.flows))
	for i := range t.flows {
		f, _ := t.Flow(i)
		result = append(result, f)
	}
	return result
}

// isAncestorFlow reports whether ancestor strictly encloses flow.
func (t *Tree) isAncestorFlow(ancestor, flow int) bool {
	for flow >= 0 && flow < len(t.flows) {
		flow = t.flows[flow].ParentID
		if flow == ancestor {
			return true
		}
	}
	return false
}

// Diagnostics reports what a rebuild could not place.
type Diagnostics struct {
	// SkippedLinks have a source or destination that is not a shape.
	SkippedLinks []process.Link `json:"skippedLinks,omitempty"`

	// Unreachable lists shapes with no path from Start, in store order.
	Unreachable []int `json:"unreachable,omitempty"`

	// MissingStart is set when the process has no Start shape.
	MissingStart bool `json:"missingStart,omitempty"`
}

type branchKey struct {
	decisionID int
	orderIndex int
}

type pendingWalk struct {
	shapeID   int
	flowID    int
	parentID  int
	hasParent bool
}

// builder derives a Tree from one snapshot of the store.
type builder struct {
	shapes     map[int]*process.Shape
	shapeOrder []int

	outgoing   map[int][]*process.Link
	incoming   map[int][]int
	branchDest map[branchKey]int

	tree    *Tree
	diag    Diagnostics
	visited map[int]bool
	merges  map[int]mergeResult
	pending []pendingWalk
}

type mergeResult struct {
	id int
	ok bool
}

func newBuilder(shapes map[int]*process.Shape, shapeOrder []int, links, branchLinks []*process.Link) *builder {
	b := &builder{
		shapes:     shapes,
		shapeOrder: shapeOrder,
		outgoing:   make(map[int][]*process.Link),
		incoming:   make(map[int][]int),
		branchDest: make(map[branchKey]int),
	}

	for _, l := range links {
		_, srcOK := shapes[l.SourceID]
		_, dstOK := shapes[l.DestinationID]
		if !srcOK || !dstOK {
			b.diag.SkippedLinks = append(b.diag.SkippedLinks, *l)
			continue
		}
		b.outgoing[l.SourceID] = append(b.outgoing[l.SourceID], l)
		b.incoming[l.DestinationID] = append(b.incoming[l.DestinationID], l.SourceID)
	}
	for id := range b.outgoing {
		slices.SortStableFunc(b.outgoing[id], func(x, y *process.Link) int {
			return x.OrderIndex - y.OrderIndex
		})
	}

	for _, l := range branchLinks {
		if _, ok := shapes[l.DestinationID]; !ok {
			continue
		}
		key := branchKey{decisionID: l.SourceID, orderIndex: l.OrderIndex}
		if _, dup := b.branchDest[key]; !dup {
			b.branchDest[key] = l.DestinationID
		}
	}

	return b
}

func (b *builder) build(withFlows bool) (*Tree, Diagnostics) {
	b.tree = &Tree{refs: make(map[int]*TreeShapeRef), hasFlows: withFlows}

	startID, ok := b.startID()
	if !ok {
		b.diag.MissingStart = true
		b.diag.Unreachable = slices.Clone(b.shapeOrder)
		return b.tree, b.diag
	}

	b.structure(startID)
	if withFlows {
		b.visited = make(map[int]bool, len(b.tree.refs))
		b.merges = make(map[int]mergeResult)
		main := b.newFlow(-1, 0, 0)
		b.walk(startID, main.ID, 0, false, nil)
		for len(b.pending) > 0 {
			p := b.pending[0]
			b.pending = b.pending[1:]
			b.walk(p.shapeID, p.flowID, p.parentID, p.hasParent, nil)
		}
	}

	for _, id := range b.shapeOrder {
		if !b.tree.Contains(id) {
			b.diag.Unreachable = append(b.diag.Unreachable, id)
		}
	}
	return b.tree, b.diag
}

func (b *builder) startID() (int, bool) {
	for _, id := range b.shapeOrder {
		if b.shapes[id].Type == process.ShapeStart {
			return id, true
		}
	}
	return 0, false
}

// structure runs a breadth-first traversal from Start recording order,
// depth and neighbours.
func (b *builder) structure(startID int) {
	queue := []int{startID}
	b.tree.refs[startID] = &TreeShapeRef{ID: startID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		ref := b.tree.refs[current]
		ref.Order = len(b.tree.order)
		ref.PrevIDs = slices.Clone(b.incoming[current])
		b.tree.order = append(b.tree.order, current)

		for _, l := range b.outgoing[current] {
			ref.NextIDs = append(ref.NextIDs, l.DestinationID)
			if _, seen := b.tree.refs[l.DestinationID]; seen {
				continue
			}
			b.tree.refs[l.DestinationID] = &TreeShapeRef{ID: l.DestinationID, Depth: ref.Depth + 1}
			queue = append(queue, l.DestinationID)
		}
	}
}

func (b *builder) newFlow(parentID, decisionID, orderIndex int) *Flow {
	f := &Flow{
		ID:         len(b.tree.flows),
		ParentID:   parentID,
		DecisionID: decisionID,
		OrderIndex: orderIndex,
	}
	if parentID >= 0 {
		f.Depth = b.tree.flows[parentID].Depth + 1
	}
	b.tree.flows = append(b.tree.flows, f)
	return f
}

// walk assigns flow membership along a straight line starting at shapeID
// until it reaches a stop shape, a visited shape or a shape without
// successors. Decisions open one flow per branch and continue at their merge
// point, which stays in the decision's flow.
func (b *builder) walk(shapeID, flowID, parentID int, hasParent bool, stops map[int]bool) {
	current := shapeID
	closing := false
	for {
		if stops[current] || b.visited[current] {
			return
		}
		b.visited[current] = true

		flow := b.tree.flows[flowID]
		ref := b.tree.refs[current]
		ref.FlowID = flowID
		ref.Index = len(flow.ShapeIDs)
		ref.ParentID, ref.HasParent = parentID, hasParent
		flow.ShapeIDs = append(flow.ShapeIDs, current)

		shape := b.shapes[current]
		if closing || shape.Type == process.ShapeMergingPoint {
			parentID, hasParent = current, true
			closing = false
		}

		out := b.outgoing[current]
		if len(out) == 0 {
			return
		}

		if !shape.Type.IsDecision() {
			for _, l := range out[1:] {
				b.pending = append(b.pending, pendingWalk{l.DestinationID, flowID, parentID, hasParent})
			}
			current = out[0].DestinationID
			continue
		}

		merge := b.mergePoint(current, stops)
		for _, l := range out {
			branch := b.newFlow(flowID, current, l.OrderIndex)
			dest, hasDest := merge.id, merge.ok
			if d, ok := b.branchDest[branchKey{current, l.OrderIndex}]; ok {
				dest, hasDest = d, true
			}

			// A branch ends at its merge point and never claims what follows
			// it; those shapes belong to the decision's flow.
			inner := stops
			if hasDest {
				inner = make(map[int]bool, len(stops)+1)
				for id := range stops {
					inner[id] = true
				}
				for _, id := range b.reachable(dest, current, nil) {
					inner[id] = true
				}
				if (!merge.ok || dest != merge.id) && !stops[dest] {
					b.pending = append(b.pending, pendingWalk{dest, flowID, current, true})
				}
			}
			b.walk(l.DestinationID, branch.ID, current, true, inner)
		}

		if !merge.ok {
			return
		}
		parentID, hasParent = current, true
		closing = true
		current = merge.id
	}
}

// mergePoint returns where the branches of a decision rejoin: the first shape,
// in breadth-first order of the default branch, that every branch reaches
// without passing back through the decision. Branches that lead to an already
// walked shape are loops and take no part. The search does not go past the
// stops of an enclosing branch, so a nested decision merges no later than the
// branch it sits in; when it merges at one of those stops, or not at all, the
// enclosing walk places what follows.
func (b *builder) mergePoint(decisionID int, stops map[int]bool) mergeResult {
	if m, ok := b.merges[decisionID]; ok {
		return m
	}

	var forward []*process.Link
	for _, l := range b.outgoing[decisionID] {
		if !b.visited[l.DestinationID] {
			forward = append(forward, l)
		}
	}

	var result mergeResult
	switch len(forward) {
	case 0:
	case 1:
		result = mergeResult{id: forward[0].DestinationID, ok: true}
	default:
		reach := make([]map[int]bool, len(forward))
		orders := make([][]int, len(forward))
		for i, l := range forward {
			orders[i] = b.reachable(l.DestinationID, decisionID, stops)
			reach[i] = make(map[int]bool, len(orders[i]))
			for _, id := range orders[i] {
				reach[i][id] = true
			}
		}
		for _, id := range orders[0] {
			common := true
			for _, r := range reach[1:] {
				if !r[id] {
					common = false
					break
				}
			}
			if common {
				result = mergeResult{id: id, ok: true}
				break
			}
		}
	}

	b.merges[decisionID] = result
	return result
}

// reachable returns the shapes reachable from start in breadth-first order,
// never entering blocked. Stop shapes are included but not expanded.
func (b *builder) reachable(start, blocked int, stops map[int]bool) []int {
	if start == blocked {
		return nil
	}
	seen := map[int]bool{start: true}
	order := []int{start}
	for i := 0; i < len(order); i++ {
		if stops[order[i]] {
			continue
		}
		for _, l := range b.outgoing[order[i]] {
			next := l.DestinationID
			if next == blocked || seen[next] {
				continue
			}
			seen[next] = true
			order = append(order, next)
		}
	}
	return order
}
