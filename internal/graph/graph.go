// Package graph provides the in-memory process graph model for procgraph.
//
// A ProcessGraph owns the shapes and links of one process in arena form
// (shapes addressed by id) and derives a Tree from them on demand. The tree
// answers flow-membership questions in O(nesting depth) instead of rescanning
// the link list. Structural mutations mark the tree stale; queries either
// rebuild it lazily or fail with ErrStaleTree, depending on Options.
package graph

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/ogolikhin/procgraph/internal/process"
)

// State is the freshness of the derived tree.
type State int

const (
	// StateStale means the tree was never built or a mutation invalidated it.
	StateStale State = iota

	// StateTreeFresh means structure (order, depth, prev/next) is current but
	// flows and parents are not.
	StateTreeFresh

	// StateFresh means the tree and its flows match the shapes and links.
	StateFresh
)

func (s State) String() string {
	switch s {
	case StateTreeFresh:
		return "tree-fresh"
	case StateFresh:
		return "fresh"
	default:
		return "stale"
	}
}

// Options configures a ProcessGraph.
type Options struct {
	// ShapeLimit caps the number of shapes AddShape accepts. Zero disables it.
	ShapeLimit int

	// StrictFreshness makes queries on a stale graph fail with ErrStaleTree
	// instead of rebuilding the tree.
	StrictFreshness bool

	// Logger receives builder diagnostics. Nil discards them.
	Logger *slog.Logger
}

// ProcessGraph is the in-memory model of one process diagram.
//
// Shapes are kept in a map keyed by id plus a slice preserving the order in
// which they were received; links are kept as received. The tree holds ids
// only, never pointers into the store.
type ProcessGraph struct {
	mu     sync.RWMutex
	opts   Options
	logger *slog.Logger

	id             int
	name           string
	status         process.Status
	propertyValues map[string]any

	shapes     map[int]*process.Shape
	shapeOrder []int
	links      []*process.Link

	// branchLinks are the decision branch destination links.
	branchLinks []*process.Link

	state State
	tree  *Tree
	diag  Diagnostics
}

// New creates a graph from a process model. The model is copied; later
// changes to m do not affect the graph. Shapes with a duplicate id keep the
// first occurrence.
func New(m *process.Model, opts Options) *ProcessGraph {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	g := &ProcessGraph{
		opts:   opts,
		logger: logger,
		shapes: make(map[int]*process.Shape),
	}
	if m == nil {
		return g
	}

	g.loadLocked(m.Clone())
	return g
}

// loadLocked replaces the contents of g with m, which it takes ownership of.
func (g *ProcessGraph) loadLocked(m *process.Model) {
	g.id = m.ID
	g.name = m.Name
	g.status = m.Status
	g.propertyValues = m.PropertyValues

	g.shapes = make(map[int]*process.Shape, len(m.Shapes))
	g.shapeOrder = nil
	g.links = nil
	g.branchLinks = nil
	for _, s := range m.Shapes {
		if s == nil {
			continue
		}
		if _, dup := g.shapes[s.ID]; dup {
			g.logger.Warn("duplicate shape id ignored", "process", m.ID, "shape", s.ID)
			continue
		}
		g.shapes[s.ID] = s
		g.shapeOrder = append(g.shapeOrder, s.ID)
	}
	for _, l := range m.Links {
		if l != nil {
			g.links = append(g.links, l)
		}
	}
	for _, l := range m.DecisionBranchDestinationLinks {
		if l != nil {
			g.branchLinks = append(g.branchLinks, l)
		}
	}
}

// Snapshot is a saved copy of a graph's contents and tree.
type Snapshot struct {
	model *process.Model
	state State
	tree  *Tree
	diag  Diagnostics
}

// Snapshot saves the current contents for a later Restore.
func (g *ProcessGraph) Snapshot() Snapshot {
	m := g.Model()

	g.mu.RLock()
	defer g.mu.RUnlock()
	return Snapshot{model: m, state: g.state, tree: g.tree, diag: g.diag}
}

// Restore undoes every mutation made since s was taken. The tree is restored
// with it, so a fresh graph stays fresh.
func (g *ProcessGraph) Restore(s Snapshot) {
	if s.model == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.loadLocked(s.model.Clone())
	g.state, g.tree, g.diag = s.state, s.tree, s.diag
}

// ID returns the process artifact id.
func (g *ProcessGraph) ID() int {
	return g.id
}

// Name returns the process name.
func (g *ProcessGraph) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name
}

// Status returns the lock and publication flags.
func (g *ProcessGraph) Status() process.Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// SetStatus replaces the lock and publication flags. It does not affect the tree.
func (g *ProcessGraph) SetStatus(s process.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = s
}

// State returns the current freshness of the tree.
func (g *ProcessGraph) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// ShapeCount returns the number of shapes without list materialization.
func (g *ProcessGraph) ShapeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.shapes)
}

// Shapes returns copies of all shapes in the order they were received.
func (g *ProcessGraph) Shapes() []process.Shape {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]process.Shape, 0, len(g.shapeOrder))
	for _, id := range g.shapeOrder {
		result = append(result, copyShape(g.shapes[id]))
	}
	return result
}

// Links returns copies of all links in the order they were received.
func (g *ProcessGraph) Links() []process.Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyLinks(g.links)
}

// BranchDestinationLinks returns copies of the decision branch destination links.
func (g *ProcessGraph) BranchDestinationLinks() []process.Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyLinks(g.branchLinks)
}

// Shape returns a copy of the shape with the given id.
func (g *ProcessGraph) Shape(id int) (process.Shape, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s, ok := g.shapes[id]
	if !ok {
		return process.Shape{}, false
	}
	return copyShape(s), true
}

// StartShapeID returns the id of the first Start shape.
func (g *ProcessGraph) StartShapeID() (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.firstOfTypeLocked(process.ShapeStart)
}

// EndShapeID returns the id of the first End shape.
func (g *ProcessGraph) EndShapeID() (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.firstOfTypeLocked(process.ShapeEnd)
}

// PreconditionShapeID returns the id of the first Precondition shape.
func (g *ProcessGraph) PreconditionShapeID() (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.firstOfTypeLocked(process.ShapePrecondition)
}

// Model exports the current shapes and links as a process model that shares
// no memory with the graph.
func (g *ProcessGraph) Model() *process.Model {
	g.mu.RLock()
	defer g.mu.RUnlock()

	m := &process.Model{
		ID:             g.id,
		Name:           g.name,
		Status:         g.status,
		PropertyValues: g.propertyValues,
		Shapes:         make([]*process.Shape, 0, len(g.shapeOrder)),
		Links:          g.links,
	}
	for _, id := range g.shapeOrder {
		m.Shapes = append(m.Shapes, g.shapes[id])
	}
	m.DecisionBranchDestinationLinks = g.branchLinks
	return m.Clone()
}

// UpdateTree rebuilds the structural part of the tree: traversal order,
// depth and previous/next ids. Flow ids and parents are left unset.
func (g *ProcessGraph) UpdateTree() Diagnostics {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rebuildLocked(false)
	return g.diag
}

// UpdateTreeAndFlows rebuilds the tree including flow membership and parents.
func (g *ProcessGraph) UpdateTreeAndFlows() Diagnostics {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rebuildLocked(true)
	return g.diag
}

// Tree returns the current tree, building its structure first when stale.
func (g *ProcessGraph) Tree() (*Tree, error) {
	return g.readTree(false)
}

// Diagnostics returns what the last rebuild skipped.
func (g *ProcessGraph) Diagnostics() Diagnostics {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.diag
}

// readTree returns a tree that is fresh enough for the caller. Trees are
// immutable once built, so the pointer stays valid after the lock is released.
func (g *ProcessGraph) readTree(needFlows bool) (*Tree, error) {
	g.mu.RLock()
	if g.freshLocked(needFlows) {
		t := g.tree
		g.mu.RUnlock()
		return t, nil
	}
	g.mu.RUnlock()

	if g.opts.StrictFreshness {
		return nil, ErrStaleTree
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.freshLocked(needFlows) {
		g.rebuildLocked(true)
	}
	return g.tree, nil
}

func (g *ProcessGraph) freshLocked(needFlows bool) bool {
	if needFlows {
		return g.state == StateFresh
	}
	return g.state != StateStale
}

// rebuildLocked must be called with the write lock held.
func (g *ProcessGraph) rebuildLocked(withFlows bool) {
	b := newBuilder(g.shapes, g.shapeOrder, g.links, g.branchLinks)
	g.tree, g.diag = b.build(withFlows)

	for _, l := range g.diag.SkippedLinks {
		g.logger.Warn("skipping dangling link",
			"process", g.id, "source", l.SourceID, "destination", l.DestinationID)
	}
	g.logger.Debug("tree rebuilt",
		"process", g.id, "shapes", g.tree.Len(), "flows", len(g.tree.flows),
		"unreachable", len(g.diag.Unreachable))

	if withFlows {
		g.state = StateFresh
	} else {
		g.state = StateTreeFresh
	}
}

// markStaleLocked must be called with the write lock held.
func (g *ProcessGraph) markStaleLocked() {
	g.state = StateStale
}

func (g *ProcessGraph) firstOfTypeLocked(t process.ShapeType) (int, bool) {
	for _, id := range g.shapeOrder {
		if g.shapes[id].Type == t {
			return id, true
		}
	}
	return 0, false
}

func copyShape(s *process.Shape) process.Shape {
	c := *s
	c.PropertyValues = maps.Clone(s.PropertyValues)
	return c
}

func copyLinks(links []*process.Link) []process.Link {
	result := make([]process.Link, 0, len(links))
	for _, l := range links {
		result = append(result, *l)
	}
	return result
}
