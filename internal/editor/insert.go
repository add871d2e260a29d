package editor

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ogolikhin/procgraph/internal/graph"
	"github.com/ogolikhin/procgraph/internal/process"
)

// ErrNotAllowed is returned by Insert for a disabled option.
var ErrNotAllowed = errors.New("editor: insertion not allowed")

// Insert performs the insertion of kind on the link from sourceID to
// destinationID and returns the ids of the new shapes. New shapes get
// negative ids until they are saved. The tree is left stale. On error g is
// left as it was.
func Insert(g *graph.ProcessGraph, settings Settings, kind Kind, sourceID, destinationID int) ([]int, error) {
	options, err := InsertOptions(g, settings, sourceID, destinationID)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(options, func(o Option) bool { return o.Kind == kind })
	if i < 0 {
		return nil, fmt.Errorf("%s: %w", kind, ErrNotAllowed)
	}
	if !options[i].Enabled {
		if options[i].Reason == ReasonReadOnly {
			return nil, fmt.Errorf("%s: %w", kind, graph.ErrReadOnly)
		}
		if options[i].Reason == ReasonShapeLimit {
			return nil, fmt.Errorf("%s: %w", kind, graph.ErrShapeLimit)
		}
		return nil, fmt.Errorf("%s: %s: %w", kind, options[i].Reason, ErrNotAllowed)
	}

	snap := g.Snapshot()
	ins := &inserter{g: g, settings: settings, nextID: nextTempID(g)}
	switch kind {
	case KindUserTask:
		err = ins.userTask(sourceID, destinationID)
	case KindUserDecision:
		err = ins.userDecision(sourceID, destinationID)
	case KindSystemDecision:
		err = ins.systemDecision(sourceID, destinationID)
	case KindBranch:
		err = ins.branch(sourceID, destinationID)
	}
	if err != nil {
		g.Restore(snap)
		return nil, err
	}
	return ins.added, nil
}

func nextTempID(g *graph.ProcessGraph) int {
	id := 0
	for _, s := range g.Shapes() {
		if s.ID < id {
			id = s.ID
		}
	}
	return id - 1
}

type inserter struct {
	g        *graph.ProcessGraph
	settings Settings
	nextID   int
	added    []int
}

func (ins *inserter) add(t process.ShapeType) (int, error) {
	s := process.Shape{
		ID:   ins.nextID,
		Type: t,
		Name: DefaultName(ins.g, ins.settings, t),
	}
	if err := ins.g.AddShape(s); err != nil {
		return 0, err
	}
	ins.nextID--
	ins.added = append(ins.added, s.ID)
	return s.ID, nil
}

// splice replaces the link src -> dst with src -> first, keeping its order
// index and label, and links last -> dst.
func (ins *inserter) splice(src, dst, first, last int) error {
	var old process.Link
	for _, l := range ins.g.Links() {
		if l.SourceID == src && l.DestinationID == dst {
			old = l
			break
		}
	}
	if err := ins.g.RemoveLink(src, dst); err != nil {
		return err
	}
	if err := ins.g.AddLink(process.Link{SourceID: src, DestinationID: first, OrderIndex: old.OrderIndex, Label: old.Label}); err != nil {
		return err
	}
	return ins.g.AddLink(process.Link{SourceID: last, DestinationID: dst})
}

// taskPair adds a user task followed by its system task.
func (ins *inserter) taskPair() (int, int, error) {
	ut, err := ins.add(process.ShapeUserTask)
	if err != nil {
		return 0, 0, err
	}
	st, err := ins.add(process.ShapeSystemTask)
	if err != nil {
		return 0, 0, err
	}
	if err := ins.g.AddLink(process.Link{SourceID: ut, DestinationID: st}); err != nil {
		return 0, 0, err
	}
	return ut, st, nil
}

func (ins *inserter) userTask(src, dst int) error {
	ut, st, err := ins.taskPair()
	if err != nil {
		return err
	}
	return ins.splice(src, dst, ut, st)
}

// userDecision inserts a decision whose default branch continues to dst and
// whose second branch holds a new task pair merging at dst.
func (ins *inserter) userDecision(src, dst int) error {
	d, err := ins.add(process.ShapeUserDecision)
	if err != nil {
		return err
	}
	if err := ins.splice(src, dst, d, d); err != nil {
		return err
	}
	ut, st, err := ins.taskPair()
	if err != nil {
		return err
	}
	return ins.addBranch(d, ut, st, dst)
}

// systemDecision inserts a decision after a user task whose second branch
// holds a single system task merging at dst.
func (ins *inserter) systemDecision(src, dst int) error {
	d, err := ins.add(process.ShapeSystemDecision)
	if err != nil {
		return err
	}
	if err := ins.splice(src, dst, d, d); err != nil {
		return err
	}
	st, err := ins.add(process.ShapeSystemTask)
	if err != nil {
		return err
	}
	return ins.addBranch(d, st, st, dst)
}

// branch adds a new branch to decision src merging where the branch starting
// at dst merges, or at dst when that is unknown.
func (ins *inserter) branch(src, dst int) error {
	merge, ok := ins.g.BranchDestinationID(src, dst)
	if !ok {
		merge = dst
	}

	first, last := 0, 0
	var err error
	if s, _ := ins.g.Shape(src); s.Type == process.ShapeSystemDecision {
		first, err = ins.add(process.ShapeSystemTask)
		last = first
	} else {
		first, last, err = ins.taskPair()
	}
	if err != nil {
		return err
	}
	return ins.addBranch(src, first, last, merge)
}

// addBranch links decision -> first with the next order index, last -> merge,
// and records merge as the destination of the new branch. The default branch
// gets merge as destination too when it has none.
func (ins *inserter) addBranch(decision, first, last, merge int) error {
	order := ins.g.NextOrderIndex(decision)
	if err := ins.g.AddLink(process.Link{SourceID: decision, DestinationID: first, OrderIndex: order}); err != nil {
		return err
	}
	if err := ins.g.AddLink(process.Link{SourceID: last, DestinationID: merge}); err != nil {
		return err
	}
	if err := ins.g.SetBranchDestination(decision, order, merge); err != nil {
		return err
	}
	for _, l := range ins.g.Links() {
		if l.SourceID != decision || l.OrderIndex != 0 {
			continue
		}
		if _, ok := ins.g.BranchDestinationID(decision, l.DestinationID); !ok {
			return ins.g.SetBranchDestination(decision, 0, merge)
		}
	}
	return nil
}
