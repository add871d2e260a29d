package graph

import (
	"fmt"
	"slices"

	"github.com/ogolikhin/procgraph/internal/process"
)

// IsInSameFlow reports whether both shapes belong to the same flow. The
// error wraps ErrNotFound when either id is not in the tree.
func (g *ProcessGraph) IsInSameFlow(id, otherID int) (bool, error) {
	t, err := g.readTree(true)
	if err != nil {
		return false, err
	}

	a, b, err := refPair(t, id, otherID)
	if err != nil {
		return false, err
	}
	return a.FlowID == b.FlowID, nil
}

// IsInChildFlow reports whether otherID sits in a flow nested, directly or
// transitively, under the flow of id. Shapes in the same flow or in unrelated
// flows report false.
func (g *ProcessGraph) IsInChildFlow(id, otherID int) (bool, error) {
	t, err := g.readTree(true)
	if err != nil {
		return false, err
	}

	a, b, err := refPair(t, id, otherID)
	if err != nil {
		return false, err
	}
	if a.FlowID == b.FlowID {
		return false, nil
	}
	return t.isAncestorFlow(a.FlowID, b.FlowID), nil
}

func refPair(t *Tree, id, otherID int) (*TreeShapeRef, *TreeShapeRef, error) {
	a, ok := t.refs[id]
	if !ok {
		return nil, nil, fmt.Errorf("shape %d: %w", id, ErrNotInTree)
	}
	b, ok := t.refs[otherID]
	if !ok {
		return nil, nil, fmt.Errorf("shape %d: %w", otherID, ErrNotInTree)
	}
	return a, b, nil
}

// IsDecision reports whether the shape exists and is a user or system decision.
func (g *ProcessGraph) IsDecision(id int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s, ok := g.shapes[id]
	return ok && s.Type.IsDecision()
}

// ConnectedDecisionIDs returns the decisions whose branches merge at
// destinationID, in link order and without duplicates.
func (g *ProcessGraph) ConnectedDecisionIDs(destinationID int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []int
	for _, l := range g.branchLinks {
		if l.DestinationID == destinationID && !slices.Contains(ids, l.SourceID) {
			ids = append(ids, l.SourceID)
		}
	}
	return ids
}

// BranchDestinationIDs returns the merge points of a decision's branches, in
// link order and without duplicates.
func (g *ProcessGraph) BranchDestinationIDs(decisionID int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []int
	for _, l := range g.branchLinks {
		if l.SourceID == decisionID && !slices.Contains(ids, l.DestinationID) {
			ids = append(ids, l.DestinationID)
		}
	}
	return ids
}

// BranchDestinationID returns the merge point of the branch of decisionID
// that starts with firstShapeInConditionID.
func (g *ProcessGraph) BranchDestinationID(decisionID, firstShapeInConditionID int) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, l := range g.links {
		if l.SourceID != decisionID || l.DestinationID != firstShapeInConditionID {
			continue
		}
		if dest, ok := g.branchDestinationLocked(decisionID, l.OrderIndex); ok {
			return dest, true
		}
	}
	return 0, false
}

func (g *ProcessGraph) branchDestinationLocked(decisionID, orderIndex int) (int, bool) {
	for _, l := range g.branchLinks {
		if l.SourceID == decisionID && l.OrderIndex == orderIndex {
			return l.DestinationID, true
		}
	}
	return 0, false
}

// FlowOf returns the flow containing the shape.
func (g *ProcessGraph) FlowOf(id int) (Flow, error) {
	t, err := g.readTree(true)
	if err != nil {
		return Flow{}, err
	}

	ref, ok := t.refs[id]
	if !ok {
		return Flow{}, fmt.Errorf("shape %d: %w", id, ErrNotInTree)
	}
	f, _ := t.Flow(ref.FlowID)
	return f, nil
}

// Flow returns the flow with the given id.
func (g *ProcessGraph) Flow(flowID int) (Flow, error) {
	t, err := g.readTree(true)
	if err != nil {
		return Flow{}, err
	}

	f, ok := t.Flow(flowID)
	if !ok {
		return Flow{}, fmt.Errorf("flow %d: %w", flowID, ErrFlowNotFound)
	}
	return f, nil
}

// ShapesInFlow returns the shape ids of a flow in walk order.
func (g *ProcessGraph) ShapesInFlow(flowID int) ([]int, error) {
	f, err := g.Flow(flowID)
	if err != nil {
		return nil, err
	}
	return f.ShapeIDs, nil
}

// Branch describes one outgoing branch of a decision.
type Branch struct {
	OrderIndex int    `json:"orderindex"`
	Label      string `json:"label,omitempty"`

	// FirstShapeID is the destination of the outgoing link.
	FirstShapeID int `json:"firstShapeId"`

	// DestinationID is the merge point from the branch destination links.
	DestinationID  int  `json:"destinationId,omitempty"`
	HasDestination bool `json:"hasDestination"`

	// FlowID is the flow the branch opened; -1 when flows are not built or
	// the branch was not walked.
	FlowID int `json:"flowId"`
}

// DecisionBranches returns the branches of a decision in order index order.
func (g *ProcessGraph) DecisionBranches(decisionID int) ([]Branch, error) {
	t, err := g.readTree(true)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	s, ok := g.shapes[decisionID]
	if !ok {
		return nil, fmt.Errorf("shape %d: %w", decisionID, ErrShapeNotFound)
	}
	if !s.Type.IsDecision() {
		return nil, fmt.Errorf("shape %d (%s): %w", decisionID, s.Type, ErrNotDecision)
	}

	var out []*process.Link
	for _, l := range g.links {
		if l.SourceID == decisionID {
			out = append(out, l)
		}
	}
	slices.SortStableFunc(out, func(x, y *process.Link) int {
		return x.OrderIndex - y.OrderIndex
	})

	branches := make([]Branch, 0, len(out))
	for _, l := range out {
		b := Branch{
			OrderIndex:   l.OrderIndex,
			Label:        l.Label,
			FirstShapeID: l.DestinationID,
			FlowID:       -1,
		}
		b.DestinationID, b.HasDestination = g.branchDestinationLocked(decisionID, l.OrderIndex)
		for _, f := range t.flows {
			if f.ParentID >= 0 && f.DecisionID == decisionID && f.OrderIndex == l.OrderIndex {
				b.FlowID = f.ID
				break
			}
		}
		branches = append(branches, b)
	}
	return branches, nil
}
