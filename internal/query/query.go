// Package query answers flow questions for callers that hold optional shape
// ids, such as decoded JSON requests where an id may be null.
package query

import (
	"errors"

	"github.com/ogolikhin/procgraph/internal/graph"
)

// ErrMissingShapeID is returned when a shape id is absent. It is distinct
// from graph.ErrNotFound, which means the id was given but is unknown.
var ErrMissingShapeID = errors.New("query: missing shape id")

// Engine wraps a graph for optional-id queries.
type Engine struct {
	g *graph.ProcessGraph
}

// New returns an Engine over g.
func New(g *graph.ProcessGraph) *Engine {
	return &Engine{g: g}
}

// Answer is a tri-state result: Value is nil when the question could not be
// answered, and Err says why.
type Answer struct {
	Value *bool  `json:"value"`
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

func answer(v bool, err error) Answer {
	if err != nil {
		return Answer{Err: err, Error: err.Error()}
	}
	return Answer{Value: &v}
}

// IsInSameFlow reports whether both shapes share a flow.
func (e *Engine) IsInSameFlow(id, otherID *int) Answer {
	if id == nil || otherID == nil {
		return answer(false, ErrMissingShapeID)
	}
	return answer(e.g.IsInSameFlow(*id, *otherID))
}

// IsInChildFlow reports whether otherID is in a flow nested under id's flow.
func (e *Engine) IsInChildFlow(id, otherID *int) Answer {
	if id == nil || otherID == nil {
		return answer(false, ErrMissingShapeID)
	}
	return answer(e.g.IsInChildFlow(*id, *otherID))
}

// IsDecision reports whether id names a decision. A missing id is not one.
func (e *Engine) IsDecision(id *int) bool {
	return id != nil && e.g.IsDecision(*id)
}

// BranchDestinationID returns the merge point of the branch starting at
// firstShapeInConditionID, or nil.
func (e *Engine) BranchDestinationID(decisionID, firstShapeInConditionID *int) *int {
	if decisionID == nil || firstShapeInConditionID == nil {
		return nil
	}
	dest, ok := e.g.BranchDestinationID(*decisionID, *firstShapeInConditionID)
	if !ok {
		return nil
	}
	return &dest
}

// BranchDestinationIDs returns the merge points of a decision. It is never nil.
func (e *Engine) BranchDestinationIDs(decisionID *int) []int {
	if decisionID == nil {
		return []int{}
	}
	if ids := e.g.BranchDestinationIDs(*decisionID); ids != nil {
		return ids
	}
	return []int{}
}

// ConnectedDecisionIDs returns the decisions merging at destinationID. It is
// never nil.
func (e *Engine) ConnectedDecisionIDs(destinationID *int) []int {
	if destinationID == nil {
		return []int{}
	}
	if ids := e.g.ConnectedDecisionIDs(*destinationID); ids != nil {
		return ids
	}
	return []int{}
}
