package graph

import (
	"errors"
	"fmt"
)

// ErrNotFound is the root of every lookup failure. Check with errors.Is.
var ErrNotFound = errors.New("graph: not found")

var (
	ErrShapeNotFound = fmt.Errorf("%w: shape", ErrNotFound)
	ErrLinkNotFound  = fmt.Errorf("%w: link", ErrNotFound)
	ErrFlowNotFound  = fmt.Errorf("%w: flow", ErrNotFound)

	// ErrNotInTree marks a shape that exists but is not reachable from Start.
	ErrNotInTree = fmt.Errorf("%w: shape not reachable from start", ErrNotFound)
)

var (
	ErrStaleTree      = errors.New("graph: tree is stale, call UpdateTree or UpdateTreeAndFlows")
	ErrNotDecision    = errors.New("graph: shape is not a decision")
	ErrReadOnly       = errors.New("graph: process is read-only")
	ErrShapeLimit     = errors.New("graph: shape limit reached")
	ErrDuplicateShape = errors.New("graph: duplicate shape id")
	ErrDuplicateLink  = errors.New("graph: duplicate link")
	ErrInvalidShape   = errors.New("graph: invalid shape")
)
