// Package process provides the process model data types for procgraph.
//
// It defines the shapes, links and status flags exactly as they are exchanged
// with the storyteller process service. Nothing in this package is derived:
// the flow tree lives in the graph package.
package process

import (
	"github.com/mohae/deepcopy"
)

// ShapeType represents the kind of a process shape.
type ShapeType string

const (
	ShapeStart          ShapeType = "Start"
	ShapeEnd            ShapeType = "End"
	ShapePrecondition   ShapeType = "Precondition"
	ShapeUserTask       ShapeType = "UserTask"
	ShapeSystemTask     ShapeType = "SystemTask"
	ShapeUserDecision   ShapeType = "UserDecision"
	ShapeSystemDecision ShapeType = "SystemDecision"
	ShapeMergingPoint   ShapeType = "MergingPoint"
)

// IsDecision reports whether the type branches into several flows.
func (t ShapeType) IsDecision() bool {
	return t == ShapeUserDecision || t == ShapeSystemDecision
}

// Valid reports whether t is one of the known shape types.
func (t ShapeType) Valid() bool {
	switch t {
	case ShapeStart, ShapeEnd, ShapePrecondition, ShapeUserTask, ShapeSystemTask,
		ShapeUserDecision, ShapeSystemDecision, ShapeMergingPoint:
		return true
	}
	return false
}

// Shape represents a node in the process graph.
type Shape struct {
	// ID is unique within a process. Unsaved shapes carry negative ids.
	ID int `json:"id"`

	// Type is the shape type tag.
	Type ShapeType `json:"type"`

	// Name is the display name of the shape.
	Name string `json:"name"`

	// X and Y are the diagram coordinates used for ordering.
	X int `json:"x"`
	Y int `json:"y"`

	// PropertyValues holds the remaining shape properties (description,
	// persona, label, ...).
	PropertyValues map[string]any `json:"propertyValues,omitempty"`
}

// Link represents a directed edge between two shapes.
type Link struct {
	// SourceID is the id of the shape the link leaves.
	SourceID int `json:"sourceId"`

	// DestinationID is the id of the shape the link enters.
	DestinationID int `json:"destinationId"`

	// OrderIndex disambiguates the outgoing branches of a decision. The
	// lowest index is the default branch.
	OrderIndex int `json:"orderindex"`

	// Label is the optional branch label (condition text).
	Label string `json:"label,omitempty"`
}

// Status holds the lock and publication flags of a process.
type Status struct {
	IsLocked             bool `json:"isLocked"`
	IsLockedByMe         bool `json:"isLockedByMe"`
	IsReadOnly           bool `json:"isReadOnly"`
	IsPublished          bool `json:"isPublished"`
	HasEverBeenPublished bool `json:"hasEverBeenPublished"`
}

// Editable reports whether the current user may change the process.
func (s Status) Editable() bool {
	if s.IsReadOnly {
		return false
	}
	return !s.IsLocked || s.IsLockedByMe
}

// Model is the process model handed to the graph at construction.
type Model struct {
	// ID is the artifact id of the process.
	ID int `json:"id"`

	// Name is the artifact name.
	Name string `json:"name"`

	Shapes []*Shape `json:"shapes"`
	Links  []*Link  `json:"links"`

	// DecisionBranchDestinationLinks map each decision branch (by order
	// index) to the shape where it merges back.
	DecisionBranchDestinationLinks []*Link `json:"decisionBranchDestinationLinks"`

	PropertyValues map[string]any `json:"propertyValues,omitempty"`

	Status Status `json:"status"`
}

// Clone returns a deep copy of the model. Shapes and links of the copy share
// no memory with m.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	return deepcopy.Copy(m).(*Model)
}

// ShapeCount returns the number of shapes without list materialization.
func (m *Model) ShapeCount() int {
	return len(m.Shapes)
}
