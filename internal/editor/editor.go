// Package editor provides the popup-menu and toolbar decisions of the process
// editor: which shapes may be inserted on a link, what the inserted shapes are
// called, and which toolbar commands are enabled.
package editor

import (
	"fmt"

	"github.com/ogolikhin/procgraph/internal/graph"
	"github.com/ogolikhin/procgraph/internal/process"
)

// Kind is an insertable element.
type Kind string

const (
	KindUserTask       Kind = "userTask"
	KindUserDecision   Kind = "userDecision"
	KindSystemDecision Kind = "systemDecision"
	KindBranch         Kind = "branch"
)

// Label keys looked up for default shape names.
const (
	LabelUserTask       = "ST_New_User_Task_Label"
	LabelSystemTask     = "ST_New_System_Task_Label"
	LabelUserDecision   = "ST_New_User_Decision_Label"
	LabelSystemDecision = "ST_New_System_Decision_Label"
)

var defaultLabels = map[string]string{
	LabelUserTask:       "User Task",
	LabelSystemTask:     "System Task",
	LabelUserDecision:   "User Decision",
	LabelSystemDecision: "System Decision",
}

// shapeCost is the number of shapes each insertion adds.
var shapeCost = map[Kind]int{
	KindUserTask:       2,
	KindUserDecision:   3,
	KindSystemDecision: 2,
	KindBranch:         2,
}

// Settings are the installation settings the editor honours.
type Settings struct {
	// ShapeLimit caps the shapes of a process. Zero disables it.
	ShapeLimit int

	// SMB hides system decisions.
	SMB bool

	// Labels overrides the built-in label texts.
	Labels map[string]string
}

// Label returns the text for key, falling back to the built-in English text
// and then to the key itself.
func (s Settings) Label(key string) string {
	if v, ok := s.Labels[key]; ok && v != "" {
		return v
	}
	if v, ok := defaultLabels[key]; ok {
		return v
	}
	return key
}

// Option is one entry of the insert popup menu.
type Option struct {
	Kind    Kind   `json:"kind"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

// Reasons an option is disabled.
const (
	ReasonReadOnly   = "read-only"
	ReasonShapeLimit = "shape limit reached"
	ReasonPosition   = "not allowed here"
)

// InsertOptions lists what may be inserted on the link from sourceID to
// destinationID. System decisions are left out entirely in SMB mode.
func InsertOptions(g *graph.ProcessGraph, settings Settings, sourceID, destinationID int) ([]Option, error) {
	if _, ok := g.LinkIndex(sourceID, destinationID); !ok {
		return nil, fmt.Errorf("link %d -> %d: %w", sourceID, destinationID, graph.ErrLinkNotFound)
	}
	src, _ := g.Shape(sourceID)
	dst, _ := g.Shape(destinationID)

	kinds := []Kind{KindUserTask, KindUserDecision}
	if !settings.SMB {
		kinds = append(kinds, KindSystemDecision)
	}
	if src.Type.IsDecision() {
		kinds = append(kinds, KindBranch)
	}

	editable := g.Status().Editable()
	count := g.ShapeCount()

	options := make([]Option, 0, len(kinds))
	for _, k := range kinds {
		o := Option{Kind: k, Enabled: true}
		switch {
		case !editable:
			o.Enabled, o.Reason = false, ReasonReadOnly
		case !allowedAt(k, src.Type, dst.Type):
			o.Enabled, o.Reason = false, ReasonPosition
		case settings.ShapeLimit > 0 && count+shapeCost[k] > settings.ShapeLimit:
			o.Enabled, o.Reason = false, ReasonShapeLimit
		}
		options = append(options, o)
	}
	return options, nil
}

// allowedAt reports whether kind fits on a link between the two shape types.
// A user task is always followed by its system task, so nothing but a system
// decision goes between them; system decisions only follow user tasks.
func allowedAt(k Kind, src, dst process.ShapeType) bool {
	switch k {
	case KindUserTask, KindUserDecision:
		return src != process.ShapeUserTask && dst != process.ShapeStart
	case KindSystemDecision:
		return src == process.ShapeUserTask
	case KindBranch:
		return src.IsDecision()
	}
	return false
}

// DefaultName returns the name for a new shape of type t: the label followed
// by one more than the number of shapes of that type.
func DefaultName(g *graph.ProcessGraph, settings Settings, t process.ShapeType) string {
	var key string
	switch t {
	case process.ShapeUserTask:
		key = LabelUserTask
	case process.ShapeSystemTask:
		key = LabelSystemTask
	case process.ShapeUserDecision:
		key = LabelUserDecision
	case process.ShapeSystemDecision:
		key = LabelSystemDecision
	default:
		return string(t)
	}

	n := 1
	for _, s := range g.Shapes() {
		if s.Type == t {
			n++
		}
	}
	return fmt.Sprintf("%s %d", settings.Label(key), n)
}

// Toolbar holds the enablement of the toolbar commands.
type Toolbar struct {
	Save    bool `json:"save"`
	Publish bool `json:"publish"`
	Discard bool `json:"discard"`
	Delete  bool `json:"delete"`
}

// ToolbarState computes toolbar enablement from the process status and
// whether there are unsaved changes. Publish and discard need a draft, which
// exists while the current user holds the lock.
func ToolbarState(status process.Status, dirty bool) Toolbar {
	editable := status.Editable()
	draft := editable && status.IsLocked && status.IsLockedByMe
	return Toolbar{
		Save:    editable && dirty,
		Publish: draft || (editable && dirty),
		Discard: draft,
		Delete:  editable,
	}
}
