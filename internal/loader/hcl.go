package loader

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/ogolikhin/procgraph/internal/process"
)

// hclFile is the top-level structure of a process file:
//
//	process "Order review" {
//	  id = 42
//	  shape "start" {
//	    id   = 1
//	    type = "Start"
//	  }
//	  shape "review" {
//	    id   = 2
//	    type = "UserTask"
//	    properties = { persona = "Clerk" }
//	  }
//	  link {
//	    from = shape.start
//	    to   = shape.review
//	  }
//	}
//
// Link ends are expressions: a shape id or shape.<key>.
type hclFile struct {
	Process *hclProcess `hcl:"process,block"`
}

type hclProcess struct {
	Name       string            `hcl:"name,label"`
	ID         int               `hcl:"id,optional"`
	Properties map[string]string `hcl:"properties,optional"`
	Status     *hclStatus        `hcl:"status,block"`
	Shapes     []*hclShape       `hcl:"shape,block"`
	Links      []*hclLink        `hcl:"link,block"`
	Branches   []*hclLink        `hcl:"branch_destination,block"`
}

type hclStatus struct {
	IsLocked             bool `hcl:"locked,optional"`
	IsLockedByMe         bool `hcl:"locked_by_me,optional"`
	IsReadOnly           bool `hcl:"read_only,optional"`
	IsPublished          bool `hcl:"published,optional"`
	HasEverBeenPublished bool `hcl:"ever_published,optional"`
}

type hclShape struct {
	Key        string            `hcl:"key,label"`
	ID         int               `hcl:"id"`
	Type       string            `hcl:"type"`
	Name       string            `hcl:"name,optional"`
	X          int               `hcl:"x,optional"`
	Y          int               `hcl:"y,optional"`
	Properties map[string]string `hcl:"properties,optional"`
}

type hclLink struct {
	From  hcl.Expression `hcl:"from"`
	To    hcl.Expression `hcl:"to"`
	Order int            `hcl:"order,optional"`
	Label string         `hcl:"label,optional"`
}

// DecodeHCL parses a process model written in HCL. Link ends may reference
// shapes by block key through the shape variable.
func DecodeHCL(filename string, data []byte) (*process.Model, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var parsed hclFile
	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	if parsed.Process == nil {
		return nil, fmt.Errorf("HCL file %s: missing process block", filename)
	}
	p := parsed.Process

	m := &process.Model{
		ID:             p.ID,
		Name:           p.Name,
		PropertyValues: toAny(p.Properties),
	}
	if p.Status != nil {
		m.Status = process.Status{
			IsLocked:             p.Status.IsLocked,
			IsLockedByMe:         p.Status.IsLockedByMe,
			IsReadOnly:           p.Status.IsReadOnly,
			IsPublished:          p.Status.IsPublished,
			HasEverBeenPublished: p.Status.HasEverBeenPublished,
		}
	}

	shapeVars := make(map[string]cty.Value, len(p.Shapes))
	for _, s := range p.Shapes {
		if _, dup := shapeVars[s.Key]; dup {
			return nil, fmt.Errorf("HCL file %s: duplicate shape key %q", filename, s.Key)
		}
		shapeVars[s.Key] = cty.NumberIntVal(int64(s.ID))

		name := s.Name
		if name == "" {
			name = s.Key
		}
		m.Shapes = append(m.Shapes, &process.Shape{
			ID:             s.ID,
			Type:           process.ShapeType(s.Type),
			Name:           name,
			X:              s.X,
			Y:              s.Y,
			PropertyValues: toAny(s.Properties),
		})
	}

	evalCtx := &hcl.EvalContext{Variables: map[string]cty.Value{}}
	if len(shapeVars) > 0 {
		evalCtx.Variables["shape"] = cty.ObjectVal(shapeVars)
	}

	var err error
	if m.Links, err = decodeLinks(filename, p.Links, evalCtx); err != nil {
		return nil, err
	}
	if m.DecisionBranchDestinationLinks, err = decodeLinks(filename, p.Branches, evalCtx); err != nil {
		return nil, err
	}

	if err := Validate(m); err != nil {
		return nil, fmt.Errorf("HCL file %s: %w", filename, err)
	}
	return m, nil
}

func decodeLinks(filename string, links []*hclLink, evalCtx *hcl.EvalContext) ([]*process.Link, error) {
	result := make([]*process.Link, 0, len(links))
	for _, l := range links {
		var from, to int
		if diags := gohcl.DecodeExpression(l.From, evalCtx, &from); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode link in HCL file %s: %w", filename, diags)
		}
		if diags := gohcl.DecodeExpression(l.To, evalCtx, &to); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode link in HCL file %s: %w", filename, diags)
		}
		result = append(result, &process.Link{
			SourceID:      from,
			DestinationID: to,
			OrderIndex:    l.Order,
			Label:         l.Label,
		})
	}
	return result, nil
}

func toAny(m map[string]string) map[string]any {
	if len(m) == 0 {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
