package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogolikhin/procgraph/internal/process"
)

const decisionJSON = `{
  "id": 7,
  "name": "Order review",
  "shapes": [
    {"id": 1, "type": "Start", "name": "Start"},
    {"id": 2, "type": "UserDecision", "name": "Approve?"},
    {"id": 3, "type": "SystemTask", "name": "Notify", "propertyValues": {"persona": "System"}},
    {"id": 4, "type": "End", "name": "End"}
  ],
  "links": [
    {"sourceId": 1, "destinationId": 2, "orderindex": 0},
    {"sourceId": 2, "destinationId": 3, "orderindex": 0, "label": "yes"},
    {"sourceId": 2, "destinationId": 4, "orderindex": 1, "label": "no"},
    {"sourceId": 3, "destinationId": 4, "orderindex": 0}
  ],
  "decisionBranchDestinationLinks": [
    {"sourceId": 2, "destinationId": 4, "orderindex": 0}
  ],
  "status": {"isLocked": true, "isLockedByMe": true}
}`

const decisionHCL = `
process "Order review" {
  id = 7

  status {
    locked       = true
    locked_by_me = true
  }

  shape "start" {
    id   = 1
    type = "Start"
  }
  shape "approve" {
    id   = 2
    type = "UserDecision"
    name = "Approve?"
  }
  shape "notify" {
    id         = 3
    type       = "SystemTask"
    properties = { persona = "System" }
  }
  shape "end" {
    id   = 4
    type = "End"
  }

  link {
    from = shape.start
    to   = shape.approve
  }
  link {
    from  = shape.approve
    to    = shape.notify
    label = "yes"
  }
  link {
    from  = 2
    to    = shape.end
    order = 1
    label = "no"
  }
  link {
    from = shape.notify
    to   = shape.end
  }

  branch_destination {
    from = shape.approve
    to   = shape.end
  }
}
`

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
		data string
	}{
		{"JSON", "review.json", decisionJSON},
		{"HCL", "review.hcl", decisionHCL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := Decode(tt.file, []byte(tt.data))
			require.NoError(t, err)

			assert.Equal(t, 7, m.ID)
			assert.Equal(t, "Order review", m.Name)
			require.Len(t, m.Shapes, 4)
			assert.Equal(t, process.ShapeUserDecision, m.Shapes[1].Type)
			assert.Equal(t, "Approve?", m.Shapes[1].Name)
			assert.Equal(t, "System", m.Shapes[2].PropertyValues["persona"])

			require.Len(t, m.Links, 4)
			assert.Equal(t, process.Link{SourceID: 2, DestinationID: 4, OrderIndex: 1, Label: "no"}, *m.Links[2])
			require.Len(t, m.DecisionBranchDestinationLinks, 1)
			assert.Equal(t, 4, m.DecisionBranchDestinationLinks[0].DestinationID)
			assert.True(t, m.Status.IsLockedByMe)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
		data string
	}{
		{"Unsupported", "review.xml", "<process/>"},
		{"BadJSON", "a.json", `{"shapes": [`},
		{"UnknownField", "a.json", `{"shapez": []}`},
		{"UnknownType", "a.json", `{"shapes": [{"id": 1, "type": "Lane"}]}`},
		{"DuplicateID", "a.json", `{"shapes": [{"id": 1, "type": "Start"}, {"id": 1, "type": "End"}]}`},
		{"NegativeOrder", "a.json", `{"links": [{"sourceId": 1, "destinationId": 2, "orderindex": -1}]}`},
		{"BadHCL", "a.hcl", `process "x" {`},
		{"NoProcess", "a.hcl", ``},
		{"UnknownShapeRef", "a.hcl", `process "x" {
  shape "a" {
    id   = 1
    type = "Start"
  }
  link {
    from = shape.a
    to   = shape.b
  }
}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.file, []byte(tt.data))
			assert.Error(t, err)
		})
	}

	_, err := Decode("review.xml", nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestEncodeJSON_RoundTrip(t *testing.T) {
	t.Parallel()

	m, err := DecodeJSON([]byte(decisionJSON))
	require.NoError(t, err)

	data, err := EncodeJSON(m)
	require.NoError(t, err)

	again, err := DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, m, again)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "review.hcl")
	require.NoError(t, os.WriteFile(path, []byte(decisionHCL), 0o644))

	m, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7, m.ID)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
