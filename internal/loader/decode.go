// Package loader reads process models from disk.
//
// Two formats are understood: the JSON payload of the process service and an
// HCL form meant for hand-written fixtures. Walk finds process files below a
// directory honouring .gitignore; Watch reports changes to them.
package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ogolikhin/procgraph/internal/process"
)

// ErrUnsupportedFormat is returned for files that are neither JSON nor HCL.
var ErrUnsupportedFormat = errors.New("loader: unsupported file format")

// ErrInvalidModel is returned for a model with bad shapes or links.
var ErrInvalidModel = errors.New("loader: invalid process model")

// Supported file extensions and their formats.
var supportedExtensions = map[string]string{
	".json": "json",
	".hcl":  "hcl",
}

// Format returns the format for a file name, or "" when unsupported.
func Format(name string) string {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// Decode parses data according to the extension of name.
func Decode(name string, data []byte) (*process.Model, error) {
	switch Format(name) {
	case "json":
		return DecodeJSON(data)
	case "hcl":
		return DecodeHCL(name, data)
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedFormat)
	}
}

// LoadFile reads and decodes one process file.
func LoadFile(path string) (*process.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading process file: %w", err)
	}
	m, err := Decode(path, data)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeJSON parses a process model in the process service payload format.
// Unknown fields are rejected so typos in hand-edited files surface.
func DecodeJSON(data []byte) (*process.Model, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var m process.Model
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding process json: %w", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// EncodeJSON renders a process model in the payload format.
func EncodeJSON(m *process.Model) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding process json: %w", err)
	}
	return data, nil
}

// Validate rejects models the graph cannot hold. Dangling links are left to
// the tree builder, which reports them.
func Validate(m *process.Model) error {
	seen := make(map[int]bool, len(m.Shapes))
	for i, s := range m.Shapes {
		if s == nil {
			return fmt.Errorf("shape %d: null shape: %w", i, ErrInvalidModel)
		}
		if !s.Type.Valid() {
			return fmt.Errorf("shape %d: unknown type %q: %w", s.ID, s.Type, ErrInvalidModel)
		}
		if seen[s.ID] {
			return fmt.Errorf("shape %d: duplicate id: %w", s.ID, ErrInvalidModel)
		}
		seen[s.ID] = true
	}
	for i, l := range m.Links {
		if l == nil {
			return fmt.Errorf("link %d: null link: %w", i, ErrInvalidModel)
		}
		if l.OrderIndex < 0 {
			return fmt.Errorf("link %d -> %d: negative order index: %w", l.SourceID, l.DestinationID, ErrInvalidModel)
		}
	}
	return nil
}
