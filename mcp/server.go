// Package mcp provides the MCP (Model Context Protocol) server for procgraph.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ogolikhin/procgraph/internal/graph"
	"github.com/ogolikhin/procgraph/internal/query"
	"github.com/ogolikhin/procgraph/internal/service"
)

const (
	serverName    = "procgraph"
	serverVersion = "0.1.0"
)

// Server represents the MCP server.
type Server struct {
	svc    *service.Service
	server *mcp.Server
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a new MCP server.
func NewServer(svc *service.Service) *Server {
	s := &Server{svc: svc}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	s.registerTools()
	s.registerResources()

	return s
}

var (
	processSchema = &jsonschema.Schema{Type: "integer", Description: "Process id"}
	shapeSchema   = func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "integer", Description: desc}
	}
)

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        "process_same_flow",
			Description: "Report whether two shapes of a process lie in the same flow.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"process": processSchema,
					"a":       shapeSchema("First shape id"),
					"b":       shapeSchema("Second shape id"),
				},
				Required: []string{"process", "a", "b"},
			},
		},
		{
			Name:        "process_child_flow",
			Description: "Report whether shape b lies in a flow nested under the flow of shape a.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"process": processSchema,
					"a":       shapeSchema("Outer shape id"),
					"b":       shapeSchema("Inner shape id"),
				},
				Required: []string{"process", "a", "b"},
			},
		},
		{
			Name:        "process_branch_destinations",
			Description: "List the branches of a decision with their merge point destinations.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"process":  processSchema,
					"decision": shapeSchema("Decision shape id"),
				},
				Required: []string{"process", "decision"},
			},
		},
		{
			Name:        "process_tree",
			Description: "Show the derived tree of a process: flows, parents and depths.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"process": processSchema,
				},
				Required: []string{"process"},
			},
		},
		{
			Name:        "process_insert_options",
			Description: "List the shapes that may be inserted on the link between two shapes.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"process":     processSchema,
					"source":      shapeSchema("Link source shape id"),
					"destination": shapeSchema("Link destination shape id"),
				},
				Required: []string{"process", "source", "destination"},
			},
		},
		{
			Name:        "process_search",
			Description: "Search stored processes by process or shape name.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string", Description: "Search query text"},
					"limit": {Type: "integer", Description: "Maximum number of results"},
				},
				Required: []string{"query"},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "procgraph://processes",
			Name:        "Stored Processes",
			Description: "All stored processes with their shape counts and revisions",
			MimeType:    "text/plain",
		},
		{
			URI:         "procgraph://schema",
			Name:        "Process Model Schema",
			Description: "Shape types, links and flow terminology",
			MimeType:    "text/plain",
		},
	}
}

// intArg reads an integer argument. JSON numbers decode as float64.
func intArg(args map[string]any, name string) (*int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	switch n := v.(type) {
	case int:
		return &n, nil
	case float64:
		if n == float64(int(n)) {
			i := int(n)
			return &i, nil
		}
	}
	return nil, fmt.Errorf("argument %s must be an integer", name)
}

func requireInts(args map[string]any, names ...string) ([]int, error) {
	out := make([]int, 0, len(names))
	for _, name := range names {
		v, err := intArg(args, name)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, fmt.Errorf("argument %s is required", name)
		}
		out = append(out, *v)
	}
	return out, nil
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "process_same_flow", "process_child_flow":
		ids, err := requireInts(args, "process")
		if err != nil {
			return "", err
		}
		a, err := intArg(args, "a")
		if err != nil {
			return "", err
		}
		b, err := intArg(args, "b")
		if err != nil {
			return "", err
		}
		return s.handleFlowQuery(ctx, name == "process_child_flow", ids[0], a, b)
	case "process_branch_destinations":
		ids, err := requireInts(args, "process", "decision")
		if err != nil {
			return "", err
		}
		return s.handleBranchDestinations(ctx, ids[0], ids[1])
	case "process_tree":
		ids, err := requireInts(args, "process")
		if err != nil {
			return "", err
		}
		return s.handleTree(ctx, ids[0])
	case "process_insert_options":
		ids, err := requireInts(args, "process", "source", "destination")
		if err != nil {
			return "", err
		}
		return s.handleInsertOptions(ctx, ids[0], ids[1], ids[2])
	case "process_search":
		q, _ := args["query"].(string)
		limit, _ := args["limit"].(float64)
		if limit == 0 {
			limit = 20
		}
		return s.handleSearch(ctx, q, int(limit))
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "procgraph://processes":
		return s.getProcessList(ctx)
	case "procgraph://schema":
		return getSchema(), nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Run starts the MCP server with stdio transport.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if stdin == nil || stdout == nil {
		return fmt.Errorf("stdin and stdout must not be nil")
	}

	reader := bufio.NewReader(stdin)
	encoder := json.NewEncoder(stdout)
	// One compact JSON message per line.

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		var req map[string]any
		if err := json.Unmarshal(line, &req); err != nil {
			if err := encoder.Encode(errorResponse(nil, -32700, "Parse error")); err != nil {
				return err
			}
			continue
		}

		// Notifications carry no id and get no response.
		if _, ok := req["id"]; !ok {
			continue
		}

		resp := s.handleRequest(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			return err
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req map[string]any) map[string]any {
	method, _ := req["method"].(string)
	id := req["id"]

	switch method {
	case "initialize":
		return s.handleInitialize(id)
	case "ping":
		return result(id, map[string]any{})
	case "tools/list":
		return s.handleToolsList(id)
	case "tools/call":
		return s.handleToolsCall(ctx, id, req)
	case "resources/list":
		return s.handleResourcesList(id)
	case "resources/read":
		return s.handleResourcesRead(ctx, id, req)
	default:
		return errorResponse(id, -32601, "Method not found: "+method)
	}
}

func (s *Server) handleInitialize(id any) map[string]any {
	return result(id, map[string]any{
		"protocolVersion": "2024-11-05",
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": serverVersion,
		},
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{"listChanged": false},
		},
	})
}

func (s *Server) handleToolsList(id any) map[string]any {
	tools := s.ListTools()
	toolList := make([]map[string]any, len(tools))
	for i, tool := range tools {
		schema, _ := json.Marshal(tool.InputSchema)
		var schemaMap map[string]any
		_ = json.Unmarshal(schema, &schemaMap)

		toolList[i] = map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": schemaMap,
		}
	}
	return result(id, map[string]any{"tools": toolList})
}

func (s *Server) handleToolsCall(ctx context.Context, id any, req map[string]any) map[string]any {
	params, _ := req["params"].(map[string]any)
	if params == nil {
		return errorResponse(id, -32602, "Invalid params")
	}

	name, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)

	text, err := s.CallTool(ctx, name, args)
	if err != nil {
		return errorResponse(id, -32000, err.Error())
	}
	return result(id, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
	})
}

func (s *Server) handleResourcesList(id any) map[string]any {
	resources := s.ListResources()
	resourceList := make([]map[string]any, len(resources))
	for i, res := range resources {
		resourceList[i] = map[string]any{
			"uri":         res.URI,
			"name":        res.Name,
			"description": res.Description,
			"mimeType":    res.MimeType,
		}
	}
	return result(id, map[string]any{"resources": resourceList})
}

func (s *Server) handleResourcesRead(ctx context.Context, id any, req map[string]any) map[string]any {
	params, _ := req["params"].(map[string]any)
	if params == nil {
		return errorResponse(id, -32602, "Invalid params")
	}

	uri, _ := params["uri"].(string)
	content, err := s.ReadResource(ctx, uri)
	if err != nil {
		return errorResponse(id, -32000, err.Error())
	}
	return result(id, map[string]any{
		"contents": []map[string]any{
			{"uri": uri, "mimeType": "text/plain", "text": content},
		},
	})
}

// Tool Handlers

func (s *Server) handleFlowQuery(ctx context.Context, child bool, processID int, a, b *int) (string, error) {
	g, err := s.svc.Graph(ctx, processID)
	if err != nil {
		return "", err
	}

	e := query.New(g)
	question, ans := "same flow", e.IsInSameFlow(a, b)
	if child {
		question, ans = "child flow", e.IsInChildFlow(a, b)
	}

	if ans.Err != nil {
		if errors.Is(ans.Err, graph.ErrNotFound) || errors.Is(ans.Err, query.ErrMissingShapeID) {
			return fmt.Sprintf("Cannot answer %s: %v", question, ans.Err), nil
		}
		return "", ans.Err
	}
	if *ans.Value {
		return fmt.Sprintf("Yes: shapes %d and %d (%s).", *a, *b, question), nil
	}
	return fmt.Sprintf("No: shapes %d and %d (%s).", *a, *b, question), nil
}

func (s *Server) handleBranchDestinations(ctx context.Context, processID, decisionID int) (string, error) {
	g, err := s.svc.Graph(ctx, processID)
	if err != nil {
		return "", err
	}

	branches, err := g.DecisionBranches(decisionID)
	if errors.Is(err, graph.ErrNotDecision) || errors.Is(err, graph.ErrNotFound) {
		return fmt.Sprintf("Shape %d is not a decision of process %d.", decisionID, processID), nil
	}
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Decision %d\n\n", decisionID)
	for _, br := range branches {
		label := br.Label
		if label == "" {
			label = "-"
		}
		dest := "none"
		if br.HasDestination {
			dest = fmt.Sprintf("%d", br.DestinationID)
		}
		fmt.Fprintf(&sb, "- branch %d (%s): first shape %d, destination %s, flow %d\n",
			br.OrderIndex, label, br.FirstShapeID, dest, br.FlowID)
	}

	if connected := g.ConnectedDecisionIDs(decisionID); len(connected) > 0 {
		fmt.Fprintf(&sb, "\nDecisions merging into %d: %v\n", decisionID, connected)
	}
	return sb.String(), nil
}

func (s *Server) handleTree(ctx context.Context, processID int) (string, error) {
	g, err := s.svc.Graph(ctx, processID)
	if err != nil {
		return "", err
	}
	t, err := g.Tree()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s (process %d)\n\n", g.Name(), g.ID())
	for _, f := range t.Flows() {
		indent := strings.Repeat("  ", f.Depth)
		if f.ID == graph.MainFlowID {
			fmt.Fprintf(&sb, "%s- flow %d (main)\n", indent, f.ID)
		} else {
			fmt.Fprintf(&sb, "%s- flow %d (decision %d, branch %d)\n", indent, f.ID, f.DecisionID, f.OrderIndex)
		}
		for _, id := range f.ShapeIDs {
			shape, _ := g.Shape(id)
			fmt.Fprintf(&sb, "%s  - %d %s %q\n", indent, id, shape.Type, shape.Name)
		}
	}

	diag := g.Diagnostics()
	if len(diag.SkippedLinks) > 0 || len(diag.Unreachable) > 0 || diag.MissingStart {
		sb.WriteString("\n## Diagnostics\n\n")
		if diag.MissingStart {
			sb.WriteString("- no Start shape\n")
		}
		for _, l := range diag.SkippedLinks {
			fmt.Fprintf(&sb, "- dangling link %d -> %d\n", l.SourceID, l.DestinationID)
		}
		if len(diag.Unreachable) > 0 {
			fmt.Fprintf(&sb, "- unreachable shapes: %v\n", diag.Unreachable)
		}
	}
	return sb.String(), nil
}

func (s *Server) handleInsertOptions(ctx context.Context, processID, sourceID, destinationID int) (string, error) {
	options, err := s.svc.InsertOptions(ctx, processID, sourceID, destinationID)
	if errors.Is(err, graph.ErrLinkNotFound) {
		return fmt.Sprintf("No link %d -> %d in process %d.", sourceID, destinationID, processID), nil
	}
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Insert on %d -> %d\n\n", sourceID, destinationID)
	for _, o := range options {
		if o.Enabled {
			fmt.Fprintf(&sb, "- %s\n", o.Kind)
		} else {
			fmt.Fprintf(&sb, "- %s (disabled: %s)\n", o.Kind, o.Reason)
		}
	}
	return sb.String(), nil
}

func (s *Server) handleSearch(ctx context.Context, q string, limit int) (string, error) {
	if q == "" {
		return "Please provide a search query.", nil
	}
	results, err := s.svc.Search(ctx, q, limit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No processes found for '%s'.", q), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d processes for '%s':\n\n", len(results), q)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. **%s** (id %d, %d shapes, score %.1f)\n", i+1, r.Name, r.ID, r.Shapes, r.Score)
	}
	return sb.String(), nil
}

// Resource Handlers

func (s *Server) getProcessList(ctx context.Context) (string, error) {
	list, err := s.svc.List(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("# Stored Processes\n\n")
	if len(list) == 0 {
		sb.WriteString("No processes stored.\n")
		return sb.String(), nil
	}
	sb.WriteString("| ID | Name | Shapes | Revision |\n")
	sb.WriteString("|----|------|--------|----------|\n")
	for _, p := range list {
		fmt.Fprintf(&sb, "| %d | %s | %d | %s |\n", p.ID, p.Name, p.Shapes, p.Revision)
	}
	return sb.String(), nil
}

func getSchema() string {
	var sb strings.Builder
	sb.WriteString("# Process Model Schema\n\n")
	sb.WriteString("## Shape Types\n\n")
	sb.WriteString("| Type | Description |\n")
	sb.WriteString("|------|-------------|\n")
	sb.WriteString("| `Start` | Entry of the process |\n")
	sb.WriteString("| `PreconditionSystemTask` | System task run before the first user task |\n")
	sb.WriteString("| `UserTask` | Step performed by a user |\n")
	sb.WriteString("| `SystemTask` | System response to a user task |\n")
	sb.WriteString("| `UserDecision` | Decision taken by a user |\n")
	sb.WriteString("| `SystemDecision` | Decision taken by the system |\n")
	sb.WriteString("| `MergingPoint` | Explicit join of branches |\n")
	sb.WriteString("| `End` | Exit of the process |\n")
	sb.WriteString("\n## Terms\n\n")
	sb.WriteString("- **Link**: directed edge `sourceId -> destinationId` ordered by `orderindex`\n")
	sb.WriteString("- **Branch**: one outgoing link of a decision\n")
	sb.WriteString("- **Merge point**: where the branches of a decision rejoin\n")
	sb.WriteString("- **Flow**: straight-line run of shapes; each branch opens a child flow\n")
	return sb.String()
}

// Helper functions

func result(id any, res map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  res,
	}
}

func errorResponse(id any, code int, message string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
}

// registerTools registers the tools with the SDK server so transports built on
// it serve the same handlers as Run.
func (s *Server) registerTools() {
	for _, tool := range s.ListTools() {
		name := tool.Name
		s.server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args map[string]any
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return nil, fmt.Errorf("decoding arguments: %w", err)
				}
			}
			text, err := s.CallTool(ctx, name, args)
			if err != nil {
				return &mcp.CallToolResult{
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
					IsError: true,
				}, nil
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
		})
	}
}

// registerResources registers the resources with the SDK server.
func (s *Server) registerResources() {
	for _, res := range s.ListResources() {
		s.server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, req.Params.URI)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: req.Params.URI, MIMEType: "text/plain", Text: text}},
			}, nil
		})
	}
}

// ServeStdio serves the SDK server over its stdio transport.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
