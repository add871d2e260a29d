// Package cmd provides the procgraph command line.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/ogolikhin/procgraph/internal/api"
	"github.com/ogolikhin/procgraph/internal/config"
	"github.com/ogolikhin/procgraph/internal/editor"
	"github.com/ogolikhin/procgraph/internal/graph"
	"github.com/ogolikhin/procgraph/internal/loader"
	"github.com/ogolikhin/procgraph/internal/logging"
	"github.com/ogolikhin/procgraph/internal/process"
	"github.com/ogolikhin/procgraph/internal/service"
	"github.com/ogolikhin/procgraph/internal/storage"
	"github.com/ogolikhin/procgraph/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// DefaultStorePath is the badger directory used when neither the flags nor
// the configuration file name a store.
const DefaultStorePath = ".procgraph/badger"

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `short:"c" type:"path" help:"Configuration file (YAML)"`
	Store    string `short:"s" help:"Badger directory, overrides the configuration"`
	LogLevel string `help:"Log level (debug, info, warn, error)"`

	out io.Writer `kong:"-"`
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

func (g *Globals) config() (config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return config.Config{}, err
	}
	switch {
	case g.Store != "":
		cfg.Storage.Path, cfg.Storage.DatabaseURL = g.Store, ""
	case cfg.Storage.Path == "" && cfg.Storage.DatabaseURL == "":
		cfg.Storage.Path = DefaultStorePath
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	return cfg, nil
}

// env is an opened store and the service over it.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	store  *storage.BreakerBackend
	svc    *service.Service
}

func (e *env) Close() {
	_ = e.store.Close()
}

func (g *Globals) open(ctx context.Context, readOnly bool) (*env, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	if path := cfg.Storage.Path; path != "" && cfg.Storage.DatabaseURL == "" {
		if readOnly {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				return nil, fmt.Errorf("no store found at %s. Run 'procgraph import' first", path)
			}
		} else if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	store, err := storage.Open(ctx, cfg.Storage, readOnly, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return &env{
		cfg:    cfg,
		logger: logger,
		store:  store,
		svc:    service.New(store, cfg, logger),
	}, nil
}

// graph opens the store read-only and returns the graph of one process.
func (g *Globals) graph(ctx context.Context, id int) (*graph.ProcessGraph, func(), error) {
	e, err := g.open(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	pg, err := e.svc.Graph(ctx, id)
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	return pg, e.Close, nil
}

// ImportCmd loads process files into the store.
type ImportCmd struct {
	Paths []string `arg:"" type:"existingpath" help:"Process files (.json, .hcl) or directories"`
}

// Run executes the import command.
func (c *ImportCmd) Run(g *Globals) error {
	ctx := context.Background()
	e, err := g.open(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	w := g.stdout()
	for _, path := range c.Paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("accessing %s: %w", path, err)
		}
		if info.IsDir() {
			n, err := e.svc.NewSyncer(path).Load(ctx)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(w, "✓ Imported %d processes from %s\n", n, path)
			continue
		}

		m, rev, err := e.svc.Import(ctx, path)
		if err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		color.New(color.FgGreen).Fprintf(w, "✓ Imported process %d (%s), revision %s\n", m.ID, m.Name, rev)
	}
	return nil
}

// ShowCmd prints a stored process as JSON.
type ShowCmd struct {
	ID int `arg:"" help:"Process id"`
}

// Run executes the show command.
func (c *ShowCmd) Run(g *Globals) error {
	pg, done, err := g.graph(context.Background(), c.ID)
	if err != nil {
		return err
	}
	defer done()

	data, err := loader.EncodeJSON(pg.Model())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(g.stdout(), string(data))
	return err
}

// TreeCmd prints the tree and flows of a process.
type TreeCmd struct {
	ID   int  `arg:"" help:"Process id"`
	JSON bool `help:"Print the tree as JSON"`
}

// Run executes the tree command.
func (c *TreeCmd) Run(g *Globals) error {
	pg, done, err := g.graph(context.Background(), c.ID)
	if err != nil {
		return err
	}
	defer done()

	t, err := pg.Tree()
	if err != nil {
		return err
	}

	w := g.stdout()
	if c.JSON {
		refs := make([]graph.TreeShapeRef, 0, t.Len())
		for _, id := range t.Order() {
			ref, _ := t.Ref(id)
			refs = append(refs, ref)
		}
		_, err := fmt.Fprintln(w, toJSON(map[string]any{
			"shapes": refs,
			"flows":  t.Flows(),
			"state":  pg.State().String(),
		}))
		return err
	}

	fmt.Fprintf(w, "## %s (process %d)\n\n", pg.Name(), pg.ID())
	for _, id := range t.Order() {
		ref, _ := t.Ref(id)
		s, _ := pg.Shape(id)
		fmt.Fprintf(w, "%s%d %s %q [flow %d]\n", strings.Repeat("  ", ref.Depth), id, s.Type, s.Name, ref.FlowID)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "### Flows")
	for _, f := range t.Flows() {
		if f.ID == graph.MainFlowID {
			fmt.Fprintf(w, "- flow %d (main): %s\n", f.ID, joinInts(f.ShapeIDs))
			continue
		}
		fmt.Fprintf(w, "- flow %d (decision %d, branch %d, parent %d): %s\n",
			f.ID, f.DecisionID, f.OrderIndex, f.ParentID, joinInts(f.ShapeIDs))
	}

	if diag := pg.Diagnostics(); diag.MissingStart || len(diag.Unreachable) > 0 || len(diag.SkippedLinks) > 0 {
		fmt.Fprintln(w)
		color.New(color.FgYellow).Fprintf(w, "Warning: start missing %v, %d unreachable shapes, %d skipped links\n",
			diag.MissingStart, len(diag.Unreachable), len(diag.SkippedLinks))
	}
	return nil
}

// SameFlowCmd reports whether two shapes share a flow.
type SameFlowCmd struct {
	ID int `arg:"" help:"Process id"`
	A  int `arg:"" help:"First shape id"`
	B  int `arg:"" help:"Second shape id"`
}

// Run executes the same-flow command.
func (c *SameFlowCmd) Run(g *Globals) error {
	return flowQuery(g, c.ID, func(pg *graph.ProcessGraph) (bool, error) {
		return pg.IsInSameFlow(c.A, c.B)
	})
}

// ChildFlowCmd reports whether the second shape sits in a flow nested under
// the first shape's flow.
type ChildFlowCmd struct {
	ID int `arg:"" help:"Process id"`
	A  int `arg:"" help:"Outer shape id"`
	B  int `arg:"" help:"Inner shape id"`
}

// Run executes the child-flow command.
func (c *ChildFlowCmd) Run(g *Globals) error {
	return flowQuery(g, c.ID, func(pg *graph.ProcessGraph) (bool, error) {
		return pg.IsInChildFlow(c.A, c.B)
	})
}

func flowQuery(g *Globals, id int, ask func(*graph.ProcessGraph) (bool, error)) error {
	pg, done, err := g.graph(context.Background(), id)
	if err != nil {
		return err
	}
	defer done()

	ok, err := ask(pg)
	if err != nil {
		return err
	}
	if ok {
		_, err = fmt.Fprintln(g.stdout(), "yes")
	} else {
		_, err = fmt.Fprintln(g.stdout(), "no")
	}
	return err
}

// BranchesCmd lists the branches of a decision.
type BranchesCmd struct {
	ID       int `arg:"" help:"Process id"`
	Decision int `arg:"" help:"Decision shape id"`
}

// Run executes the branches command.
func (c *BranchesCmd) Run(g *Globals) error {
	pg, done, err := g.graph(context.Background(), c.ID)
	if err != nil {
		return err
	}
	defer done()

	branches, err := pg.DecisionBranches(c.Decision)
	if err != nil {
		return err
	}

	w := g.stdout()
	for _, b := range branches {
		dest := "none"
		if b.HasDestination {
			dest = fmt.Sprint(b.DestinationID)
		}
		label := b.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(w, "branch %d (%s): first %d, destination %s, flow %d\n",
			b.OrderIndex, label, b.FirstShapeID, dest, b.FlowID)
	}
	return nil
}

// OptionsCmd lists what may be inserted on a link.
type OptionsCmd struct {
	ID          int `arg:"" help:"Process id"`
	Source      int `arg:"" help:"Link source shape id"`
	Destination int `arg:"" help:"Link destination shape id"`
}

// Run executes the options command.
func (c *OptionsCmd) Run(g *Globals) error {
	ctx := context.Background()
	e, err := g.open(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	options, err := e.svc.InsertOptions(ctx, c.ID, c.Source, c.Destination)
	if err != nil {
		return err
	}

	w := g.stdout()
	for _, o := range options {
		if o.Enabled {
			fmt.Fprintf(w, "- %s\n", o.Kind)
		} else {
			fmt.Fprintf(w, "- %s (disabled: %s)\n", o.Kind, o.Reason)
		}
	}
	return nil
}

// InsertCmd inserts an element on a link and saves the process.
type InsertCmd struct {
	ID          int    `arg:"" help:"Process id"`
	Kind        string `arg:"" enum:"userTask,userDecision,systemDecision,branch" help:"Element to insert (userTask, userDecision, systemDecision, branch)"`
	Source      int    `arg:"" help:"Link source shape id"`
	Destination int    `arg:"" help:"Link destination shape id"`
}

// Run executes the insert command.
func (c *InsertCmd) Run(g *Globals) error {
	ctx := context.Background()
	e, err := g.open(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	ids, rev, err := e.svc.Insert(ctx, c.ID, editor.Kind(c.Kind), c.Source, c.Destination)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(g.stdout(), "✓ Inserted %s: shapes %s, revision %s\n", c.Kind, joinInts(ids), rev)
	return nil
}

// ListCmd lists or searches stored processes.
type ListCmd struct {
	Query string `short:"q" help:"Search process and shape names"`
	Limit int    `default:"20" help:"Maximum search results"`
}

// Run executes the list command.
func (c *ListCmd) Run(g *Globals) error {
	ctx := context.Background()
	e, err := g.open(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	var summaries []storage.Summary
	if c.Query != "" {
		summaries, err = e.svc.Search(ctx, c.Query, c.Limit)
	} else {
		summaries, err = e.svc.List(ctx)
	}
	if err != nil {
		return err
	}

	w := g.stdout()
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No processes found.")
		return nil
	}
	fmt.Fprintln(w, "| ID | Name | Shapes | Updated |")
	fmt.Fprintln(w, "|----|------|--------|---------|")
	for _, s := range summaries {
		fmt.Fprintf(w, "| %d | %s | %d | %s |\n", s.ID, s.Name, s.Shapes, s.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

// DeleteCmd removes a process from the store.
type DeleteCmd struct {
	ID int `arg:"" help:"Process id"`
}

// Run executes the delete command.
func (c *DeleteCmd) Run(g *Globals) error {
	ctx := context.Background()
	e, err := g.open(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.svc.Delete(ctx, c.ID); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(g.stdout(), "Deleted process %d\n", c.ID)
	return nil
}

// WatchCmd keeps the store in sync with a directory of process files.
type WatchCmd struct {
	Dir   string        `arg:"" optional:"" default:"." type:"existingdir" help:"Directory of process files"`
	Delay time.Duration `default:"2s" help:"Wait this long for more changes before saving"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(g *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := g.open(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx = logging.WithLogger(ctx, e.logger)

	w := g.stdout()
	fmt.Fprintln(w, "## Watch Mode")
	fmt.Fprintf(w, "Watching %s for changes (Ctrl+C to stop)\n\n", c.Dir)

	go func() {
		select {
		case <-osSignalChannel():
			fmt.Fprintln(w, "\nStopping watch mode...")
			cancel()
		case <-ctx.Done():
		}
	}()

	err = e.svc.NewSyncer(c.Dir).Run(ctx, c.Delay)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}

	fmt.Fprintln(w, "Watch mode stopped.")
	return nil
}

// startSync watches dir in the background when it is set.
func startSync(ctx context.Context, e *env, dir string, delay time.Duration) {
	if dir == "" {
		return
	}
	go func() {
		err := e.svc.NewSyncer(dir).Run(logging.WithLogger(ctx, e.logger), delay)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("watch failed", "dir", dir, "error", err)
		}
	}()
}

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Addr  string `help:"Listen address, overrides the configuration"`
	Watch string `short:"w" type:"existingdir" help:"Also keep the store in sync with this directory"`
}

// Run executes the serve command.
func (c *ServeCmd) Run(g *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := g.open(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	addr := c.Addr
	if addr == "" {
		addr = e.cfg.HTTP.Addr
	}

	app := api.New(e.svc, e.logger)
	startSync(ctx, e, c.Watch, loader.DefaultBatchDelay)

	go func() {
		select {
		case <-osSignalChannel():
			e.logger.Info("shutting down")
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				e.logger.Error("shutdown failed", "error", err)
			}
		case <-ctx.Done():
		}
	}()

	e.logger.Info("serving HTTP API", "addr", addr)
	return app.Listen(addr)
}

// MCPCmd starts the MCP server on stdio.
type MCPCmd struct {
	SDK   bool   `help:"Serve through the MCP SDK transport"`
	Watch string `short:"w" type:"existingdir" help:"Also keep the store in sync with this directory"`
}

// Run executes the mcp command.
func (c *MCPCmd) Run(g *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Watching writes to the store.
	e, err := g.open(ctx, c.Watch == "")
	if err != nil {
		return err
	}
	defer e.Close()

	startSync(ctx, e, c.Watch, loader.DefaultBatchDelay)
	server := mcp.NewServer(e.svc)

	// Note: No output to stdout - MCP server uses stdio for JSON-RPC only
	if c.SDK {
		return server.ServeStdio(ctx)
	}
	return server.Run(ctx, os.Stdin, os.Stdout)
}

// InitCmd writes a starter process file and configuration.
type InitCmd struct {
	Dir   string `arg:"" optional:"" default:"." help:"Directory to initialize"`
	Force bool   `help:"Overwrite existing files"`
}

// Run executes the init command.
func (c *InitCmd) Run(g *Globals) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Dir, err)
	}

	data, err := loader.EncodeJSON(starterProcess())
	if err != nil {
		return err
	}

	files := map[string][]byte{
		"process.json":  data,
		"procgraph.yml": []byte(defaultConfig),
	}
	w := g.stdout()
	for _, name := range []string{"process.json", "procgraph.yml"} {
		path := filepath.Join(c.Dir, name)
		if _, err := os.Stat(path); err == nil && !c.Force {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
		if err := os.WriteFile(path, files[name], 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		color.New(color.FgGreen).Fprintf(w, "✓ Created %s\n", path)
	}
	return nil
}

const defaultConfig = `# procgraph configuration
shape_limit: 100
smb: false
tree:
  auto_rebuild: true
log:
  level: info
  format: text
storage:
  path: .procgraph/badger
http:
  addr: ":8080"
`

// starterProcess is Start -> Precondition -> User Task -> System Task -> End.
func starterProcess() *process.Model {
	return &process.Model{
		ID:   1,
		Name: "New process",
		Shapes: []*process.Shape{
			{ID: 1, Type: process.ShapeStart, Name: "Start"},
			{ID: 2, Type: process.ShapePrecondition, Name: "Precondition"},
			{ID: 3, Type: process.ShapeUserTask, Name: "User Task 1"},
			{ID: 4, Type: process.ShapeSystemTask, Name: "System Task 1"},
			{ID: 5, Type: process.ShapeEnd, Name: "End"},
		},
		Links: []*process.Link{
			{SourceID: 1, DestinationID: 2},
			{SourceID: 2, DestinationID: 3},
			{SourceID: 3, DestinationID: 4},
			{SourceID: 4, DestinationID: 5},
		},
	}
}

// Helper functions

// osSignalChannel returns a channel that receives OS signals for graceful shutdown.
func osSignalChannel() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

func toJSON(v any) string {
	bytes, _ := json.MarshalIndent(v, "", "  ")
	return string(bytes)
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	// Commands
	Init      InitCmd      `cmd:"" help:"Write a starter process file and configuration"`
	Import    ImportCmd    `cmd:"" help:"Load process files into the store"`
	Show      ShowCmd      `cmd:"" help:"Print a stored process as JSON"`
	Tree      TreeCmd      `cmd:"" help:"Show the tree and flows of a process"`
	SameFlow  SameFlowCmd  `cmd:"" help:"Check whether two shapes share a flow"`
	ChildFlow ChildFlowCmd `cmd:"" help:"Check whether a shape sits in a nested flow of another"`
	Branches  BranchesCmd  `cmd:"" help:"List the branches of a decision"`
	Options   OptionsCmd   `cmd:"" help:"List what may be inserted on a link"`
	Insert    InsertCmd    `cmd:"" help:"Insert an element on a link"`
	List      ListCmd      `cmd:"" help:"List or search stored processes"`
	Delete    DeleteCmd    `cmd:"" help:"Delete a stored process"`
	Watch     WatchCmd     `cmd:"" help:"Keep the store in sync with a directory"`
	Serve     ServeCmd     `cmd:"" help:"Start the HTTP API"`
	MCP       MCPCmd       `cmd:"" help:"Start MCP server (stdio transport)"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("procgraph"),
		kong.Description("Process graph store, flow queries and editing"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kongCtx.Run(&c.Globals)
}
