// Procgraph - process graph store, flow queries and editing.
//
// Procgraph keeps business process models in a store, derives their tree
// and flows, and answers flow questions over a CLI, an HTTP API and MCP.
package main

import (
	"fmt"
	"os"

	"github.com/ogolikhin/procgraph/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
