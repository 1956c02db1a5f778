// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Command graphsched-harness exercises the allocator and replay driver
// against a small, fixed fleet and graph, end to end. It is not a
// production scheduler entrypoint: the durable state machine, the fleet
// membership feed, and the HTTP/RPC surface a real deployment needs are all
// out of scope (spec.md's Non-goals); this binary exists to drive the
// config/logging/CLI ambient stack against real allocator and systemtask
// code paths.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args[1:]))
}

// Run builds the command-line interface and executes it, grounded on
// hashicorp-nomad's own main.go shape: a cli.CLI wired to a
// name -> cli.CommandFactory table rather than cobra's tree of
// *cobra.Command values.
func Run(args []string) int {
	c := &cli.CLI{
		Name:    "graphsched-harness",
		Version: version,
		Args:    args,
		Commands: map[string]cli.CommandFactory{
			"run": func() (cli.Command, error) {
				return &RunCommand{}, nil
			},
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error executing CLI: %s\n", err)
		return 1
	}
	return exitCode
}
