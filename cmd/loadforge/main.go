// Command loadforge drives the engine from the command line: run a test
// plan locally, host a worker, or orchestrate a distributed run across
// workers.
package main

import (
	"fmt"
	"os"

	"github.com/loadforge/loadforge/cmd/loadforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
