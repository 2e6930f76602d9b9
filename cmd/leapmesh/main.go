// Command leapmesh is the command-line interface for cross-project manifest lineage.
package main

import (
	"os"

	"github.com/leapstack-labs/leapmesh/internal/cli"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(core.ExitCode(err))
	}
}
