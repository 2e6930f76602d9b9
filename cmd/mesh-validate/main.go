// Command mesh-validate checks that downstream manifests carry cross-project lineage.
package main

import (
	"os"

	"github.com/leapstack-labs/leapmesh/internal/cli"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

func main() {
	if err := cli.ExecuteCmd(cli.NewValidateRootCmd()); err != nil {
		os.Exit(core.ExitCode(err))
	}
}
