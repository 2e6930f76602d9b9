// Command mesh-sync generates source stubs from upstream public models.
package main

import (
	"os"

	"github.com/leapstack-labs/leapmesh/internal/cli"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

func main() {
	if err := cli.ExecuteCmd(cli.NewSyncRootCmd()); err != nil {
		os.Exit(core.ExitCode(err))
	}
}
