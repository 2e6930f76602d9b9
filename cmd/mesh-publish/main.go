// Command mesh-publish publishes a build manifest to the manifest registry.
package main

import (
	"os"

	"github.com/leapstack-labs/leapmesh/internal/cli"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

func main() {
	if err := cli.ExecuteCmd(cli.NewPublishRootCmd()); err != nil {
		os.Exit(core.ExitCode(err))
	}
}
