// Command hgpeer runs and inspects hypergraph peers.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/hgpeer/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		var exitErr *cli.ExitError
		// ExitErrors were already reported by the command.
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
