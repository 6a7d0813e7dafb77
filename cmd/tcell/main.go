// Command tcell is the interactive analysis CLI: FCS inspection, gating,
// clustering, embeddings, plots, and run reports.
package main

import (
	"fmt"
	"os"

	"github.com/flywind2/t-cell-data/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tcell: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
