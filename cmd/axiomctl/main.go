// Command axiomctl inspects, verifies and replays Axiom kernel logs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/axiom/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
