// Command offlinesync runs and administers the offline-first sync engine.
package main

import (
	"fmt"
	"os"

	"github.com/rzpsarthak13/offlinesync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
