// Command mainthread-demo runs demo scenarios against the dispatcher.
package main

import (
	"fmt"
	"os"

	"github.com/Swind/go-mainthread/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
