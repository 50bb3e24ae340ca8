// Command tripwire is the detector model interpreter: it validates and
// compiles CUE definitions, serves the interpreter API and runs scenario
// tests.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tripwire/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "tripwire:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
