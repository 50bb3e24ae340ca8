package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tripwire/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Specs  string // base directory for scenario specs paths
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario tests",
		Long: `Run YAML scenarios against detector models.

Each scenario loads its CUE definitions, puts messages and advances a
simulated clock, then checks detector state assertions. When a golden
file exists under golden/, the evaluation trace must match it.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  tripwire test ./scenarios
  tripwire test ./scenarios --specs ./specs --filter "overheat*"
  tripwire test ./scenarios --update
  tripwire test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Specs, "specs", "", "resolve scenario specs paths against this directory")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return commandError(formatter, ErrCodeNotFound, fmt.Sprintf("scenarios directory not found: %s", scenariosDir), nil)
	}
	if opts.Specs != "" {
		if _, err := os.Stat(opts.Specs); os.IsNotExist(err) {
			return commandError(formatter, ErrCodeNotFound, fmt.Sprintf("specs directory not found: %s", opts.Specs), nil)
		}
	}

	suiteOpts := harness.SuiteOptions{SpecsDir: opts.Specs, Filter: opts.Filter}
	if opts.Update {
		suiteOpts.Golden = harness.GoldenUpdate
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := harness.RunSuite(ctx, scenariosDir, suiteOpts)
	if err != nil {
		return commandError(formatter, ErrCodeScanError, "failed to find scenarios", err)
	}
	for _, s := range result.Scenarios {
		formatter.VerboseLog("ran %s (%s)", s.Name, s.Path)
	}

	if result.Failed > 0 {
		_ = formatter.Fail("E_TEST_FAILED", fmt.Sprintf("%d scenario(s) failed", result.Failed), result, func(w io.Writer) {
			writeTestText(w, result)
		})
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return formatter.Success(result, func(w io.Writer) {
		writeTestText(w, result)
	})
}

func writeTestText(w io.Writer, result *harness.SuiteResult) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}

	for _, s := range result.Scenarios {
		if s.Pass {
			suffix := ""
			if s.GoldenUpdated {
				suffix = " (golden updated)"
			}
			fmt.Fprintf(w, "✓ %s%s\n", s.Name, suffix)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed == 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
}
