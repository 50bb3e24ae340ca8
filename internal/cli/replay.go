package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/registry"
	"github.com/roach88/tripwire/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Store string
	Specs string // optional: definitions from CUE instead of the store
	Model string // optional: compare this model only
}

// ReplayResult holds the outcome of a replay.
type ReplayResult struct {
	Messages      int      `json:"messages"`
	Detectors     int      `json:"detectors"`
	Deterministic bool     `json:"deterministic"`
	Matches       bool     `json:"matchesStore"`
	Differences   []string `json:"differences"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the message log and verify detector state",
		Long: `Replay the stored message log against a fresh engine.

The log is replayed twice to verify that evaluation is deterministic, and
the resulting detectors are compared with the detectors in the store.
Replay is message-only: timers never fire, so detectors whose state was
changed by a timer are reported as differences.

Exit codes:
  0 - Replay matches the store
  1 - Differences detected
  2 - Command error (store not found, etc.)

Examples:
  tripwire replay --store ./tripwire.db
  tripwire replay --store ./tripwire.db --model temperature
  tripwire replay --store ./tripwire.db --specs ./specs --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "path to the SQLite store (required)")
	_ = cmd.MarkFlagRequired("store")
	cmd.Flags().StringVar(&opts.Specs, "specs", "", "load definitions from a CUE directory")
	cmd.Flags().StringVar(&opts.Model, "model", "", "compare one detector model only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := os.Stat(opts.Store); err != nil {
		return commandError(formatter, ErrCodeNotFound, "store not found", err)
	}
	st, err := store.Open(opts.Store)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to open store", err)
	}
	defer st.Close()

	reg, err := replayRegistry(ctx, st, opts.Specs)
	if err != nil {
		return commandError(formatter, ErrCodeLoadFailed, "failed to load definitions", err)
	}

	log, err := st.ReadMessages(ctx, 0)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to read message log", err)
	}
	stored, err := st.ReadDetectors(ctx, opts.Model)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to read detectors", err)
	}
	formatter.VerboseLog("Replaying %d message(s) against %d stored detector(s)", len(log), len(stored))

	first, err := engine.Replay(ctx, reg, log)
	if err != nil {
		return commandError(formatter, ErrCodeGeneric, "replay failed", err)
	}
	second, err := engine.Replay(ctx, reg, log)
	if err != nil {
		return commandError(formatter, ErrCodeGeneric, "replay failed", err)
	}
	first, second = onlyModel(first, opts.Model), onlyModel(second, opts.Model)

	rerun := engine.Diff(first, second)
	drift := engine.Diff(stored, first)
	slices.Sort(drift)

	result := ReplayResult{
		Messages:      len(log),
		Detectors:     len(first),
		Deterministic: len(rerun) == 0,
		Matches:       len(drift) == 0,
		Differences:   append([]string{}, drift...),
	}
	for _, d := range rerun {
		result.Differences = append(result.Differences, "rerun "+d)
	}

	if !result.Deterministic || !result.Matches {
		_ = formatter.Fail("E_REPLAY_DIVERGED", "replay diverged", result, func(w io.Writer) {
			writeReplayText(w, result)
		})
		return NewExitError(ExitFailure, fmt.Sprintf("replay diverged: %d difference(s)", len(result.Differences)))
	}
	return formatter.Success(result, func(w io.Writer) {
		writeReplayText(w, result)
	})
}

// replayRegistry builds the registry the log is replayed against.
func replayRegistry(ctx context.Context, st *store.Store, specsDir string) (*registry.Registry, error) {
	reg := registry.New()
	if specsDir != "" {
		res, errs := LoadSpecs(specsDir, LoadModeFailFast)
		if len(errs) > 0 {
			return nil, errs[0]
		}
		if err := applySpecs(reg, res); err != nil {
			return nil, err
		}
		return reg, nil
	}

	inputs, models, err := st.Definitions(ctx)
	if err != nil {
		return nil, err
	}
	if err := reg.Load(inputs, models); err != nil {
		return nil, err
	}
	return reg, nil
}

func onlyModel(snaps []ir.DetectorSnapshot, model string) []ir.DetectorSnapshot {
	if model == "" {
		return snaps
	}
	return slices.DeleteFunc(snaps, func(s ir.DetectorSnapshot) bool { return s.ModelName != model })
}

func writeReplayText(w io.Writer, result ReplayResult) {
	fmt.Fprintf(w, "Replayed %d message(s), %d detector(s)\n\n", result.Messages, result.Detectors)
	if result.Deterministic && result.Matches {
		fmt.Fprintln(w, "✓ Replay deterministic and matches the store")
		return
	}
	if !result.Deterministic {
		fmt.Fprintln(w, "✗ Replay is not deterministic")
	}
	if !result.Matches {
		fmt.Fprintln(w, "✗ Replay differs from the store")
	}
	fmt.Fprintln(w)
	for _, d := range result.Differences {
		fmt.Fprintf(w, "  %s\n", d)
	}
}
