package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/store"
)

// DescribeOptions holds flags for the describe command.
type DescribeOptions struct {
	*RootOptions
	Store   string
	Server  string
	State   string
	History bool
	Actions bool
}

// DescribeResult is what describe reports about a model or one detector.
type DescribeResult struct {
	Model     string                `json:"detectorModelName"`
	Key       string                `json:"keyValue,omitempty"`
	Detectors []ir.DetectorSnapshot `json:"detectors"`
	Cycles    []engine.Cycle        `json:"cycles,omitempty"`
	Actions   []store.ActionEntry   `json:"actions,omitempty"`
}

// detectorSource reads detectors from a store file or a running server.
type detectorSource interface {
	detectors(ctx context.Context, model, state string) ([]ir.DetectorSnapshot, error)
	cycles(ctx context.Context, model, key string) ([]engine.Cycle, error)
	actions(ctx context.Context, model, key string) ([]store.ActionEntry, error)
}

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DescribeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "describe <model> [key]",
		Short: "Show detectors of a model, with history and actions",
		Long: `Show the detectors of a detector model, or one detector by key.

Detectors are read from a store file (--store) or from a running
interpreter (--server). For a single detector, --history lists its
evaluation cycles and --actions its action results.

Examples:
  tripwire describe temperature --store ./tripwire.db
  tripwire describe temperature s1 --store ./tripwire.db --history --actions
  tripwire describe temperature --server http://localhost:8080 --state Alarm`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 2 {
				key = args[1]
			}
			return runDescribe(opts, args[0], key, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "path to the SQLite store")
	cmd.Flags().StringVar(&opts.Server, "server", "", "interpreter API address")
	cmd.Flags().StringVar(&opts.State, "state", "", "only detectors in this state")
	cmd.Flags().BoolVar(&opts.History, "history", false, "include evaluation cycles (single detector)")
	cmd.Flags().BoolVar(&opts.Actions, "actions", false, "include action results (single detector)")
	cmd.MarkFlagsMutuallyExclusive("store", "server")

	return cmd
}

func runDescribe(opts *DescribeOptions, model, key string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	var src detectorSource
	switch {
	case opts.Store != "":
		if _, err := os.Stat(opts.Store); err != nil {
			return commandError(formatter, ErrCodeNotFound, "store not found", err)
		}
		st, err := store.Open(opts.Store)
		if err != nil {
			return commandError(formatter, ErrCodeStore, "failed to open store", err)
		}
		defer st.Close()
		src = storeSource{st}
	case opts.Server != "":
		src = serverSource{newAPIClient(opts.Server)}
	default:
		return commandError(formatter, ErrCodeInvalidArgs, "one of --store or --server is required", nil)
	}
	if key == "" && (opts.History || opts.Actions) {
		return commandError(formatter, ErrCodeInvalidArgs, "--history and --actions need a detector key", nil)
	}

	snaps, err := src.detectors(ctx, model, opts.State)
	if err != nil {
		return commandError(formatter, ErrCodeRequest, "failed to read detectors", err)
	}

	result := DescribeResult{Model: model, Key: key, Detectors: []ir.DetectorSnapshot{}}
	for _, s := range snaps {
		if key == "" || s.KeyValue == key {
			result.Detectors = append(result.Detectors, s)
		}
	}
	if key != "" && len(result.Detectors) == 0 {
		return commandError(formatter, ErrCodeNotFound, fmt.Sprintf("detector %s/%s not found", model, key), nil)
	}

	if opts.History {
		if result.Cycles, err = src.cycles(ctx, model, key); err != nil {
			return commandError(formatter, ErrCodeRequest, "failed to read history", err)
		}
	}
	if opts.Actions {
		if result.Actions, err = src.actions(ctx, model, key); err != nil {
			return commandError(formatter, ErrCodeRequest, "failed to read action log", err)
		}
	}

	return formatter.Success(result, func(w io.Writer) {
		writeDescribeText(w, result, opts.Verbose)
	})
}

type storeSource struct{ st *store.Store }

func (s storeSource) detectors(ctx context.Context, model, state string) ([]ir.DetectorSnapshot, error) {
	snaps, err := s.st.ReadDetectors(ctx, model)
	if err != nil || state == "" {
		return snaps, err
	}
	return slices.DeleteFunc(snaps, func(d ir.DetectorSnapshot) bool { return d.StateName != state }), nil
}

func (s storeSource) cycles(ctx context.Context, model, key string) ([]engine.Cycle, error) {
	return s.st.ReadCycles(ctx, model, key)
}

func (s storeSource) actions(ctx context.Context, model, key string) ([]store.ActionEntry, error) {
	return s.st.ReadActionLog(ctx, model, key)
}

type serverSource struct{ c *apiClient }

func (s serverSource) detectors(ctx context.Context, model, state string) ([]ir.DetectorSnapshot, error) {
	path := "/detectors/" + url.PathEscape(model)
	if state != "" {
		path += "?stateName=" + url.QueryEscape(state)
	}
	var resp struct {
		Detectors []ir.DetectorSnapshot `json:"detectorSummaries"`
	}
	err := s.c.do(ctx, "GET", path, nil, &resp)
	return resp.Detectors, err
}

func (s serverSource) cycles(ctx context.Context, model, key string) ([]engine.Cycle, error) {
	var resp struct {
		Cycles []engine.Cycle `json:"cycles"`
	}
	err := s.c.do(ctx, "GET", detectorPath(model, key, "history"), nil, &resp)
	return resp.Cycles, err
}

func (s serverSource) actions(ctx context.Context, model, key string) ([]store.ActionEntry, error) {
	var resp struct {
		Actions []store.ActionEntry `json:"actions"`
	}
	err := s.c.do(ctx, "GET", detectorPath(model, key, "actions"), nil, &resp)
	return resp.Actions, err
}

func detectorPath(model, key, what string) string {
	return fmt.Sprintf("/detectors/%s/%s?keyValue=%s", url.PathEscape(model), what, url.QueryEscape(key))
}

func writeDescribeText(w io.Writer, result DescribeResult, verbose bool) {
	if len(result.Detectors) == 0 {
		fmt.Fprintf(w, "No detectors found for model: %s\n", result.Model)
		return
	}

	for _, d := range result.Detectors {
		label := d.KeyValue
		if label == "" {
			label = "(no key)"
		}
		fmt.Fprintf(w, "%s/%s  %s  (version %s, updated %s)\n",
			d.ModelName, label, d.StateName, d.ModelVersion, d.UpdatedAt.UTC().Format(time.RFC3339))
		if len(d.Variables) > 0 {
			names := make([]string, 0, len(d.Variables))
			for name := range d.Variables {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(w, "  $variable.%s = %s\n", name, formatValue(d.Variables[name]))
			}
		}
		for _, t := range d.Timers {
			fmt.Fprintf(w, "  timer %s (%ds) expires %s\n", t.Name, t.DurationSeconds, t.Expires.UTC().Format(time.RFC3339))
		}
	}

	if len(result.Cycles) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "History:")
		for _, c := range result.Cycles {
			writeCycle(w, c, verbose)
		}
	}

	if len(result.Actions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Actions:")
		for _, a := range result.Actions {
			status := "ok"
			if a.Error != "" {
				status = "failed: " + a.Error
			}
			target := a.Target
			if target == "" {
				target = "-"
			}
			fmt.Fprintf(w, "  [%s] %s %s -> %s (%s)\n", truncateID(a.ExecutionID), a.Kind, a.ActionName, target, status)
		}
	}
}

func writeCycle(w io.Writer, c engine.Cycle, verbose bool) {
	trigger := string(c.TriggerType)
	switch {
	case c.Update:
		trigger = "update"
	case c.Created && trigger == "":
		trigger = "create"
	}
	fmt.Fprintf(w, "  [%d] %s %s", c.Seq, c.Time.UTC().Format(time.RFC3339), trigger)
	if len(c.Triggers) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(c.Triggers, ", "))
	}
	if c.Transition != nil {
		fmt.Fprintf(w, "  %s → %s", c.Transition.From, c.Transition.To)
	}
	fmt.Fprintln(w)

	for _, ev := range c.Events {
		fmt.Fprintf(w, "      %s.%s %s", ev.State, ev.Hook, ev.Event)
		if verbose && len(ev.Actions) > 0 {
			kinds := make([]string, len(ev.Actions))
			for i, a := range ev.Actions {
				kinds[i] = string(a.Kind)
			}
			fmt.Fprintf(w, " [%s]", strings.Join(kinds, " "))
		}
		fmt.Fprintln(w)
	}
	for _, ce := range c.ConditionErrors {
		fmt.Fprintf(w, "      ! %s: %s\n", ce.Path, ce.Error)
	}
}

// formatValue renders a value as compact JSON.
func formatValue(v ir.Value) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// truncateID shortens an ID for display.
func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
