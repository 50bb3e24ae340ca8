package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tripwire/internal/compiler"
	"github.com/roach88/tripwire/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledModel is a detector model with its version hash and the inputs
// it reads.
type CompiledModel struct {
	ir.DetectorModel
	Hash   string   `json:"hash"`
	Reads  []string `json:"reads"`
	States int      `json:"-"`
	Events int      `json:"-"`
}

// CompilationResult holds the compiled definitions.
type CompilationResult struct {
	Inputs   []ir.Input         `json:"inputs"`
	Models   []CompiledModel    `json:"detectorModels"`
	Warnings []compiler.Warning `json:"warnings,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <specs-dir>",
		Short: "Compile CUE definitions to JSON",
		Long: `Compile CUE input and detector model definitions to JSON.

The compiler validates every definition, parses every expression and
writes the JSON form accepted by the API, with each model's version hash.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, specsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)
	if loadResult == nil {
		return loadFailure(formatter, loadErrors)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)

	var errs []compiler.ValidationError
	for _, err := range loadErrors {
		errs = append(errs, loadValidationError(err))
	}
	more, warnings, programs := validateAll(loadResult, formatter)
	errs = append(errs, more...)
	if len(errs) > 0 {
		return outputCompileErrors(formatter, errs)
	}

	result := &CompilationResult{
		Inputs:   loadResult.Inputs,
		Models:   make([]CompiledModel, 0, len(programs)),
		Warnings: warnings,
	}
	for _, prog := range programs {
		formatter.VerboseLog("Compiled detector model: %s (%s)", prog.Model.Name, prog.Hash)
		result.Models = append(result.Models, compiledModel(prog))
	}

	if opts.Output != "" {
		if err := writeCompilation(result, opts.Output); err != nil {
			return commandError(formatter, ErrCodeWriteFailed, "writing output file", err)
		}
	}

	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Compiled %d input(s), %d detector model(s)\n\n", len(result.Inputs), len(result.Models))
		if len(result.Inputs) > 0 {
			fmt.Fprintln(w, "Inputs:")
			for _, in := range result.Inputs {
				fmt.Fprintf(w, "  %s: %d attribute(s)\n", in.Name, len(in.Attributes))
			}
			fmt.Fprintln(w)
		}
		if len(result.Models) > 0 {
			fmt.Fprintln(w, "Detector models:")
			for _, m := range result.Models {
				fmt.Fprintf(w, "  %s: %d state(s), %d event(s), hash %s\n", m.Name, m.States, m.Events, m.Hash)
			}
			fmt.Fprintln(w)
		}
		writeWarnings(w, result.Warnings)
		if opts.Output != "" {
			fmt.Fprintf(w, "Wrote compiled definitions to %s\n", opts.Output)
		}
	})
}

func compiledModel(prog *compiler.Program) CompiledModel {
	m := prog.Model
	cm := CompiledModel{DetectorModel: m, Hash: prog.Hash, Reads: prog.Inputs, States: len(m.Definition.States)}
	if cm.Reads == nil {
		cm.Reads = []string{}
	}
	for _, s := range m.Definition.States {
		cm.Events += len(s.OnEnter.Events) + len(s.OnInput.Events) + len(s.OnInput.TransitionEvents) + len(s.OnExit.Events)
	}
	return cm
}

// outputCompileErrors outputs every compilation error. Compilation
// failures are command errors.
func outputCompileErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	_ = formatter.Fail(errs[0].Code, errs[0].Message, errs, func(w io.Writer) {
		fmt.Fprintln(w, "✗ Compilation failed")
		fmt.Fprintln(w)
		for _, err := range errs {
			if err.Line > 0 {
				fmt.Fprintf(w, "line %d\n", err.Line)
			}
			fmt.Fprintf(w, "  %s %s: %s\n\n", err.Code, err.Field, err.Message)
		}
	})
	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// writeCompilation writes the result as indented JSON.
func writeCompilation(result *CompilationResult, filename string) error {
	if filename == "" {
		return nil
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling definitions: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
