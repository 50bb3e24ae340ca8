package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tripwire/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Inputs   int                        `json:"inputs"`
	Models   int                        `json:"detectorModels"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.Warning         `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate inputs and detector models without compiling them",
		Long: `Validate CUE input and detector model definitions.

Checks names, states, transitions, expressions, templates, timer
durations and action fields, and reports warnings for unreachable states
and references to undeclared inputs, attributes, timers or variables.
Warnings never fail validation.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)
	if loadResult == nil {
		return loadFailure(formatter, loadErrors)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)

	result := ValidationResult{Inputs: len(loadResult.Inputs), Models: len(loadResult.Models)}
	for _, err := range loadErrors {
		result.Errors = append(result.Errors, loadValidationError(err))
	}
	errs, warnings, _ := validateAll(loadResult, formatter)
	result.Errors = append(result.Errors, errs...)
	result.Warnings = warnings
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ All definitions valid (%d input(s), %d detector model(s))\n", result.Inputs, result.Models)
		writeWarnings(w, result.Warnings)
	})
}

// validateAll validates every loaded input and compiles every model
// against the loaded inputs. Programs are returned for the models that
// compiled.
func validateAll(res *LoadResult, formatter *OutputFormatter) ([]compiler.ValidationError, []compiler.Warning, []*compiler.Program) {
	var (
		errs     []compiler.ValidationError
		warnings []compiler.Warning
		programs []*compiler.Program
	)

	for i := range res.Inputs {
		in := &res.Inputs[i]
		formatter.VerboseLog("Validating input: %s", in.Name)
		for _, ve := range compiler.ValidateInput(in) {
			ve.Field = qualify("input", in.Name, ve.Field)
			errs = append(errs, ve)
		}
	}

	for _, m := range res.Models {
		formatter.VerboseLog("Validating detector model: %s", m.Name)
		prog, err := compiler.Compile(m, res.Inputs)
		if err != nil {
			var defErr *compiler.DefinitionError
			if !errors.As(err, &defErr) {
				errs = append(errs, compiler.ValidationError{
					Field:   qualify("detectorModel", m.Name, ""),
					Message: err.Error(),
					Code:    ErrCodeGeneric,
				})
				continue
			}
			for _, ve := range defErr.Errors {
				ve.Field = qualify("detectorModel", m.Name, ve.Field)
				errs = append(errs, ve)
			}
			continue
		}
		for _, w := range prog.Warnings {
			w.Field = qualify("detectorModel", m.Name, w.Field)
			warnings = append(warnings, w)
		}
		programs = append(programs, prog)
	}
	return errs, warnings, programs
}

func qualify(kind, name, field string) string {
	if field == "" {
		return fmt.Sprintf("%s.%s", kind, name)
	}
	return fmt.Sprintf("%s.%s.%s", kind, name, field)
}

func loadValidationError(err error) compiler.ValidationError {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return compiler.ValidationError{
			Field:   "load",
			Message: loadErr.Message,
			Code:    loadErr.Code,
			Line:    loadErr.Line(),
		}
	}
	return compiler.ValidationError{Field: "load", Message: err.Error(), Code: ErrCodeGeneric}
}

func writeWarnings(w io.Writer, warnings []compiler.Warning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d warning(s):\n", len(warnings))
	for _, warn := range warnings {
		fmt.Fprintf(w, "  %s %s: %s\n", warn.Code, warn.Field, warn.Message)
	}
}

// outputValidationErrors outputs a failed validation. Validation failures
// exit with ExitFailure.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	first := result.Errors[0]
	_ = formatter.Fail(first.Code, first.Message, result, func(w io.Writer) {
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, err := range result.Errors {
			if err.Line > 0 {
				fmt.Fprintf(w, "line %d\n", err.Line)
			}
			fmt.Fprintf(w, "  %s %s: %s\n\n", err.Code, err.Field, err.Message)
		}
		writeWarnings(w, result.Warnings)
	})
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}

// ValidateSpecsDir validates the definitions in a directory. The error is
// non-nil only when nothing could be loaded.
func ValidateSpecsDir(specsDir string) ([]compiler.ValidationError, []compiler.Warning, error) {
	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)
	if loadResult == nil {
		return nil, nil, loadErrors[0]
	}

	var errs []compiler.ValidationError
	for _, err := range loadErrors {
		errs = append(errs, loadValidationError(err))
	}
	silent := &OutputFormatter{Format: "text", Writer: io.Discard}
	more, warnings, _ := validateAll(loadResult, silent)
	return append(errs, more...), warnings, nil
}
