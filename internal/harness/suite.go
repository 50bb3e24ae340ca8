package harness

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// GoldenMode selects what a suite run does with golden files.
type GoldenMode int

const (
	// GoldenCompare compares against a golden file when one exists.
	GoldenCompare GoldenMode = iota
	// GoldenUpdate rewrites every golden file.
	GoldenUpdate
	// GoldenOff ignores golden files.
	GoldenOff
)

// SuiteOptions configures RunSuite and RunFile.
type SuiteOptions struct {
	// SpecsDir resolves relative spec paths. Defaults to each scenario's
	// own directory.
	SpecsDir string

	// Filter is a glob matched against scenario file names without
	// extension.
	Filter string

	Golden GoldenMode
}

// ScenarioOutcome is the result of one scenario file.
type ScenarioOutcome struct {
	Name          string   `json:"name"`
	Path          string   `json:"path"`
	Pass          bool     `json:"pass"`
	GoldenUpdated bool     `json:"goldenUpdated,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Total     int               `json:"total"`
}

// GoldenDir is the directory, next to the scenarios, holding golden files.
const GoldenDir = "golden"

// ScenarioGoldenPath returns the golden file of a scenario file:
// <dir>/golden/<base>.golden.
func ScenarioGoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	return GoldenPath(filepath.Join(dir, GoldenDir), strings.TrimSuffix(base, filepath.Ext(base)))
}

// FindScenarios returns the YAML files under dir, in lexical order,
// skipping golden directories.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && d.Name() == GoldenDir {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// RunSuite runs every scenario found under dir.
func RunSuite(ctx context.Context, dir string, opts SuiteOptions) (*SuiteResult, error) {
	files, err := FindScenarios(dir, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find scenarios: %w", err)
	}

	result := &SuiteResult{
		Scenarios: make([]ScenarioOutcome, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		out := RunFile(ctx, file, opts)
		result.Scenarios = append(result.Scenarios, out)
		if out.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// RunFile loads and runs one scenario file, then applies the golden mode.
// A scenario passes when its assertions hold and, if compared, its trace
// matches the golden file.
func RunFile(ctx context.Context, file string, opts SuiteOptions) ScenarioOutcome {
	out := ScenarioOutcome{Name: filepath.Base(file), Path: file}

	base := opts.SpecsDir
	if base == "" {
		base = filepath.Dir(file)
	}
	scenario, err := LoadScenarioWithBasePath(file, base)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return out
	}
	out.Name = scenario.Name

	result, err := RunContext(ctx, scenario)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return out
	}
	out.Errors = result.Errors

	golden := ScenarioGoldenPath(file)
	switch opts.Golden {
	case GoldenUpdate:
		if err := UpdateGolden(golden, scenario.Name, result); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("failed to update golden file: %v", err))
			return out
		}
		out.GoldenUpdated = true
	case GoldenCompare:
		err := CompareGolden(golden, scenario.Name, result)
		var mismatch *GoldenMismatchError
		switch {
		case err == nil, errors.Is(err, ErrGoldenMissing):
		case errors.As(err, &mismatch):
			out.Errors = append(out.Errors, "trace does not match golden file (run with --update to regenerate)")
			return out
		default:
			out.Errors = append(out.Errors, fmt.Sprintf("golden comparison failed: %v", err))
			return out
		}
	}

	out.Pass = result.Pass
	return out
}
