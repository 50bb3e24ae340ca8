package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/tripwire/internal/ir"
)

// Specs are the inputs and detector models declared in CUE under the
// top-level input and detectorModel structs:
//
//	input: Sensor: attributes: ["sensorId", "temp"]
//	detectorModel: temperature: { key: "sensorId", detectorModelDefinition: {...} }
type Specs struct {
	Inputs []ir.Input
	Models []ir.DetectorModel
}

// Empty reports whether nothing was declared.
func (s *Specs) Empty() bool {
	return len(s.Inputs) == 0 && len(s.Models) == 0
}

// CompileFiles compiles each file on its own and unifies the results. It
// serves file lists that do not form one CUE package directory, such as
// the specs a scenario names.
func CompileFiles(paths ...string) (cue.Value, error) {
	ctx := cuecontext.New()
	var v cue.Value
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, fmt.Errorf("read %s: %w", path, err)
		}
		fv := ctx.CompileBytes(data, cue.Filename(path))
		if err := fv.Err(); err != nil {
			return cue.Value{}, formatCUEError(err)
		}
		if i == 0 {
			v = fv
			continue
		}
		v = v.Unify(fv)
	}
	if !v.Exists() {
		return cue.Value{}, fmt.Errorf("no CUE files given")
	}
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// Extract compiles every input.<name> and detectorModel.<name> of v. With
// failFast it returns at the first error; otherwise it collects them all
// and returns what did compile.
func Extract(v cue.Value, failFast bool) (*Specs, []error) {
	specs := &Specs{}
	var errs []error

	each := func(path string, fn func(cue.Value) error) bool {
		val := v.LookupPath(cue.ParsePath(path))
		if !val.Exists() {
			return true
		}
		iter, err := val.Fields()
		if err != nil {
			errs = append(errs, fmt.Errorf("iterating %s: %w", path, err))
			return !failFast
		}
		for iter.Next() {
			if err := fn(iter.Value()); err != nil {
				errs = append(errs, err)
				if failFast {
					return false
				}
			}
		}
		return true
	}

	ok := each("input", func(val cue.Value) error {
		in, err := CompileInput(val)
		if err != nil {
			return err
		}
		specs.Inputs = append(specs.Inputs, *in)
		return nil
	})
	if !ok {
		return specs, errs
	}
	each("detectorModel", func(val cue.Value) error {
		m, err := CompileDetectorModel(val)
		if err != nil {
			return err
		}
		specs.Models = append(specs.Models, *m)
		return nil
	})
	return specs, errs
}

// LoadFiles is CompileFiles followed by a fail-fast Extract.
func LoadFiles(paths ...string) (*Specs, error) {
	v, err := CompileFiles(paths...)
	if err != nil {
		return nil, err
	}
	specs, errs := Extract(v, true)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return specs, nil
}
