package compiler

import (
	"bytes"
	"encoding/json"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/tripwire/internal/ir"
)

// CompileDetectorModel decodes a CUE value into a DetectorModel.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value is the model struct itself; its label names the model
// unless the struct sets detectorModelName:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`detectorModel: motor: { ... }`)
//	m, err := CompileDetectorModel(v.LookupPath(cue.ParsePath("detectorModel.motor")))
func CompileDetectorModel(v cue.Value) (*ir.DetectorModel, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	defVal := v.LookupPath(cue.ParsePath("detectorModelDefinition"))
	if !defVal.Exists() {
		return nil, &CompileError{
			Field:   "detectorModelDefinition",
			Message: "detectorModelDefinition is required",
			Pos:     v.Pos(),
		}
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var m ir.DetectorModel
	if err := decodeStrict(data, &m); err != nil {
		return nil, &CompileError{Field: "detectorModel", Message: err.Error(), Pos: v.Pos()}
	}
	if m.Name == "" {
		m.Name = labelOf(v)
	}
	return &m, nil
}

// CompileInput decodes a CUE value into an Input. The label names the input
// unless the struct sets inputName.
func CompileInput(v cue.Value) (*ir.Input, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	attrVal := v.LookupPath(cue.ParsePath("attributes"))
	if !attrVal.Exists() {
		return nil, &CompileError{
			Field:   "attributes",
			Message: "attributes is required",
			Pos:     v.Pos(),
		}
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var in ir.Input
	if err := decodeStrict(data, &in); err != nil {
		return nil, &CompileError{Field: "input", Message: err.Error(), Pos: v.Pos()}
	}
	if in.Name == "" {
		in.Name = labelOf(v)
	}
	return &in, nil
}

// DecodeDetectorModel decodes the JSON form of a model. Decoding failures
// are a *DefinitionError with code E201.
func DecodeDetectorModel(data []byte) (*ir.DetectorModel, error) {
	var m ir.DetectorModel
	if err := decodeStrict(data, &m); err != nil {
		return nil, &DefinitionError{Name: m.Name, Errors: []ValidationError{{
			Field:   "detectorModel",
			Message: err.Error(),
			Code:    ErrMalformed,
		}}}
	}
	return &m, nil
}

// DecodeInput decodes the JSON form of an input.
func DecodeInput(data []byte) (*ir.Input, error) {
	var in ir.Input
	if err := decodeStrict(data, &in); err != nil {
		return nil, &DefinitionError{Name: in.Name, Errors: []ValidationError{{
			Field:   "input",
			Message: err.Error(),
			Code:    ErrMalformed,
		}}}
	}
	return &in, nil
}

func decodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func labelOf(v cue.Value) string {
	labels := v.Path().Selectors()
	if len(labels) == 0 {
		return ""
	}
	// The label may be quoted in CUE, extract it
	return strings.Trim(labels[len(labels)-1].String(), `"`)
}
