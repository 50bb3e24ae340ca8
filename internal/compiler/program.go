package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tripwire/internal/expr"
	"github.com/roach88/tripwire/internal/ir"
)

// Program is a validated detector model with every expression parsed.
// It is immutable after Compile and safe for concurrent use.
type Program struct {
	Model    ir.DetectorModel
	Hash     string
	Key      ir.Path  // nil when the model runs a single detector
	Inputs   []string // inputs the model reads, sorted
	Warnings []Warning

	exprs     map[string]*expr.Expr
	templates map[string]*expr.Template
}

// Compile validates m and parses its expressions. Declared inputs, when
// given, enable reference warnings; they never cause rejection.
//
// Validation failures are returned as a *DefinitionError.
func Compile(m ir.DetectorModel, inputs []ir.Input) (*Program, error) {
	if m.EvaluationMethod == "" {
		m.EvaluationMethod = ir.EvaluationSerial
	}

	v := newValidator()
	v.model(&m)
	if len(v.errs) > 0 {
		return nil, &DefinitionError{Name: m.Name, Errors: v.errs}
	}

	hash, err := ir.ModelVersionHash(m)
	if err != nil {
		return nil, fmt.Errorf("hash model %q: %w", m.Name, err)
	}

	p := &Program{
		Model:     m,
		Hash:      hash,
		exprs:     v.exprs,
		templates: v.templates,
	}
	if m.Key != "" {
		p.Key, _ = ir.ParsePath(m.Key) // validated above
	}

	p.Inputs = p.referencedInputs()
	p.Warnings = append(AnalyzeStates(m.Definition), p.referenceWarnings(inputs)...)
	return p, nil
}

// Expr returns the parsed expression for src. Expressions that were not
// part of the model are parsed on each call and not cached.
func (p *Program) Expr(src string) (*expr.Expr, error) {
	if e, ok := p.exprs[src]; ok {
		return e, nil
	}
	return expr.Parse(src)
}

// Template returns the parsed template for src.
func (p *Program) Template(src string) (*expr.Template, error) {
	if t, ok := p.templates[src]; ok {
		return t, nil
	}
	return expr.ParseTemplate(src)
}

// EvaluationMethod returns the model's evaluation method.
func (p *Program) EvaluationMethod() ir.EvaluationMethod {
	return p.Model.EvaluationMethod
}

// Reads reports whether the model references the named input.
func (p *Program) Reads(input string) bool {
	_, found := slices.BinarySearch(p.Inputs, input)
	return found
}

func (p *Program) allExprs() []*expr.Expr {
	out := make([]*expr.Expr, 0, len(p.exprs))
	for _, e := range p.exprs {
		out = append(out, e)
	}
	for _, t := range p.templates {
		out = append(out, t.Exprs()...)
	}
	return out
}

func (p *Program) referencedInputs() []string {
	var names []string
	for _, e := range p.allExprs() {
		names = append(names, e.InputNames()...)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// referenceWarnings flags reads of undeclared inputs or attributes, timers
// that are tested but never set, and variables read but never assigned.
func (p *Program) referenceWarnings(inputs []ir.Input) []Warning {
	var warnings []Warning

	declared := make(map[string]map[string]bool, len(inputs))
	for _, in := range inputs {
		attrs := make(map[string]bool, len(in.Attributes))
		for _, a := range in.Attributes {
			attrs[a] = true
		}
		declared[in.Name] = attrs
	}

	setVars, setTimers := p.assignments()
	readVars := map[string]bool{}
	testedTimers := map[string]bool{}
	for _, e := range p.allExprs() {
		for _, ref := range e.References() {
			if ref.Namespace == expr.NamespaceVariable {
				readVars[ref.Name] = true
				continue
			}
			if len(inputs) == 0 {
				continue
			}
			attrs, ok := declared[ref.Name]
			if !ok {
				continue // reported once per input below
			}
			if !attrs[attributeOf(ref.Path)] {
				warnings = append(warnings, Warning{
					Field:   ref.String(),
					Message: fmt.Sprintf("attribute %q is not declared on input %q", attributeOf(ref.Path), ref.Name),
					Code:    WarnUnknownAttribute,
				})
			}
		}
		for _, t := range e.TimerNames() {
			testedTimers[t] = true
		}
	}

	if len(inputs) > 0 {
		for _, name := range p.Inputs {
			if _, ok := declared[name]; !ok {
				warnings = append(warnings, Warning{
					Field:   "$input." + name,
					Message: fmt.Sprintf("input %q is not declared", name),
					Code:    WarnUndeclaredInput,
				})
			}
		}
	}
	for _, t := range sortedKeys(testedTimers) {
		if !setTimers[t] {
			warnings = append(warnings, Warning{
				Field:   fmt.Sprintf("timeout(%q)", t),
				Message: fmt.Sprintf("timer %q is never set", t),
				Code:    WarnTimerNeverSet,
			})
		}
	}
	for _, name := range sortedKeys(readVars) {
		if !setVars[name] {
			warnings = append(warnings, Warning{
				Field:   "$variable." + name,
				Message: fmt.Sprintf("variable %q is never set", name),
				Code:    WarnVariableNeverSet,
			})
		}
	}

	slices.SortFunc(warnings, func(a, b Warning) int {
		if c := strings.Compare(a.Code, b.Code); c != 0 {
			return c
		}
		return strings.Compare(a.Field, b.Field)
	})
	return slices.Compact(warnings)
}

// attributeOf returns the declared-attribute form of a reference path:
// the full dotted path up to the first index.
func attributeOf(p ir.Path) string {
	for i, seg := range p {
		if seg.IsIdx {
			return p[:i].String()
		}
	}
	return p.String()
}

func (p *Program) assignments() (vars, timers map[string]bool) {
	vars = map[string]bool{}
	timers = map[string]bool{}
	visit := func(events []ir.Event) {
		for _, e := range events {
			for _, a := range e.Actions {
				switch act := a.(type) {
				case ir.SetVariable:
					vars[act.VariableName] = true
				case ir.SetTimer:
					timers[act.TimerName] = true
				}
			}
		}
	}
	for _, s := range p.Model.Definition.States {
		visit(s.OnEnter.Events)
		visit(s.OnInput.Events)
		visit(s.OnExit.Events)
		for _, te := range s.OnInput.TransitionEvents {
			visit([]ir.Event{te.AsEvent()})
		}
	}
	return vars, timers
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// CompileInputDef validates an input definition.
// Validation failures are returned as a *DefinitionError.
func CompileInputDef(in ir.Input) (*ir.Input, error) {
	if errs := ValidateInput(&in); len(errs) > 0 {
		return nil, &DefinitionError{Name: in.Name, Errors: errs}
	}
	return &in, nil
}
