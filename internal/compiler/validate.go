package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/tripwire/internal/expr"
	"github.com/roach88/tripwire/internal/ir"
)

// Timer duration bounds in seconds.
const (
	MinTimerSeconds = 60
	MaxTimerSeconds = 31_622_400
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)
var inputNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,127}$`)

// validator walks a model once, collecting errors and parsed expressions.
// It returns all errors found (does not fail-fast).
type validator struct {
	errs      []ValidationError
	exprs     map[string]*expr.Expr
	templates map[string]*expr.Template
}

func newValidator() *validator {
	return &validator{
		exprs:     make(map[string]*expr.Expr),
		templates: make(map[string]*expr.Template),
	}
}

func (v *validator) fail(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

// expression parses src and caches it. Empty src is reported when required.
func (v *validator) expression(field, src string, required bool) {
	if strings.TrimSpace(src) == "" {
		if required {
			v.fail(field, ErrMissingField, "expression is required")
		}
		return
	}
	if _, ok := v.exprs[src]; ok {
		return
	}
	e, err := expr.Parse(src)
	if err != nil {
		v.fail(field, ErrExpressionSyntax, "%v", err)
		return
	}
	v.exprs[src] = e
}

func (v *validator) template(field, src string, required bool) {
	if src == "" {
		if required {
			v.fail(field, ErrMissingField, "value is required")
		}
		return
	}
	if _, ok := v.templates[src]; ok {
		return
	}
	t, err := expr.ParseTemplate(src)
	if err != nil {
		v.fail(field, ErrTemplateSyntax, "%v", err)
		return
	}
	v.templates[src] = t
}

func (v *validator) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.fail(field, ErrMissingField, "value is required")
	}
}

// ValidateModel validates a detector model. Returns all errors found.
func ValidateModel(m *ir.DetectorModel) []ValidationError {
	v := newValidator()
	v.model(m)
	return v.errs
}

func (v *validator) model(m *ir.DetectorModel) {
	if !namePattern.MatchString(m.Name) {
		v.fail("detectorModelName", ErrModelName, "name %q must match %s", m.Name, namePattern)
	}
	if m.Key != "" {
		if _, err := ir.ParsePath(m.Key); err != nil {
			v.fail("key", ErrKeyPath, "%v", err)
		}
	}

	def := m.Definition
	if len(def.States) == 0 {
		v.fail("detectorModelDefinition.states", ErrNoStates, "at least one state is required")
	}

	declared := make(map[string]bool, len(def.States))
	for i, s := range def.States {
		field := fmt.Sprintf("states[%d].stateName", i)
		if !namePattern.MatchString(s.Name) {
			v.fail(field, ErrStateName, "state name %q must match %s", s.Name, namePattern)
		}
		if declared[s.Name] {
			v.fail(field, ErrDuplicateState, "duplicate state name: %q", s.Name)
		}
		declared[s.Name] = true
	}

	switch {
	case def.InitialStateName == "":
		v.fail("detectorModelDefinition.initialStateName", ErrInitialState, "initialStateName is required")
	case !declared[def.InitialStateName]:
		v.fail("detectorModelDefinition.initialStateName", ErrInitialState,
			"initial state %q is not declared", def.InitialStateName)
	}

	for _, s := range def.States {
		base := fmt.Sprintf("states[%s]", s.Name)
		v.events(base+".onEnter.events", s.OnEnter.Events)
		v.events(base+".onInput.events", s.OnInput.Events)
		v.events(base+".onExit.events", s.OnExit.Events)
		for i, te := range s.OnInput.TransitionEvents {
			field := fmt.Sprintf("%s.onInput.transitionEvents[%d]", base, i)
			v.event(field, te.AsEvent())
			if !declared[te.NextState] {
				v.fail(field+".nextState", ErrUnknownNextState, "next state %q is not declared", te.NextState)
			}
		}
	}
}

func (v *validator) events(field string, events []ir.Event) {
	for i, e := range events {
		v.event(fmt.Sprintf("%s[%d]", field, i), e)
	}
}

func (v *validator) event(field string, e ir.Event) {
	v.required(field+".eventName", e.Name)
	v.expression(field+".condition", e.Condition, false)
	for i, a := range e.Actions {
		v.action(fmt.Sprintf("%s.actions[%d]", field, i), a)
	}
}

func (v *validator) action(field string, a ir.Action) {
	if a == nil {
		v.fail(field, ErrMalformed, "action is empty")
		return
	}
	field = field + "." + string(a.Kind())
	switch act := a.(type) {
	case ir.SetVariable:
		v.required(field+".variableName", act.VariableName)
		v.expression(field+".value", act.Value, true)
	case ir.SetTimer:
		v.required(field+".timerName", act.TimerName)
		switch {
		case act.Seconds != nil && act.DurationExpression != "":
			v.fail(field, ErrTimerSpec, "set either seconds or durationExpression, not both")
		case act.Seconds == nil && act.DurationExpression == "":
			v.fail(field, ErrTimerSpec, "seconds or durationExpression is required")
		case act.Seconds != nil:
			if *act.Seconds < MinTimerSeconds || *act.Seconds > MaxTimerSeconds {
				v.fail(field+".seconds", ErrTimerDuration, "duration %d s is outside [%d, %d]",
					*act.Seconds, MinTimerSeconds, MaxTimerSeconds)
			}
		default:
			v.expression(field+".durationExpression", act.DurationExpression, true)
		}
	case ir.ClearTimer:
		v.required(field+".timerName", act.TimerName)
	case ir.ResetTimer:
		v.required(field+".timerName", act.TimerName)
	case ir.PublishSNS:
		v.required(field+".targetArn", act.TargetArn)
	case ir.PublishMQTT:
		v.template(field+".mqttTopic", act.MQTTTopic, true)
	case ir.InvokeFunction:
		v.required(field+".functionArn", act.FunctionArn)
	case ir.SendToEventInput:
		if !inputNamePattern.MatchString(act.InputName) {
			v.fail(field+".inputName", ErrInputName, "input name %q must match %s", act.InputName, inputNamePattern)
		}
	case ir.SendToQueue:
		v.required(field+".queueUrl", act.QueueURL)
	case ir.SendToDeliveryStream:
		v.required(field+".deliveryStreamName", act.DeliveryStreamName)
	case ir.WriteDynamoRecord:
		v.required(field+".tableName", act.TableName)
		v.required(field+".hashKeyField", act.HashKeyField)
		v.expression(field+".hashKeyValue", act.HashKeyValue, true)
		if act.RangeKeyField != "" {
			v.expression(field+".rangeKeyValue", act.RangeKeyValue, true)
		}
	case ir.WriteDynamoRecordV2:
		v.required(field+".tableName", act.TableName)
	case ir.WriteSiteWiseProperty:
		v.sitewise(field, act)
	}
	if p := ir.PayloadOf(a); p != nil {
		if p.Type == "" {
			v.fail(field+".payload.type", ErrMissingField, "payload type is required")
		}
		v.expression(field+".payload.contentExpression", p.ContentExpression, false)
	}
}

func (v *validator) sitewise(field string, act ir.WriteSiteWiseProperty) {
	if act.PropertyAlias == "" && (act.AssetID == "" || act.PropertyID == "") {
		v.fail(field, ErrMissingField, "propertyAlias or both assetId and propertyId are required")
	}
	v.template(field+".entryId", act.EntryID, false)
	v.template(field+".assetId", act.AssetID, false)
	v.template(field+".propertyId", act.PropertyID, false)
	v.template(field+".propertyAlias", act.PropertyAlias, false)

	val := act.PropertyValue.Value
	set := 0
	for _, m := range []struct{ name, src string }{
		{"stringValue", val.StringValue},
		{"integerValue", val.IntegerValue},
		{"doubleValue", val.DoubleValue},
		{"booleanValue", val.BooleanValue},
	} {
		if m.src != "" {
			set++
			v.expression(field+".propertyValue.value."+m.name, m.src, true)
		}
	}
	if set != 1 {
		v.fail(field+".propertyValue.value", ErrPropertyValue, "exactly one value member must be set, got %d", set)
	}
	if ts := act.PropertyValue.Timestamp; ts != nil {
		v.expression(field+".propertyValue.timestamp.timeInSeconds", ts.TimeInSeconds, true)
		v.expression(field+".propertyValue.timestamp.offsetInNanos", ts.OffsetInNanos, false)
	}
}

// ValidateInput validates an input definition. Returns all errors found.
func ValidateInput(in *ir.Input) []ValidationError {
	var errs []ValidationError
	if !inputNamePattern.MatchString(in.Name) {
		errs = append(errs, ValidationError{
			Field:   "inputName",
			Message: fmt.Sprintf("input name %q must match %s", in.Name, inputNamePattern),
			Code:    ErrInputName,
		})
	}
	if len(in.Attributes) == 0 {
		errs = append(errs, ValidationError{
			Field:   "attributes",
			Message: "at least one attribute is required",
			Code:    ErrInputAttributes,
		})
	}
	seen := make(map[string]bool, len(in.Attributes))
	for i, attr := range in.Attributes {
		field := fmt.Sprintf("attributes[%d]", i)
		if _, err := ir.ParsePath(attr); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error(), Code: ErrInputAttributes})
		}
		if seen[attr] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate attribute: %q", attr),
				Code:    ErrDuplicateAttribute,
			})
		}
		seen[attr] = true
	}
	return errs
}
