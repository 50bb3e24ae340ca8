package action

import (
	"encoding/json"

	"github.com/roach88/tripwire/internal/expr"
	"github.com/roach88/tripwire/internal/ir"
)

// DefaultPayload is the attribute-value map sent when an action has no
// content expression: the triggering event plus the detector's context.
// Message triggers carry the message's attributes under
// eventTriggerDetails.input.
func DefaultPayload(c Context) ir.Object {
	trigger := ir.Object{"triggerType": ir.String(c.TriggerType)}
	switch c.TriggerType {
	case ir.TriggerTimer:
		trigger["timerName"] = ir.String(c.Env.TimerName)
	default:
		input := c.Env.Payload
		if input == nil {
			input = ir.Object{}
		}
		trigger["inputName"] = ir.String(c.InputName)
		trigger["messageId"] = ir.String(c.MessageID)
		trigger["input"] = input
	}

	state := c.State
	if state == nil {
		state = ir.Object{}
	}

	return ir.Object{
		"eventTime": ir.Number(c.EventTime.UnixMilli()),
		"payload": ir.Object{
			"actionExecutionId": ir.String(c.ExecutionID),
			"detector": ir.Object{
				"detectorModelName":    ir.String(c.ModelName),
				"keyValue":             ir.String(c.KeyValue),
				"detectorModelVersion": ir.String(c.ModelVersion),
			},
			"eventTriggerDetails": trigger,
			"state":               state,
		},
	}
}

// buildPayload renders the payload of an external action. Without a
// content expression it is the canonical JSON of DefaultPayload.
func buildPayload(p *ir.Payload, c Context) ([]byte, ir.PayloadType, error) {
	if p == nil || p.ContentExpression == "" {
		typ := ir.PayloadJSON
		if p != nil {
			typ = p.Type
		}
		b, err := ir.MarshalCanonical(DefaultPayload(c))
		return b, typ, err
	}

	e, err := c.Exprs.Expr(p.ContentExpression)
	if err != nil {
		return nil, p.Type, err
	}
	v, err := e.Eval(c.Env)
	if err != nil {
		return nil, p.Type, err
	}

	if p.Type != ir.PayloadJSON {
		return []byte(expr.Stringify(v)), p.Type, nil
	}
	s, ok := v.(ir.String)
	if !ok {
		return nil, p.Type, &expr.Error{
			Kind:    expr.KindTypeMismatch,
			Source:  p.ContentExpression,
			Message: "JSON payload expression produced " + ir.TypeName(v) + ", want string",
		}
	}
	if !json.Valid([]byte(s)) {
		return nil, p.Type, &expr.Error{
			Kind:    expr.KindTypeMismatch,
			Source:  p.ContentExpression,
			Message: "JSON payload expression did not produce valid JSON",
		}
	}
	return []byte(s), p.Type, nil
}
