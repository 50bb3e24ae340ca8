package action

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/roach88/tripwire/internal/expr"
	"github.com/roach88/tripwire/internal/ir"
)

// Exprs supplies parsed expressions and templates, normally a
// *compiler.Program.
type Exprs interface {
	Expr(src string) (*expr.Expr, error)
	Template(src string) (*expr.Template, error)
}

// Context is what an action can see while it is resolved inside a cycle.
type Context struct {
	ExecutionID  string
	ActionName   string // position in the model, e.g. states[Init].onInput.events[alert].actions[0]
	ModelName    string
	ModelVersion string
	KeyValue     string
	InputName    string
	MessageID    string
	TriggerType  ir.TriggerType
	EventTime    time.Time
	State        ir.Object // DetectorSnapshot.StateObject at resolution time
	Env          expr.Env
	Exprs        Exprs
}

// Resolved is an external action with every expression evaluated. It is
// what sinks receive.
type Resolved struct {
	ExecutionID  string         `json:"actionExecutionId"`
	ActionName   string         `json:"actionName"`
	Kind         ir.ActionKind  `json:"kind"`
	ModelName    string         `json:"detectorModelName"`
	ModelVersion string         `json:"detectorModelVersion"`
	KeyValue     string         `json:"keyValue"`
	Target       string         `json:"target"`
	Payload      []byte         `json:"payload,omitempty"`
	PayloadType  ir.PayloadType `json:"payloadType,omitempty"`
	UseBase64    bool           `json:"useBase64,omitempty"`
	Separator    string         `json:"separator,omitempty"`
	Record       *Record        `json:"record,omitempty"`
	Property     *Property      `json:"property,omitempty"`
}

// Record is a resolved table write.
type Record struct {
	Table         string             `json:"table"`
	HashKeyField  string             `json:"hashKeyField,omitempty"`
	HashKeyValue  string             `json:"hashKeyValue,omitempty"`
	HashKeyType   ir.DynamoKeyType   `json:"hashKeyType,omitempty"`
	RangeKeyField string             `json:"rangeKeyField,omitempty"`
	RangeKeyValue string             `json:"rangeKeyValue,omitempty"`
	RangeKeyType  ir.DynamoKeyType   `json:"rangeKeyType,omitempty"`
	Operation     ir.DynamoOperation `json:"operation"`
	PayloadField  string             `json:"payloadField,omitempty"`
}

// Property is a resolved time-series sample.
type Property struct {
	EntryID       string    `json:"entryId,omitempty"`
	AssetID       string    `json:"assetId,omitempty"`
	PropertyID    string    `json:"propertyId,omitempty"`
	PropertyAlias string    `json:"propertyAlias,omitempty"`
	ValueType     string    `json:"valueType"` // string, integer, double, boolean
	Value         ir.Value  `json:"value"`
	Timestamp     time.Time `json:"timestamp"`
	Quality       string    `json:"quality,omitempty"`
}

// Resolve evaluates every expression-bearing field of an external action.
// Internal actions (variables and timers) are applied by the detector and
// rejected here.
func Resolve(a ir.Action, c Context) (Resolved, error) {
	r := Resolved{
		ExecutionID:  c.ExecutionID,
		ActionName:   c.ActionName,
		Kind:         a.Kind(),
		ModelName:    c.ModelName,
		ModelVersion: c.ModelVersion,
		KeyValue:     c.KeyValue,
	}
	if a.Kind().Internal() {
		return r, fail(r.Kind, r.ActionName, fmt.Errorf("%s is applied by the detector, not dispatched", r.Kind))
	}

	if err := resolveFields(&r, a, c); err != nil {
		return r, fail(r.Kind, r.ActionName, err)
	}
	if a.Kind() != ir.KindWriteSiteWiseProperty {
		payload, typ, err := buildPayload(ir.PayloadOf(a), c)
		if err != nil {
			return r, fail(r.Kind, r.ActionName, fmt.Errorf("payload: %w", err))
		}
		r.Payload = payload
		r.PayloadType = typ
	}
	return r, nil
}

func resolveFields(r *Resolved, a ir.Action, c Context) error {
	switch act := a.(type) {
	case ir.PublishSNS:
		r.Target = act.TargetArn
	case ir.PublishMQTT:
		topic, err := render(c, act.MQTTTopic)
		if err != nil {
			return fmt.Errorf("mqttTopic: %w", err)
		}
		r.Target = topic
	case ir.InvokeFunction:
		r.Target = act.FunctionArn
	case ir.SendToEventInput:
		r.Target = act.InputName
	case ir.SendToQueue:
		r.Target = act.QueueURL
		r.UseBase64 = act.UseBase64
	case ir.SendToDeliveryStream:
		r.Target = act.DeliveryStreamName
		r.Separator = act.Separator
	case ir.WriteDynamoRecord:
		return resolveRecord(r, act, c)
	case ir.WriteDynamoRecordV2:
		r.Target = act.TableName
		r.Record = &Record{Table: act.TableName, Operation: ir.OperationInsert}
	case ir.WriteSiteWiseProperty:
		return resolveProperty(r, act, c)
	default:
		return fmt.Errorf("unsupported action %T", a)
	}
	return nil
}

func resolveRecord(r *Resolved, act ir.WriteDynamoRecord, c Context) error {
	rec := &Record{
		Table:         act.TableName,
		HashKeyField:  act.HashKeyField,
		HashKeyType:   defaultKeyType(act.HashKeyType),
		RangeKeyField: act.RangeKeyField,
		RangeKeyType:  defaultKeyType(act.RangeKeyType),
		Operation:     act.Operation,
		PayloadField:  act.PayloadField,
	}
	if rec.Operation == "" {
		rec.Operation = ir.OperationInsert
	}
	if rec.PayloadField == "" {
		rec.PayloadField = "payload"
	}

	var err error
	if rec.HashKeyValue, err = evalString(c, act.HashKeyValue); err != nil {
		return fmt.Errorf("hashKeyValue: %w", err)
	}
	if act.RangeKeyField != "" {
		if rec.RangeKeyValue, err = evalString(c, act.RangeKeyValue); err != nil {
			return fmt.Errorf("rangeKeyValue: %w", err)
		}
	} else {
		rec.RangeKeyType = ""
	}
	r.Target = act.TableName
	r.Record = rec
	return nil
}

func defaultKeyType(t ir.DynamoKeyType) ir.DynamoKeyType {
	if t == "" {
		return ir.KeyTypeString
	}
	return t
}

func resolveProperty(r *Resolved, act ir.WriteSiteWiseProperty, c Context) error {
	p := &Property{Quality: act.PropertyValue.Quality}
	if p.Quality == "" {
		p.Quality = "GOOD"
	}

	var err error
	for _, f := range []struct {
		name string
		src  string
		dst  *string
	}{
		{"entryId", act.EntryID, &p.EntryID},
		{"assetId", act.AssetID, &p.AssetID},
		{"propertyId", act.PropertyID, &p.PropertyID},
		{"propertyAlias", act.PropertyAlias, &p.PropertyAlias},
	} {
		if *f.dst, err = render(c, f.src); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}

	if p.ValueType, p.Value, err = propertyValue(c, act.PropertyValue.Value); err != nil {
		return err
	}

	p.Timestamp = c.EventTime
	if ts := act.PropertyValue.Timestamp; ts != nil {
		secs, err := evalNumber(c, ts.TimeInSeconds)
		if err != nil {
			return fmt.Errorf("timeInSeconds: %w", err)
		}
		var nanos float64
		if ts.OffsetInNanos != "" {
			if nanos, err = evalNumber(c, ts.OffsetInNanos); err != nil {
				return fmt.Errorf("offsetInNanos: %w", err)
			}
		}
		p.Timestamp = time.Unix(int64(secs), int64(nanos)).UTC()
	}

	r.Target = p.PropertyAlias
	if r.Target == "" {
		r.Target = p.AssetID + "/" + p.PropertyID
	}
	r.Property = p
	return nil
}

func propertyValue(c Context, v ir.VariantValue) (string, ir.Value, error) {
	switch {
	case v.StringValue != "":
		s, err := evalString(c, v.StringValue)
		return "string", ir.String(s), wrapField("stringValue", err)
	case v.IntegerValue != "":
		n, err := evalNumber(c, v.IntegerValue)
		if err == nil && n != math.Trunc(n) {
			err = fmt.Errorf("%s is not an integer", strconv.FormatFloat(n, 'g', -1, 64))
		}
		return "integer", ir.Number(n), wrapField("integerValue", err)
	case v.DoubleValue != "":
		n, err := evalNumber(c, v.DoubleValue)
		return "double", ir.Number(n), wrapField("doubleValue", err)
	case v.BooleanValue != "":
		b, err := evalBool(c, v.BooleanValue)
		return "boolean", ir.Bool(b), wrapField("booleanValue", err)
	}
	return "", nil, fmt.Errorf("propertyValue: no value member set")
}

func wrapField(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func eval(c Context, src string) (ir.Value, error) {
	e, err := c.Exprs.Expr(src)
	if err != nil {
		return nil, err
	}
	return e.Eval(c.Env)
}

func evalString(c Context, src string) (string, error) {
	v, err := eval(c, src)
	if err != nil {
		return "", err
	}
	return expr.Stringify(v), nil
}

func evalNumber(c Context, src string) (float64, error) {
	v, err := eval(c, src)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case ir.Number:
		return float64(n), nil
	case ir.String:
		f, perr := strconv.ParseFloat(string(n), 64)
		if perr == nil {
			return f, nil
		}
	}
	return 0, &expr.Error{Kind: expr.KindTypeMismatch, Source: src, Message: "produced " + ir.TypeName(v) + ", want number"}
}

func evalBool(c Context, src string) (bool, error) {
	v, err := eval(c, src)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case ir.Bool:
		return bool(b), nil
	case ir.String:
		if p, perr := strconv.ParseBool(string(b)); perr == nil {
			return p, nil
		}
	}
	return false, &expr.Error{Kind: expr.KindTypeMismatch, Source: src, Message: "produced " + ir.TypeName(v) + ", want boolean"}
}

func render(c Context, src string) (string, error) {
	if src == "" {
		return "", nil
	}
	t, err := c.Exprs.Template(src)
	if err != nil {
		return "", err
	}
	return t.Render(c.Env)
}
