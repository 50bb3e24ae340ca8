package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// ActionKind names an action variant. It is also the variant's key in the
// JSON form of an action.
type ActionKind string

const (
	KindSetVariable           ActionKind = "setVariable"
	KindPublishSNS            ActionKind = "sns"
	KindPublishMQTT           ActionKind = "iotTopicPublish"
	KindSetTimer              ActionKind = "setTimer"
	KindClearTimer            ActionKind = "clearTimer"
	KindResetTimer            ActionKind = "resetTimer"
	KindInvokeFunction        ActionKind = "lambda"
	KindSendToEventInput      ActionKind = "iotEvents"
	KindSendToQueue           ActionKind = "sqs"
	KindSendToDeliveryStream  ActionKind = "firehose"
	KindWriteDynamoRecord     ActionKind = "dynamoDB"
	KindWriteDynamoRecordV2   ActionKind = "dynamoDBv2"
	KindWriteSiteWiseProperty ActionKind = "iotSiteWise"
)

// Internal reports whether the action mutates the detector itself instead
// of calling a downstream sink.
func (k ActionKind) Internal() bool {
	switch k {
	case KindSetVariable, KindSetTimer, KindClearTimer, KindResetTimer:
		return true
	}
	return false
}

// Action is a sealed sum type: exactly one variant per value.
type Action interface {
	Kind() ActionKind
}

// SetVariable assigns the result of Value (an expression) to a variable.
type SetVariable struct {
	VariableName string `json:"variableName"`
	Value        string `json:"value"`
}

// PublishSNS publishes the payload to a notification topic.
type PublishSNS struct {
	TargetArn string   `json:"targetArn"`
	Payload   *Payload `json:"payload,omitempty"`
}

// PublishMQTT publishes the payload to an MQTT topic. MQTTTopic may contain
// ${expression} substitutions.
type PublishMQTT struct {
	MQTTTopic string   `json:"mqttTopic"`
	Payload   *Payload `json:"payload,omitempty"`
}

// SetTimer creates or replaces a named timer. Exactly one of Seconds and
// DurationExpression is set.
type SetTimer struct {
	TimerName          string `json:"timerName"`
	Seconds            *int   `json:"seconds,omitempty"`
	DurationExpression string `json:"durationExpression,omitempty"`
}

// ClearTimer removes a named timer. Clearing an absent timer is a no-op.
type ClearTimer struct {
	TimerName string `json:"timerName"`
}

// ResetTimer restarts a named timer with its stored duration.
type ResetTimer struct {
	TimerName string `json:"timerName"`
}

// InvokeFunction calls a serverless function with the payload.
type InvokeFunction struct {
	FunctionArn string   `json:"functionArn"`
	Payload     *Payload `json:"payload,omitempty"`
}

// SendToEventInput feeds the payload back as a message to an input.
type SendToEventInput struct {
	InputName string   `json:"inputName"`
	Payload   *Payload `json:"payload,omitempty"`
}

// SendToQueue sends the payload to a message queue.
type SendToQueue struct {
	QueueURL  string   `json:"queueUrl"`
	UseBase64 bool     `json:"useBase64,omitempty"`
	Payload   *Payload `json:"payload,omitempty"`
}

// SendToDeliveryStream appends the payload to a delivery stream.
type SendToDeliveryStream struct {
	DeliveryStreamName string   `json:"deliveryStreamName"`
	Separator          string   `json:"separator,omitempty"`
	Payload            *Payload `json:"payload,omitempty"`
}

// WriteDynamoRecord writes one row keyed by hash and optional range key.
// Key values are expressions.
type WriteDynamoRecord struct {
	TableName     string          `json:"tableName"`
	HashKeyField  string          `json:"hashKeyField"`
	HashKeyValue  string          `json:"hashKeyValue"`
	HashKeyType   DynamoKeyType   `json:"hashKeyType,omitempty"`
	RangeKeyField string          `json:"rangeKeyField,omitempty"`
	RangeKeyValue string          `json:"rangeKeyValue,omitempty"`
	RangeKeyType  DynamoKeyType   `json:"rangeKeyType,omitempty"`
	Operation     DynamoOperation `json:"operation,omitempty"`
	PayloadField  string          `json:"payloadField,omitempty"`
	Payload       *Payload        `json:"payload,omitempty"`
}

// WriteDynamoRecordV2 writes the payload, which must be a JSON object
// carrying its own key attributes.
type WriteDynamoRecordV2 struct {
	TableName string   `json:"tableName"`
	Payload   *Payload `json:"payload,omitempty"`
}

// WriteSiteWiseProperty writes one value to an asset property time series.
// The identifier fields may contain ${expression} substitutions.
type WriteSiteWiseProperty struct {
	EntryID       string        `json:"entryId,omitempty"`
	AssetID       string        `json:"assetId,omitempty"`
	PropertyID    string        `json:"propertyId,omitempty"`
	PropertyAlias string        `json:"propertyAlias,omitempty"`
	PropertyValue PropertyValue `json:"propertyValue"`
}

// PropertyValue is a typed sample. Exactly one member of Value is set;
// every member is an expression.
type PropertyValue struct {
	Value     VariantValue       `json:"value"`
	Timestamp *PropertyTimestamp `json:"timestamp,omitempty"`
	Quality   string             `json:"quality,omitempty"`
}

type VariantValue struct {
	StringValue  string `json:"stringValue,omitempty"`
	IntegerValue string `json:"integerValue,omitempty"`
	DoubleValue  string `json:"doubleValue,omitempty"`
	BooleanValue string `json:"booleanValue,omitempty"`
}

type PropertyTimestamp struct {
	TimeInSeconds string `json:"timeInSeconds"`
	OffsetInNanos string `json:"offsetInNanos,omitempty"`
}

// Payload overrides the default action payload with an expression result.
type Payload struct {
	ContentExpression string      `json:"contentExpression,omitempty"`
	Type              PayloadType `json:"type"`
}

func (SetVariable) Kind() ActionKind           { return KindSetVariable }
func (PublishSNS) Kind() ActionKind            { return KindPublishSNS }
func (PublishMQTT) Kind() ActionKind           { return KindPublishMQTT }
func (SetTimer) Kind() ActionKind              { return KindSetTimer }
func (ClearTimer) Kind() ActionKind            { return KindClearTimer }
func (ResetTimer) Kind() ActionKind            { return KindResetTimer }
func (InvokeFunction) Kind() ActionKind        { return KindInvokeFunction }
func (SendToEventInput) Kind() ActionKind      { return KindSendToEventInput }
func (SendToQueue) Kind() ActionKind           { return KindSendToQueue }
func (SendToDeliveryStream) Kind() ActionKind  { return KindSendToDeliveryStream }
func (WriteDynamoRecord) Kind() ActionKind     { return KindWriteDynamoRecord }
func (WriteDynamoRecordV2) Kind() ActionKind   { return KindWriteDynamoRecordV2 }
func (WriteSiteWiseProperty) Kind() ActionKind { return KindWriteSiteWiseProperty }

// PayloadOf returns the payload override of an external action, or nil.
func PayloadOf(a Action) *Payload {
	switch v := a.(type) {
	case PublishSNS:
		return v.Payload
	case PublishMQTT:
		return v.Payload
	case InvokeFunction:
		return v.Payload
	case SendToEventInput:
		return v.Payload
	case SendToQueue:
		return v.Payload
	case SendToDeliveryStream:
		return v.Payload
	case WriteDynamoRecord:
		return v.Payload
	case WriteDynamoRecordV2:
		return v.Payload
	}
	return nil
}

// actionDecoders maps each JSON variant key to a decoder for its body.
var actionDecoders = map[ActionKind]func([]byte) (Action, error){
	KindSetVariable:           decodeAction[SetVariable],
	KindPublishSNS:            decodeAction[PublishSNS],
	KindPublishMQTT:           decodeAction[PublishMQTT],
	KindSetTimer:              decodeAction[SetTimer],
	KindClearTimer:            decodeAction[ClearTimer],
	KindResetTimer:            decodeAction[ResetTimer],
	KindInvokeFunction:        decodeAction[InvokeFunction],
	KindSendToEventInput:      decodeAction[SendToEventInput],
	KindSendToQueue:           decodeAction[SendToQueue],
	KindSendToDeliveryStream:  decodeAction[SendToDeliveryStream],
	KindWriteDynamoRecord:     decodeAction[WriteDynamoRecord],
	KindWriteDynamoRecordV2:   decodeAction[WriteDynamoRecordV2],
	KindWriteSiteWiseProperty: decodeAction[WriteSiteWiseProperty],
}

// ActionKinds returns every variant key in sorted order.
func ActionKinds() []string {
	kinds := make([]string, 0, len(actionDecoders))
	for k := range actionDecoders {
		kinds = append(kinds, string(k))
	}
	slices.Sort(kinds)
	return kinds
}

func decodeAction[T Action](data []byte) (Action, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// UnmarshalAction decodes the one-key JSON form of an action.
func UnmarshalAction(data []byte) (Action, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("action must be an object: %w", err)
	}
	if len(raw) != 1 {
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		return nil, fmt.Errorf("action must set exactly one of %v, got %d %v", ActionKinds(), len(raw), keys)
	}
	for key, body := range raw {
		decode, ok := actionDecoders[ActionKind(key)]
		if !ok {
			return nil, fmt.Errorf("unknown action %q", key)
		}
		a, err := decode(body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return a, nil
	}
	panic("unreachable")
}

// MarshalAction encodes an action in its one-key JSON form.
func MarshalAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("nil action")
	}
	body, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	key, err := json.Marshal(string(a.Kind()))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.Write(key)
	buf.WriteByte(':')
	buf.Write(body)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Actions is an ordered action list with the one-key JSON codec.
type Actions []Action

func (as *Actions) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Actions, len(raws))
	for i, raw := range raws {
		a, err := UnmarshalAction(raw)
		if err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
		out[i] = a
	}
	*as = out
	return nil
}

func (as Actions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, a := range as {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := MarshalAction(a)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
