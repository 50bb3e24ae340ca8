package ir

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEnum is returned when a string does not name a member of a
// closed enumeration.
var ErrUnknownEnum = errors.New("unknown enum value")

func unknownEnum(kind, s string, allowed []string) error {
	return fmt.Errorf("%w: %s %q (allowed: %v)", ErrUnknownEnum, kind, s, allowed)
}

// EvaluationMethod selects how a batch of messages is applied to a detector.
type EvaluationMethod string

const (
	EvaluationBatch  EvaluationMethod = "BATCH"
	EvaluationSerial EvaluationMethod = "SERIAL"
)

var evaluationMethods = []string{string(EvaluationBatch), string(EvaluationSerial)}

// ParseEvaluationMethod parses a method name. The empty string means SERIAL.
func ParseEvaluationMethod(s string) (EvaluationMethod, error) {
	switch EvaluationMethod(s) {
	case "":
		return EvaluationSerial, nil
	case EvaluationBatch, EvaluationSerial:
		return EvaluationMethod(s), nil
	}
	return "", unknownEnum("evaluation method", s, evaluationMethods)
}

func (m *EvaluationMethod) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, m, ParseEvaluationMethod)
}

// ModelStatus is the lifecycle status of a detector model version.
type ModelStatus string

const (
	StatusActive     ModelStatus = "ACTIVE"
	StatusActivating ModelStatus = "ACTIVATING"
	StatusInactive   ModelStatus = "INACTIVE"
	StatusDeleting   ModelStatus = "DELETING"
	StatusDraft      ModelStatus = "DRAFT"
	StatusPaused     ModelStatus = "PAUSED"
	StatusFailed     ModelStatus = "FAILED"
)

var modelStatuses = []string{
	string(StatusActive), string(StatusActivating), string(StatusInactive),
	string(StatusDeleting), string(StatusDraft), string(StatusPaused), string(StatusFailed),
}

func ParseModelStatus(s string) (ModelStatus, error) {
	for _, v := range modelStatuses {
		if v == s {
			return ModelStatus(s), nil
		}
	}
	return "", unknownEnum("model status", s, modelStatuses)
}

func (s *ModelStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, s, ParseModelStatus)
}

// InputStatus is the lifecycle status of an input definition.
type InputStatus string

const (
	InputCreating InputStatus = "CREATING"
	InputUpdating InputStatus = "UPDATING"
	InputActive   InputStatus = "ACTIVE"
	InputDeleting InputStatus = "DELETING"
)

var inputStatuses = []string{
	string(InputCreating), string(InputUpdating), string(InputActive), string(InputDeleting),
}

func ParseInputStatus(s string) (InputStatus, error) {
	for _, v := range inputStatuses {
		if v == s {
			return InputStatus(s), nil
		}
	}
	return "", unknownEnum("input status", s, inputStatuses)
}

func (s *InputStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, s, ParseInputStatus)
}

// LoggingLevel gates the detector debug stream.
// Levels are ordered: ERROR < INFO < DEBUG.
type LoggingLevel string

const (
	LevelError LoggingLevel = "ERROR"
	LevelInfo  LoggingLevel = "INFO"
	LevelDebug LoggingLevel = "DEBUG"
)

var loggingLevels = []string{string(LevelError), string(LevelInfo), string(LevelDebug)}

func ParseLoggingLevel(s string) (LoggingLevel, error) {
	switch LoggingLevel(s) {
	case LevelError, LevelInfo, LevelDebug:
		return LoggingLevel(s), nil
	}
	return "", unknownEnum("logging level", s, loggingLevels)
}

// Rank orders levels for gating; higher is more verbose.
func (l LoggingLevel) Rank() int {
	switch l {
	case LevelError:
		return 0
	case LevelInfo:
		return 1
	case LevelDebug:
		return 2
	default:
		return -1
	}
}

// Allows reports whether an entry at level e passes a gate configured at l.
func (l LoggingLevel) Allows(e LoggingLevel) bool {
	return e.Rank() >= 0 && e.Rank() <= l.Rank()
}

func (l *LoggingLevel) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, l, ParseLoggingLevel)
}

// PayloadType selects how a content expression result is delivered.
type PayloadType string

const (
	PayloadString PayloadType = "STRING"
	PayloadJSON   PayloadType = "JSON"
)

var payloadTypes = []string{string(PayloadString), string(PayloadJSON)}

func ParsePayloadType(s string) (PayloadType, error) {
	switch PayloadType(s) {
	case PayloadString, PayloadJSON:
		return PayloadType(s), nil
	}
	return "", unknownEnum("payload type", s, payloadTypes)
}

func (p *PayloadType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, p, ParsePayloadType)
}

// DynamoOperation is the write operation of a WriteDynamoRecord action.
type DynamoOperation string

const (
	OperationInsert DynamoOperation = "INSERT"
	OperationUpdate DynamoOperation = "UPDATE"
	OperationDelete DynamoOperation = "DELETE"
)

var dynamoOperations = []string{string(OperationInsert), string(OperationUpdate), string(OperationDelete)}

// ParseDynamoOperation parses an operation. The empty string means INSERT.
func ParseDynamoOperation(s string) (DynamoOperation, error) {
	switch DynamoOperation(s) {
	case "":
		return OperationInsert, nil
	case OperationInsert, OperationUpdate, OperationDelete:
		return DynamoOperation(s), nil
	}
	return "", unknownEnum("dynamo operation", s, dynamoOperations)
}

func (o *DynamoOperation) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, o, ParseDynamoOperation)
}

// DynamoKeyType is the attribute type of a hash or range key.
type DynamoKeyType string

const (
	KeyTypeString DynamoKeyType = "STRING"
	KeyTypeNumber DynamoKeyType = "NUMBER"
)

var dynamoKeyTypes = []string{string(KeyTypeString), string(KeyTypeNumber)}

// ParseDynamoKeyType parses a key type. The empty string means STRING.
func ParseDynamoKeyType(s string) (DynamoKeyType, error) {
	switch DynamoKeyType(s) {
	case "":
		return KeyTypeString, nil
	case KeyTypeString, KeyTypeNumber:
		return DynamoKeyType(s), nil
	}
	return "", unknownEnum("dynamo key type", s, dynamoKeyTypes)
}

func (k *DynamoKeyType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, k, ParseDynamoKeyType)
}

// TriggerType identifies what started an evaluation cycle.
type TriggerType string

const (
	TriggerMessage TriggerType = "Message"
	TriggerTimer   TriggerType = "Timer"
)

func ParseTriggerType(s string) (TriggerType, error) {
	switch TriggerType(s) {
	case TriggerMessage, TriggerTimer:
		return TriggerType(s), nil
	}
	return "", unknownEnum("trigger type", s, []string{string(TriggerMessage), string(TriggerTimer)})
}

func (t *TriggerType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, t, ParseTriggerType)
}

func unmarshalEnum[T ~string](data []byte, dst *T, parse func(string) (T, error)) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := parse(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
