package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainModelVersion    = "tripwire/model/v1"
	DomainActionExecution = "tripwire/action/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ModelVersionHash content-addresses a detector model. Two models with the
// same definition hash equal regardless of field order in their sources.
func ModelVersionHash(m DetectorModel) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("ModelVersionHash: marshal: %w", err)
	}
	v, err := UnmarshalValue(raw)
	if err != nil {
		return "", fmt.Errorf("ModelVersionHash: decode: %w", err)
	}
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("ModelVersionHash: canonical: %w", err)
	}
	return hashWithDomain(DomainModelVersion, canonical), nil
}

// ExecutionRef locates one action execution: the cycle that triggered it
// and the action's position in that cycle.
type ExecutionRef struct {
	ModelName    string
	ModelVersion string
	KeyValue     string
	TriggerID    string // message ID or timer firing ID
	Cycle        int64
	ActionPath   string // e.g. states[Init].onInput.events[Alert].actions[0]
}

// ActionExecutionID computes a stable ID for an action execution. Replaying
// the same messages yields the same IDs.
func ActionExecutionID(ref ExecutionRef) (string, error) {
	obj := Object{
		"model":   String(ref.ModelName),
		"version": String(ref.ModelVersion),
		"key":     String(ref.KeyValue),
		"trigger": String(ref.TriggerID),
		"cycle":   Number(ref.Cycle),
		"action":  String(ref.ActionPath),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ActionExecutionID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainActionExecution, canonical), nil
}

// MustActionExecutionID is like ActionExecutionID but panics on error.
// The ref holds only strings and an integer, so it cannot fail in practice.
func MustActionExecutionID(ref ExecutionRef) string {
	id, err := ActionExecutionID(ref)
	if err != nil {
		panic(err)
	}
	return id
}
