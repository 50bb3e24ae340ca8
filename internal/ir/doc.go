// Package ir provides the canonical types of tripwire: detector models,
// inputs, messages, detector snapshots and the Value model shared by
// payloads, variables and expressions.
//
// This package contains type definitions and codecs only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Action is a sealed sum type; its JSON form is a one-key object
//   - Enumerations are closed and rejected on unknown values when decoded
//   - Content hashes use MarshalCanonical, never encoding/json directly
package ir
