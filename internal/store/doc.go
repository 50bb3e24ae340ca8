// Package store provides SQLite-backed durable storage for the detector
// interpreter.
//
// The store keeps:
//   - Inputs and detector model versions, mirrored from the registry
//   - Messages: every accepted message with its logical sequence number
//   - Detectors: the latest snapshot of every detector
//   - Cycles: the evaluation history of every detector
//   - Action log: the outcome of every action execution
//   - Records and property values written by table and time-series actions
//
// The store plugs into the rest of the system through the interfaces it
// implements: registry.Observer (ObserveRegistry), engine.MessageObserver,
// engine.CycleObserver, action.Reporter and action.RecordStore.
// Observers cannot return errors; failed writes are logged and evaluation
// continues.
//
// # Ordering
//
// Messages are ordered by seq, the engine's logical clock, never by
// timestamp, so a replay of the message log reproduces arrival order.
// Cycles are ordered by their per-detector cycle number.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// JSON columns hold canonical JSON (ir.MarshalCanonical), so stored
// payloads and snapshots compare byte for byte.
package store
