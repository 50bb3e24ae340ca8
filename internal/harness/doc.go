// Package harness runs detector-model scenarios as executable tests.
//
// A scenario loads inputs and detector models from CUE, drives them with
// messages, clock advances and operator updates, and asserts on the trace
// of fired events, transitions and external actions and on the final
// detector state.
//
// # Scenario Format
//
//	name: overheat_alarm
//	description: "A hot reading raises an alarm that times out"
//	specs:
//	  - temperature.cue
//	steps:
//	  - put:
//	      - input: Sensor
//	        payload: { sensorId: s1, temp: 120 }
//	  - advance: 90s
//	  - update:
//	      model: temperature
//	      key: s1
//	      state: Normal
//	  - put:
//	      - input: Sensor
//	        payload: { temp: 50 }
//	    expect:
//	      errors: [KEY_NOT_FOUND]
//	assertions:
//	  - type: trace_order
//	    model: temperature
//	    events: [tooHot, arm]
//	  - type: final_state
//	    model: temperature
//	    key: s1
//	    state: Normal
//
// # Assertion Types
//
//   - trace_contains: an event fired at least once
//   - trace_order: events first fired in the given order
//   - trace_count: an event fired exactly N times
//   - final_state: a detector's state name and a subset of its variables
//   - action_count: exactly N external actions of a kind (and target)
//   - action_contains: an external action whose JSON payload contains a subset
//
// # Deterministic Testing
//
// Every run uses a fake wall clock starting at the scenario's start time,
// sequential message IDs and in-memory sinks, and sorts concurrent work by
// model and key. Equal scenarios therefore produce byte-identical
// canonical traces, which golden files pin down.
package harness
