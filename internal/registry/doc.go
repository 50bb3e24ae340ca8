// Package registry stores inputs and versioned detector models.
//
// Every create and update compiles the definition first; a rejected
// definition is never stored. A model's latest version carries its status,
// and only an ACTIVE latest version accepts input. Updating a model makes
// the previous version INACTIVE; detectors of that version are replaced
// lazily by the engine when their key next sees a message.
//
// Status changes follow a fixed table (see CanTransition):
//
//	(new) -> ACTIVATING -> ACTIVE -> INACTIVE -> DELETING
//	                           \-> PAUSED -/
//
// Observers registered with OnChange learn about activations and deletes
// and are how the engine discards detectors of a deleted model.
package registry
