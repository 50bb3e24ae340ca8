// Package engine runs detector models.
//
// ARCHITECTURE:
//
// Per-Detector Mailboxes:
// Each detector (one model version and one key value) owns a FIFO mailbox.
// At most one goroutine drains a mailbox, so a detector's state, variables
// and timers have a single writer and messages apply in arrival order.
// Different detectors evaluate concurrently; there is no global lock beyond
// the short critical section that looks up or creates a detector.
//
// Message Flow:
//  1. BatchPutMessage routes each message to the ACTIVE models that read its
//     input and extracts each model's key (RoutingError on failure)
//  2. Accepted messages are stamped with the logical Clock and logged
//  3. SERIAL models get one mailbox item per message; BATCH models one item
//     per detector holding all of its messages
//  4. The drainer runs an evaluation cycle per item and records a Cycle
//  5. External actions are resolved inside the cycle and dispatched to the
//     worker pool after it commits; their results are reported, not awaited
//
// Evaluation Cycle:
// A new detector first enters its initial state (onEnter). Then, per
// message: onInput events fire in declaration order, after which the first
// transition event whose condition holds runs its actions, the old state's
// onExit events, the state switch and the new state's onEnter events.
// Conditions that fail to evaluate count as false. Failed actions are
// recorded and never stop their siblings.
//
// Timers:
// Timers are wall-clock (WallClock, fakeable in tests). An expiry is posted
// to the owning detector's mailbox as a Timer trigger, so it serializes
// with messages. A timer that was cleared or reset after firing is dropped
// when its trigger is dequeued.
//
// Version Cutover:
// When a model is updated, detectors of the previous version are replaced
// lazily: the next message for a key retires the old detector and creates
// a fresh one of the active version.
package engine
