package action

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tripwire/internal/ir"
)

// MessageSender accepts messages for evaluation; the engine implements it.
type MessageSender interface {
	SendMessage(ctx context.Context, msg ir.Message) error
}

// InputSink feeds an action's payload back into the interpreter as a
// message to the named input. The message ID is the action execution ID,
// so a replay produces the same loop-back messages.
type InputSink struct {
	sender MessageSender
	now    func() time.Time
}

// InputSinkOption configures an InputSink.
type InputSinkOption func(*InputSink)

// WithInputClock stamps loop-back messages with now instead of the system
// time.
func WithInputClock(now func() time.Time) InputSinkOption {
	return func(s *InputSink) { s.now = now }
}

// NewInputSink creates a loop-back sink.
func NewInputSink(sender MessageSender, opts ...InputSinkOption) *InputSink {
	s := &InputSink{sender: sender, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InputSink) Invoke(ctx context.Context, r Resolved) error {
	obj, err := payloadObject(r.Payload)
	if err != nil {
		return fmt.Errorf("input %q: %w", r.Target, err)
	}
	return s.sender.SendMessage(ctx, ir.Message{
		MessageID: r.ExecutionID,
		InputName: r.Target,
		Payload:   obj,
		Timestamp: s.now().UTC(),
	})
}
