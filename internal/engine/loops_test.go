package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/action"
	"github.com/roach88/tripwire/internal/ir"
)

func TestLoopGuard(t *testing.T) {
	g := newLoopGuard(2)

	d, ok := g.take("client")
	assert.Equal(t, 0, d)
	assert.True(t, ok)

	g.note("x1", 2)
	g.note("x2", 3)
	g.note("x3", 1)
	g.forget("x3")

	d, ok = g.take("x1")
	assert.Equal(t, 2, d)
	assert.True(t, ok)
	_, ok = g.take("x2")
	assert.False(t, ok)
	d, _ = g.take("x3")
	assert.Equal(t, 0, d, "forgotten")
	assert.Empty(t, g.depth)

	assert.Equal(t, DefaultMaxLoopDepth, newLoopGuard(0).limit)
}

func TestEngine_LoopBackChainIsBounded(t *testing.T) {
	echo := ir.DetectorModel{
		Name: "echo",
		Definition: ir.Definition{
			InitialStateName: "Echoing",
			States: []ir.State{{
				Name: "Echoing",
				OnInput: ir.OnInput{Events: []ir.Event{{
					Name:      "again",
					Condition: "currentInput('Echo')",
					Actions: ir.Actions{ir.SendToEventInput{
						InputName: "Echo",
						Payload:   &ir.Payload{ContentExpression: "'{\"n\": 1}'", Type: ir.PayloadJSON},
					}},
				}}},
			}},
		},
	}
	te := newTestEngine(t, echo)
	te.eng.loops = newLoopGuard(3)
	te.disp.Register(action.NewInputSink(te.eng), ir.KindSendToEventInput)

	te.process(t, msg("Echo", map[string]any{"n": 0}))
	te.waitIdle(t)

	// The client message and three loop-back generations are evaluated;
	// the fourth generation is rejected.
	assert.Len(t, te.cycles.forKey(""), 4)

	failed := te.results.failed()
	require.Len(t, failed, 1)
	assert.Equal(t, ir.KindSendToEventInput, failed[0].Kind)
	assert.True(t, IsRoutingError(failed[0].Err, ErrCodeLoopLimit))
	assert.Empty(t, te.eng.loops.depth)
}
