package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/ir"
)

func TestMessages_ReadInSeqOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Written out of order; the log reads back by seq.
	for _, m := range []struct {
		seq, batch int64
		id         string
	}{{3, 2, "m3"}, {1, 1, "m1"}, {2, 1, "m2"}} {
		require.NoError(t, s.WriteMessage(ctx, createTestMessage(m.seq, m.batch, m.id, float64(m.seq))))
	}

	log, err := s.ReadMessages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, log, 3)
	for i, want := range []string{"m1", "m2", "m3"} {
		assert.Equal(t, int64(i+1), log[i].Seq)
		assert.Equal(t, want, log[i].Message.MessageID)
	}
	assert.Equal(t, int64(1), log[1].Batch)
	assert.Equal(t, int64(2), log[2].Batch)

	tail, err := s.ReadMessages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "m2", tail[0].Message.MessageID)
}

func TestMessages_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := createTestMessage(1, 1, "m1", 21.5)
	require.NoError(t, s.WriteMessage(ctx, want))

	got, err := s.ReadMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Sensor", got.Message.InputName)
	assert.True(t, ir.Equal(want.Message.Payload, got.Message.Payload), "payload = %v", got.Message.Payload)
	assert.True(t, want.Message.Timestamp.Equal(got.Message.Timestamp))
}

func TestMessages_DuplicateSeqIgnored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteMessage(ctx, createTestMessage(1, 1, "first", 1)))
	require.NoError(t, s.WriteMessage(ctx, createTestMessage(1, 1, "second", 2)))

	log, err := s.ReadMessages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "first", log[0].Message.MessageID)
}

func TestMessages_LastSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	s.ObserveMessage(createTestMessage(7, 7, "m7", 1))
	seq, err = s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)
}

func TestMessages_Empty(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	log, err := s.ReadMessages(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.Empty(t, log)

	_, err = s.ReadMessage(ctx, "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows), "err = %v", err)
}
