package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/action"
	"github.com/roach88/tripwire/internal/ir"
)

func recordWrite(id string, op ir.DynamoOperation, hash, rangeKey, payload string) action.Resolved {
	rec := &action.Record{
		Table:        "readings",
		HashKeyField: "sensor",
		HashKeyValue: hash,
		HashKeyType:  ir.KeyTypeString,
		Operation:    op,
		PayloadField: "payload",
	}
	if rangeKey != "" {
		rec.RangeKeyField = "at"
		rec.RangeKeyValue = rangeKey
		rec.RangeKeyType = ir.KeyTypeNumber
	}
	return action.Resolved{
		ExecutionID: id,
		Kind:        ir.KindWriteDynamoRecord,
		Target:      "readings",
		Payload:     []byte(payload),
		PayloadType: ir.PayloadJSON,
		Record:      rec,
	}
}

func TestPutRecord_InsertUpdateDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, recordWrite("x1", ir.OperationInsert, "s1", "", `{"temp": 20}`)))
	require.NoError(t, s.PutRecord(ctx, recordWrite("x2", ir.OperationInsert, "s2", "", `{"temp": 30}`)))

	records, err := s.ReadRecords(ctx, "readings")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "s1", records[0].HashKeyValue)
	assert.True(t, ir.Equal(ir.Object{
		"sensor":  ir.String("s1"),
		"payload": ir.Object{"temp": ir.Number(20)},
	}, records[0].Item), "item = %v", records[0].Item)

	require.NoError(t, s.PutRecord(ctx, recordWrite("x3", ir.OperationUpdate, "s1", "", `{"temp": 25}`)))
	records, err = s.ReadRecords(ctx, "readings")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "x3", records[0].ExecutionID)
	assert.True(t, ir.Equal(ir.Object{"temp": ir.Number(25)}, records[0].Item["payload"]))

	require.NoError(t, s.PutRecord(ctx, recordWrite("x4", ir.OperationDelete, "s1", "", `{}`)))
	records, err = s.ReadRecords(ctx, "readings")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s2", records[0].HashKeyValue)
}

func TestPutRecord_RangeKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, recordWrite("x1", ir.OperationInsert, "s1", "2", `1`)))
	require.NoError(t, s.PutRecord(ctx, recordWrite("x2", ir.OperationInsert, "s1", "1", `2`)))

	records, err := s.ReadRecords(ctx, "readings")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].RangeKeyValue)
	assert.Equal(t, ir.String("1"), records[0].Item["at"])
	assert.Equal(t, "2", records[1].RangeKeyValue)
}

func TestPutRecord_StringPayload(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	r := recordWrite("x1", ir.OperationInsert, "s1", "", "too hot")
	r.PayloadType = ir.PayloadString
	require.NoError(t, s.PutRecord(ctx, r))

	records, err := s.ReadRecords(ctx, "readings")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ir.String("too hot"), records[0].Item["payload"])
}

func TestPutRecord_V2(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	r := action.Resolved{
		ExecutionID: "x1",
		Kind:        ir.KindWriteDynamoRecordV2,
		Payload:     []byte(`{"sensor": "s1", "temp": 20}`),
		Record:      &action.Record{Table: "events", Operation: ir.OperationInsert},
	}
	require.NoError(t, s.PutRecord(ctx, r))

	records, err := s.ReadRecords(ctx, "events")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "x1", records[0].HashKeyValue)
	assert.Equal(t, ir.Number(20), records[0].Item["temp"])

	r.ExecutionID = "x2"
	r.Payload = []byte(`[1, 2]`)
	assert.Error(t, s.PutRecord(ctx, r))
}

func TestPutRecord_MissingRecord(t *testing.T) {
	s := createTestStore(t)
	err := s.PutRecord(context.Background(), action.Resolved{ExecutionID: "x1", Kind: ir.KindWriteDynamoRecord})
	assert.Error(t, err)
}

func TestPropertyValues(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	put := func(id string, at time.Time, v ir.Value, quality string) {
		t.Helper()
		require.NoError(t, s.PutPropertyValue(ctx, action.Resolved{
			ExecutionID: id,
			Kind:        ir.KindWriteSiteWiseProperty,
			Property: &action.Property{
				PropertyAlias: "/plant/line1/temp",
				ValueType:     "double",
				Value:         v,
				Timestamp:     at,
				Quality:       quality,
			},
		}))
	}
	put("x1", t0.Add(time.Second), ir.Number(21.5), "GOOD")
	put("x2", t0, ir.Number(20), "GOOD")
	put("x3", t0.Add(time.Second), ir.Number(22), "UNCERTAIN")

	values, err := s.ReadPropertyValues(ctx, "/plant/line1/temp")
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, t0.UnixNano(), values[0].TimeNanos)
	assert.Equal(t, ir.Number(20), values[0].Value)
	assert.Equal(t, ir.Number(22), values[1].Value)
	assert.Equal(t, "UNCERTAIN", values[1].Quality)
	assert.Equal(t, "x3", values[1].ExecutionID)
}

func TestPropertyValues_AssetAndPropertyID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutPropertyValue(ctx, action.Resolved{
		ExecutionID: "x1",
		Kind:        ir.KindWriteSiteWiseProperty,
		Property: &action.Property{
			AssetID:    "pump-7",
			PropertyID: "rpm",
			ValueType:  "integer",
			Value:      ir.Number(1200),
			Timestamp:  t0,
		},
	}))

	values, err := s.ReadPropertyValues(ctx, "pump-7/rpm")
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "integer", values[0].ValueType)

	assert.Error(t, s.PutPropertyValue(ctx, action.Resolved{ExecutionID: "x2", Kind: ir.KindWriteSiteWiseProperty}))
}
