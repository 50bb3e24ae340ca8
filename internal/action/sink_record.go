package action

import (
	"context"
	"fmt"

	"github.com/roach88/tripwire/internal/ir"
)

// RecordStore persists table writes and property samples. The sqlite
// store implements it.
type RecordStore interface {
	PutRecord(ctx context.Context, r Resolved) error
	PutPropertyValue(ctx context.Context, r Resolved) error
}

// RecordKinds are the action kinds a RecordSink handles.
var RecordKinds = []ir.ActionKind{
	ir.KindWriteDynamoRecord,
	ir.KindWriteDynamoRecordV2,
	ir.KindWriteSiteWiseProperty,
}

// RecordSink writes table records and property values to a RecordStore.
type RecordSink struct {
	store RecordStore
}

// NewRecordSink creates a sink over store.
func NewRecordSink(store RecordStore) *RecordSink {
	return &RecordSink{store: store}
}

func (s *RecordSink) Invoke(ctx context.Context, r Resolved) error {
	switch r.Kind {
	case ir.KindWriteDynamoRecord:
		if r.Record == nil {
			return fmt.Errorf("%s: record not resolved", r.Kind)
		}
		return s.store.PutRecord(ctx, r)
	case ir.KindWriteDynamoRecordV2:
		obj, err := payloadObject(r.Payload)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Kind, err)
		}
		if len(obj) == 0 {
			return fmt.Errorf("%s: payload has no attributes", r.Kind)
		}
		return s.store.PutRecord(ctx, r)
	case ir.KindWriteSiteWiseProperty:
		if r.Property == nil {
			return fmt.Errorf("%s: property not resolved", r.Kind)
		}
		return s.store.PutPropertyValue(ctx, r)
	}
	return fmt.Errorf("%s: %w", r.Kind, ErrNoSink)
}

func payloadObject(payload []byte) (ir.Object, error) {
	v, err := ir.UnmarshalValue(payload)
	if err != nil {
		return nil, fmt.Errorf("payload is not JSON: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("payload is %s, want object", ir.TypeName(v))
	}
	return obj, nil
}
