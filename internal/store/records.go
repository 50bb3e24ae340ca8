package store

import (
	"context"
	"fmt"

	"github.com/roach88/tripwire/internal/action"
	"github.com/roach88/tripwire/internal/ir"
)

// PutRecord applies a resolved table write. writeDynamoRecord stores the
// payload under payloadField, keyed by the hash and range key values;
// DELETE removes the row. writeDynamoRecordV2 stores the payload object
// itself, keyed by the action execution ID.
func (s *Store) PutRecord(ctx context.Context, r action.Resolved) error {
	rec := r.Record
	if rec == nil {
		return fmt.Errorf("put record: %s has no record", r.ExecutionID)
	}

	payload, err := ir.UnmarshalValue(r.Payload)
	if err != nil {
		// STRING payloads that are not JSON are stored as strings.
		payload = ir.String(r.Payload)
	}

	hashKey, rangeKey := rec.HashKeyValue, rec.RangeKeyValue
	var item ir.Object
	if r.Kind == ir.KindWriteDynamoRecordV2 {
		obj, ok := payload.(ir.Object)
		if !ok {
			return fmt.Errorf("put record: payload is %s, want object", ir.TypeName(payload))
		}
		item = obj
		hashKey, rangeKey = r.ExecutionID, ""
	} else {
		item = ir.Object{rec.HashKeyField: ir.String(rec.HashKeyValue), rec.PayloadField: payload}
		if rec.RangeKeyField != "" {
			item[rec.RangeKeyField] = ir.String(rec.RangeKeyValue)
		}
	}

	if rec.Operation == ir.OperationDelete {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM records WHERE table_name = ? AND hash_key_value = ? AND range_key_value = ?
		`, rec.Table, hashKey, rangeKey)
		if err != nil {
			return fmt.Errorf("put record: delete: %w", err)
		}
		return nil
	}

	itemJSON, err := marshalObject(item)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	// INSERT and UPDATE both replace the item, as a put of the whole item.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (table_name, hash_key_value, range_key_value, hash_key_field, range_key_field, item, execution_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, hash_key_value, range_key_value) DO UPDATE SET
			item = excluded.item,
			execution_id = excluded.execution_id
	`, rec.Table, hashKey, rangeKey, rec.HashKeyField, rec.RangeKeyField, itemJSON, r.ExecutionID)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// Record is a stored table row.
type Record struct {
	Table         string    `json:"table"`
	HashKeyValue  string    `json:"hashKeyValue"`
	RangeKeyValue string    `json:"rangeKeyValue,omitempty"`
	Item          ir.Object `json:"item"`
	ExecutionID   string    `json:"actionExecutionId"`
}

// ReadRecords returns a table's rows ordered by key.
func (s *Store) ReadRecords(ctx context.Context, table string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, hash_key_value, range_key_value, item, execution_id
		FROM records
		WHERE table_name = ?
		ORDER BY hash_key_value COLLATE BINARY ASC, range_key_value COLLATE BINARY ASC
	`, table)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			r    Record
			item string
		)
		if err := rows.Scan(&r.Table, &r.HashKeyValue, &r.RangeKeyValue, &item, &r.ExecutionID); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if r.Item, err = unmarshalObject(item); err != nil {
			return nil, fmt.Errorf("record %s/%s: %w", r.Table, r.HashKeyValue, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// PropertyValue is a stored time-series sample.
type PropertyValue struct {
	Property    string   `json:"property"`
	TimeNanos   int64    `json:"timeInNanos"`
	ValueType   string   `json:"valueType"`
	Value       ir.Value `json:"value"`
	Quality     string   `json:"quality"`
	ExecutionID string   `json:"actionExecutionId"`
}

// propertyName identifies a property by alias, or by asset and property ID.
func propertyName(p *action.Property) string {
	if p.PropertyAlias != "" {
		return p.PropertyAlias
	}
	return p.AssetID + "/" + p.PropertyID
}

// PutPropertyValue records one sample. A second sample for the same
// property and timestamp replaces the first.
func (s *Store) PutPropertyValue(ctx context.Context, r action.Resolved) error {
	p := r.Property
	if p == nil {
		return fmt.Errorf("put property value: %s has no property", r.ExecutionID)
	}
	value, err := ir.MarshalCanonical(p.Value)
	if err != nil {
		return fmt.Errorf("put property value: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO property_values (property, time_ns, value_type, value, quality, execution_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(property, time_ns) DO UPDATE SET
			value_type = excluded.value_type,
			value = excluded.value,
			quality = excluded.quality,
			execution_id = excluded.execution_id
	`, propertyName(p), p.Timestamp.UnixNano(), p.ValueType, string(value), p.Quality, r.ExecutionID)
	if err != nil {
		return fmt.Errorf("put property value: %w", err)
	}
	return nil
}

// ReadPropertyValues returns a property's samples in time order.
func (s *Store) ReadPropertyValues(ctx context.Context, property string) ([]PropertyValue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT property, time_ns, value_type, value, quality, execution_id
		FROM property_values
		WHERE property = ?
		ORDER BY time_ns ASC
	`, property)
	if err != nil {
		return nil, fmt.Errorf("query property values: %w", err)
	}
	defer rows.Close()

	out := []PropertyValue{}
	for rows.Next() {
		var (
			pv    PropertyValue
			value string
		)
		if err := rows.Scan(&pv.Property, &pv.TimeNanos, &pv.ValueType, &value, &pv.Quality, &pv.ExecutionID); err != nil {
			return nil, fmt.Errorf("scan property value: %w", err)
		}
		if pv.Value, err = ir.UnmarshalValue([]byte(value)); err != nil {
			return nil, fmt.Errorf("property value %s: %w", pv.Property, err)
		}
		out = append(out, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate property values: %w", err)
	}
	return out, nil
}

var _ action.RecordStore = (*Store)(nil)
