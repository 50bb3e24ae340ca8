package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/tripwire/internal/engine"
)

// ObserveMessage implements engine.MessageObserver.
func (s *Store) ObserveMessage(m engine.LoggedMessage) {
	if err := s.WriteMessage(context.Background(), m); err != nil {
		slog.Error("store message failed", "seq", m.Seq, "message_id", m.Message.MessageID, "error", err)
	}
}

// WriteMessage appends an accepted message to the log. Writing the same
// seq twice is a no-op.
func (s *Store) WriteMessage(ctx context.Context, m engine.LoggedMessage) error {
	payload, err := marshalObject(m.Message.Payload)
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (seq, batch, message_id, input_name, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		m.Seq,
		m.Batch,
		m.Message.MessageID,
		m.Message.InputName,
		payload,
		millis(m.Message.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessages returns the logged messages with seq > after, in seq order.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ReadMessages(ctx context.Context, after int64) ([]engine.LoggedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, batch, message_id, input_name, payload, timestamp
		FROM messages
		WHERE seq > ?
		ORDER BY seq ASC
	`, after)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []engine.LoggedMessage{}
	for rows.Next() {
		var (
			m       engine.LoggedMessage
			payload string
			ts      int64
		)
		if err := rows.Scan(&m.Seq, &m.Batch, &m.Message.MessageID, &m.Message.InputName, &payload, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if m.Message.Payload, err = unmarshalObject(payload); err != nil {
			return nil, fmt.Errorf("message %d: %w", m.Seq, err)
		}
		m.Message.Timestamp = fromMillis(ts)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// LastSeq returns the highest logged seq, or 0 for an empty log. An engine
// resuming over this store starts its clock there.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM messages`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

// ReadMessage returns the first logged message with the given ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadMessage(ctx context.Context, messageID string) (engine.LoggedMessage, error) {
	var (
		m       engine.LoggedMessage
		payload string
		ts      int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, batch, message_id, input_name, payload, timestamp
		FROM messages
		WHERE message_id = ?
		ORDER BY seq ASC
		LIMIT 1
	`, messageID).Scan(&m.Seq, &m.Batch, &m.Message.MessageID, &m.Message.InputName, &payload, &ts)
	if err != nil {
		return m, err
	}
	if m.Message.Payload, err = unmarshalObject(payload); err != nil {
		return m, err
	}
	m.Message.Timestamp = fromMillis(ts)
	return m, nil
}

var _ engine.MessageObserver = (*Store)(nil)
