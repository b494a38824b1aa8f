package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/pinnacle/pkg/schema"
)

// AppendEvent appends an event with a monotonically increasing per-flow sequence.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.FlowID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event flow id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM flow_events WHERE flow_id = ?`, event.FlowID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO flow_events (flow_id, event_type, payload, timestamp, sequence) VALUES (?, ?, ?, ?, ?)`,
		event.FlowID, event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// RecordEvent marshals payload and appends it as an event of the given type.
func (s *LibSQLStore) RecordEvent(ctx context.Context, flowID, eventType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		raw = b
	}
	return s.AppendEvent(ctx, &Event{FlowID: flowID, Type: eventType, Payload: raw, Timestamp: time.Now().UTC()})
}

// GetEvents returns events for a flow with sequence > since, ordered by sequence.
// A gap in the returned sequence is reported as a STORE_ERROR.
func (s *LibSQLStore) GetEvents(ctx context.Context, flowID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, flow_id, event_type, payload, timestamp, sequence
		 FROM flow_events WHERE flow_id = ? AND sequence > ? ORDER BY sequence ASC`,
		flowID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	expected := since + 1
	for rows.Next() {
		e := &Event{}
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.FlowID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Payload = rawOrNil(payload)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in flow %s: expected %d, got %d", flowID, expected, e.Sequence)
		}
		expected++
		events = append(events, e)
	}
	return events, rows.Err()
}
