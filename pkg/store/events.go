package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vocero-ai/vocero/pkg/models"
)

// AppendEvent inserts one immutable call event and, in the same
// transaction, notifies pollers with a small routing envelope. The
// payload is opaque JSON; callers marshal their typed payload structs.
// Join tokens never appear in payloads — only dispatch ids do.
func (s *Store) AppendEvent(ctx context.Context, callID, eventType string, payload any) (*models.CallEvent, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	var ev models.CallEvent
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO call_events (call_id, type, payload)
			VALUES ($1, $2, $3)
			RETURNING id, call_id, type, payload, processing_attempts, processed_at, last_error, created_at`,
			callID, eventType, payloadJSON)
		if err := scanEvent(row, &ev); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		envelope, err := json.Marshal(models.EventEnvelope{
			EventID: ev.ID,
			CallID:  ev.CallID,
			Type:    ev.Type,
		})
		if err != nil {
			return fmt.Errorf("marshal notify envelope: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(envelope)); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ClaimEvents selects up to limit unprocessed events of the given type
// in created_at order, skipping rows locked by other claimants, and
// increments processing_attempts on each before returning. At most one
// worker sees a given event per poll cycle.
func (s *Store) ClaimEvents(ctx context.Context, eventType string, limit int) ([]models.CallEvent, error) {
	var events []models.CallEvent
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, call_id, type, payload, processing_attempts, processed_at, last_error, created_at
			FROM call_events
			WHERE type = $1 AND processed_at IS NULL
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED`,
			eventType, limit)
		if err != nil {
			return fmt.Errorf("select events: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var ev models.CallEvent
			if err := scanEvent(rows, &ev); err != nil {
				return fmt.Errorf("scan event: %w", err)
			}
			events = append(events, ev)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		ids := make([]int64, len(events))
		for i := range events {
			ids[i] = events[i].ID
		}
		if _, err := tx.Exec(ctx, `
			UPDATE call_events
			SET processing_attempts = processing_attempts + 1
			WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("increment attempts: %w", err)
		}
		for i := range events {
			events[i].ProcessingAttempts++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// MarkEventProcessed finalizes an event successfully.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE call_events SET processed_at = now(), last_error = NULL WHERE id = $1`,
		eventID)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEventFailed records the failure. With finalize=false the event
// stays claimable and retries implicitly on the next poll; with
// finalize=true it is moved to the dead state (processed with an
// error) without deletion.
func (s *Store) MarkEventFailed(ctx context.Context, eventID int64, message string, finalize bool) error {
	var err error
	var tag interface{ RowsAffected() int64 }
	if finalize {
		tag, err = s.pool.Exec(ctx, `
			UPDATE call_events SET last_error = $2, processed_at = now() WHERE id = $1`,
			eventID, message)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE call_events SET last_error = $2 WHERE id = $1`,
			eventID, message)
	}
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountEventBacklog reports unprocessed events per type, for the
// worker health endpoint.
func (s *Store) CountEventBacklog(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT type, count(*) FROM call_events
		WHERE processed_at IS NULL
		GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("count backlog: %w", err)
	}
	defer rows.Close()

	backlog := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan backlog: %w", err)
		}
		backlog[t] = n
	}
	return backlog, rows.Err()
}

// ListCallEvents returns a call's events in append order.
func (s *Store) ListCallEvents(ctx context.Context, callID string) ([]models.CallEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, call_id, type, payload, processing_attempts, processed_at, last_error, created_at
		FROM call_events
		WHERE call_id = $1
		ORDER BY created_at ASC, id ASC`, callID)
	if err != nil {
		return nil, fmt.Errorf("list call events: %w", err)
	}
	defer rows.Close()

	var events []models.CallEvent
	for rows.Next() {
		var ev models.CallEvent
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row, ev *models.CallEvent) error {
	return row.Scan(&ev.ID, &ev.CallID, &ev.Type, &ev.Payload,
		&ev.ProcessingAttempts, &ev.ProcessedAt, &ev.LastError, &ev.CreatedAt)
}
