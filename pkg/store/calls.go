package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vocero-ai/vocero/pkg/models"
)

// CreateCallInput is what webhook intake knows about a new call.
type CreateCallInput struct {
	TenantID      string
	AgentID       string
	TwilioCallSID string
	Room          string
}

// CreateCall inserts the call row. A duplicate carrier webhook for the
// same CallSid returns the existing row unchanged.
func (s *Store) CreateCall(ctx context.Context, in CreateCallInput) (*models.Call, error) {
	var c models.Call
	row := s.pool.QueryRow(ctx, `
		INSERT INTO calls (id, tenant_id, agent_id, twilio_call_sid, room)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (twilio_call_sid) DO UPDATE SET twilio_call_sid = EXCLUDED.twilio_call_sid
		RETURNING id, tenant_id, agent_id, twilio_call_sid, room,
		          started_at, ended_at, outcome, handoff_reason, legal_hold`,
		uuid.New().String(), in.TenantID, in.AgentID, in.TwilioCallSID, in.Room)
	if err := scanCall(row, &c); err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	return &c, nil
}

// GetCall loads one call by id.
func (s *Store) GetCall(ctx context.Context, id string) (*models.Call, error) {
	return s.getCall(ctx, `WHERE id = $1`, id)
}

// GetCallByTwilioSID loads one call by carrier call SID.
func (s *Store) GetCallByTwilioSID(ctx context.Context, sid string) (*models.Call, error) {
	return s.getCall(ctx, `WHERE twilio_call_sid = $1`, sid)
}

func (s *Store) getCall(ctx context.Context, where string, arg any) (*models.Call, error) {
	var c models.Call
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, agent_id, twilio_call_sid, room,
		       started_at, ended_at, outcome, handoff_reason, legal_hold
		FROM calls `+where, arg)
	if err := scanCall(row, &c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get call: %w", err)
	}
	return &c, nil
}

// EndCall closes the call and writes its reporting row in one
// transaction. Idempotent: a second call_ended event for the same call
// leaves the first ended_at in place. Outcome and reason may be empty.
func (s *Store) EndCall(ctx context.Context, callID, outcome, handoffReason string) (*models.Call, error) {
	var c models.Call
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE calls
			SET ended_at = COALESCE(ended_at, now()),
			    outcome = COALESCE(NULLIF($2, ''), outcome),
			    handoff_reason = COALESCE(NULLIF($3, ''), handoff_reason)
			WHERE id = $1
			RETURNING id, tenant_id, agent_id, twilio_call_sid, room,
			          started_at, ended_at, outcome, handoff_reason, legal_hold`,
			callID, outcome, handoffReason)
		if err := scanCall(row, &c); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("end call: %w", err)
		}

		var durationMs int64
		if c.EndedAt != nil {
			durationMs = c.EndedAt.Sub(c.StartedAt).Milliseconds()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO call_metrics (call_id, duration_ms, caller_utterances, agent_utterances, tool_calls)
			SELECT $1, $2,
				(SELECT count(*) FROM utterances WHERE call_id = $1 AND speaker = 'caller'),
				(SELECT count(*) FROM utterances WHERE call_id = $1 AND speaker = 'agent'),
				(SELECT count(*) FROM tool_executions WHERE call_id = $1)
			ON CONFLICT (call_id) DO UPDATE SET
				duration_ms       = EXCLUDED.duration_ms,
				caller_utterances = EXCLUDED.caller_utterances,
				agent_utterances  = EXCLUDED.agent_utterances,
				tool_calls        = EXCLUDED.tool_calls`,
			callID, durationMs); err != nil {
			return fmt.Errorf("upsert call metrics: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCallMetrics loads the reporting row for one call.
func (s *Store) GetCallMetrics(ctx context.Context, callID string) (*models.CallMetrics, error) {
	var m models.CallMetrics
	err := s.pool.QueryRow(ctx, `
		SELECT call_id, duration_ms, caller_utterances, agent_utterances, tool_calls
		FROM call_metrics WHERE call_id = $1`, callID).
		Scan(&m.CallID, &m.DurationMs, &m.CallerUtterances, &m.AgentUtterances, &m.ToolCalls)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get call metrics: %w", err)
	}
	return &m, nil
}

func scanCall(row pgx.Row, c *models.Call) error {
	return row.Scan(&c.ID, &c.TenantID, &c.AgentID, &c.TwilioCallSID, &c.Room,
		&c.StartedAt, &c.EndedAt, &c.Outcome, &c.HandoffReason, &c.LegalHold)
}
