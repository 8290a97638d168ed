package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vocero-ai/vocero/pkg/models"
)

// UpsertDispatchInput carries everything the handoff worker mints for
// one dispatch.
type UpsertDispatchInput struct {
	CallID        string
	TraceID       string
	TenantID      string
	AgentID       string
	TwilioCallSID string
	Room          string
	JoinToken     string
	ExpiresAt     time.Time
}

// UpsertDispatch inserts or refreshes the dispatch keyed by
// (call_id, trace_id). Re-emitting a handoff reuses the row: the new
// token overwrites the old one, status resets to pending, and
// claimed_at clears. This is what makes handoff delivery idempotent.
func (s *Store) UpsertDispatch(ctx context.Context, in UpsertDispatchInput) (*models.RuntimeDispatch, error) {
	var d models.RuntimeDispatch
	row := s.pool.QueryRow(ctx, `
		INSERT INTO runtime_dispatches
			(id, call_id, trace_id, tenant_id, agent_id, twilio_call_sid, room, join_token, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9)
		ON CONFLICT (call_id, trace_id) DO UPDATE SET
			join_token = EXCLUDED.join_token,
			status     = 'pending',
			expires_at = EXCLUDED.expires_at,
			claimed_at = NULL,
			updated_at = now()
		RETURNING id, call_id, trace_id, tenant_id, agent_id, twilio_call_sid, room,
		          join_token, status, expires_at, claimed_at, created_at, updated_at`,
		uuid.New().String(), in.CallID, in.TraceID, in.TenantID, in.AgentID,
		in.TwilioCallSID, in.Room, in.JoinToken, in.ExpiresAt)
	if err := scanDispatch(row, &d); err != nil {
		return nil, fmt.Errorf("upsert dispatch: %w", err)
	}
	return &d, nil
}

// GetDispatch loads one dispatch by id. The join token is included;
// callers other than the claim path must not propagate it.
func (s *Store) GetDispatch(ctx context.Context, id string) (*models.RuntimeDispatch, error) {
	var d models.RuntimeDispatch
	row := s.pool.QueryRow(ctx, `
		SELECT id, call_id, trace_id, tenant_id, agent_id, twilio_call_sid, room,
		       join_token, status, expires_at, claimed_at, created_at, updated_at
		FROM runtime_dispatches WHERE id = $1`, id)
	if err := scanDispatch(row, &d); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get dispatch: %w", err)
	}
	return &d, nil
}

// ClaimDispatch performs the one-shot claim: within a single
// transaction the pending row is locked (skipping rows locked by a
// concurrent claim), validated, and flipped to claimed with its token
// erased. The returned dispatch carries the pre-clear token — the only
// place it ever leaves the database.
//
// Failure modes: ErrNotFound (no such dispatch), ErrDispatchUnavailable
// (not pending — a concurrent claim won, or the janitor expired it),
// ErrDispatchExpired (pending but past expires_at).
func (s *Store) ClaimDispatch(ctx context.Context, id string) (*models.RuntimeDispatch, error) {
	var d models.RuntimeDispatch
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, call_id, trace_id, tenant_id, agent_id, twilio_call_sid, room,
			       join_token, status, expires_at, claimed_at, created_at, updated_at
			FROM runtime_dispatches
			WHERE id = $1
			FOR UPDATE SKIP LOCKED`, id)
		if err := scanDispatch(row, &d); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Either the row does not exist or another claimant
				// holds its lock right now; distinguish without lock.
				exists := false
				if e := tx.QueryRow(ctx,
					`SELECT EXISTS (SELECT 1 FROM runtime_dispatches WHERE id = $1)`, id).Scan(&exists); e != nil {
					return fmt.Errorf("check dispatch existence: %w", e)
				}
				if exists {
					return ErrDispatchUnavailable
				}
				return ErrNotFound
			}
			return fmt.Errorf("select dispatch for claim: %w", err)
		}

		if d.Status != models.DispatchPending {
			return ErrDispatchUnavailable
		}
		if !d.ExpiresAt.After(time.Now()) {
			return ErrDispatchExpired
		}

		var claimedAt time.Time
		if err := tx.QueryRow(ctx, `
			UPDATE runtime_dispatches
			SET status = 'claimed', claimed_at = now(), join_token = '', updated_at = now()
			WHERE id = $1
			RETURNING claimed_at`, id).Scan(&claimedAt); err != nil {
			return fmt.Errorf("claim dispatch: %w", err)
		}
		d.Status = models.DispatchClaimed
		d.ClaimedAt = &claimedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ExpirePendingDispatches sweeps pending rows past their expiry to the
// inert expired state. Run by the janitor; idempotent across replicas.
func (s *Store) ExpirePendingDispatches(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runtime_dispatches
		SET status = 'expired', join_token = '', updated_at = now()
		WHERE status = 'pending' AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("expire dispatches: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDispatch(row pgx.Row, d *models.RuntimeDispatch) error {
	return row.Scan(&d.ID, &d.CallID, &d.TraceID, &d.TenantID, &d.AgentID,
		&d.TwilioCallSID, &d.Room, &d.JoinToken, &d.Status, &d.ExpiresAt,
		&d.ClaimedAt, &d.CreatedAt, &d.UpdatedAt)
}
