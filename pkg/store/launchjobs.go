package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vocero-ai/vocero/pkg/models"
)

// UpsertLaunchJobInput carries a claimed dispatch into the launcher's
// queue.
type UpsertLaunchJobInput struct {
	DispatchID    string
	CallID        string
	TenantID      string
	AgentID       string
	TraceID       string
	Room          string
	TwilioCallSID string
	LiveKitURL    string
	JoinToken     string
}

// UpsertLaunchJob inserts or resets the launch job keyed by
// dispatch_id. Re-upserting an existing dispatch's job resets it to
// pending with attempts=0, so a re-claimed handoff gets a fresh
// delivery budget.
func (s *Store) UpsertLaunchJob(ctx context.Context, in UpsertLaunchJobInput) (*models.RuntimeLaunchJob, error) {
	var j models.RuntimeLaunchJob
	row := s.pool.QueryRow(ctx, `
		INSERT INTO runtime_launch_jobs
			(id, dispatch_id, call_id, tenant_id, agent_id, trace_id, room,
			 twilio_call_sid, livekit_url, join_token, status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', 0)
		ON CONFLICT (dispatch_id) DO UPDATE SET
			join_token   = EXCLUDED.join_token,
			livekit_url  = EXCLUDED.livekit_url,
			status       = 'pending',
			attempts     = 0,
			last_error   = NULL,
			processed_at = NULL,
			updated_at   = now()
		RETURNING id, dispatch_id, call_id, tenant_id, agent_id, trace_id, room,
		          twilio_call_sid, livekit_url, join_token, status, attempts,
		          last_error, processed_at, created_at, updated_at`,
		uuid.New().String(), in.DispatchID, in.CallID, in.TenantID, in.AgentID,
		in.TraceID, in.Room, in.TwilioCallSID, in.LiveKitURL, in.JoinToken)
	if err := scanLaunchJob(row, &j); err != nil {
		return nil, fmt.Errorf("upsert launch job: %w", err)
	}
	return &j, nil
}

// ClaimLaunchJobs locks up to limit deliverable jobs (pending or
// failed, under the attempt cap) in creation order, marks them
// processing, and bumps attempts. The launcher owns the returned rows
// until it marks them succeeded or failed.
func (s *Store) ClaimLaunchJobs(ctx context.Context, limit, maxAttempts int) ([]models.RuntimeLaunchJob, error) {
	var jobs []models.RuntimeLaunchJob
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, dispatch_id, call_id, tenant_id, agent_id, trace_id, room,
			       twilio_call_sid, livekit_url, join_token, status, attempts,
			       last_error, processed_at, created_at, updated_at
			FROM runtime_launch_jobs
			WHERE status IN ('pending', 'failed') AND attempts < $2
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit, maxAttempts)
		if err != nil {
			return fmt.Errorf("select launch jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var j models.RuntimeLaunchJob
			if err := scanLaunchJob(rows, &j); err != nil {
				return fmt.Errorf("scan launch job: %w", err)
			}
			jobs = append(jobs, j)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate launch jobs: %w", err)
		}
		if len(jobs) == 0 {
			return nil
		}

		ids := make([]string, len(jobs))
		for i := range jobs {
			ids[i] = jobs[i].ID
		}
		if _, err := tx.Exec(ctx, `
			UPDATE runtime_launch_jobs
			SET status = 'processing', attempts = attempts + 1, last_error = NULL, updated_at = now()
			WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("mark launch jobs processing: %w", err)
		}
		for i := range jobs {
			jobs[i].Status = models.LaunchJobProcessing
			jobs[i].Attempts++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkLaunchJobSucceeded finalizes a delivered job and clears its
// token.
func (s *Store) MarkLaunchJobSucceeded(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runtime_launch_jobs
		SET status = 'succeeded', processed_at = now(), join_token = '', updated_at = now()
		WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("mark launch job succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkLaunchJobFailed records the delivery failure; the job re-enters
// the claim set on the next poll until attempts reach the cap.
func (s *Store) MarkLaunchJobFailed(ctx context.Context, jobID, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runtime_launch_jobs
		SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1`, jobID, message)
	if err != nil {
		return fmt.Errorf("mark launch job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetLaunchJobByDispatch loads the job for one dispatch.
func (s *Store) GetLaunchJobByDispatch(ctx context.Context, dispatchID string) (*models.RuntimeLaunchJob, error) {
	var j models.RuntimeLaunchJob
	row := s.pool.QueryRow(ctx, `
		SELECT id, dispatch_id, call_id, tenant_id, agent_id, trace_id, room,
		       twilio_call_sid, livekit_url, join_token, status, attempts,
		       last_error, processed_at, created_at, updated_at
		FROM runtime_launch_jobs WHERE dispatch_id = $1`, dispatchID)
	if err := scanLaunchJob(row, &j); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get launch job: %w", err)
	}
	return &j, nil
}

// RequeueStalledLaunchJobs flips jobs stuck in processing longer than
// the stall threshold back to failed so the next poll re-claims them.
// Covers launcher replicas that crashed mid-delivery.
func (s *Store) RequeueStalledLaunchJobs(ctx context.Context, stallSeconds int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runtime_launch_jobs
		SET status = 'failed', last_error = 'requeued: processing stalled', updated_at = now()
		WHERE status = 'processing'
		  AND updated_at < now() - make_interval(secs => $1)`, stallSeconds)
	if err != nil {
		return 0, fmt.Errorf("requeue stalled launch jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanLaunchJob(row pgx.Row, j *models.RuntimeLaunchJob) error {
	return row.Scan(&j.ID, &j.DispatchID, &j.CallID, &j.TenantID, &j.AgentID,
		&j.TraceID, &j.Room, &j.TwilioCallSID, &j.LiveKitURL, &j.JoinToken,
		&j.Status, &j.Attempts, &j.LastError, &j.ProcessedAt, &j.CreatedAt, &j.UpdatedAt)
}
