package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vocero-ai/vocero/pkg/models"
)

// LaunchRequest is the body POSTed to the connector's launch endpoint.
// This is the only hop that carries the join token after the claim.
type LaunchRequest struct {
	LaunchID      string `json:"launch_id"`
	DispatchID    string `json:"dispatch_id"`
	CallID        string `json:"call_id"`
	TenantID      string `json:"tenant_id"`
	AgentID       string `json:"agent_id"`
	TraceID       string `json:"trace_id"`
	Room          string `json:"room"`
	TwilioCallSID string `json:"twilio_call_sid"`
	LiveKitURL    string `json:"livekit_url"`
	JoinToken     string `json:"join_token"`
}

// processLauncherBatch delivers claimed launch jobs to the connector.
// The job's own attempts column governs this loop's retry budget.
func (p *Pool) processLauncherBatch(ctx context.Context) (int, error) {
	jobs, err := p.store.ClaimLaunchJobs(ctx, p.cfg.BatchSize, p.cfg.MaxLaunchAttempts)
	if err != nil {
		return 0, fmt.Errorf("claim launch jobs: %w", err)
	}

	for i := range jobs {
		p.deliverLaunchJob(ctx, &jobs[i])
	}
	return len(jobs), nil
}

func (p *Pool) deliverLaunchJob(ctx context.Context, job *models.RuntimeLaunchJob) {
	log := slog.With("launch_id", job.ID, "call_id", job.CallID,
		"trace_id", job.TraceID, "attempt", job.Attempts)

	err := p.postLaunch(ctx, job)
	if err == nil {
		if err := p.store.MarkLaunchJobSucceeded(ctx, job.ID); err != nil {
			log.Error("Failed to mark launch job succeeded", "error", err)
			return
		}
		p.metrics.LaunchAttempts.WithLabelValues("succeeded").Inc()
		if _, err := p.store.AppendEvent(ctx, job.CallID, models.EventLaunchSucceeded, models.LaunchResultPayload{
			LaunchID: job.ID,
			TraceID:  job.TraceID,
			Attempts: job.Attempts,
		}); err != nil {
			log.Error("Failed to append launch_succeeded", "error", err)
		}
		log.Info("Connector session launched")
		return
	}

	willRetry := job.Attempts < p.cfg.MaxLaunchAttempts
	log.Error("Launch delivery failed", "will_retry", willRetry, "error", err)
	p.metrics.LaunchAttempts.WithLabelValues("failed").Inc()

	if markErr := p.store.MarkLaunchJobFailed(ctx, job.ID, err.Error()); markErr != nil {
		log.Error("Failed to mark launch job failed", "error", markErr)
	}
	if _, appendErr := p.store.AppendEvent(ctx, job.CallID, models.EventLaunchFailed, models.LaunchResultPayload{
		LaunchID:  job.ID,
		TraceID:   job.TraceID,
		Attempts:  job.Attempts,
		Error:     err.Error(),
		WillRetry: willRetry,
	}); appendErr != nil {
		log.Error("Failed to append launch_failed", "error", appendErr)
	}
}

func (p *Pool) postLaunch(ctx context.Context, job *models.RuntimeLaunchJob) error {
	body, err := json.Marshal(LaunchRequest{
		LaunchID:      job.ID,
		DispatchID:    job.DispatchID,
		CallID:        job.CallID,
		TenantID:      job.TenantID,
		AgentID:       job.AgentID,
		TraceID:       job.TraceID,
		Room:          job.Room,
		TwilioCallSID: job.TwilioCallSID,
		LiveKitURL:    job.LiveKitURL,
		JoinToken:     job.JoinToken,
	})
	if err != nil {
		return fmt.Errorf("marshal launch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.LaunchURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("connector returned status %d", resp.StatusCode)
	}
	return nil
}
