package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vocero-ai/vocero/pkg/auth"
	"github.com/vocero-ai/vocero/pkg/models"
	"github.com/vocero-ai/vocero/pkg/store"
)

// claimResponse is the claim endpoint's success body: the dispatch
// identity plus the one-shot join token.
type claimResponse struct {
	DispatchID    string `json:"dispatch_id"`
	CallID        string `json:"call_id"`
	TenantID      string `json:"tenant_id"`
	AgentID       string `json:"agent_id"`
	TraceID       string `json:"trace_id"`
	Room          string `json:"room"`
	TwilioCallSID string `json:"twilio_call_sid"`
	JoinToken     string `json:"join_token"`
}

// processClaimerBatch exercises the claim API for every announced
// dispatch: mint a tenant-scoped service credential, claim over HTTP,
// and enqueue the launch job carrying the claimed token.
func (p *Pool) processClaimerBatch(ctx context.Context) (int, error) {
	events, err := p.store.ClaimEvents(ctx, models.EventHandoffDispatched, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim dispatch events: %w", err)
	}

	for i := range events {
		p.processClaimerEvent(ctx, &events[i])
	}
	return len(events), nil
}

func (p *Pool) processClaimerEvent(ctx context.Context, ev *models.CallEvent) {
	log := slog.With("event_id", ev.ID, "call_id", ev.CallID, "attempt", ev.ProcessingAttempts)

	var payload models.HandoffDispatchedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		log.Warn("Malformed handoff_dispatched payload", "error", err)
		p.finalizeEvent(ctx, ev, models.EventHandoffDispatched, fmt.Sprintf("malformed payload: %v", err))
		return
	}
	log = log.With("dispatch_id", payload.DispatchID, "trace_id", payload.TraceID)

	credential, err := p.tokens.Mint("claimer", payload.TenantID, auth.ScopeDispatchClaim)
	if err != nil {
		p.retryEvent(ctx, ev, models.EventHandoffDispatched, fmt.Errorf("mint service credential: %w", err))
		return
	}

	status, body, err := p.postClaim(ctx, payload.DispatchID, credential)
	if err != nil {
		p.retryEvent(ctx, ev, models.EventHandoffDispatched, fmt.Errorf("claim request: %w", err))
		return
	}

	switch {
	case status == http.StatusOK:
		var claim claimResponse
		if err := json.Unmarshal(body, &claim); err != nil {
			p.retryEvent(ctx, ev, models.EventHandoffDispatched, fmt.Errorf("decode claim response: %w", err))
			return
		}
		p.metrics.DispatchClaims.WithLabelValues("claimed").Inc()
		p.enqueueLaunch(ctx, ev, &payload, &claim, log)

	case status == http.StatusConflict || status == http.StatusGone:
		// Another claimer replica won, or the dispatch expired between
		// the announcement and this claim. Benign duplicate either way.
		result := "unavailable"
		if status == http.StatusGone {
			result = "expired"
		}
		p.metrics.DispatchClaims.WithLabelValues(result).Inc()
		log.Info("Dispatch no longer claimable", "status", status)
		if err := p.store.MarkEventProcessed(ctx, ev.ID); err != nil {
			log.Error("Failed to finalize claimer event", "error", err)
			return
		}
		p.metrics.EventsProcessed.WithLabelValues(models.EventHandoffDispatched, "processed").Inc()

	case status == http.StatusNotFound:
		p.metrics.DispatchClaims.WithLabelValues("not_found").Inc()
		p.retryEvent(ctx, ev, models.EventHandoffDispatched, fmt.Errorf("dispatch not found (status %d)", status))

	default:
		p.retryEvent(ctx, ev, models.EventHandoffDispatched, fmt.Errorf("claim returned status %d", status))
	}
}

// enqueueLaunch records the claimed token as a launch job and announces
// the claim and readiness in the event log.
func (p *Pool) enqueueLaunch(ctx context.Context, ev *models.CallEvent, payload *models.HandoffDispatchedPayload, claim *claimResponse, log *slog.Logger) {
	job, err := p.store.UpsertLaunchJob(ctx, store.UpsertLaunchJobInput{
		DispatchID:    claim.DispatchID,
		CallID:        claim.CallID,
		TenantID:      claim.TenantID,
		AgentID:       claim.AgentID,
		TraceID:       claim.TraceID,
		Room:          claim.Room,
		TwilioCallSID: claim.TwilioCallSID,
		LiveKitURL:    payload.LiveKitURL,
		JoinToken:     claim.JoinToken,
	})
	if err != nil {
		p.retryEvent(ctx, ev, models.EventHandoffDispatched, fmt.Errorf("upsert launch job: %w", err))
		return
	}

	if _, err := p.store.AppendEvent(ctx, ev.CallID, models.EventDispatchClaimed, models.DispatchClaimedPayload{
		DispatchID: claim.DispatchID,
		TraceID:    claim.TraceID,
		TenantID:   claim.TenantID,
		AgentID:    claim.AgentID,
		Room:       claim.Room,
		ClaimedAt:  time.Now(),
	}); err != nil {
		log.Error("Failed to append dispatch_claimed", "error", err)
	}
	if _, err := p.store.AppendEvent(ctx, ev.CallID, models.EventBootstrapReady, models.BootstrapReadyPayload{
		DispatchID: claim.DispatchID,
		LaunchID:   job.ID,
		TraceID:    claim.TraceID,
		Room:       claim.Room,
		LiveKitURL: payload.LiveKitURL,
	}); err != nil {
		log.Error("Failed to append bootstrap_ready", "error", err)
	}

	if err := p.store.MarkEventProcessed(ctx, ev.ID); err != nil {
		log.Error("Failed to finalize claimer event", "error", err)
		return
	}
	p.metrics.EventsProcessed.WithLabelValues(models.EventHandoffDispatched, "processed").Inc()
	log.Info("Dispatch claimed, launch job queued", "launch_id", job.ID)
}

func (p *Pool) postClaim(ctx context.Context, dispatchID, credential string) (int, []byte, error) {
	url := fmt.Sprintf("%s/v1/dispatches/%s/claim", p.cfg.ClaimBaseURL, dispatchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// retryEvent records a transient failure, finalizing once the attempt
// budget is spent.
func (p *Pool) retryEvent(ctx context.Context, ev *models.CallEvent, eventType string, cause error) {
	finalize := ev.ProcessingAttempts >= p.cfg.MaxEventAttempts
	slog.Error("Event attempt failed",
		"event_id", ev.ID, "call_id", ev.CallID, "type", eventType,
		"attempt", ev.ProcessingAttempts, "finalize", finalize, "error", cause)
	if err := p.store.MarkEventFailed(ctx, ev.ID, cause.Error(), finalize); err != nil {
		slog.Error("Failed to mark event failed", "event_id", ev.ID, "error", err)
	}
	result := "retried"
	if finalize {
		result = "finalized_failed"
	}
	p.metrics.EventsProcessed.WithLabelValues(eventType, result).Inc()
}

// finalizeEvent dead-letters an event that can never succeed.
func (p *Pool) finalizeEvent(ctx context.Context, ev *models.CallEvent, eventType, reason string) {
	if err := p.store.MarkEventFailed(ctx, ev.ID, reason, true); err != nil {
		slog.Error("Failed to finalize event", "event_id", ev.ID, "error", err)
	}
	p.metrics.EventsProcessed.WithLabelValues(eventType, "finalized_failed").Inc()
}
