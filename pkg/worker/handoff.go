package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vocero-ai/vocero/pkg/models"
	"github.com/vocero-ai/vocero/pkg/rooms"
	"github.com/vocero-ai/vocero/pkg/store"
)

// processHandoffBatch turns handoff_requested events into claimable
// dispatches: ensure the media room, mint a join token, upsert the
// dispatch keyed by (call_id, trace_id), and announce it with a
// handoff_dispatched event that carries the dispatch id but never the
// token.
func (p *Pool) processHandoffBatch(ctx context.Context) (int, error) {
	events, err := p.store.ClaimEvents(ctx, models.EventHandoffRequested, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim handoff events: %w", err)
	}

	for i := range events {
		p.processHandoffEvent(ctx, &events[i])
	}
	return len(events), nil
}

func (p *Pool) processHandoffEvent(ctx context.Context, ev *models.CallEvent) {
	log := slog.With("event_id", ev.ID, "call_id", ev.CallID, "attempt", ev.ProcessingAttempts)

	var payload models.HandoffRequestedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		p.finalizeInvalidHandoff(ctx, ev, fmt.Sprintf("malformed payload: %v", err))
		return
	}
	if verr := payload.Validate(); verr != nil {
		p.finalizeInvalidHandoff(ctx, ev, verr.Error())
		return
	}

	log = log.With("trace_id", payload.TraceID, "room", payload.Room)

	if err := p.rooms.EnsureRoom(ctx, payload.Room); err != nil {
		p.failHandoff(ctx, ev, payload.TraceID, fmt.Errorf("ensure room: %w", err))
		return
	}

	token, err := p.rooms.MintJoinToken(payload.Room, rooms.TokenGrant{
		AgentID:  payload.AgentID,
		TenantID: payload.TenantID,
		CallID:   ev.CallID,
		TraceID:  payload.TraceID,
	})
	if err != nil {
		p.failHandoff(ctx, ev, payload.TraceID, fmt.Errorf("mint join token: %w", err))
		return
	}

	dispatch, err := p.store.UpsertDispatch(ctx, store.UpsertDispatchInput{
		CallID:        ev.CallID,
		TraceID:       payload.TraceID,
		TenantID:      payload.TenantID,
		AgentID:       payload.AgentID,
		TwilioCallSID: payload.TwilioCallSID,
		Room:          payload.Room,
		JoinToken:     token,
		ExpiresAt:     time.Now().Add(p.cfg.DispatchTTL),
	})
	if err != nil {
		p.failHandoff(ctx, ev, payload.TraceID, fmt.Errorf("upsert dispatch: %w", err))
		return
	}

	_, err = p.store.AppendEvent(ctx, ev.CallID, models.EventHandoffDispatched, models.HandoffDispatchedPayload{
		DispatchID:         dispatch.ID,
		DispatchExpiresAt:  dispatch.ExpiresAt,
		TraceID:            payload.TraceID,
		TenantID:           payload.TenantID,
		AgentID:            payload.AgentID,
		Room:               payload.Room,
		LiveKitURL:         p.rooms.URL(),
		TwilioCallSID:      payload.TwilioCallSID,
		ProcessingAttempts: ev.ProcessingAttempts,
	})
	if err != nil {
		p.failHandoff(ctx, ev, payload.TraceID, fmt.Errorf("append handoff_dispatched: %w", err))
		return
	}

	if err := p.store.MarkEventProcessed(ctx, ev.ID); err != nil {
		log.Error("Failed to finalize handoff event", "error", err)
		return
	}
	p.metrics.EventsProcessed.WithLabelValues(models.EventHandoffRequested, "processed").Inc()
	log.Info("Handoff dispatched", "dispatch_id", dispatch.ID)
}

// finalizeInvalidHandoff dead-letters an event whose payload can never
// become valid; retrying would fail identically.
func (p *Pool) finalizeInvalidHandoff(ctx context.Context, ev *models.CallEvent, reason string) {
	slog.Warn("Invalid handoff payload", "event_id", ev.ID, "call_id", ev.CallID, "reason", reason)
	if _, err := p.store.AppendEvent(ctx, ev.CallID, models.EventHandoffInvalidPayload, map[string]string{
		"reason": reason,
	}); err != nil {
		slog.Error("Failed to append handoff_invalid_payload", "event_id", ev.ID, "error", err)
	}
	if err := p.store.MarkEventFailed(ctx, ev.ID, reason, true); err != nil {
		slog.Error("Failed to finalize invalid handoff event", "event_id", ev.ID, "error", err)
	}
	p.metrics.EventsProcessed.WithLabelValues(models.EventHandoffRequested, "finalized_failed").Inc()
}

// failHandoff records a transient failure. The event stays claimable
// until processing_attempts reaches the cap, then it is finalized.
func (p *Pool) failHandoff(ctx context.Context, ev *models.CallEvent, traceID string, cause error) {
	finalize := ev.ProcessingAttempts >= p.cfg.MaxEventAttempts
	slog.Error("Handoff attempt failed",
		"event_id", ev.ID, "call_id", ev.CallID, "trace_id", traceID,
		"attempt", ev.ProcessingAttempts, "finalize", finalize, "error", cause)

	if _, err := p.store.AppendEvent(ctx, ev.CallID, models.EventHandoffFailed, models.HandoffFailedPayload{
		TraceID:   traceID,
		Error:     cause.Error(),
		Attempts:  ev.ProcessingAttempts,
		WillRetry: !finalize,
	}); err != nil {
		slog.Error("Failed to append handoff_failed", "event_id", ev.ID, "error", err)
	}
	if err := p.store.MarkEventFailed(ctx, ev.ID, cause.Error(), finalize); err != nil {
		slog.Error("Failed to mark handoff event failed", "event_id", ev.ID, "error", err)
	}
	result := "retried"
	if finalize {
		result = "finalized_failed"
	}
	p.metrics.EventsProcessed.WithLabelValues(models.EventHandoffRequested, result).Inc()
}
