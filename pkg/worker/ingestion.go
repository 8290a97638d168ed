package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vocero-ai/vocero/pkg/models"
	"github.com/vocero-ai/vocero/pkg/store"
)

// processIngestionBatch closes calls: copy the call_ended outcome onto
// the call row and write the call_metrics reporting row.
func (p *Pool) processIngestionBatch(ctx context.Context) (int, error) {
	events, err := p.store.ClaimEvents(ctx, models.EventCallEnded, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim call_ended events: %w", err)
	}

	for i := range events {
		p.processCallEnded(ctx, &events[i])
	}
	return len(events), nil
}

func (p *Pool) processCallEnded(ctx context.Context, ev *models.CallEvent) {
	log := slog.With("event_id", ev.ID, "call_id", ev.CallID)

	var payload models.CallEndedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		log.Warn("Malformed call_ended payload", "error", err)
		p.finalizeEvent(ctx, ev, models.EventCallEnded, fmt.Sprintf("malformed payload: %v", err))
		return
	}

	if _, err := p.store.EndCall(ctx, ev.CallID, payload.Outcome, payload.HandoffReason); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Event for a call that was never created here; nothing to
			// close, nothing to gain by retrying.
			p.finalizeEvent(ctx, ev, models.EventCallEnded, "call not found")
			return
		}
		p.retryEvent(ctx, ev, models.EventCallEnded, fmt.Errorf("end call: %w", err))
		return
	}

	if err := p.store.MarkEventProcessed(ctx, ev.ID); err != nil {
		log.Error("Failed to finalize call_ended event", "error", err)
		return
	}
	p.metrics.EventsProcessed.WithLabelValues(models.EventCallEnded, "processed").Inc()
	log.Info("Call closed", "outcome", payload.Outcome)
}
