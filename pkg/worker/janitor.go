package worker

import (
	"context"
	"log/slog"
	"time"
)

// runJanitor periodically sweeps expired pending dispatches and
// requeues launch jobs stuck in processing. Idempotent across
// replicas: both sweeps are plain conditional updates.
func (p *Pool) runJanitor(ctx context.Context) {
	log := slog.With("loop", "janitor", "pod_id", p.podID)
	log.Info("Janitor started", "interval", p.cfg.JanitorInterval)

	ticker := time.NewTicker(p.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			log.Info("Janitor shutting down")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.store.ExpirePendingDispatches(ctx); err != nil {
				log.Error("Dispatch sweep failed", "error", err)
			} else if n > 0 {
				log.Info("Expired stale dispatches", "count", n)
			}

			if n, err := p.store.RequeueStalledLaunchJobs(ctx, int(p.cfg.StallThreshold.Seconds())); err != nil {
				log.Error("Launch job requeue failed", "error", err)
			} else if n > 0 {
				log.Warn("Requeued stalled launch jobs", "count", n)
			}

			if backlog, err := p.store.CountEventBacklog(ctx); err != nil {
				log.Error("Backlog count failed", "error", err)
			} else {
				p.metrics.SetEventBacklog(backlog)
			}
		}
	}
}
