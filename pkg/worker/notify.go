package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vocero-ai/vocero/pkg/store"
)

// runNotifyListener holds a dedicated LISTEN connection and nudges the
// poll loops whenever an event is appended. Best effort: if the
// connection drops, loops fall back to plain polling while the listener
// reconnects, so nothing is ever lost.
func (p *Pool) runNotifyListener(ctx context.Context) {
	log := slog.With("loop", "notify-listener", "pod_id", p.podID)
	log.Info("Notify listener started", "channel", store.NotifyChannel)

	// Cancel the blocking WaitForNotification on shutdown.
	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-listenCtx.Done():
		}
	}()

	for {
		if listenCtx.Err() != nil {
			log.Info("Notify listener shutting down")
			return
		}
		if err := p.listenOnce(listenCtx, log); err != nil && listenCtx.Err() == nil {
			log.Warn("Listener connection lost, reconnecting", "error", err)
			select {
			case <-listenCtx.Done():
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (p *Pool) listenOnce(ctx context.Context, log *slog.Logger) error {
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+store.NotifyChannel); err != nil {
		return err
	}
	log.Debug("Listening for event notifications")

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return err
		}
		p.nudge()
	}
}
