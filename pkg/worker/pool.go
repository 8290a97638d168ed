// Package worker runs the background loops that move calls through the
// event log: handoff (room + dispatch minting), claimer (one-shot token
// claim), launcher (connector delivery), ingestion (call closure), and
// the janitor. Every loop polls with skip-locked claims, so any number
// of replicas can run the pool concurrently.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vocero-ai/vocero/pkg/auth"
	"github.com/vocero-ai/vocero/pkg/config"
	"github.com/vocero-ai/vocero/pkg/metrics"
	"github.com/vocero-ai/vocero/pkg/rooms"
	"github.com/vocero-ai/vocero/pkg/store"
)

// Pool owns the loop goroutines for one worker process.
type Pool struct {
	podID   string
	store   *store.Store
	cfg     *config.WorkerConfig
	rooms   rooms.Service
	tokens  *auth.ServiceTokenService
	metrics *metrics.Metrics
	client  *http.Client

	// dsn is used by the optional notify listener for its dedicated
	// connection. Empty disables the listener regardless of config.
	dsn string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	// wake is nudged by the notify listener so idle loops poll early.
	wake chan struct{}
}

// NewPool wires a worker pool. The pool does not own the store's
// connection pool; the caller closes it after Stop returns.
func NewPool(podID string, st *store.Store, cfg *config.WorkerConfig, roomSvc rooms.Service, tokens *auth.ServiceTokenService, m *metrics.Metrics, dsn string) *Pool {
	return &Pool{
		podID:   podID,
		store:   st,
		cfg:     cfg,
		rooms:   roomSvc,
		tokens:  tokens,
		metrics: m,
		client:  &http.Client{Timeout: 15 * time.Second},
		dsn:     dsn,
		stopCh:  make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Start runs startup recovery and spawns all loops. Safe to call once;
// duplicate calls are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	// Startup recovery: a replica that crashed mid-delivery leaves jobs
	// stuck in processing and dispatches past expiry.
	if n, err := p.store.RequeueStalledLaunchJobs(ctx, int(p.cfg.StallThreshold.Seconds())); err != nil {
		slog.Error("Startup launch job recovery failed", "error", err)
	} else if n > 0 {
		slog.Info("Requeued stalled launch jobs at startup", "count", n)
	}
	if n, err := p.store.ExpirePendingDispatches(ctx); err != nil {
		slog.Error("Startup dispatch sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("Expired stale dispatches at startup", "count", n)
	}

	slog.Info("Starting worker pool",
		"pod_id", p.podID,
		"handoff_workers", p.cfg.HandoffWorkers,
		"claimer_workers", p.cfg.ClaimerWorkers,
		"launcher_workers", p.cfg.LauncherWorkers,
		"ingestion_workers", p.cfg.IngestionWorkers)

	p.spawnLoops(ctx, "handoff", p.cfg.HandoffWorkers, p.processHandoffBatch)
	p.spawnLoops(ctx, "claimer", p.cfg.ClaimerWorkers, p.processClaimerBatch)
	p.spawnLoops(ctx, "launcher", p.cfg.LauncherWorkers, p.processLauncherBatch)
	p.spawnLoops(ctx, "ingestion", p.cfg.IngestionWorkers, p.processIngestionBatch)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runJanitor(ctx)
	}()

	if p.cfg.NotifyWakeups && p.dsn != "" {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runNotifyListener(ctx)
		}()
	}

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all loops and waits for in-flight batches, bounded by
// the graceful shutdown timeout.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool gracefully")
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(p.cfg.GracefulShutdownTimeout):
		slog.Warn("Worker pool shutdown timed out with batches in flight",
			"timeout", p.cfg.GracefulShutdownTimeout)
	}
}

func (p *Pool) spawnLoops(ctx context.Context, name string, count int, batch func(context.Context) (int, error)) {
	for i := 0; i < count; i++ {
		loopID := fmt.Sprintf("%s-%s-%d", p.podID, name, i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runLoop(ctx, loopID, name, batch)
		}()
	}
}

// runLoop drives one claim-process-finalize cycle until stopped. An
// empty batch sleeps the jittered poll interval; errors back off
// briefly. Panics in a batch are contained to that iteration.
func (p *Pool) runLoop(ctx context.Context, loopID, name string, batch func(context.Context) (int, error)) {
	log := slog.With("loop", name, "loop_id", loopID)
	log.Info("Loop started")

	for {
		select {
		case <-p.stopCh:
			log.Info("Loop shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, loop shutting down")
			return
		default:
			n, err := p.safeBatch(ctx, batch)
			if err != nil {
				log.Error("Batch failed", "error", err)
				p.sleep(time.Second)
				continue
			}
			if n == 0 {
				p.sleep(p.pollInterval())
			}
		}
	}
}

func (p *Pool) safeBatch(ctx context.Context, batch func(context.Context) (int, error)) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return batch(ctx)
}

// sleep waits for the duration, a stop signal, or a notify nudge.
func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-p.wake:
	case <-time.After(d):
	}
}

// nudge wakes one sleeping loop without blocking.
func (p *Pool) nudge() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// pollInterval returns the poll duration with jitter.
func (p *Pool) pollInterval() time.Duration {
	base := p.cfg.PollInterval
	jitter := p.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}
