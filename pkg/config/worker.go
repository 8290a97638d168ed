package config

import "time"

// WorkerConfig controls the worker pool: the handoff, claimer, launcher,
// and ingestion loops plus the janitor.
type WorkerConfig struct {
	// HandoffWorkers is the number of goroutines claiming handoff_requested events.
	HandoffWorkers int `yaml:"handoff_workers"`

	// ClaimerWorkers is the number of goroutines claiming handoff_dispatched events.
	ClaimerWorkers int `yaml:"claimer_workers"`

	// LauncherWorkers is the number of goroutines delivering launch jobs.
	LauncherWorkers int `yaml:"launcher_workers"`

	// IngestionWorkers is the number of goroutines processing call_ended events.
	IngestionWorkers int `yaml:"ingestion_workers"`

	// BatchSize is the maximum rows claimed per poll iteration.
	BatchSize int `yaml:"batch_size"`

	// PollInterval is the sleep between empty polls.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter randomizes the poll interval by ±jitter to
	// de-synchronize replicas.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// MaxEventAttempts finalizes an event after this many claims
	// (processing_attempts) without success.
	MaxEventAttempts int `yaml:"max_event_attempts"`

	// MaxLaunchAttempts stops re-claiming a launch job after this many
	// delivery attempts.
	MaxLaunchAttempts int `yaml:"max_launch_attempts"`

	// DispatchTTL bounds how long a minted join token stays claimable.
	DispatchTTL time.Duration `yaml:"dispatch_ttl"`

	// ClaimBaseURL is the control-plane base URL the claimer POSTs
	// /v1/dispatches/:id/claim against.
	ClaimBaseURL string `yaml:"claim_base_url"`

	// LaunchURL is the connector endpoint launch jobs are POSTed to.
	LaunchURL string `yaml:"launch_url"`

	// JanitorInterval is the sweep period for stalled jobs and expired
	// dispatches.
	JanitorInterval time.Duration `yaml:"janitor_interval"`

	// StallThreshold requeues launch jobs stuck in processing longer
	// than this (crashed replica).
	StallThreshold time.Duration `yaml:"stall_threshold"`

	// GracefulShutdownTimeout bounds the wait for in-flight batches on
	// shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// NotifyWakeups enables the LISTEN vocero_events connection that
	// nudges pollers early. Polling stays authoritative either way.
	NotifyWakeups bool `yaml:"notify_wakeups"`
}

// DefaultWorkerConfig returns the built-in worker pool configuration.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		HandoffWorkers:          2,
		ClaimerWorkers:          2,
		LauncherWorkers:         2,
		IngestionWorkers:        1,
		BatchSize:               10,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      250 * time.Millisecond,
		MaxEventAttempts:        5,
		MaxLaunchAttempts:       5,
		DispatchTTL:             10 * time.Minute,
		ClaimBaseURL:            "http://localhost:8080",
		LaunchURL:               "http://localhost:8091/internal/launch",
		JanitorInterval:         1 * time.Minute,
		StallThreshold:          5 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		NotifyWakeups:           true,
	}
}
