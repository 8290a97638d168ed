package models

import "time"

// LaunchJobStatus is the lifecycle state of a runtime launch job.
type LaunchJobStatus string

const (
	LaunchJobPending    LaunchJobStatus = "pending"
	LaunchJobProcessing LaunchJobStatus = "processing"
	LaunchJobFailed     LaunchJobStatus = "failed"
	LaunchJobSucceeded  LaunchJobStatus = "succeeded"
)

// RuntimeLaunchJob carries everything the launcher needs to boot a
// connector session, keyed uniquely by dispatch_id. Upserting for an
// existing dispatch resets the job to pending with attempts=0.
// `attempts` (not the event log's processing_attempts) governs this
// loop's retry budget.
type RuntimeLaunchJob struct {
	ID            string          `json:"id"`
	DispatchID    string          `json:"dispatch_id"`
	CallID        string          `json:"call_id"`
	TenantID      string          `json:"tenant_id"`
	AgentID       string          `json:"agent_id"`
	TraceID       string          `json:"trace_id"`
	Room          string          `json:"room"`
	TwilioCallSID string          `json:"twilio_call_sid"`
	LiveKitURL    string          `json:"livekit_url"`
	JoinToken     string          `json:"-"`
	Status        LaunchJobStatus `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     *string         `json:"last_error,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
