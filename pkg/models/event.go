package models

import (
	"encoding/json"
	"time"
)

// Call event types moved through the event log. Same call_id + type is
// delivered in created_at order; payloads never carry join tokens.
const (
	EventHandoffRequested       = "handoff_requested"
	EventHandoffDispatched      = "handoff_dispatched"
	EventHandoffFailed          = "handoff_failed"
	EventHandoffInvalidPayload  = "handoff_invalid_payload"
	EventDispatchClaimed        = "dispatch_claimed"
	EventBootstrapReady         = "agent_session_bootstrap_ready"
	EventLaunchSucceeded        = "agent_session_launch_succeeded"
	EventLaunchFailed           = "agent_session_launch_failed"
	EventSessionStarted         = "agent_session_started"
	EventCallEnded              = "call_ended"
	EventToolExecutionSucceeded = "tool_execution_succeeded"
	EventToolExecutionFailed    = "tool_execution_failed"
)

// CallEvent is one row of the durable event log. Rows with processed_at
// unset form the backlog for their type; claiming increments
// processing_attempts, which the worker loops use to decide finalization.
type CallEvent struct {
	ID                 int64           `json:"id"`
	CallID             string          `json:"call_id"`
	Type               string          `json:"type"`
	Payload            json.RawMessage `json:"payload"`
	ProcessingAttempts int             `json:"processing_attempts"`
	ProcessedAt        *time.Time      `json:"processed_at,omitempty"`
	LastError          *string         `json:"last_error,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// HandoffRequestedPayload is appended by the carrier webhook. All fields
// are required; the handoff worker finalizes events that fail validation.
type HandoffRequestedPayload struct {
	TraceID       string `json:"trace_id"`
	TenantID      string `json:"tenant_id"`
	AgentID       string `json:"agent_id"`
	TwilioCallSID string `json:"twilio_call_sid"`
	Room          string `json:"room"`
	From          string `json:"from"`
	To            string `json:"to"`
}

// Validate reports the first missing field, if any.
func (p *HandoffRequestedPayload) Validate() *ValidationError {
	fields := []struct {
		name  string
		value string
	}{
		{"trace_id", p.TraceID},
		{"tenant_id", p.TenantID},
		{"agent_id", p.AgentID},
		{"twilio_call_sid", p.TwilioCallSID},
		{"room", p.Room},
		{"from", p.From},
		{"to", p.To},
	}
	for _, f := range fields {
		if f.value == "" {
			return &ValidationError{Field: f.name, Message: "field is required"}
		}
	}
	return nil
}

// HandoffDispatchedPayload announces a minted dispatch. It carries the
// dispatch id and expiry, never the join token itself.
type HandoffDispatchedPayload struct {
	DispatchID         string    `json:"dispatch_id"`
	DispatchExpiresAt  time.Time `json:"dispatch_expires_at"`
	TraceID            string    `json:"trace_id"`
	TenantID           string    `json:"tenant_id"`
	AgentID            string    `json:"agent_id"`
	Room               string    `json:"room"`
	LiveKitURL         string    `json:"livekit_url"`
	TwilioCallSID      string    `json:"twilio_call_sid"`
	ProcessingAttempts int       `json:"processing_attempts,omitempty"`
}

// HandoffFailedPayload records a failed handoff attempt.
type HandoffFailedPayload struct {
	TraceID   string `json:"trace_id,omitempty"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
	WillRetry bool   `json:"will_retry"`
}

// DispatchClaimedPayload announces a successful one-shot claim.
type DispatchClaimedPayload struct {
	DispatchID string    `json:"dispatch_id"`
	TraceID    string    `json:"trace_id"`
	TenantID   string    `json:"tenant_id"`
	AgentID    string    `json:"agent_id"`
	Room       string    `json:"room"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

// BootstrapReadyPayload announces a launch job ready for the launcher.
type BootstrapReadyPayload struct {
	DispatchID string `json:"dispatch_id"`
	LaunchID   string `json:"launch_id"`
	TraceID    string `json:"trace_id"`
	Room       string `json:"room"`
	LiveKitURL string `json:"livekit_url"`
}

// LaunchResultPayload records a launcher attempt outcome.
type LaunchResultPayload struct {
	LaunchID  string `json:"launch_id"`
	TraceID   string `json:"trace_id"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
	WillRetry bool   `json:"will_retry,omitempty"`
}

// SessionStartedPayload is appended by the connector once the voice
// session is live in the room.
type SessionStartedPayload struct {
	TraceID   string `json:"trace_id"`
	Room      string `json:"room"`
	Transport string `json:"transport"`
}

// CallEndedPayload closes a call. The ingestion loop copies outcome and
// reason onto the call row and writes the call_metrics row.
type CallEndedPayload struct {
	Outcome       string `json:"outcome,omitempty"`
	HandoffReason string `json:"handoff_reason,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
}

// ToolExecutionPayload records a tool call outcome in the event log.
type ToolExecutionPayload struct {
	ToolExecutionID string `json:"tool_execution_id"`
	ToolName        string `json:"tool_name"`
	Status          string `json:"status"`
	LatencyMs       int64  `json:"latency_ms"`
	ErrorCode       string `json:"error_code,omitempty"`
}

// EventEnvelope is the small routing payload sent over NOTIFY so pollers
// can wake early. Polling remains authoritative.
type EventEnvelope struct {
	EventID int64  `json:"event_id"`
	CallID  string `json:"call_id"`
	Type    string `json:"type"`
}
