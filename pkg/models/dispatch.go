package models

import "time"

// DispatchStatus is the lifecycle state of a runtime dispatch.
type DispatchStatus string

const (
	DispatchPending DispatchStatus = "pending"
	DispatchClaimed DispatchStatus = "claimed"
	DispatchExpired DispatchStatus = "expired"
)

// RuntimeDispatch is a one-time join-token envelope keyed by
// (call_id, trace_id). While pending and unexpired the row holds a
// non-empty join token; claiming returns the token and erases it in the
// same transaction. Expired rows are inert.
type RuntimeDispatch struct {
	ID            string         `json:"id"`
	CallID        string         `json:"call_id"`
	TraceID       string         `json:"trace_id"`
	TenantID      string         `json:"tenant_id"`
	AgentID       string         `json:"agent_id"`
	TwilioCallSID string         `json:"twilio_call_sid"`
	Room          string         `json:"room"`
	JoinToken     string         `json:"-"`
	Status        DispatchStatus `json:"status"`
	ExpiresAt     time.Time      `json:"expires_at"`
	ClaimedAt     *time.Time     `json:"claimed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
