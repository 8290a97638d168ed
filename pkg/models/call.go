// Package models defines the domain types shared across vocero packages.
package models

import "time"

// Call outcome values. A call without an outcome is still in progress
// (or ended without a recognized disposition).
const (
	OutcomeResolved = "resolved"
	OutcomeHandoff  = "handoff"
)

// Call is one telephone call accepted by the carrier webhook.
// Created at webhook intake, closed by the ingestion loop when a
// call_ended event arrives. Rows under legal hold are never deleted.
type Call struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	AgentID       string     `json:"agent_id"`
	TwilioCallSID string     `json:"twilio_call_sid"`
	Room          string     `json:"room"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Outcome       *string    `json:"outcome,omitempty"`
	HandoffReason *string    `json:"handoff_reason,omitempty"`
	LegalHold     bool       `json:"legal_hold"`
}

// CallMetrics is the per-call reporting row written when a call ends.
// Consumed by the external KPI rollup job.
type CallMetrics struct {
	CallID           string `json:"call_id"`
	DurationMs       int64  `json:"duration_ms"`
	CallerUtterances int    `json:"caller_utterances"`
	AgentUtterances  int    `json:"agent_utterances"`
	ToolCalls        int    `json:"tool_calls"`
}
