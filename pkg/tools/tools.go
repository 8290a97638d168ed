// Package tools is the tool command layer: it recognizes explicit
// /tool commands, lets the LLM choose a tool implicitly, and executes
// resolved tools against their tenant endpoints with validation, rate
// limiting, and a durable execution record.
package tools

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the gateway before any execution row is
// written.
var (
	// ErrRateLimited means the call hit its per-minute execution cap;
	// no outbound request was made.
	ErrRateLimited = errors.New("tool rate limit exceeded")

	// ErrToolNotFound means no such tool exists for the tenant (or its
	// integration is deactivated).
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolForbidden means the tool exists but is not mapped to the
	// call's published agent version.
	ErrToolForbidden = errors.New("tool not available for this agent")
)

// SuccessSpeech is what the agent says after a successful execution.
func SuccessSpeech(toolName string) string {
	return fmt.Sprintf("He ejecutado la herramienta %s.", toolName)
}

// FailureSpeech is what the agent says when an execution fails. The
// error code is spoken so callers can report something actionable.
func FailureSpeech(toolName, errorCode string) string {
	return fmt.Sprintf("No pude ejecutar la herramienta %s. Error: %s", toolName, errorCode)
}
