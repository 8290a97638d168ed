package models

import (
	"encoding/json"
	"time"
)

// Tool execution statuses.
const (
	ToolExecSuccess = "success"
	ToolExecError   = "error"
	ToolExecTimeout = "timeout"
)

// Tool execution error codes surfaced to callers and stored on the row.
const (
	ErrCodeSchemaValidation = "schema_validation_failed"
	ErrCodeRequestTimeout   = "request_timeout"
	ErrCodeRequestFailed    = "request_failed"
	ErrCodeHTTPStatus       = "http_status"
)

// ToolExecution is the persisted record of one tool invocation, written
// whether or not an outbound request was made.
type ToolExecution struct {
	ID        string          `json:"id"`
	CallID    string          `json:"call_id"`
	ToolID    string          `json:"tool_id"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response,omitempty"`
	Status    string          `json:"status"`
	LatencyMs int64           `json:"latency_ms"`
	ErrorCode *string         `json:"error_code,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
