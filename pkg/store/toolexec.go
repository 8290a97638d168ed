package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vocero-ai/vocero/pkg/models"
)

// InsertToolExecutionInput records one tool invocation, whether or not
// the outbound request was made.
type InsertToolExecutionInput struct {
	CallID    string
	ToolID    string
	Request   json.RawMessage
	Response  json.RawMessage
	Status    string
	LatencyMs int64
	ErrorCode string
}

// InsertToolExecution persists the invocation record.
func (s *Store) InsertToolExecution(ctx context.Context, in InsertToolExecutionInput) (*models.ToolExecution, error) {
	request := in.Request
	if len(request) == 0 {
		request = json.RawMessage(`{}`)
	}
	var errorCode *string
	if in.ErrorCode != "" {
		errorCode = &in.ErrorCode
	}

	var te models.ToolExecution
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tool_executions (id, call_id, tool_id, request, response, status, latency_ms, error_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, call_id, tool_id, request, response, status, latency_ms, error_code, created_at`,
		uuid.New().String(), in.CallID, in.ToolID, request, in.Response,
		in.Status, in.LatencyMs, errorCode)
	if err := scanToolExecution(row, &te); err != nil {
		return nil, fmt.Errorf("insert tool execution: %w", err)
	}
	return &te, nil
}

// CountRecentToolExecutions counts invocations on a call within the
// trailing window. The tool gateway rate limit reads this.
func (s *Store) CountRecentToolExecutions(ctx context.Context, callID string, windowSeconds int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM tool_executions
		WHERE call_id = $1
		  AND created_at > now() - make_interval(secs => $2)`,
		callID, windowSeconds).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent tool executions: %w", err)
	}
	return n, nil
}

// ListToolExecutions returns a call's invocations in execution order.
func (s *Store) ListToolExecutions(ctx context.Context, callID string) ([]models.ToolExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, call_id, tool_id, request, response, status, latency_ms, error_code, created_at
		FROM tool_executions
		WHERE call_id = $1
		ORDER BY created_at ASC`, callID)
	if err != nil {
		return nil, fmt.Errorf("list tool executions: %w", err)
	}
	defer rows.Close()

	var execs []models.ToolExecution
	for rows.Next() {
		var te models.ToolExecution
		if err := scanToolExecution(rows, &te); err != nil {
			return nil, fmt.Errorf("scan tool execution: %w", err)
		}
		execs = append(execs, te)
	}
	return execs, rows.Err()
}

func scanToolExecution(row pgx.Row, te *models.ToolExecution) error {
	return row.Scan(&te.ID, &te.CallID, &te.ToolID, &te.Request, &te.Response,
		&te.Status, &te.LatencyMs, &te.ErrorCode, &te.CreatedAt)
}
