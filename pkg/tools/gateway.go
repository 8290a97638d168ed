package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vocero-ai/vocero/pkg/config"
	"github.com/vocero-ai/vocero/pkg/metrics"
	"github.com/vocero-ai/vocero/pkg/models"
	"github.com/vocero-ai/vocero/pkg/schema"
	"github.com/vocero-ai/vocero/pkg/secrets"
	"github.com/vocero-ai/vocero/pkg/store"
)

// rateLimitWindowSeconds is the sliding window the per-call cap counts
// over.
const rateLimitWindowSeconds = 60

const retryBackoffBase = 200 * time.Millisecond

// ExecuteInput identifies one tool invocation on a live call.
type ExecuteInput struct {
	CallID   string
	TenantID string
	AgentID  string
	ToolName string
	Input    json.RawMessage
}

// Result is the outcome of one execution attempt that produced a
// persisted record. Status mirrors the stored row.
type Result struct {
	Execution *models.ToolExecution
	ToolName  string
	Status    string
	ErrorCode string
	Response  json.RawMessage
}

// Succeeded reports whether the outbound call completed with a 2xx.
func (r *Result) Succeeded() bool {
	return r.Status == models.ToolExecSuccess
}

// Gateway resolves and executes tools. Every invocation that passes
// resolution is recorded, whether or not a request went out.
type Gateway struct {
	store   *store.Store
	cfg     *config.ToolsConfig
	metrics *metrics.Metrics
	client  *http.Client

	// encryptionKey unseals tenant integration secrets; nil means
	// integrations with secrets cannot be used.
	encryptionKey []byte
}

// NewGateway builds the execution gateway.
func NewGateway(st *store.Store, cfg *config.ToolsConfig, m *metrics.Metrics, encryptionKey []byte) *Gateway {
	return &Gateway{
		store:         st,
		cfg:           cfg,
		metrics:       m,
		client:        &http.Client{Timeout: 30 * time.Second},
		encryptionKey: encryptionKey,
	}
}

// Execute runs the full pipeline: rate limit, resolve, validate, build,
// send, record. Pre-resolution failures return sentinel errors with no
// execution row; everything after is recorded and returned as a Result.
func (g *Gateway) Execute(ctx context.Context, in ExecuteInput) (*Result, error) {
	recent, err := g.store.CountRecentToolExecutions(ctx, in.CallID, rateLimitWindowSeconds)
	if err != nil {
		return nil, fmt.Errorf("tool rate check: %w", err)
	}
	if recent >= g.cfg.ToolsPerMinute {
		return nil, ErrRateLimited
	}

	resolved, err := g.resolve(ctx, in)
	if err != nil {
		return nil, err
	}

	log := slog.With("call_id", in.CallID, "tool", in.ToolName)

	if issues := g.validateInput(resolved, in.Input); len(issues) > 0 {
		log.Warn("Tool input failed schema validation", "issues", len(issues))
		return g.record(ctx, in, resolved, recordInput{
			Status:    models.ToolExecError,
			ErrorCode: models.ErrCodeSchemaValidation,
			Response:  issuesJSON(issues),
		})
	}

	rec := g.send(ctx, resolved, in)
	return g.record(ctx, in, resolved, rec)
}

// resolve distinguishes a missing tool from one that exists but is not
// mapped to the agent's published version.
func (g *Gateway) resolve(ctx context.Context, in ExecuteInput) (*models.ResolvedTool, error) {
	resolved, err := g.store.ResolveTool(ctx, store.ResolveToolInput{
		TenantID:            in.TenantID,
		AgentID:             in.AgentID,
		ToolName:            in.ToolName,
		RequireAgentMapping: g.cfg.RequireAgentToolMapping,
	})
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("resolve tool: %w", err)
	}
	if g.cfg.RequireAgentToolMapping {
		if _, probeErr := g.store.ResolveTool(ctx, store.ResolveToolInput{
			TenantID: in.TenantID,
			AgentID:  in.AgentID,
			ToolName: in.ToolName,
		}); probeErr == nil {
			return nil, ErrToolForbidden
		}
	}
	return nil, ErrToolNotFound
}

func (g *Gateway) validateInput(resolved *models.ResolvedTool, input json.RawMessage) []schema.Issue {
	def, err := schema.Parse(resolved.Tool.InputSchema)
	if err != nil {
		return []schema.Issue{{Path: "$", Message: "stored schema is not a valid definition"}}
	}
	var value any
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, &value); err != nil {
		return []schema.Issue{{Path: "$", Message: "input is not valid JSON"}}
	}
	return schema.ValidateValue(def, value)
}

// recordInput is what one send attempt produced.
type recordInput struct {
	Status    string
	ErrorCode string
	Response  json.RawMessage
	LatencyMs int64
}

// send performs the outbound HTTP call with the tool's own timeout and
// retry budget.
func (g *Gateway) send(ctx context.Context, resolved *models.ResolvedTool, in ExecuteInput) recordInput {
	started := time.Now()
	outcome := func(status, code string, resp json.RawMessage) recordInput {
		return recordInput{
			Status:    status,
			ErrorCode: code,
			Response:  resp,
			LatencyMs: time.Since(started).Milliseconds(),
		}
	}

	timeout := time.Duration(resolved.Tool.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= resolved.Tool.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-callCtx.Done():
				return outcome(models.ToolExecTimeout, models.ErrCodeRequestTimeout, nil)
			case <-time.After(backoff):
			}
		}

		req, err := g.buildRequest(callCtx, resolved, in.Input)
		if err != nil {
			return outcome(models.ToolExecError, models.ErrCodeRequestFailed, errorJSON(err))
		}

		resp, err := g.client.Do(req)
		if err != nil {
			if callCtx.Err() != nil {
				return outcome(models.ToolExecTimeout, models.ErrCodeRequestTimeout, nil)
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return outcome(models.ToolExecSuccess, "", bodyJSON(body))
		}
		if resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("endpoint returned status %d", resp.StatusCode)
			continue
		}
		return outcome(models.ToolExecError,
			models.ErrCodeHTTPStatus+"_"+strconv.Itoa(resp.StatusCode), bodyJSON(body))
	}

	if callCtx.Err() != nil {
		return outcome(models.ToolExecTimeout, models.ErrCodeRequestTimeout, nil)
	}
	return outcome(models.ToolExecError, models.ErrCodeRequestFailed, errorJSON(lastErr))
}

// buildRequest shapes the outbound call: GET inputs ride the query
// string (non-primitives JSON-stringified), everything else posts the
// input as the JSON body. Integration auth goes on first, then the
// endpoint's header template scalars overlay it.
func (g *Gateway) buildRequest(ctx context.Context, resolved *models.ResolvedTool, input json.RawMessage) (*http.Request, error) {
	method := strings.ToUpper(resolved.Endpoint.Method)
	if method == "" {
		method = http.MethodPost
	}

	var req *http.Request
	var err error
	if method == http.MethodGet {
		target, qErr := queryURL(resolved.Endpoint.URL, input)
		if qErr != nil {
			return nil, qErr
		}
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	} else {
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		req, err = http.NewRequestWithContext(ctx, method, resolved.Endpoint.URL, bytes.NewReader(input))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}

	if integ := resolved.Integration; integ != nil && integ.AuthType != models.AuthTypeNone {
		secret, err := secrets.Decrypt(g.encryptionKey, integ.AuthSecret)
		if err != nil {
			return nil, fmt.Errorf("unseal integration secret: %w", err)
		}
		switch integ.AuthType {
		case models.AuthTypeBearer:
			req.Header.Set("Authorization", "Bearer "+secret)
		case models.AuthTypeAPIKey:
			header := integ.AuthHeader
			if header == "" {
				header = "X-API-Key"
			}
			req.Header.Set(header, secret)
		}
	}

	if len(resolved.Endpoint.HeaderTemplate) > 0 {
		var tmpl map[string]any
		if err := json.Unmarshal(resolved.Endpoint.HeaderTemplate, &tmpl); err == nil {
			for k, v := range tmpl {
				if s, ok := scalarString(v); ok {
					req.Header.Set(k, s)
				}
			}
		}
	}
	return req, nil
}

func queryURL(base string, input json.RawMessage) (string, error) {
	if len(input) == 0 {
		return base, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return "", fmt.Errorf("query input must be a JSON object: %w", err)
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url: %w", err)
	}
	q := u.Query()
	for k, v := range fields {
		if s, ok := scalarString(v); ok {
			q.Set(k, s)
			continue
		}
		encoded, _ := json.Marshal(v)
		q.Set(k, string(encoded))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

// record persists the execution row, emits metrics, and appends the
// outcome event.
func (g *Gateway) record(ctx context.Context, in ExecuteInput, resolved *models.ResolvedTool, rec recordInput) (*Result, error) {
	exec, err := g.store.InsertToolExecution(ctx, store.InsertToolExecutionInput{
		CallID:    in.CallID,
		ToolID:    resolved.Tool.ID,
		Request:   in.Input,
		Response:  rec.Response,
		Status:    rec.Status,
		LatencyMs: rec.LatencyMs,
		ErrorCode: rec.ErrorCode,
	})
	if err != nil {
		return nil, fmt.Errorf("record tool execution: %w", err)
	}

	g.metrics.ToolExecutions.WithLabelValues(in.ToolName, rec.Status).Inc()
	g.metrics.ToolLatency.WithLabelValues(in.ToolName).Observe(float64(rec.LatencyMs) / 1000)

	eventType := models.EventToolExecutionSucceeded
	if rec.Status != models.ToolExecSuccess {
		eventType = models.EventToolExecutionFailed
	}
	if _, err := g.store.AppendEvent(ctx, in.CallID, eventType, models.ToolExecutionPayload{
		ToolExecutionID: exec.ID,
		ToolName:        in.ToolName,
		Status:          rec.Status,
		LatencyMs:       rec.LatencyMs,
		ErrorCode:       rec.ErrorCode,
	}); err != nil {
		slog.Error("Tool execution event append failed", "call_id", in.CallID, "error", err)
	}

	return &Result{
		Execution: exec,
		ToolName:  in.ToolName,
		Status:    rec.Status,
		ErrorCode: rec.ErrorCode,
		Response:  rec.Response,
	}, nil
}

func issuesJSON(issues []schema.Issue) json.RawMessage {
	encoded, _ := json.Marshal(map[string]any{"validation_issues": issues})
	return encoded
}

func errorJSON(err error) json.RawMessage {
	if err == nil {
		return nil
	}
	encoded, _ := json.Marshal(map[string]string{"error": err.Error()})
	return encoded
}

// bodyJSON stores the endpoint response: JSON bodies verbatim, anything
// else wrapped as a string.
func bodyJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(body) {
		return body
	}
	encoded, _ := json.Marshal(map[string]string{"body": string(body)})
	return encoded
}
