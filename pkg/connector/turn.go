package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/vocero-ai/vocero/pkg/config"
	"github.com/vocero-ai/vocero/pkg/llm"
	"github.com/vocero-ai/vocero/pkg/models"
	"github.com/vocero-ai/vocero/pkg/session"
	"github.com/vocero-ai/vocero/pkg/store"
	"github.com/vocero-ai/vocero/pkg/stt"
	"github.com/vocero-ai/vocero/pkg/tools"
	"github.com/vocero-ai/vocero/pkg/voice"
)

// Turn modes reported in the user-turn response.
const (
	ModeToolCommand = "tool_command"
	ModeLLMToolCall = "llm_tool_call"
	ModeLLMResponse = "llm_response"
	ModeMock        = "mock"
)

const maxTurnChars = 4000

// errLLMUnavailable maps to 503: no usable language model and mock
// replies are not configured.
var errLLMUnavailable = errors.New("no language model configured")

type userTurnRequest struct {
	Text string `json:"text"`
}

// turnOutcome is the result of one processed turn.
type turnOutcome struct {
	Mode          string                `json:"mode"`
	ResponseText  string                `json:"response_text"`
	ToolExecution *models.ToolExecution `json:"tool_execution,omitempty"`
}

// HandleUserTurn processes one typed user turn synchronously through
// the per-call serializer.
func (s *Server) HandleUserTurn(c *gin.Context) {
	callID := c.Param("callId")
	sess, ok := s.sessions.Get(callID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}

	var req userTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed turn request"})
		return
	}
	if n := utf8.RuneCountInString(req.Text); n < 1 || n > maxTurnChars {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("text must be 1-%d characters", maxTurnChars)})
		return
	}

	var outcome *turnOutcome
	err := s.serializer.Do(c.Request.Context(), callID, func(taskCtx context.Context) error {
		var taskErr error
		outcome, taskErr = s.processTurn(taskCtx, sess, req.Text, 0, 0)
		return taskErr
	})
	if err != nil {
		s.respondTurnError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"call_id":        sess.CallID,
		"trace_id":       sess.TraceID,
		"mode":           outcome.Mode,
		"response_text":  outcome.ResponseText,
		"tool_execution": outcome.ToolExecution,
	})
}

// handleTranscriptTurn runs the same pipeline for a final STT result.
// The spoken response is the only output; errors are logged.
func (s *Server) handleTranscriptTurn(sess *session.Session, ev stt.TranscriptEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err := s.serializer.Do(ctx, sess.CallID, func(taskCtx context.Context) error {
		_, taskErr := s.processTurn(taskCtx, sess, ev.Text, int64(ev.DurationMs), ev.Confidence)
		return taskErr
	})
	if err != nil {
		slog.Warn("Voice turn failed", "call_id", sess.CallID, "error", err)
		var syntaxErr *tools.CommandSyntaxError
		if errors.As(err, &syntaxErr) {
			_ = s.speakAndRecord(ctx, sess, syntaxErr.Hint)
		}
	}
}

// processTurn is the shared turn pipeline: explicit command first, then
// implicit tool choice, then a plain completion. The caller utterance
// is persisted before any response is produced.
func (s *Server) processTurn(ctx context.Context, sess *session.Session, text string, durationMs int64, confidence float64) (*turnOutcome, error) {
	started := time.Now()
	defer func() {
		s.metrics.TurnDuration.Observe(time.Since(started).Seconds())
	}()

	if _, err := s.store.InsertUtterance(ctx, store.InsertUtteranceInput{
		CallID:     sess.CallID,
		Speaker:    models.SpeakerCaller,
		Text:       text,
		DurationMs: durationMs,
		Confidence: confidence,
	}); err != nil {
		slog.Error("Caller utterance insert failed", "call_id", sess.CallID, "error", err)
	}

	cmd, err := tools.ParseCommand(s.cfg.Tools.CommandPrefix, text)
	if err != nil {
		return nil, err
	}
	if cmd != nil {
		return s.executeToolTurn(ctx, sess, text, ModeToolCommand, cmd.Name, cmd.Input)
	}

	switch s.llm.Provider() {
	case config.LLMProviderOpenAI:
		if s.cfg.Tools.LLMToolCallsEnabled {
			return s.implicitTurn(ctx, sess, text)
		}
		return s.completionTurn(ctx, sess, text, ModeLLMResponse)
	case config.LLMProviderMock:
		return s.completionTurn(ctx, sess, text, ModeMock)
	default:
		return nil, errLLMUnavailable
	}
}

// implicitTurn lets the model pick between answering and calling one of
// the agent's tools.
func (s *Server) implicitTurn(ctx context.Context, sess *session.Session, text string) (*turnOutcome, error) {
	available, err := s.store.ListToolsForAgent(ctx, sess.TenantID, sess.AgentID,
		s.cfg.Tools.RequireAgentToolMapping)
	if err != nil {
		slog.Error("Tool catalog lookup failed", "call_id", sess.CallID, "error", err)
		return s.completionTurn(ctx, sess, text, ModeLLMResponse)
	}

	decision := tools.ChooseAction(ctx, s.llm, sess.SystemPrompt, available, text)
	if decision.Type == tools.DecisionToolCall {
		return s.executeToolTurn(ctx, sess, text, ModeLLMToolCall, decision.ToolName, decision.InputJSON)
	}
	if decision.Text != "" {
		if err := s.speakAndRecord(ctx, sess, decision.Text); err != nil {
			return nil, err
		}
		sess.AppendTurn(text, decision.Text)
		return &turnOutcome{Mode: ModeLLMResponse, ResponseText: decision.Text}, nil
	}
	return s.completionTurn(ctx, sess, text, ModeLLMResponse)
}

// completionTurn answers with a plain chat completion.
func (s *Server) completionTurn(ctx context.Context, sess *session.Session, text, mode string) (*turnOutcome, error) {
	messages := append(sess.History(), llm.Message{Role: llm.RoleUser, Content: text})
	started := time.Now()
	response, err := s.llm.Complete(ctx, llm.Request{
		System:   sess.SystemPrompt,
		Messages: messages,
	})
	s.metrics.LLMRequestDuration.WithLabelValues(s.llm.Provider()).Observe(time.Since(started).Seconds())
	if err != nil {
		s.metrics.LLMRequests.WithLabelValues(s.llm.Provider(), "error").Inc()
		return nil, fmt.Errorf("turn completion: %w", err)
	}
	s.metrics.LLMRequests.WithLabelValues(s.llm.Provider(), "success").Inc()

	if err := s.speakAndRecord(ctx, sess, response); err != nil {
		return nil, err
	}
	sess.AppendTurn(text, response)
	return &turnOutcome{Mode: mode, ResponseText: response}, nil
}

// executeToolTurn runs the gateway and speaks the outcome.
func (s *Server) executeToolTurn(ctx context.Context, sess *session.Session, userText, mode, toolName string, input []byte) (*turnOutcome, error) {
	result, err := s.gateway.Execute(ctx, tools.ExecuteInput{
		CallID:   sess.CallID,
		TenantID: sess.TenantID,
		AgentID:  sess.AgentID,
		ToolName: toolName,
		Input:    input,
	})
	if err != nil {
		return nil, err
	}

	speech := tools.SuccessSpeech(toolName)
	if !result.Succeeded() {
		speech = tools.FailureSpeech(toolName, result.ErrorCode)
	}
	if err := s.speakAndRecord(ctx, sess, speech); err != nil {
		return nil, err
	}
	sess.AppendTurn(userText, speech)
	return &turnOutcome{
		Mode:          mode,
		ResponseText:  speech,
		ToolExecution: result.Execution,
	}, nil
}

// speakAndRecord plays the response into the room (when a media session
// is live) and persists the agent utterance either way.
func (s *Server) speakAndRecord(ctx context.Context, sess *session.Session, text string) error {
	var durationMs int64
	packet, err := s.voice.Speak(ctx, sess.CallID, text)
	switch {
	case err == nil:
		durationMs = int64(packet.DurationMs)
	case errors.Is(err, voice.ErrSessionNotFound):
		// Text-only session (voice disabled); the utterance still lands
		// on the timeline with an estimated duration.
	default:
		return fmt.Errorf("speak response: %w", err)
	}

	if _, err := s.store.InsertUtterance(ctx, store.InsertUtteranceInput{
		CallID:     sess.CallID,
		Speaker:    models.SpeakerAgent,
		Text:       text,
		DurationMs: durationMs,
	}); err != nil {
		slog.Error("Agent utterance insert failed", "call_id", sess.CallID, "error", err)
	}
	return nil
}

// respondTurnError maps turn pipeline errors onto the HTTP contract.
func (s *Server) respondTurnError(c *gin.Context, err error) {
	var syntaxErr *tools.CommandSyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "tool_command_syntax", "hint": syntaxErr.Hint})
	case errors.Is(err, tools.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "tool_rate_limited"})
	case errors.Is(err, tools.ErrToolNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "tool_not_found"})
	case errors.Is(err, tools.ErrToolForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "tool_forbidden"})
	case errors.Is(err, errLLMUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "llm_unavailable"})
	default:
		slog.Error("Turn processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
