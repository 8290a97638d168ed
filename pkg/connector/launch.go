package connector

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vocero-ai/vocero/pkg/models"
	"github.com/vocero-ai/vocero/pkg/session"
	"github.com/vocero-ai/vocero/pkg/stt"
	"github.com/vocero-ai/vocero/pkg/voice"
)

// launchRequest is what the worker's launcher delivers. The join token
// lives only in this request and the voice transport; it is never
// persisted here.
type launchRequest struct {
	CallID        string `json:"call_id"`
	TenantID      string `json:"tenant_id"`
	AgentID       string `json:"agent_id"`
	TraceID       string `json:"trace_id"`
	Room          string `json:"room"`
	TwilioCallSID string `json:"twilio_call_sid"`
	LiveKitURL    string `json:"livekit_url"`
	JoinToken     string `json:"agent_join_token"`
}

func (r *launchRequest) validate() string {
	switch {
	case r.CallID == "":
		return "call_id is required"
	case r.TenantID == "":
		return "tenant_id is required"
	case r.AgentID == "":
		return "agent_id is required"
	case r.TraceID == "":
		return "trace_id is required"
	case r.Room == "":
		return "room is required"
	case r.LiveKitURL == "":
		return "livekit_url is required"
	case r.JoinToken == "":
		return "agent_join_token is required"
	}
	return ""
}

// HandleLaunch starts the voice session for a claimed dispatch. The
// launcher retries on non-2xx, so a duplicate delivery must succeed
// without starting a second session.
func (s *Server) HandleLaunch(c *gin.Context) {
	var req launchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed launch request"})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	log := slog.With("call_id", req.CallID, "trace_id", req.TraceID)

	sess := &session.Session{
		CallID:        req.CallID,
		TenantID:      req.TenantID,
		AgentID:       req.AgentID,
		TraceID:       req.TraceID,
		Room:          req.Room,
		TwilioCallSID: req.TwilioCallSID,
		StartedAt:     time.Now(),
	}
	s.loadAgentProfile(c.Request.Context(), sess)

	if !s.sessions.Put(sess) {
		log.Info("Launch for already-running session")
		c.JSON(http.StatusOK, gin.H{"call_id": req.CallID, "status": voice.StatusAlreadyStarted})
		return
	}

	descriptor, err := s.voice.Start(c.Request.Context(), voice.Input{
		CallID:        req.CallID,
		TenantID:      req.TenantID,
		AgentID:       req.AgentID,
		TraceID:       req.TraceID,
		Room:          req.Room,
		TwilioCallSID: req.TwilioCallSID,
		LiveKitURL:    req.LiveKitURL,
		JoinToken:     req.JoinToken,
	}, s.sessionHooks(sess))
	if err != nil {
		s.sessions.Remove(req.CallID)
		log.Error("Voice session start failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "voice session start failed"})
		return
	}

	transport := "livekit"
	if s.cfg.Voice.MockTransport {
		transport = "mock"
	}
	if _, err := s.store.AppendEvent(c.Request.Context(), req.CallID,
		models.EventSessionStarted, models.SessionStartedPayload{
			TraceID:   req.TraceID,
			Room:      req.Room,
			Transport: transport,
		}); err != nil {
		log.Error("Session started event append failed", "error", err)
	}

	if s.cfg.Voice.AutoGreetingEnabled && sess.Greeting != "" && descriptor.Status == voice.StatusStarted {
		s.speakGreeting(sess)
	}

	log.Info("Session launched", "status", descriptor.Status, "stt_active", descriptor.STTActive)
	c.JSON(http.StatusOK, gin.H{
		"call_id":    req.CallID,
		"status":     descriptor.Status,
		"stt_active": descriptor.STTActive,
	})
}

// loadAgentProfile fills greeting and system prompt from the catalog.
// Lookup failures degrade to an empty profile; the session still runs.
func (s *Server) loadAgentProfile(ctx context.Context, sess *session.Session) {
	agent, err := s.store.GetAgent(ctx, sess.AgentID)
	if err != nil {
		slog.Warn("Agent lookup failed at launch", "agent_id", sess.AgentID, "error", err)
		return
	}
	sess.Greeting = agent.Greeting
	if agent.PublishedVersionID == nil {
		return
	}
	version, err := s.store.GetAgentVersion(ctx, *agent.PublishedVersionID)
	if err != nil {
		slog.Warn("Agent version lookup failed at launch",
			"agent_id", sess.AgentID, "version_id", *agent.PublishedVersionID, "error", err)
		return
	}
	sess.SystemPrompt = version.SystemPrompt
}

// speakGreeting speaks the agent's greeting through the turn serializer
// so it cannot interleave with the first user turn.
func (s *Server) speakGreeting(sess *session.Session) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := s.serializer.Do(ctx, sess.CallID, func(taskCtx context.Context) error {
			return s.speakAndRecord(taskCtx, sess, sess.Greeting)
		})
		if err != nil {
			slog.Warn("Greeting playback failed", "call_id", sess.CallID, "error", err)
		}
	}()
}

// sessionHooks bridges voice-session events back into the connector:
// final transcripts become turns, agent audio and barge-ins reach the
// carrier stream.
func (s *Server) sessionHooks(sess *session.Session) voice.Hooks {
	return voice.Hooks{
		OnFinalTranscript: func(ev stt.TranscriptEvent) {
			go s.handleTranscriptTurn(sess, ev)
		},
		OnAgentAudio: func(packet voice.AgentAudioPacket) {
			s.bridges.SendAudio(sess.CallID, packet.PCM, packet.SampleRate)
		},
		OnBargeIn: func() {
			s.bridges.SendClear(sess.CallID)
		},
	}
}
