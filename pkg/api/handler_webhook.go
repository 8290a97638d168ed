package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vocero-ai/vocero/pkg/models"
	"github.com/vocero-ai/vocero/pkg/store"
)

// HandleVoiceWebhook is the carrier's entry point for an inbound call.
// It routes the dialed number to an active agent, records the call, and
// appends the handoff_requested event that starts the dispatch
// pipeline. The TwiML response bridges the caller's audio to the
// connector's media stream; the caller hears ringing until the agent
// session joins the room.
func (s *Server) HandleVoiceWebhook(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		s.metrics.WebhookCalls.WithLabelValues("error").Inc()
		c.String(http.StatusBadRequest, "malformed form body")
		return
	}

	if !s.verifyTwilioSignature(c) {
		s.metrics.WebhookCalls.WithLabelValues("bad_signature").Inc()
		c.String(http.StatusForbidden, "invalid signature")
		return
	}

	callSID := c.Request.PostForm.Get("CallSid")
	from := c.Request.PostForm.Get("From")
	to := c.Request.PostForm.Get("To")
	if callSID == "" || from == "" || to == "" {
		s.metrics.WebhookCalls.WithLabelValues("error").Inc()
		c.String(http.StatusBadRequest, "CallSid, From and To are required")
		return
	}

	log := slog.With("twilio_call_sid", callSID, "to", to)

	agent, err := s.store.GetAgentByPhoneNumber(c.Request.Context(), to)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.WebhookCalls.WithLabelValues("no_agent").Inc()
			log.Warn("No active agent for dialed number")
			s.respondTwiML(c, s.noAgentTwiML())
			return
		}
		s.metrics.WebhookCalls.WithLabelValues("error").Inc()
		log.Error("Agent lookup failed", "error", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	call, err := s.store.CreateCall(c.Request.Context(), store.CreateCallInput{
		TenantID:      agent.TenantID,
		AgentID:       agent.ID,
		TwilioCallSID: callSID,
		Room:          "call-" + uuid.New().String(),
	})
	if err != nil {
		s.metrics.WebhookCalls.WithLabelValues("error").Inc()
		log.Error("Call create failed", "error", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	traceID := uuid.New().String()
	_, err = s.store.AppendEvent(c.Request.Context(), call.ID, models.EventHandoffRequested, models.HandoffRequestedPayload{
		TraceID:       traceID,
		TenantID:      agent.TenantID,
		AgentID:       agent.ID,
		TwilioCallSID: callSID,
		Room:          call.Room,
		From:          from,
		To:            to,
	})
	if err != nil {
		s.metrics.WebhookCalls.WithLabelValues("error").Inc()
		log.Error("Handoff event append failed", "error", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	s.metrics.WebhookCalls.WithLabelValues("accepted").Inc()
	log.Info("Call accepted", "call_id", call.ID, "agent_id", agent.ID, "trace_id", traceID)
	s.respondTwiML(c, s.streamTwiML(call.ID))
}

// verifyTwilioSignature checks X-Twilio-Signature: HMAC-SHA1 over the
// webhook URL concatenated with the sorted form parameters, base64
// encoded. An unset auth token disables the check for local dev.
func (s *Server) verifyTwilioSignature(c *gin.Context) bool {
	authToken := s.cfg.Telephony.TwilioAuthToken
	if authToken == "" {
		return true
	}

	signature := c.GetHeader("X-Twilio-Signature")
	if signature == "" {
		return false
	}

	// The carrier signs against the public URL, not whatever internal
	// address the request arrived on.
	url := s.cfg.Telephony.PublicWebhookURL
	if url == "" {
		scheme := "https"
		if c.Request.TLS == nil {
			scheme = "http"
		}
		url = scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
	}

	keys := make([]string, 0, len(c.Request.PostForm))
	for k := range c.Request.PostForm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(url)
	for _, k := range keys {
		for _, v := range c.Request.PostForm[k] {
			sb.WriteString(k)
			sb.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (s *Server) respondTwiML(c *gin.Context, twiml string) {
	c.Data(http.StatusOK, "application/xml", []byte(twiml))
}

// streamTwiML bridges the call's audio to the connector. The call id
// travels as a custom parameter so the media stream can find its
// session; the optional stream token gates the connector endpoint.
func (s *Server) streamTwiML(callID string) string {
	var params strings.Builder
	fmt.Fprintf(&params, `
      <Parameter name="callId" value="%s" />`, escapeXML(callID))
	if token := s.cfg.Telephony.MediaStreamToken; token != "" {
		fmt.Fprintf(&params, `
      <Parameter name="token" value="%s" />`, escapeXML(token))
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <Stream url="%s">%s
    </Stream>
  </Connect>
</Response>`, escapeXML(s.cfg.Telephony.MediaStreamURL), params.String())
}

func (s *Server) noAgentTwiML() string {
	say := ""
	if msg := s.cfg.Telephony.NoAgentMessage; msg != "" {
		voiceAttr := ""
		if v := s.cfg.Telephony.SayVoice; v != "" {
			voiceAttr = fmt.Sprintf(` voice="%s"`, escapeXML(v))
		}
		say = fmt.Sprintf(`
  <Say%s language="%s">%s</Say>`, voiceAttr, escapeXML(s.cfg.Telephony.SayLanguage), escapeXML(msg))
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>%s
  <Hangup/>
</Response>`, say)
}

// escapeXML escapes special characters for XML content.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
