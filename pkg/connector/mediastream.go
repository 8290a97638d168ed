package connector

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vocero-ai/vocero/pkg/audio"
	"github.com/vocero-ai/vocero/pkg/models"
)

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The carrier connects from its own infrastructure; the shared
	// token, not the Origin header, is the gate.
	CheckOrigin: func(*http.Request) bool { return true },
}

// mediaFrame is the carrier's stream envelope. Only the fields the
// bridge reads are mapped.
type mediaFrame struct {
	Event string `json:"event"`
	Start *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
}

// outboundMedia is agent audio pushed back down the stream.
type outboundMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// outboundClear tells the carrier to drop its buffered playback, used
// on barge-in.
type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// mediaBridge is one live carrier stream. Writes are serialized; the
// websocket does not allow concurrent writers.
type mediaBridge struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	streamSID string
}

func (b *mediaBridge) writeJSON(v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.WriteJSON(v)
}

// bridgeRegistry indexes live media streams by call id.
type bridgeRegistry struct {
	mu      sync.RWMutex
	bridges map[string]*mediaBridge
}

func newBridgeRegistry() *bridgeRegistry {
	return &bridgeRegistry{bridges: make(map[string]*mediaBridge)}
}

func (r *bridgeRegistry) put(callID string, b *mediaBridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges[callID] = b
}

func (r *bridgeRegistry) remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bridges, callID)
}

func (r *bridgeRegistry) get(callID string) (*mediaBridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bridges[callID]
	return b, ok
}

// Count reports the number of connected streams.
func (r *bridgeRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bridges)
}

// SendAudio pushes agent PCM down the call's stream as carrier media.
// Calls without a connected stream are a no-op; room playback still
// happens through the voice transport.
func (r *bridgeRegistry) SendAudio(callID string, pcm []int16, sampleRate int) {
	b, ok := r.get(callID)
	if !ok {
		return
	}
	frame := outboundMedia{Event: "media", StreamSID: b.streamSID}
	frame.Media.Payload = audio.EncodeCarrierAudio(pcm, sampleRate, 1)
	if err := b.writeJSON(frame); err != nil {
		slog.Debug("Media stream write failed", "call_id", callID, "error", err)
	}
}

// SendClear asks the carrier to flush buffered playback.
func (r *bridgeRegistry) SendClear(callID string) {
	b, ok := r.get(callID)
	if !ok {
		return
	}
	if err := b.writeJSON(outboundClear{Event: "clear", StreamSID: b.streamSID}); err != nil {
		slog.Debug("Media stream clear failed", "call_id", callID, "error", err)
	}
}

// HandleMediaStream is the carrier's bidirectional audio websocket. The
// call id and stream token arrive as <Stream> custom parameters in the
// start frame; the token may also ride the query string.
func (s *Server) HandleMediaStream(c *gin.Context) {
	conn, err := mediaUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Media stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	queryToken := c.Query("token")
	var callID string

	for {
		var frame mediaFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}

		switch frame.Event {
		case "connected":
			// Protocol preamble; nothing to do until start.

		case "start":
			if frame.Start == nil {
				slog.Warn("Media stream start frame without body")
				return
			}
			id, ok := s.acceptStream(conn, frame, queryToken)
			if !ok {
				return
			}
			callID = id

		case "media":
			if callID == "" || frame.Media == nil {
				continue
			}
			pcm, err := audio.DecodeCarrierAudio(frame.Media.Payload)
			if err != nil {
				slog.Debug("Media payload decode failed", "call_id", callID, "error", err)
				continue
			}
			s.voice.IngestInboundAudio(callID, pcm)

		case "stop":
			s.teardownCall(callID)
			return
		}
	}

	// Socket dropped without a stop frame; the call is over either way.
	s.teardownCall(callID)
}

// acceptStream validates the start frame and registers the bridge.
// Returns the call id, or false when the stream must be rejected.
func (s *Server) acceptStream(conn *websocket.Conn, frame mediaFrame, queryToken string) (string, bool) {
	params := frame.Start.CustomParameters
	callID := params["callId"]
	if callID == "" {
		slog.Warn("Media stream start without callId parameter",
			"stream_sid", frame.Start.StreamSID)
		return "", false
	}

	if want := s.cfg.Voice.MediaStreamToken; want != "" {
		got := queryToken
		if got == "" {
			got = params["token"]
		}
		if got != want {
			slog.Warn("Media stream token rejected", "call_id", callID)
			return "", false
		}
	}

	sess, ok := s.sessions.Get(callID)
	if !ok {
		slog.Warn("Media stream for unknown session", "call_id", callID)
		return "", false
	}

	sess.SetStreamID(frame.Start.StreamSID)
	s.bridges.put(callID, &mediaBridge{conn: conn, streamSID: frame.Start.StreamSID})
	slog.Info("Media stream connected",
		"call_id", callID, "stream_sid", frame.Start.StreamSID, "call_sid", frame.Start.CallSID)
	return callID, true
}

// teardownCall ends everything tied to the call: voice session, queued
// turns, the session entry, the bridge, and the event-log record that
// drives call finalization.
func (s *Server) teardownCall(callID string) {
	if callID == "" {
		return
	}

	sess, hadSession := s.sessions.Get(callID)

	s.voice.Stop(callID)
	s.serializer.Close(callID)
	s.bridges.remove(callID)
	if !s.sessions.Remove(callID) {
		// Already torn down by a competing stop/disconnect.
		return
	}

	var durationMs int64
	if hadSession && !sess.StartedAt.IsZero() {
		durationMs = time.Since(sess.StartedAt).Milliseconds()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.store.AppendEvent(ctx, callID, models.EventCallEnded,
		models.CallEndedPayload{DurationMs: durationMs}); err != nil {
		slog.Error("Call ended event append failed", "call_id", callID, "error", err)
	}
	slog.Info("Call torn down", "call_id", callID, "duration_ms", durationMs)
}
