package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vocero-ai/vocero/pkg/audio"
)

// deepgramStreamURL requests 8 kHz mono linear16, matching the carrier
// leg after μ-law decode.
const deepgramStreamURL = "wss://api.deepgram.com/v1/listen" +
	"?encoding=linear16&sample_rate=8000&channels=1&interim_results=true&punctuate=true"

const keepAliveInterval = 8 * time.Second

// DeepgramAdapter streams audio over the Deepgram live websocket.
type DeepgramAdapter struct {
	apiKey string
	url    string

	mu     sync.Mutex // guards conn writes and closed
	conn   *websocket.Conn
	closed bool

	events chan TranscriptEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewDeepgram returns an adapter for the Deepgram live endpoint.
func NewDeepgram(apiKey string) *DeepgramAdapter {
	return &DeepgramAdapter{
		apiKey: apiKey,
		url:    deepgramStreamURL,
		events: make(chan TranscriptEvent, 16),
		done:   make(chan struct{}),
	}
}

func (d *DeepgramAdapter) Start(ctx context.Context) error {
	if d.apiKey == "" {
		return errors.New("deepgram api key is not configured")
	}

	header := http.Header{"Authorization": {"Token " + d.apiKey}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, header)
	if err != nil {
		return fmt.Errorf("dial deepgram: %w", err)
	}
	d.conn = conn

	d.wg.Add(2)
	go d.readLoop()
	go d.keepAliveLoop()
	return nil
}

func (d *DeepgramAdapter) SendAudio(pcm []int16) {
	if len(pcm) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.conn == nil {
		return
	}
	if err := d.conn.WriteMessage(websocket.BinaryMessage, audio.PCM16Bytes(pcm)); err != nil {
		slog.Debug("Deepgram audio write failed", "error", err)
	}
}

func (d *DeepgramAdapter) Events() <-chan TranscriptEvent {
	return d.events
}

func (d *DeepgramAdapter) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	if d.conn != nil {
		// CloseStream tells the provider to flush its final result
		// before the socket drops.
		_ = d.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		_ = d.conn.Close()
	}
	d.mu.Unlock()

	d.wg.Wait()
	close(d.events)
}

// deepgramResult is the subset of the live-transcription message this
// adapter consumes.
type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	// Duration is the audio span of this result, in seconds.
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (d *DeepgramAdapter) readLoop() {
	defer d.wg.Done()
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			select {
			case <-d.done:
			default:
				slog.Warn("Deepgram stream closed unexpectedly", "error", err)
			}
			return
		}

		var msg deepgramResult
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "Results" {
			continue
		}
		if len(msg.Channel.Alternatives) == 0 {
			continue
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}

		ev := TranscriptEvent{
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
			Provider:   "deepgram",
			DurationMs: int(msg.Duration * 1000),
		}
		select {
		case d.events <- ev:
		case <-d.done:
			return
		}
	}
}

func (d *DeepgramAdapter) keepAliveLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.mu.Lock()
			if !d.closed && d.conn != nil {
				_ = d.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			}
			d.mu.Unlock()
		}
	}
}
