package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vocero-ai/vocero/pkg/audio"
	"github.com/vocero-ai/vocero/pkg/config"
	"github.com/vocero-ai/vocero/pkg/metrics"
	"github.com/vocero-ai/vocero/pkg/stt"
	"github.com/vocero-ai/vocero/pkg/transport"
	"github.com/vocero-ai/vocero/pkg/tts"
)

// ErrSessionNotFound is returned for operations on unknown call ids.
var ErrSessionNotFound = fmt.Errorf("voice session not found")

// runtime is one live call session.
type runtime struct {
	input     Input
	hooks     Hooks
	sttAdapt  stt.Adapter
	transport transport.Transport
	sttActive bool
	startedAt time.Time

	// speakingUntilMs is the unix-milli end of the current playback
	// window; 0 means idle.
	speakingUntilMs atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// Manager owns every live session in the connector process.
type Manager struct {
	cfg     *config.VoiceConfig
	synth   tts.Synthesizer
	metrics *metrics.Metrics

	mu       sync.Mutex
	runtimes map[string]*runtime

	// Indirection for tests; defaults build the configured adapters.
	newSTT       func() (stt.Adapter, error)
	newTransport func(url, token string) transport.Transport
}

// NewManager builds the session manager.
func NewManager(cfg *config.VoiceConfig, synth tts.Synthesizer, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:      cfg,
		synth:    synth,
		metrics:  m,
		runtimes: make(map[string]*runtime),
		newSTT:   func() (stt.Adapter, error) { return stt.New(cfg) },
		newTransport: func(url, token string) transport.Transport {
			return transport.New(cfg, url, token)
		},
	}
}

// Start brings up the media session for a launched call. A disabled
// runtime or an already-running session returns a descriptor, not an
// error; STT connect failures are tolerated unless STTHardFail.
func (m *Manager) Start(ctx context.Context, input Input, hooks Hooks) (*Descriptor, error) {
	if !m.cfg.Enabled {
		return &Descriptor{CallID: input.CallID, Status: StatusDisabled}, nil
	}

	m.mu.Lock()
	if existing, ok := m.runtimes[input.CallID]; ok {
		m.mu.Unlock()
		return &Descriptor{
			CallID:    input.CallID,
			Status:    StatusAlreadyStarted,
			STTActive: existing.sttActive,
			StartedAt: existing.startedAt,
		}, nil
	}
	m.mu.Unlock()

	log := slog.With("call_id", input.CallID, "trace_id", input.TraceID)

	tr := m.newTransport(input.LiveKitURL, input.JoinToken)
	if err := tr.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect transport: %w", err)
	}

	rt := &runtime{
		input:     input,
		hooks:     hooks,
		transport: tr,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	adapter, err := m.newSTT()
	if err == nil {
		err = adapter.Start(ctx)
	}
	switch {
	case err == nil:
		rt.sttAdapt = adapter
		rt.sttActive = true
	case m.cfg.STTHardFail:
		tr.Disconnect()
		return nil, fmt.Errorf("start stt: %w", err)
	default:
		log.Warn("STT unavailable, session continues without transcription", "error", err)
	}

	m.mu.Lock()
	if _, ok := m.runtimes[input.CallID]; ok {
		// Lost the start race; roll back our half-built session.
		m.mu.Unlock()
		if rt.sttAdapt != nil {
			rt.sttAdapt.Stop()
		}
		tr.Disconnect()
		return m.Start(ctx, input, hooks)
	}
	m.runtimes[input.CallID] = rt
	m.mu.Unlock()

	if rt.sttActive {
		rt.wg.Add(1)
		go m.transcriptLoop(rt, log)
	}

	m.metrics.ActiveSessions.Inc()
	log.Info("Voice session started", "stt_active", rt.sttActive)
	return &Descriptor{
		CallID:    input.CallID,
		Status:    StatusStarted,
		STTActive: rt.sttActive,
		StartedAt: rt.startedAt,
	}, nil
}

// Speak synthesizes text and plays it into the room. Playback is
// asynchronous so that barge-in can cut it short; the returned packet
// describes the rendered audio.
func (m *Manager) Speak(ctx context.Context, callID, text string) (*AgentAudioPacket, error) {
	rt, err := m.runtime(callID)
	if err != nil {
		return nil, err
	}

	syn, err := m.synth.Synthesize(ctx, text)
	if err != nil {
		m.metrics.TTSSyntheses.WithLabelValues("chain", "error").Inc()
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	m.metrics.TTSSyntheses.WithLabelValues(syn.Provider, "success").Inc()

	packet := AgentAudioPacket{
		PCM:        syn.PCM,
		SampleRate: syn.SampleRate,
		DurationMs: syn.DurationMs(),
		Provider:   syn.Provider,
	}

	window := packet.DurationMs
	if window < m.cfg.BargeInHoldMs {
		window = m.cfg.BargeInHoldMs
	}
	rt.speakingUntilMs.Store(time.Now().UnixMilli() + int64(window))

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := rt.transport.PublishAudio(ctx, packet.PCM, packet.SampleRate); err != nil {
			slog.Warn("Agent audio publish failed", "call_id", callID, "error", err)
		}
	}()

	if rt.hooks.OnAgentAudio != nil {
		rt.hooks.OnAgentAudio(packet)
	}
	return &packet, nil
}

// IngestInboundAudio feeds one caller PCM frame into the session:
// barge-in detection first, then STT. Unknown calls are dropped
// silently; the carrier keeps streaming briefly after hangup.
func (m *Manager) IngestInboundAudio(callID string, pcm []int16) {
	rt, err := m.runtime(callID)
	if err != nil {
		return
	}

	if m.cfg.BargeInEnabled {
		until := rt.speakingUntilMs.Load()
		if until > 0 && time.Now().UnixMilli() < until {
			if audio.RMSEnergy(pcm) >= m.cfg.BargeInThreshold {
				rt.transport.InterruptPlayback()
				rt.speakingUntilMs.Store(0)
				m.metrics.BargeIns.Inc()
				if rt.hooks.OnBargeIn != nil {
					rt.hooks.OnBargeIn()
				}
			}
		}
	}

	if rt.sttActive {
		rt.sttAdapt.SendAudio(pcm)
	}
}

// Stop tears the session down. Stopping an unknown call is a no-op.
func (m *Manager) Stop(callID string) {
	m.mu.Lock()
	rt, ok := m.runtimes[callID]
	if ok {
		delete(m.runtimes, callID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	close(rt.done)
	if rt.sttAdapt != nil {
		rt.sttAdapt.Stop()
	}
	rt.transport.Disconnect()
	rt.wg.Wait()

	m.metrics.ActiveSessions.Dec()
	slog.Info("Voice session stopped", "call_id", callID)
}

// State reports the session state for a call id.
func (m *Manager) State(callID string) string {
	rt, err := m.runtime(callID)
	if err != nil {
		return StateNone
	}
	if until := rt.speakingUntilMs.Load(); until > 0 && time.Now().UnixMilli() < until {
		return StateSpeaking
	}
	return StateListening
}

// Active reports whether a session exists for the call.
func (m *Manager) Active(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.runtimes[callID]
	return ok
}

// Sessions returns the live call ids, for health reporting.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) runtime(callID string) (*runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[callID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rt, nil
}

// transcriptLoop drains STT events: finals reach the hook, interims are
// logged and counted.
func (m *Manager) transcriptLoop(rt *runtime, log *slog.Logger) {
	defer rt.wg.Done()
	for {
		select {
		case <-rt.done:
			return
		case ev, ok := <-rt.sttAdapt.Events():
			if !ok {
				return
			}
			if !ev.IsFinal {
				m.metrics.STTEvents.WithLabelValues(ev.Provider, "interim").Inc()
				log.Debug("Interim transcript", "text", ev.Text)
				continue
			}
			m.metrics.STTEvents.WithLabelValues(ev.Provider, "final").Inc()
			if rt.hooks.OnFinalTranscript != nil {
				rt.hooks.OnFinalTranscript(ev)
			}
		}
	}
}
