package voice

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocero-ai/vocero/pkg/config"
	"github.com/vocero-ai/vocero/pkg/metrics"
	"github.com/vocero-ai/vocero/pkg/stt"
	"github.com/vocero-ai/vocero/pkg/transport"
	"github.com/vocero-ai/vocero/pkg/tts"
)

var testMetrics = metrics.New()

type voiceFixture struct {
	manager   *Manager
	cfg       *config.VoiceConfig
	mockSTT   *stt.MockAdapter
	mockTrans *transport.MockTransport
}

func setupManager(t *testing.T, mutate func(*config.VoiceConfig)) *voiceFixture {
	t.Helper()
	cfg := config.DefaultVoiceConfig()
	cfg.MockTransport = true
	cfg.BargeInHoldMs = 200
	if mutate != nil {
		mutate(cfg)
	}

	f := &voiceFixture{
		cfg:       cfg,
		mockSTT:   stt.NewMock(),
		mockTrans: transport.NewMock(),
	}
	f.manager = NewManager(cfg, tts.NewChain(cfg.TTS), testMetrics)
	f.manager.newSTT = func() (stt.Adapter, error) { return f.mockSTT, nil }
	f.manager.newTransport = func(url, token string) transport.Transport { return f.mockTrans }
	return f
}

func testInput() Input {
	return Input{
		CallID:     "call-1",
		TenantID:   "tenant-1",
		AgentID:    "agent-1",
		TraceID:    "trace-1",
		Room:       "room-1",
		LiveKitURL: "ws://livekit:7880",
		JoinToken:  "jt",
	}
}

// loudFrame carries enough energy to cross any sane barge-in threshold.
func loudFrame() []int16 {
	pcm := make([]int16, 160)
	for i := range pcm {
		pcm[i] = 16000
	}
	return pcm
}

func TestStartDisabled(t *testing.T) {
	f := setupManager(t, func(c *config.VoiceConfig) { c.Enabled = false })
	d, err := f.manager.Start(context.Background(), testInput(), Hooks{})
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, d.Status)
	assert.False(t, f.manager.Active("call-1"))
}

func TestStartAndAlreadyStarted(t *testing.T) {
	f := setupManager(t, nil)
	d, err := f.manager.Start(context.Background(), testInput(), Hooks{})
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, d.Status)
	assert.True(t, d.STTActive)
	assert.True(t, f.mockTrans.Connected())
	assert.True(t, f.manager.Active("call-1"))

	again, err := f.manager.Start(context.Background(), testInput(), Hooks{})
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyStarted, again.Status)

	f.manager.Stop("call-1")
	assert.False(t, f.manager.Active("call-1"))
	assert.Equal(t, StateNone, f.manager.State("call-1"))
	f.manager.Stop("call-1") // idempotent
}

func TestStartSTTSoftFailure(t *testing.T) {
	f := setupManager(t, nil)
	f.manager.newSTT = func() (stt.Adapter, error) { return nil, errors.New("dial refused") }

	d, err := f.manager.Start(context.Background(), testInput(), Hooks{})
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, d.Status)
	assert.False(t, d.STTActive)

	// Inbound audio with no STT must not panic.
	f.manager.IngestInboundAudio("call-1", loudFrame())
	f.manager.Stop("call-1")
}

func TestStartSTTHardFailure(t *testing.T) {
	f := setupManager(t, func(c *config.VoiceConfig) { c.STTHardFail = true })
	f.mockSTT.StartErr = errors.New("dial refused")

	_, err := f.manager.Start(context.Background(), testInput(), Hooks{})
	require.Error(t, err)
	assert.False(t, f.manager.Active("call-1"))
	assert.False(t, f.mockTrans.Connected(), "transport rolled back on hard STT failure")
}

func TestSpeakPublishesAndTracksWindow(t *testing.T) {
	var packets []AgentAudioPacket
	f := setupManager(t, nil)
	_, err := f.manager.Start(context.Background(), testInput(), Hooks{
		OnAgentAudio: func(p AgentAudioPacket) { packets = append(packets, p) },
	})
	require.NoError(t, err)
	defer f.manager.Stop("call-1")

	packet, err := f.manager.Speak(context.Background(), "call-1", "hola, ¿en qué puedo ayudarte?")
	require.NoError(t, err)
	assert.Equal(t, tts.FallbackProvider, packet.Provider)
	assert.Greater(t, packet.DurationMs, 0)
	assert.Equal(t, StateSpeaking, f.manager.State("call-1"))

	require.Len(t, packets, 1)
	assert.Equal(t, packet.DurationMs, packets[0].DurationMs)

	require.Eventually(t, func() bool {
		return len(f.mockTrans.Published()) == 1
	}, time.Second, 5*time.Millisecond)

	_, err = f.manager.Speak(context.Background(), "missing", "hola")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestBargeInInterruptsPlayback(t *testing.T) {
	var bargeIns atomic.Int32
	f := setupManager(t, nil)
	_, err := f.manager.Start(context.Background(), testInput(), Hooks{
		OnBargeIn: func() { bargeIns.Add(1) },
	})
	require.NoError(t, err)
	defer f.manager.Stop("call-1")

	_, err = f.manager.Speak(context.Background(), "call-1", "una respuesta larga del agente")
	require.NoError(t, err)
	require.Equal(t, StateSpeaking, f.manager.State("call-1"))

	// Silence while speaking does not interrupt.
	f.manager.IngestInboundAudio("call-1", make([]int16, 160))
	assert.Equal(t, 0, f.mockTrans.Interrupts())
	assert.Equal(t, StateSpeaking, f.manager.State("call-1"))

	f.manager.IngestInboundAudio("call-1", loudFrame())
	assert.Equal(t, 1, f.mockTrans.Interrupts())
	assert.Equal(t, int32(1), bargeIns.Load())
	assert.Equal(t, StateListening, f.manager.State("call-1"))

	// Loud audio while idle is just speech, not barge-in.
	f.manager.IngestInboundAudio("call-1", loudFrame())
	assert.Equal(t, 1, f.mockTrans.Interrupts())
}

func TestBargeInDisabled(t *testing.T) {
	f := setupManager(t, func(c *config.VoiceConfig) { c.BargeInEnabled = false })
	_, err := f.manager.Start(context.Background(), testInput(), Hooks{})
	require.NoError(t, err)
	defer f.manager.Stop("call-1")

	_, err = f.manager.Speak(context.Background(), "call-1", "hola")
	require.NoError(t, err)
	f.manager.IngestInboundAudio("call-1", loudFrame())
	assert.Equal(t, 0, f.mockTrans.Interrupts())
}

func TestFinalTranscriptsReachHook(t *testing.T) {
	finals := make(chan stt.TranscriptEvent, 4)
	f := setupManager(t, nil)
	_, err := f.manager.Start(context.Background(), testInput(), Hooks{
		OnFinalTranscript: func(ev stt.TranscriptEvent) { finals <- ev },
	})
	require.NoError(t, err)
	defer f.manager.Stop("call-1")

	f.mockSTT.Emit("hola quiero", false, 0.4)
	f.mockSTT.Emit("hola quiero hacer un pedido", true, 0.92)

	select {
	case ev := <-finals:
		assert.Equal(t, "hola quiero hacer un pedido", ev.Text)
		assert.True(t, ev.IsFinal)
	case <-time.After(time.Second):
		t.Fatal("final transcript never arrived")
	}
	assert.Empty(t, finals, "interim transcripts must not reach the hook")

	// Frames are forwarded to STT.
	f.manager.IngestInboundAudio("call-1", make([]int16, 160))
	frames, _ := f.mockSTT.Frames()
	assert.Equal(t, 1, frames)
}
