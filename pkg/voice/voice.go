// Package voice runs the per-call media session: speech-to-text in,
// synthesized agent speech out, and barge-in detection between them.
package voice

import (
	"time"

	"github.com/vocero-ai/vocero/pkg/stt"
)

// Session states. SPEAKING holds while agent audio is inside its
// playback window; barge-in is the only early exit.
const (
	StateNone      = "none"
	StateStarting  = "starting"
	StateReady     = "ready"
	StateSpeaking  = "speaking"
	StateListening = "listening"
	StateClosed    = "closed"
)

// Descriptor statuses returned by Start.
const (
	StatusStarted        = "started"
	StatusAlreadyStarted = "already_started"
	StatusDisabled       = "disabled"
)

// Input describes the call a session serves, straight from the launch
// request.
type Input struct {
	CallID        string
	TenantID      string
	AgentID       string
	TraceID       string
	Room          string
	TwilioCallSID string
	LiveKitURL    string
	JoinToken     string
}

// Hooks let the route layer react to session events. All hooks are
// optional and must be fast; they run on session goroutines.
type Hooks struct {
	// OnFinalTranscript fires for each final STT result.
	OnFinalTranscript func(ev stt.TranscriptEvent)

	// OnAgentAudio fires once per spoken utterance with the rendered
	// packet.
	OnAgentAudio func(packet AgentAudioPacket)

	// OnBargeIn fires when caller speech interrupts agent playback; the
	// route layer uses it to clear the carrier's buffered audio.
	OnBargeIn func()
}

// AgentAudioPacket is one rendered agent utterance.
type AgentAudioPacket struct {
	PCM        []int16
	SampleRate int
	DurationMs int
	Provider   string
}

// Descriptor reports the outcome of a session start.
type Descriptor struct {
	CallID    string
	Status    string
	STTActive bool
	StartedAt time.Time
}
