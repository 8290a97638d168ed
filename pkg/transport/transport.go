// Package transport moves audio between the voice session and the media
// room. The real implementation joins a LiveKit room with the dispatch
// join token and publishes a narrowband PCMU track; the mock keeps the
// rest of the session testable without a room server.
package transport

import (
	"context"

	"github.com/vocero-ai/vocero/pkg/config"
)

// FrameSamples is the 20 ms frame size at the carrier's 8 kHz rate.
const FrameSamples = 160

// RemoteFrame is one audio frame received from another participant.
type RemoteFrame struct {
	// Payload is the raw codec payload (μ-law bytes for PCMU tracks).
	Payload    []byte
	SampleRate int
}

// Transport is one call's media-room connection.
type Transport interface {
	Connect(ctx context.Context) error

	// PublishAudio plays PCM at the given rate into the room, paced in
	// 20 ms frames. It returns early without error when playback is
	// interrupted.
	PublishAudio(ctx context.Context, pcm []int16, sampleRate int) error

	// InterruptPlayback aborts any in-flight PublishAudio.
	InterruptPlayback()

	// RemoteAudio delivers frames from other participants. Closed on
	// Disconnect.
	RemoteAudio() <-chan RemoteFrame

	Disconnect()
}

// New selects the transport implementation from configuration. url and
// joinToken come from the launch request.
func New(cfg *config.VoiceConfig, url, joinToken string) Transport {
	if cfg.MockTransport {
		return NewMock()
	}
	return NewLiveKit(url, joinToken)
}
