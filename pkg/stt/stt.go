// Package stt streams caller audio to a speech-to-text provider and
// surfaces transcript events. Only final transcripts drive turns;
// interim results exist for logging.
package stt

import (
	"context"
	"fmt"

	"github.com/vocero-ai/vocero/pkg/config"
)

// TranscriptEvent is one recognition result from the provider.
type TranscriptEvent struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Provider   string
	DurationMs int
}

// Adapter is a streaming speech-to-text session. One adapter serves one
// call; Start connects, SendAudio feeds 16-bit PCM frames, and Stop
// tears the stream down and closes the event channel.
type Adapter interface {
	Start(ctx context.Context) error
	SendAudio(pcm []int16)
	Events() <-chan TranscriptEvent
	Stop()
}

// New selects the adapter for the configured provider.
func New(cfg *config.VoiceConfig) (Adapter, error) {
	switch cfg.STTProvider {
	case config.STTProviderDeepgram:
		return NewDeepgram(cfg.DeepgramAPIKey), nil
	case config.STTProviderMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.STTProvider)
	}
}
