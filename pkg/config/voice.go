package config

import "time"

// STT provider names.
const (
	STTProviderDeepgram = "deepgram"
	STTProviderMock     = "mock"
)

// TTS provider kinds. A "remote" provider is any additional HTTP
// endpoint speaking one of the two request shapes.
const (
	TTSKindOpenAI     = "openai"
	TTSKindElevenLabs = "elevenlabs"
	TTSKindRemote     = "remote"
)

// VoiceConfig controls the per-call voice session in the connector.
type VoiceConfig struct {
	// Enabled turns the voice runtime on. When false, session starts
	// return a disabled descriptor and no media flows.
	Enabled bool `yaml:"enabled"`

	// MockTransport swaps the media-room transport for an in-memory
	// stub. Used in tests and local development without a room server.
	MockTransport bool `yaml:"mock_transport"`

	// STTProvider selects the speech-to-text adapter: deepgram or mock.
	STTProvider string `yaml:"stt_provider"`

	// STTHardFail aborts session start when the STT adapter cannot
	// connect. When false the session starts without transcription.
	STTHardFail bool `yaml:"stt_hard_fail"`

	// DeepgramAPIKey authenticates the Deepgram streaming connection.
	DeepgramAPIKey string `yaml:"deepgram_api_key"`

	// BargeInEnabled lets caller speech interrupt agent playback.
	BargeInEnabled bool `yaml:"barge_in_enabled"`

	// BargeInThreshold is the RMS energy (0..1) a caller frame must
	// reach to count as barge-in.
	BargeInThreshold float64 `yaml:"barge_in_threshold"`

	// BargeInHoldMs is the minimum speaking window per playback; the
	// session stays in SPEAKING for at least this long unless barged.
	BargeInHoldMs int `yaml:"barge_in_hold_ms"`

	// AutoGreetingEnabled speaks the agent's greeting right after a
	// successful launch.
	AutoGreetingEnabled bool `yaml:"auto_greeting_enabled"`

	// MediaStreamToken, when set, is required of carrier media-stream
	// connections (query parameter or start-frame custom parameter).
	MediaStreamToken string `yaml:"media_stream_token"`

	// TTS configures the synthesis provider chain.
	TTS *TTSConfig `yaml:"tts"`
}

// TTSConfig is the ordered text-to-speech provider chain with its retry
// policy. Providers are tried in order; when all fail (or none are
// configured) the session falls back to a deterministic tone stand-in.
type TTSConfig struct {
	Providers []TTSProviderConfig `yaml:"providers"`

	// Timeout bounds each provider request.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries caps retries per provider on 408/429/5xx and network
	// errors.
	MaxRetries int `yaml:"max_retries"`

	// RetryBase is the exponential backoff base (base * 2^attempt).
	RetryBase time.Duration `yaml:"retry_base"`
}

// TTSProviderConfig is one synthesis endpoint.
type TTSProviderConfig struct {
	Name string `yaml:"name"`
	// Kind selects the request shape: openai, elevenlabs, or remote.
	Kind   string `yaml:"kind"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Voice  string `yaml:"voice"`
	Model  string `yaml:"model"`
	// SampleRate is the PCM rate the provider returns when the response
	// is raw PCM (WAV and JSON responses carry their own rate).
	SampleRate int `yaml:"sample_rate"`
}

// DefaultVoiceConfig returns the built-in voice session configuration.
func DefaultVoiceConfig() *VoiceConfig {
	return &VoiceConfig{
		Enabled:             true,
		MockTransport:       false,
		STTProvider:         STTProviderMock,
		STTHardFail:         false,
		BargeInEnabled:      true,
		BargeInThreshold:    0.045,
		BargeInHoldMs:       1500,
		AutoGreetingEnabled: true,
		TTS:                 DefaultTTSConfig(),
	}
}

// DefaultTTSConfig returns the built-in TTS chain configuration (no
// providers; the tone stand-in carries local development).
func DefaultTTSConfig() *TTSConfig {
	return &TTSConfig{
		Timeout:    15 * time.Second,
		MaxRetries: 2,
		RetryBase:  250 * time.Millisecond,
	}
}
