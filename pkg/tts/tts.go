// Package tts synthesizes agent speech through an ordered chain of HTTP
// providers. Providers are tried in configuration order with per-request
// retries; when every provider fails (or none are configured) a
// deterministic tone stands in so local development and tests never
// depend on a paid API.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vocero-ai/vocero/pkg/audio"
	"github.com/vocero-ai/vocero/pkg/config"
)

// FallbackProvider names the tone stand-in in logs and metrics.
const FallbackProvider = "fallback_tone"

// Synthesis is one rendered utterance.
type Synthesis struct {
	PCM        []int16
	SampleRate int
	// Provider names the chain entry that produced the audio, or
	// FallbackProvider.
	Provider string
}

// DurationMs reports the rendered audio length.
func (s *Synthesis) DurationMs() int {
	if s.SampleRate <= 0 {
		return 0
	}
	return len(s.PCM) * 1000 / s.SampleRate
}

// Synthesizer renders text to PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Synthesis, error)
}

// Chain is the configured provider chain.
type Chain struct {
	cfg    *config.TTSConfig
	client *http.Client
}

// NewChain builds the chain from configuration.
func NewChain(cfg *config.TTSConfig) *Chain {
	return &Chain{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Synthesize tries each provider in order and falls back to the tone
// stand-in when the whole chain fails. The fallback never errors.
func (c *Chain) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	for i := range c.cfg.Providers {
		p := &c.cfg.Providers[i]
		syn, err := c.synthesizeWith(ctx, p, text)
		if err == nil {
			return syn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("TTS provider failed, trying next",
			"provider", p.Name, "kind", p.Kind, "error", err)
	}
	return fallbackTone(text), nil
}

// synthesizeWith runs one provider with its retry budget.
func (c *Chain) synthesizeWith(ctx context.Context, p *config.TTSProviderConfig, text string) (*Synthesis, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.RetryBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		syn, retryable, err := c.request(ctx, p, text)
		if err == nil {
			return syn, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

// request performs one HTTP round trip and decodes whatever audio shape
// came back.
func (c *Chain) request(ctx context.Context, p *config.TTSProviderConfig, text string) (*Synthesis, bool, error) {
	req, err := buildRequest(ctx, p, text)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryable := resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode >= http.StatusInternalServerError
		return nil, retryable, fmt.Errorf("tts provider %s returned status %d", p.Name, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read tts response: %w", err)
	}

	syn, err := decodeAudio(p, data)
	if err != nil {
		return nil, false, err
	}
	syn.Provider = p.Name
	return syn, false, nil
}

// buildRequest shapes the POST for the provider kind. openai and remote
// speak {model, voice, input}; elevenlabs speaks {text, model_id} with
// its xi-api-key header.
func buildRequest(ctx context.Context, p *config.TTSProviderConfig, text string) (*http.Request, error) {
	var body map[string]any
	switch p.Kind {
	case config.TTSKindElevenLabs:
		body = map[string]any{"text": text}
		if p.Model != "" {
			body["model_id"] = p.Model
		}
	case config.TTSKindOpenAI, config.TTSKindRemote:
		body = map[string]any{"input": text}
		if p.Model != "" {
			body["model"] = p.Model
		}
		if p.Voice != "" {
			body["voice"] = p.Voice
		}
		if p.Kind == config.TTSKindOpenAI {
			body["response_format"] = "wav"
		}
	default:
		return nil, fmt.Errorf("unknown tts provider kind %q", p.Kind)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		if p.Kind == config.TTSKindElevenLabs {
			req.Header.Set("xi-api-key", p.APIKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+p.APIKey)
		}
	}
	return req, nil
}

// jsonAudioResponse is the JSON audio shape some remote providers
// return instead of raw bytes.
type jsonAudioResponse struct {
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
}

// decodeAudio sniffs the response body: RIFF header means WAV, a JSON
// object means base64 PCM with an optional rate, anything else is raw
// 16-bit little-endian PCM at the provider's configured rate.
func decodeAudio(p *config.TTSProviderConfig, data []byte) (*Synthesis, error) {
	if len(data) == 0 {
		return nil, errors.New("empty tts response body")
	}

	if audio.IsWAV(data) {
		pcm, rate, err := audio.ParseWAV(data)
		if err != nil {
			return nil, fmt.Errorf("parse wav response: %w", err)
		}
		return &Synthesis{PCM: pcm, SampleRate: rate}, nil
	}

	if data[0] == '{' {
		var jr jsonAudioResponse
		if err := json.Unmarshal(data, &jr); err != nil {
			return nil, fmt.Errorf("parse json tts response: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(jr.Audio)
		if err != nil {
			return nil, fmt.Errorf("decode json tts audio: %w", err)
		}
		rate := jr.SampleRate
		if rate <= 0 {
			rate = providerRate(p)
		}
		return &Synthesis{PCM: audio.SamplesFromPCM16(raw), SampleRate: rate}, nil
	}

	return &Synthesis{PCM: audio.SamplesFromPCM16(data), SampleRate: providerRate(p)}, nil
}

func providerRate(p *config.TTSProviderConfig) int {
	if p.SampleRate > 0 {
		return p.SampleRate
	}
	return 8000
}

// fallbackTone renders a short sine so the caller hears that the agent
// "spoke" even with no provider reachable. Duration scales with text
// length between 300 and 1800 ms.
func fallbackTone(text string) *Synthesis {
	durMs := 300 + len(text)*20
	if durMs > 1800 {
		durMs = 1800
	}
	return &Synthesis{
		PCM:        audio.SineTone(durMs, 8000, 440, 0.3),
		SampleRate: 8000,
		Provider:   FallbackProvider,
	}
}
