package config

import "fmt"

// validate performs comprehensive validation of every section,
// fail-fast with section/field context on the first error.
func validate(cfg *Config) error {
	if err := validateWorker(cfg.Worker); err != nil {
		return err
	}
	if err := validateVoice(cfg.Voice); err != nil {
		return err
	}
	if err := validateTools(cfg.Tools); err != nil {
		return err
	}
	if err := validateLLM(cfg.LLM); err != nil {
		return err
	}
	if err := validateLiveKit(cfg.LiveKit); err != nil {
		return err
	}
	if err := validateAuth(cfg.Auth); err != nil {
		return err
	}
	return nil
}

func validateWorker(w *WorkerConfig) error {
	if w.HandoffWorkers < 1 || w.ClaimerWorkers < 1 || w.LauncherWorkers < 1 {
		return NewValidationError("worker", "workers", fmt.Errorf("each loop needs at least one worker"))
	}
	if w.BatchSize < 1 {
		return NewValidationError("worker", "batch_size", fmt.Errorf("must be at least 1"))
	}
	if w.PollInterval <= 0 {
		return NewValidationError("worker", "poll_interval", fmt.Errorf("must be positive"))
	}
	if w.PollIntervalJitter < 0 || w.PollIntervalJitter >= w.PollInterval {
		return NewValidationError("worker", "poll_interval_jitter", fmt.Errorf("must be in [0, poll_interval)"))
	}
	if w.MaxEventAttempts < 1 {
		return NewValidationError("worker", "max_event_attempts", fmt.Errorf("must be at least 1"))
	}
	if w.MaxLaunchAttempts < 1 {
		return NewValidationError("worker", "max_launch_attempts", fmt.Errorf("must be at least 1"))
	}
	if w.DispatchTTL <= 0 {
		return NewValidationError("worker", "dispatch_ttl", fmt.Errorf("must be positive"))
	}
	if w.ClaimBaseURL == "" {
		return NewValidationError("worker", "claim_base_url", fmt.Errorf("is required"))
	}
	if w.LaunchURL == "" {
		return NewValidationError("worker", "launch_url", fmt.Errorf("is required"))
	}
	return nil
}

func validateVoice(v *VoiceConfig) error {
	switch v.STTProvider {
	case STTProviderDeepgram, STTProviderMock:
	default:
		return NewValidationError("voice", "stt_provider", fmt.Errorf("unknown provider: %s", v.STTProvider))
	}
	if v.STTProvider == STTProviderDeepgram && v.DeepgramAPIKey == "" {
		return NewValidationError("voice", "deepgram_api_key", fmt.Errorf("required for the deepgram provider"))
	}
	if v.BargeInThreshold < 0 || v.BargeInThreshold > 1 {
		return NewValidationError("voice", "barge_in_threshold", fmt.Errorf("must be in [0, 1]"))
	}
	if v.BargeInHoldMs < 0 {
		return NewValidationError("voice", "barge_in_hold_ms", fmt.Errorf("must be non-negative"))
	}
	if v.TTS == nil {
		return NewValidationError("voice", "tts", fmt.Errorf("section is required"))
	}
	if v.TTS.Timeout <= 0 {
		return NewValidationError("voice", "tts.timeout", fmt.Errorf("must be positive"))
	}
	if v.TTS.MaxRetries < 0 {
		return NewValidationError("voice", "tts.max_retries", fmt.Errorf("must be non-negative"))
	}
	if v.TTS.RetryBase <= 0 {
		return NewValidationError("voice", "tts.retry_base", fmt.Errorf("must be positive"))
	}
	for i, p := range v.TTS.Providers {
		switch p.Kind {
		case TTSKindOpenAI, TTSKindElevenLabs, TTSKindRemote:
		default:
			return NewValidationError("voice", fmt.Sprintf("tts.providers[%d].kind", i), fmt.Errorf("unknown kind: %s", p.Kind))
		}
		if p.URL == "" {
			return NewValidationError("voice", fmt.Sprintf("tts.providers[%d].url", i), fmt.Errorf("is required"))
		}
	}
	return nil
}

func validateTools(t *ToolsConfig) error {
	if t.CommandPrefix == "" {
		return NewValidationError("tools", "command_prefix", fmt.Errorf("is required"))
	}
	if t.ToolsPerMinute < 1 {
		return NewValidationError("tools", "tools_per_minute", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func validateLLM(l *LLMConfig) error {
	switch l.Provider {
	case LLMProviderOpenAI, LLMProviderMock:
	default:
		return NewValidationError("llm", "provider", fmt.Errorf("unknown provider: %s", l.Provider))
	}
	if l.Provider == LLMProviderOpenAI && l.APIKey == "" {
		return NewValidationError("llm", "api_key", fmt.Errorf("required for the openai provider"))
	}
	if l.Timeout <= 0 {
		return NewValidationError("llm", "timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func validateLiveKit(lk *LiveKitConfig) error {
	if lk.URL == "" {
		return NewValidationError("livekit", "url", fmt.Errorf("is required"))
	}
	if lk.APIKey == "" || lk.APISecret == "" {
		return NewValidationError("livekit", "api_key", fmt.Errorf("api_key and api_secret are required"))
	}
	if lk.TokenTTL <= 0 {
		return NewValidationError("livekit", "token_ttl", fmt.Errorf("must be positive"))
	}
	return nil
}

func validateAuth(a *AuthConfig) error {
	if a.ServiceTokenTTL <= 0 {
		return NewValidationError("auth", "service_token_ttl", fmt.Errorf("must be positive"))
	}
	return nil
}
