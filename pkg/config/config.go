// Package config loads and validates the vocero runtime configuration.
//
// Configuration comes from YAML files in a config directory, with
// {{.VAR}} environment expansion, merged over built-in defaults. The
// same Config struct feeds all three processes; each reads the sections
// it needs.
package config

// Config is the umbrella configuration object returned by Initialize()
// and passed explicitly to each component.
type Config struct {
	configDir string

	Worker    *WorkerConfig    `yaml:"worker"`
	Voice     *VoiceConfig     `yaml:"voice"`
	Tools     *ToolsConfig     `yaml:"tools"`
	LLM       *LLMConfig       `yaml:"llm"`
	LiveKit   *LiveKitConfig   `yaml:"livekit"`
	Telephony *TelephonyConfig `yaml:"telephony"`
	Auth      *AuthConfig      `yaml:"auth"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// DefaultConfig returns the built-in configuration for every section.
func DefaultConfig() *Config {
	return &Config{
		Worker:    DefaultWorkerConfig(),
		Voice:     DefaultVoiceConfig(),
		Tools:     DefaultToolsConfig(),
		LLM:       DefaultLLMConfig(),
		LiveKit:   DefaultLiveKitConfig(),
		Telephony: DefaultTelephonyConfig(),
		Auth:      DefaultAuthConfig(),
	}
}
