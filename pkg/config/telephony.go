package config

// TelephonyConfig controls the carrier webhook surface.
type TelephonyConfig struct {
	// TwilioAuthToken verifies X-Twilio-Signature on inbound webhooks.
	// Empty disables signature verification (local development).
	TwilioAuthToken string `yaml:"twilio_auth_token"`

	// PublicWebhookURL is the externally visible webhook URL; the
	// carrier signs requests against it, not the internal address.
	PublicWebhookURL string `yaml:"public_webhook_url"`

	// MediaStreamURL is the wss:// endpoint placed in the TwiML
	// <Stream> verb, pointing at the connector.
	MediaStreamURL string `yaml:"media_stream_url"`

	// MediaStreamToken rides along as a <Stream> custom parameter; the
	// connector rejects media streams that do not present it. Empty
	// disables the check.
	MediaStreamToken string `yaml:"media_stream_token"`

	// SayLanguage and SayVoice shape the TwiML <Say> verbs.
	SayLanguage string `yaml:"say_language"`
	SayVoice    string `yaml:"say_voice"`

	// NoAgentMessage is spoken before hangup when no agent answers the
	// dialed number.
	NoAgentMessage string `yaml:"no_agent_message"`
}

// DefaultTelephonyConfig returns the built-in telephony configuration.
func DefaultTelephonyConfig() *TelephonyConfig {
	return &TelephonyConfig{
		MediaStreamURL: "wss://localhost:8091/media-stream",
		SayLanguage:    "es-MX",
		NoAgentMessage: "Lo sentimos, no hay un agente disponible para este número. Hasta luego.",
	}
}
