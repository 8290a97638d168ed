package config

import "time"

// LiveKitConfig controls the media-room service and join-token minting.
// Defaults match a local `livekit-server --dev` instance.
type LiveKitConfig struct {
	// URL is the signalling endpoint handed to connectors.
	URL string `yaml:"url"`

	// APIKey and APISecret sign room-service requests and join tokens.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// TokenTTL bounds join-token validity; it also bounds dispatch
	// claimability together with WorkerConfig.DispatchTTL.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// RoomEmptyTimeout lets the server reap rooms nobody joined.
	RoomEmptyTimeout time.Duration `yaml:"room_empty_timeout"`

	// RoomMaxParticipants bounds participants per call room.
	RoomMaxParticipants int `yaml:"room_max_participants"`
}

// DefaultLiveKitConfig returns the built-in room service configuration.
func DefaultLiveKitConfig() *LiveKitConfig {
	return &LiveKitConfig{
		URL:                 "ws://localhost:7880",
		APIKey:              "devkey",
		APISecret:           "devsecret-devsecret-devsecret-00",
		TokenTTL:            10 * time.Minute,
		RoomEmptyTimeout:    5 * time.Minute,
		RoomMaxParticipants: 8,
	}
}
