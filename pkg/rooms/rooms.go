// Package rooms provisions LiveKit media rooms and mints the per-call
// join tokens carried by runtime dispatches. The handoff worker is the
// only writer; tokens leave this package already sealed inside a
// dispatch row.
package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/vocero-ai/vocero/pkg/config"
)

// Service provisions rooms and mints join tokens.
type Service interface {
	// EnsureRoom creates the room if it does not exist. Idempotent:
	// re-creating an existing room is a no-op on the server.
	EnsureRoom(ctx context.Context, room string) error

	// MintJoinToken issues a join token for the connector's agent
	// participant in the given room.
	MintJoinToken(room string, grant TokenGrant) (string, error)

	// URL is the signalling endpoint connectors dial.
	URL() string
}

// TokenGrant identifies the participant a join token admits.
type TokenGrant struct {
	AgentID  string
	TenantID string
	CallID   string
	TraceID  string
}

// participantMetadata travels inside the join token so the connector
// can recover call identity from the room alone.
type participantMetadata struct {
	TenantID string `json:"tenant_id"`
	CallID   string `json:"call_id"`
	TraceID  string `json:"trace_id"`
}

type liveKitService struct {
	cfg    *config.LiveKitConfig
	client *lksdk.RoomServiceClient
}

// NewLiveKitService builds the production service against the
// configured LiveKit deployment.
func NewLiveKitService(cfg *config.LiveKitConfig) Service {
	return &liveKitService{
		cfg:    cfg,
		client: lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
	}
}

func (s *liveKitService) EnsureRoom(ctx context.Context, room string) error {
	_, err := s.client.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            room,
		EmptyTimeout:    uint32(s.cfg.RoomEmptyTimeout / time.Second),
		MaxParticipants: uint32(s.cfg.RoomMaxParticipants),
	})
	if err != nil {
		return fmt.Errorf("create room %s: %w", room, err)
	}
	return nil
}

func (s *liveKitService) MintJoinToken(room string, grant TokenGrant) (string, error) {
	metadata, err := json.Marshal(participantMetadata{
		TenantID: grant.TenantID,
		CallID:   grant.CallID,
		TraceID:  grant.TraceID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal participant metadata: %w", err)
	}

	canPublish := true
	canSubscribe := true
	at := auth.NewAccessToken(s.cfg.APIKey, s.cfg.APISecret).
		SetIdentity("agent-" + grant.AgentID).
		SetValidFor(s.cfg.TokenTTL).
		SetMetadata(string(metadata)).
		SetVideoGrant(&auth.VideoGrant{
			RoomJoin:     true,
			Room:         room,
			CanPublish:   &canPublish,
			CanSubscribe: &canSubscribe,
		})

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("sign join token: %w", err)
	}
	return token, nil
}

func (s *liveKitService) URL() string {
	return s.cfg.URL
}
