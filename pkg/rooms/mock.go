package rooms

import (
	"context"
	"fmt"
	"sync"
)

// MockService is an in-memory Service for worker tests.
type MockService struct {
	mu sync.Mutex

	// EnsureErr and MintErr, when set, fail the corresponding call.
	EnsureErr error
	MintErr   error

	rooms  map[string]int
	minted []TokenGrant
}

// NewMockService builds an empty mock.
func NewMockService() *MockService {
	return &MockService{rooms: make(map[string]int)}
}

func (m *MockService) EnsureRoom(_ context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnsureErr != nil {
		return m.EnsureErr
	}
	m.rooms[room]++
	return nil
}

func (m *MockService) MintJoinToken(room string, grant TokenGrant) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MintErr != nil {
		return "", m.MintErr
	}
	m.minted = append(m.minted, grant)
	return fmt.Sprintf("mock-token-%s-%s", room, grant.TraceID), nil
}

func (m *MockService) URL() string {
	return "ws://mock-livekit:7880"
}

// EnsureCount reports how many times a room was ensured.
func (m *MockService) EnsureCount(room string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[room]
}

// Minted returns the grants minted so far.
func (m *MockService) Minted() []TokenGrant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TokenGrant(nil), m.minted...)
}
