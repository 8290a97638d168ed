package llm

import (
	"context"
	"sync"

	"github.com/vocero-ai/vocero/pkg/config"
)

// MockClient replays queued responses in order, then repeats its
// default response. Safe for concurrent use.
type MockClient struct {
	mu sync.Mutex

	// Default is returned once queued responses run out.
	Default string

	// Err, when set, fails every call.
	Err error

	queue    []string
	requests []Request
}

// NewMockClient builds a mock with a neutral default response.
func NewMockClient() *MockClient {
	return &MockClient{Default: "Entendido."}
}

// Queue appends responses to replay before falling back to Default.
func (m *MockClient) Queue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

func (m *MockClient) Complete(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		return resp, nil
	}
	return m.Default, nil
}

func (m *MockClient) Provider() string { return config.LLMProviderMock }

// Requests returns every request seen so far.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}
