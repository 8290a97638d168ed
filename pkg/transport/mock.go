package transport

import (
	"context"
	"sync"
)

// MockTransport records published audio and lets tests inject remote
// frames.
type MockTransport struct {
	// ConnectErr, when set, fails Connect.
	ConnectErr error

	mu           sync.Mutex
	connected    bool
	disconnected bool
	published    [][]int16
	interrupts   int

	remote chan RemoteFrame
}

func NewMock() *MockTransport {
	return &MockTransport{remote: make(chan RemoteFrame, 64)}
}

func (m *MockTransport) Connect(ctx context.Context) error {
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) PublishAudio(ctx context.Context, pcm []int16, sampleRate int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]int16, len(pcm))
	copy(buf, pcm)
	m.published = append(m.published, buf)
	return nil
}

func (m *MockTransport) InterruptPlayback() {
	m.mu.Lock()
	m.interrupts++
	m.mu.Unlock()
}

func (m *MockTransport) RemoteAudio() <-chan RemoteFrame {
	return m.remote
}

func (m *MockTransport) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return
	}
	m.disconnected = true
	m.connected = false
	close(m.remote)
}

// InjectRemote pushes a frame as if another participant published it.
func (m *MockTransport) InjectRemote(frame RemoteFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return
	}
	m.remote <- frame
}

// Published returns every PCM buffer handed to PublishAudio.
func (m *MockTransport) Published() [][]int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]int16, len(m.published))
	copy(out, m.published)
	return out
}

// Interrupts reports how many times playback was interrupted.
func (m *MockTransport) Interrupts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupts
}

// Connected reports the connection state.
func (m *MockTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
