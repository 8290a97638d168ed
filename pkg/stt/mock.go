package stt

import (
	"context"
	"sync"
)

// MockAdapter is the in-memory adapter for tests and MOCK_MODE. It
// records frames and replays whatever transcripts the test emits.
type MockAdapter struct {
	// StartErr, when set, fails Start.
	StartErr error

	mu      sync.Mutex
	started bool
	stopped bool
	frames  int
	samples int
	events  chan TranscriptEvent
}

func NewMock() *MockAdapter {
	return &MockAdapter{events: make(chan TranscriptEvent, 16)}
}

func (m *MockAdapter) Start(ctx context.Context) error {
	if m.StartErr != nil {
		return m.StartErr
	}
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *MockAdapter) SendAudio(pcm []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.frames++
	m.samples += len(pcm)
}

func (m *MockAdapter) Events() <-chan TranscriptEvent {
	return m.events
}

func (m *MockAdapter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.events)
}

// Emit pushes a transcript event, the way a provider result would
// arrive. Safe to call until Stop.
func (m *MockAdapter) Emit(text string, isFinal bool, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.events <- TranscriptEvent{
		Text:       text,
		IsFinal:    isFinal,
		Confidence: confidence,
		Provider:   "mock",
		DurationMs: len(text) * 60,
	}
}

// Frames reports how many audio frames were forwarded.
func (m *MockAdapter) Frames() (frames, samples int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames, m.samples
}

// Started reports whether Start completed.
func (m *MockAdapter) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}
