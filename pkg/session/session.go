// Package session tracks live call sessions in the connector process:
// who the call belongs to, the conversation so far, and the identifiers
// the media stream needs to find its way back to the session.
package session

import (
	"sync"
	"time"

	"github.com/vocero-ai/vocero/pkg/llm"
)

// maxHistoryMessages bounds the conversation context sent to the LLM.
const maxHistoryMessages = 20

// Session is one live call's state. Fields set at launch are immutable;
// conversation history is guarded by the session's own mutex.
type Session struct {
	CallID        string
	TenantID      string
	AgentID       string
	TraceID       string
	Room          string
	TwilioCallSID string
	SystemPrompt  string
	Greeting      string
	StartedAt     time.Time

	mu       sync.Mutex
	history  []llm.Message
	streamID string
}

// AppendTurn records one user/assistant exchange, trimming old turns
// past the history budget.
func (s *Session) AppendTurn(userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: assistantText},
	)
	if len(s.history) > maxHistoryMessages {
		s.history = s.history[len(s.history)-maxHistoryMessages:]
	}
}

// History returns a copy of the conversation so far.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

// SetStreamID records the carrier media-stream id once the stream
// connects.
func (s *Session) SetStreamID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamID = id
}

// StreamID returns the carrier media-stream id, empty until the stream
// connects.
func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

// Registry is the connector's in-memory session index, keyed by call id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put registers a session. Returns false when the call already has one;
// the existing session stays.
func (r *Registry) Put(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.CallID]; ok {
		return false
	}
	r.sessions[s.CallID] = s
	return true
}

// Get looks a session up by call id.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Remove drops a session and reports whether it existed.
func (r *Registry) Remove(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callID]; !ok {
		return false
	}
	delete(r.sessions, callID)
	return true
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CallIDs lists the live call ids, for health reporting.
func (r *Registry) CallIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
