package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vocero-ai/vocero/pkg/llm"
)

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry()
	s := &Session{CallID: "call-1", TenantID: "tenant-1"}

	assert.True(t, r.Put(s))
	assert.False(t, r.Put(&Session{CallID: "call-1"}), "duplicate registration keeps the original")

	got, ok := r.Get("call-1")
	assert.True(t, ok)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, 1, r.Count())

	assert.True(t, r.Remove("call-1"))
	assert.False(t, r.Remove("call-1"))
	_, ok = r.Get("call-1")
	assert.False(t, ok)
}

func TestSessionHistoryTrims(t *testing.T) {
	s := &Session{CallID: "call-1"}
	for i := 0; i < 15; i++ {
		s.AppendTurn(fmt.Sprintf("pregunta %d", i), fmt.Sprintf("respuesta %d", i))
	}
	history := s.History()
	assert.Len(t, history, maxHistoryMessages)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, "pregunta 5", history[0].Content)
	assert.Equal(t, "respuesta 14", history[len(history)-1].Content)
}

func TestSessionStreamID(t *testing.T) {
	s := &Session{CallID: "call-1"}
	assert.Empty(t, s.StreamID())
	s.SetStreamID("MZ123")
	assert.Equal(t, "MZ123", s.StreamID())
}
