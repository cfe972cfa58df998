package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/verahub/vera-core/internal/contextstore"
)

// maxHistory bounds the per-conversation message history held in memory.
const maxHistory = 50

// Message represents a message in the conversation
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// State represents one conversation's state as consumed by the router. It
// is safe for concurrent use: overlapping requests on the same
// conversation id share one State.
type State struct {
	ID        string
	Scope     string
	CreatedAt time.Time

	mu          sync.RWMutex
	history     []Message
	activeTopic string
	updatedAt   time.Time
}

// NewState creates a new conversation state
func NewState(id, scope string) *State {
	now := time.Now()
	return &State{
		ID:        id,
		Scope:     scope,
		CreatedAt: now,
		updatedAt: now,
	}
}

// AddMessage appends a message, trimming the oldest past the history bound.
func (s *State) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.updatedAt = time.Now()
}

// Recent returns a copy of the last n messages, oldest first. n <= 0
// returns the full retained history.
func (s *State) Recent(n int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.history
	if n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]Message, len(history))
	copy(out, history)
	return out
}

// Topic returns the conversation's active topic, if one is set.
func (s *State) Topic() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTopic
}

// SetTopic records what the conversation is currently about.
func (s *State) SetTopic(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTopic = topic
	s.updatedAt = time.Now()
}

// Persist writes the latest exchange into the context store as an episodic
// note so later assemblies can recall it.
func (s *State) Persist(ctx context.Context, store contextstore.Adapter) error {
	s.mu.RLock()
	if len(s.history) == 0 {
		s.mu.RUnlock()
		return nil
	}
	last := s.history[len(s.history)-1]
	s.mu.RUnlock()

	return store.Put(ctx, contextstore.Record{
		Scope:     s.Scope,
		Kind:      contextstore.KindEpisodicNote,
		Key:       fmt.Sprintf("conversation:%s", s.ID),
		Value:     fmt.Sprintf("%s: %s", last.Role, last.Content),
		Source:    "session",
		Relevance: 0.3,
		UpdatedAt: last.Timestamp,
	})
}

// Manager tracks live conversation states by id.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{states: make(map[string]*State)}
}

// Get returns the state for a conversation, creating it on first use.
func (m *Manager) Get(conversationID, scope string) *State {
	m.mu.RLock()
	state, ok := m.states[conversationID]
	m.mu.RUnlock()
	if ok {
		return state
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.states[conversationID]; ok {
		return state
	}
	state = NewState(conversationID, scope)
	m.states[conversationID] = state
	return state
}

// Len returns the number of live conversations.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
