package conversation

import "sync"

// Manager is a per-user registry of conversations keyed by legacy name.
type Manager struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
}

// NewManager returns an empty conversation manager for one user session.
func NewManager() *Manager {
	return &Manager{conversations: make(map[string]*Conversation)}
}

// Get returns the conversation for legacyName, if one exists.
func (m *Manager) Get(legacyName string) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[legacyName]
	return c, ok
}

// GetOrCreate returns the conversation for legacyName, auto-creating a
// one-to-one conversation if absent — the rule §4.3 specifies for inbound
// CONV_MESSAGE and ROOM_SUBJECT_CHANGED envelopes naming an unknown
// legacy name.
func (m *Manager) GetOrCreate(legacyName string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[legacyName]
	if !ok {
		c = New(legacyName, false)
		m.conversations[legacyName] = c
	}
	return c
}

// CreateMUC eagerly creates a MUC conversation with the given nickname, used
// when a room join is initiated (§4.5).
func (m *Manager) CreateMUC(legacyName, nickname string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := New(legacyName, true)
	c.Nickname = nickname
	m.conversations[legacyName] = c
	return c
}

// Remove deletes the conversation for legacyName, e.g. on explicit leave.
func (m *Manager) Remove(legacyName string) {
	m.mu.Lock()
	delete(m.conversations, legacyName)
	m.mu.Unlock()
}

// All returns a snapshot of every tracked conversation, used when tearing
// down a user session.
func (m *Manager) All() []*Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		out = append(out, c)
	}
	return out
}
