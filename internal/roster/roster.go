// Package roster tracks one user's legacy buddy list: the backend's view of
// names, aliases, groups and presence, keyed by legacy buddy name rather
// than JID so it can be updated directly off BUDDY_CHANGED envelopes.
package roster

import "sync"

// unassignedID is the sentinel ID a buddy is given the first time
// BUDDY_CHANGED names it, before any backend has supplied a durable one
// (§4.3's upsert rule: insert with ID -1 if the buddy is unknown, else
// update the existing record in place).
const unassignedID = -1

// Item is one buddy list entry.
type Item struct {
	ID            int64
	LegacyName    string
	Alias         string
	Groups        []string
	Status        int32
	StatusMessage string
	IconHash      string
}

// Manager is the roster for one user session.
type Manager struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// NewManager returns an empty roster.
func NewManager() *Manager {
	return &Manager{items: make(map[string]*Item)}
}

// Upsert applies a BUDDY_CHANGED envelope: updates the existing entry for
// legacyName in place, preserving its ID, or inserts a new one with the
// unassigned sentinel ID.
func (m *Manager) Upsert(legacyName, alias string, groups []string, status int32, statusMessage, iconHash string) *Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[legacyName]
	if !ok {
		item = &Item{ID: unassignedID, LegacyName: legacyName}
		m.items[legacyName] = item
	}
	item.Alias = alias
	item.Groups = groups
	item.Status = status
	item.StatusMessage = statusMessage
	item.IconHash = iconHash
	return item
}

// Get returns the roster entry for legacyName, if any.
func (m *Manager) Get(legacyName string) (*Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[legacyName]
	return item, ok
}

// Remove deletes the roster entry for legacyName.
func (m *Manager) Remove(legacyName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, legacyName)
}

// All returns a snapshot of every tracked buddy.
func (m *Manager) All() []*Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Item, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
	}
	return out
}

// Count returns the number of tracked buddies.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Groups returns every unique group name across the roster.
func (m *Manager) Groups() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	for _, item := range m.items {
		for _, g := range item.Groups {
			seen[g] = true
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	return groups
}

// ByGroup returns buddies belonging to group.
func (m *Manager) ByGroup(group string) []*Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []*Item
	for _, item := range m.items {
		for _, g := range item.Groups {
			if g == group {
				items = append(items, item)
				break
			}
		}
	}
	return items
}
