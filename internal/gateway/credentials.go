package gateway

import "sync"

// CredentialStore resolves the legacy (username, password) pair a bare JID
// authenticates with on the legacy network: this gateway does not perform
// XMPP in-band registration, it looks the pair up from configuration.
type CredentialStore interface {
	Lookup(jidBare string) (legacyName, password string, ok bool)
}

// StaticCredentials is a CredentialStore backed by a fixed, config-loaded
// table (the top-level [[users]] entries in config.go).
type StaticCredentials struct {
	mu      sync.RWMutex
	entries map[string][2]string
}

// NewStaticCredentials builds a store from a jidBare -> {legacyName,
// password} table.
func NewStaticCredentials(table map[string][2]string) *StaticCredentials {
	entries := make(map[string][2]string, len(table))
	for k, v := range table {
		entries[k] = v
	}
	return &StaticCredentials{entries: entries}
}

// Lookup implements CredentialStore.
func (s *StaticCredentials) Lookup(jidBare string) (string, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[jidBare]
	if !ok {
		return "", "", false
	}
	return v[0], v[1], true
}

// Set adds or replaces the credential entry for jidBare.
func (s *StaticCredentials) Set(jidBare, legacyName, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jidBare] = [2]string{legacyName, password}
}

// SettingsStore resolves the per-user send_headlines/enable_notifications
// settings, sourced from configuration since there is no in-band XMPP
// mechanism for a user to set them.
type SettingsStore interface {
	Lookup(jidBare string) (sendHeadlines, enableNotifications bool)
}

// StaticSettings is a SettingsStore backed by a config-loaded function,
// matching the shape config.Config.UserSettings already provides.
type StaticSettings struct {
	fn func(jidBare string) (bool, bool)
}

// NewStaticSettings wraps fn (typically config.Config.UserSettings) as a
// SettingsStore.
func NewStaticSettings(fn func(jidBare string) (bool, bool)) *StaticSettings {
	return &StaticSettings{fn: fn}
}

// Lookup implements SettingsStore.
func (s *StaticSettings) Lookup(jidBare string) (bool, bool) {
	if s.fn == nil {
		return false, false
	}
	return s.fn(jidBare)
}
