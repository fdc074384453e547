// Package session models the XMPP user session: the binding between a bare
// JID and a backend client, its legacy credentials, and its lifecycle
// signals.
package session

import (
	"sync"

	"github.com/nyxbridge/xmppgw/internal/backend"
	"github.com/nyxbridge/xmppgw/internal/conversation"
	"github.com/nyxbridge/xmppgw/internal/roster"
)

// User is one XMPP user's session.
type User struct {
	JID        string // bare JID, identity
	LegacyName string
	Password   string

	Client *backend.Client

	Roster        *roster.Manager
	Conversations *conversation.Manager

	// ReadyToConnect is closed once a session is constructed, signaling the
	// user manager to attach a backend client and emit LOGIN.
	ReadyToConnect chan struct{}
	// Destroyed is closed once, when the session is torn down.
	Destroyed chan struct{}

	mu        sync.Mutex
	destroyed bool

	// User settings consulted per §6.
	SendHeadlines       bool
	EnableNotifications bool
}

// New constructs a user session and immediately signals ReadyToConnect.
func New(jid, legacyName, password string) *User {
	u := &User{
		JID:            jid,
		LegacyName:     legacyName,
		Password:       password,
		Roster:         roster.NewManager(),
		Conversations:  conversation.NewManager(),
		ReadyToConnect: make(chan struct{}),
		Destroyed:      make(chan struct{}),
	}
	close(u.ReadyToConnect)
	return u
}

// MarkDestroyed closes Destroyed exactly once, safe to call more than once.
func (u *User) MarkDestroyed() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.destroyed {
		return
	}
	u.destroyed = true
	close(u.Destroyed)
}

// IsDestroyed reports whether MarkDestroyed has run.
func (u *User) IsDestroyed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.destroyed
}
