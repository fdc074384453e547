package session

import (
	"fmt"
	"sync"

	"github.com/nyxbridge/xmppgw/internal/backend"
	"github.com/nyxbridge/xmppgw/internal/logging"
	"github.com/nyxbridge/xmppgw/internal/wire"
)

// Manager creates a user session on first available presence, destroys it
// on unavailable presence, and routes LOGIN/LOGOUT/JOIN_ROOM/LEAVE_ROOM
// envelopes to the backend client the session is attached to.
//
// Invariant (testable property #4): at most one live session per bare JID.
type Manager struct {
	mu    sync.Mutex
	users map[string]*User

	Supervisor *backend.Supervisor
	Log        *logging.Logger
}

// NewManager returns an empty session manager.
func NewManager(sup *backend.Supervisor, log *logging.Logger) *Manager {
	return &Manager{users: make(map[string]*User), Supervisor: sup, Log: log}
}

// OnAvailable creates a session for jidBare on its first available presence.
// A second call for a JID with a live session is a no-op that returns the
// existing session, preserving the at-most-one-session invariant.
func (m *Manager) OnAvailable(jidBare, legacyName, password string) *User {
	m.mu.Lock()
	if u, ok := m.users[jidBare]; ok {
		m.mu.Unlock()
		return u
	}
	u := New(jidBare, legacyName, password)
	m.users[jidBare] = u
	m.mu.Unlock()

	m.attachWhenReady(u)
	return u
}

func (m *Manager) attachWhenReady(u *User) {
	<-u.ReadyToConnect
	client := m.Supervisor.GetFreeClient()
	if client == nil {
		m.Log.Warn("session: no free backend for %s yet, a respawn was requested", u.JID)
		return
	}
	m.attach(u, client)
}

func (m *Manager) attach(u *User, c *backend.Client) {
	u.Client = c
	c.AddUser(u.JID)
	err := c.Send(wire.Wrapper{
		Tag: wire.TagLogin,
		Payload: wire.Login{
			User:       u.JID,
			LegacyName: u.LegacyName,
			Password:   u.Password,
		}.Marshal(),
	})
	if err != nil {
		m.Log.Warn("session: login for %s: %v", u.JID, err)
	}
}

// OnUnavailable destroys the session for jidBare: logs it out of its
// backend, releases the backend slot, and closes the stream if the backend
// now serves no one (the exclusivity policy keeps that count at zero or
// one).
func (m *Manager) OnUnavailable(jidBare string) {
	m.mu.Lock()
	u, ok := m.users[jidBare]
	if ok {
		delete(m.users, jidBare)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.destroy(u)
}

func (m *Manager) destroy(u *User) {
	if u.Client != nil {
		_ = u.Client.Send(wire.Wrapper{
			Tag: wire.TagLogout,
			Payload: wire.Logout{
				User:       u.JID,
				LegacyName: u.LegacyName,
			}.Marshal(),
		})
		u.Client.RemoveUser(u.JID)
		if u.Client.UserCount() == 0 {
			_ = u.Client.Close()
		}
	}
	u.MarkDestroyed()
}

// HandleDisconnected implements the backend's DISCONNECTED envelope: the
// backend process ended this user's legacy session on its own, so the
// gateway side tears down to match.
func (m *Manager) HandleDisconnected(jidBare string) {
	m.OnUnavailable(jidBare)
}

// JoinRoom eagerly creates the MUC conversation (§4.5) and sends JOIN_ROOM.
func (m *Manager) JoinRoom(jidBare, room, nickname, password string) error {
	u, ok := m.Get(jidBare)
	if !ok {
		return fmt.Errorf("session: join room %s: no session for %s", room, jidBare)
	}
	u.Conversations.CreateMUC(room, nickname)
	if u.Client == nil {
		return fmt.Errorf("session: join room %s: %s has no backend attached", room, jidBare)
	}
	return u.Client.Send(wire.Wrapper{
		Tag: wire.TagJoinRoom,
		Payload: wire.JoinRoom{
			User:     jidBare,
			Room:     room,
			Nickname: nickname,
			Password: password,
		}.Marshal(),
	})
}

// LeaveRoom tears down the local MUC conversation and sends LEAVE_ROOM.
func (m *Manager) LeaveRoom(jidBare, room string) error {
	u, ok := m.Get(jidBare)
	if !ok {
		return fmt.Errorf("session: leave room %s: no session for %s", room, jidBare)
	}
	u.Conversations.Remove(room)
	if u.Client == nil {
		return fmt.Errorf("session: leave room %s: %s has no backend attached", room, jidBare)
	}
	return u.Client.Send(wire.Wrapper{
		Tag: wire.TagLeaveRoom,
		Payload: wire.LeaveRoom{
			User: jidBare,
			Room: room,
		}.Marshal(),
	})
}

// Get returns the live session for jidBare, if any.
func (m *Manager) Get(jidBare string) (*User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[jidBare]
	return u, ok
}

// All returns a snapshot of every live session, used for broadcast teardown
// on gateway shutdown.
func (m *Manager) All() []*User {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out
}
