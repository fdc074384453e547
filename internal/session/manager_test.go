package session

import (
	"net"
	"testing"
	"time"

	"github.com/nyxbridge/xmppgw/internal/backend"
	"github.com/nyxbridge/xmppgw/internal/logging"
	"github.com/nyxbridge/xmppgw/internal/wire"
)

type nopDispatcher struct{}

func (nopDispatcher) HandleConnected(*backend.Client, wire.SessionLifecycle)          {}
func (nopDispatcher) HandleDisconnected(*backend.Client, wire.SessionLifecycle)       {}
func (nopDispatcher) HandleBuddyChanged(*backend.Client, wire.BuddyChanged)           {}
func (nopDispatcher) HandleParticipantChanged(*backend.Client, wire.ParticipantChanged) {
}
func (nopDispatcher) HandleRoomNicknameChanged(*backend.Client, wire.RoomNicknameChanged) {
}
func (nopDispatcher) HandleConvMessage(*backend.Client, wire.ConvMessage)             {}
func (nopDispatcher) HandleRoomSubjectChanged(*backend.Client, wire.RoomSubjectChanged) {
}
func (nopDispatcher) HandleClientGone(*backend.Client) {}

func testSupervisor(t *testing.T) *backend.Supervisor {
	t.Helper()
	log, err := logging.New(logging.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	// An empty BackendPath makes GetFreeClient's fallback spawn fail
	// harmlessly and log, which is exactly what a test exercising the
	// no-free-backend-yet path wants.
	return backend.NewSupervisor("", "", "127.0.0.1", 0, log, nil)
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	log, err := logging.New(logging.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	return NewManager(testSupervisor(t), log)
}

func TestLoginEnvelopeReachesFreeBackend(t *testing.T) {
	log, err := logging.New(logging.Config{Level: "error", Console: false})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	sup := backend.NewSupervisor("", "", "127.0.0.1", 0, log, nopDispatcher{})
	if err := sup.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	// Play the backend side of the spawn contract: connect to the
	// supervisor's listener and wait for the LOGIN envelope.
	conn, err := net.Dial("tcp", sup.Addr().String())
	if err != nil {
		t.Fatalf("dial supervisor: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for sup.GetFreeClient() == nil {
		if time.Now().After(deadline) {
			t.Fatal("supervisor never registered the connected backend")
		}
		time.Sleep(10 * time.Millisecond)
	}

	m := NewManager(sup, log)
	u := m.OnAvailable("alice@gw", "alice42", "secret")
	if u.Client == nil {
		t.Fatal("session was not attached to the free backend")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read LOGIN frame: %v", err)
	}
	frames, err := wire.NewDecoder().Feed(buf[:n])
	if err != nil || len(frames) != 1 {
		t.Fatalf("Feed = %d frames, err %v; want exactly one", len(frames), err)
	}
	w, err := wire.UnmarshalWrapper(frames[0])
	if err != nil {
		t.Fatalf("UnmarshalWrapper: %v", err)
	}
	if w.Tag != wire.TagLogin {
		t.Fatalf("Tag = %v, want LOGIN", w.Tag)
	}
	login, err := wire.UnmarshalLogin(w.Payload)
	if err != nil {
		t.Fatalf("UnmarshalLogin: %v", err)
	}
	if login.User != "alice@gw" || login.LegacyName != "alice42" || login.Password != "secret" {
		t.Fatalf("Login = %+v, want alice@gw/alice42/secret", login)
	}
}

func TestOnAvailableCreatesAtMostOneSessionPerJID(t *testing.T) {
	m := testManager(t)

	first := m.OnAvailable("alice@gw", "alice42", "secret")
	second := m.OnAvailable("alice@gw", "alice42", "secret")

	if first != second {
		t.Fatalf("OnAvailable for an already-live JID must return the existing session, got two distinct sessions")
	}
	if len(m.All()) != 1 {
		t.Fatalf("manager tracks %d sessions for one JID, want 1", len(m.All()))
	}
}

func TestOnUnavailableDestroysSession(t *testing.T) {
	m := testManager(t)
	u := m.OnAvailable("bob@gw", "bob99", "hunter2")

	m.OnUnavailable("bob@gw")

	if _, ok := m.Get("bob@gw"); ok {
		t.Fatalf("session for bob@gw should be gone after OnUnavailable")
	}
	if !u.IsDestroyed() {
		t.Fatalf("destroyed session's Destroyed channel should be closed")
	}
}

func TestOnUnavailableForUnknownJIDIsNoop(t *testing.T) {
	m := testManager(t)
	m.OnUnavailable("nobody@gw") // must not panic
}

func TestJoinRoomEagerlyCreatesMUCConversation(t *testing.T) {
	m := testManager(t)
	u := m.OnAvailable("carol@gw", "carol7", "pw")

	// No backend is attached (the test supervisor has no free clients), so
	// the envelope send fails, but the conversation must already exist —
	// §4.5 requires the MUC conversation to be created eagerly at join
	// time, not after the backend confirms it.
	_ = m.JoinRoom("carol@gw", "room@conference.example", "carol", "")

	if _, ok := u.Conversations.Get("room@conference.example"); !ok {
		t.Fatalf("JoinRoom must eagerly create the MUC conversation even if the send fails")
	}
}

func TestJoinRoomWithoutSessionErrors(t *testing.T) {
	m := testManager(t)
	if err := m.JoinRoom("ghost@gw", "room@conference.example", "ghost", ""); err == nil {
		t.Fatalf("JoinRoom for a JID with no session should error")
	}
}

func TestLeaveRoomRemovesConversation(t *testing.T) {
	m := testManager(t)
	u := m.OnAvailable("dave@gw", "dave1", "pw")
	u.Conversations.CreateMUC("room@conference.example", "dave")

	_ = m.LeaveRoom("dave@gw", "room@conference.example")

	if _, ok := u.Conversations.Get("room@conference.example"); ok {
		t.Fatalf("LeaveRoom must remove the local conversation")
	}
}
