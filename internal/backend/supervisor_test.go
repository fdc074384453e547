package backend

import (
	"net"
	"testing"
	"time"

	"github.com/nyxbridge/xmppgw/internal/logging"
	"github.com/nyxbridge/xmppgw/internal/wire"
)

type recordingDispatcher struct {
	gone      []int64
	connected []wire.SessionLifecycle
	buddies   []wire.BuddyChanged
}

func (d *recordingDispatcher) HandleConnected(c *Client, p wire.SessionLifecycle) {
	d.connected = append(d.connected, p)
}
func (d *recordingDispatcher) HandleDisconnected(c *Client, p wire.SessionLifecycle)         {}
func (d *recordingDispatcher) HandleBuddyChanged(c *Client, p wire.BuddyChanged) {
	d.buddies = append(d.buddies, p)
}
func (d *recordingDispatcher) HandleParticipantChanged(c *Client, p wire.ParticipantChanged)  {}
func (d *recordingDispatcher) HandleRoomNicknameChanged(c *Client, p wire.RoomNicknameChanged) {}
func (d *recordingDispatcher) HandleConvMessage(c *Client, p wire.ConvMessage)                {}
func (d *recordingDispatcher) HandleRoomSubjectChanged(c *Client, p wire.RoomSubjectChanged)  {}
func (d *recordingDispatcher) HandleClientGone(c *Client) {
	d.gone = append(d.gone, c.ID())
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.New(logging.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	return l
}

func newTestSupervisor(t *testing.T, d Dispatcher) *Supervisor {
	return &Supervisor{
		Log:        testLogger(t),
		Dispatcher: d,
		clients:    make(map[int64]*Client),
	}
}

func TestHeartbeatDeclaresDeadOnMissedPong(t *testing.T) {
	d := &recordingDispatcher{}
	s := newTestSupervisor(t, d)

	aliveConn, aliveRemote := net.Pipe()
	deadConn, deadRemote := net.Pipe()
	defer aliveRemote.Close()
	defer deadRemote.Close()

	alive := newClient(1, aliveConn, 0)
	alive.pongReceived = true
	dead := newClient(2, deadConn, 0)
	dead.pongReceived = false
	s.clients[1] = alive
	s.clients[2] = dead

	frameCh := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := aliveRemote.Read(buf)
		frameCh <- buf[:n]
	}()

	s.tick()

	select {
	case frame := <-frameCh:
		w, err := wire.UnmarshalWrapper(frame[4:])
		if err != nil || w.Tag != wire.TagPing {
			t.Fatalf("expected PING frame, got %v (err %v)", frame, err)
		}
	case <-time.After(time.Second):
		t.Fatal("alive client never received a PING")
	}

	if _, ok := s.clients[1]; !ok {
		t.Fatalf("alive client should still be tracked after a reply")
	}
	if _, ok := s.clients[2]; ok {
		t.Fatalf("dead client should have been removed after a missed pong")
	}
	if len(d.gone) != 1 || d.gone[0] != 2 {
		t.Fatalf("HandleClientGone called for %v, want [2]", d.gone)
	}
}

func TestHeartbeatSurvivesConsistentPongs(t *testing.T) {
	d := &recordingDispatcher{}
	s := newTestSupervisor(t, d)

	conn, remote := net.Pipe()
	defer remote.Close()
	c := newClient(1, conn, 0)
	c.pongReceived = true
	s.clients[1] = c

	for i := 0; i < 3; i++ {
		done := make(chan struct{})
		go func() {
			buf := make([]byte, 64)
			remote.Read(buf)
			close(done)
		}()
		s.tick()
		<-done
		c.setPongReceived(true) // backend answers before the next tick
	}

	if _, ok := s.clients[1]; !ok {
		t.Fatalf("client answering every PING must never be declared dead")
	}
	if len(d.gone) != 0 {
		t.Fatalf("HandleClientGone should not have been called, got %v", d.gone)
	}
}

func TestGetFreeClientRespectsExclusivity(t *testing.T) {
	d := &recordingDispatcher{}
	s := newTestSupervisor(t, d)

	conn, _ := net.Pipe()
	client := newClient(1, conn, 0)
	s.clients[1] = client

	got := s.GetFreeClient()
	if got == nil || got.ID() != 1 {
		t.Fatalf("expected free client 1, got %v", got)
	}

	client.AddUser("alice@gw")
	got = s.GetFreeClient()
	if got != nil {
		t.Fatalf("expected no free client once the only backend holds a user, got client %d", got.ID())
	}
	if client.UserCount() != 1 {
		t.Fatalf("backend exclusivity violated: UserCount() = %d, want 1", client.UserCount())
	}
}

func TestDispatchRoutesKnownTags(t *testing.T) {
	d := &recordingDispatcher{}
	s := newTestSupervisor(t, d)
	conn, _ := net.Pipe()
	c := newClient(1, conn, 0)

	buddy := wire.BuddyChanged{User: "alice@gw", BuddyName: "bob42", Status: 1}
	frame := wire.Wrapper{Tag: wire.TagBuddyChanged, Payload: buddy.Marshal()}.Marshal()

	if !s.dispatch(c, frame) {
		t.Fatalf("dispatch of a known tag should succeed")
	}
	if len(d.buddies) != 1 || d.buddies[0].BuddyName != "bob42" {
		t.Fatalf("HandleBuddyChanged was not called with the decoded payload: %+v", d.buddies)
	}
}

func TestDispatchRejectsUnknownTag(t *testing.T) {
	d := &recordingDispatcher{}
	s := newTestSupervisor(t, d)
	conn, _ := net.Pipe()
	c := newClient(1, conn, 0)

	frame := wire.Wrapper{Tag: wire.Tag(9999), Payload: nil}.Marshal()
	if s.dispatch(c, frame) {
		t.Fatalf("dispatch of an unknown tag must report a protocol violation")
	}
}
