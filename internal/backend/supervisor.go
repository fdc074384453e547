package backend

import (
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/nyxbridge/xmppgw/internal/logging"
	"github.com/nyxbridge/xmppgw/internal/wire"
)

const (
	heartbeatInterval = 10 * time.Second
	readBufferSize    = 4096

	// maxUsersPerClient is a hard constant, not a config knob: spec's
	// design notes say raising it requires reviewing per-process legacy
	// library singleton assumptions in the backend, outside this
	// package's responsibility.
	maxUsersPerClient = 1
)

// Dispatcher receives demultiplexed envelopes from every backend client.
// The supervisor guarantees envelopes from a single client are delivered in
// the order they were received; order across clients is unspecified.
type Dispatcher interface {
	HandleConnected(c *Client, p wire.SessionLifecycle)
	HandleDisconnected(c *Client, p wire.SessionLifecycle)
	HandleBuddyChanged(c *Client, p wire.BuddyChanged)
	HandleParticipantChanged(c *Client, p wire.ParticipantChanged)
	HandleRoomNicknameChanged(c *Client, p wire.RoomNicknameChanged)
	HandleConvMessage(c *Client, p wire.ConvMessage)
	HandleRoomSubjectChanged(c *Client, p wire.RoomSubjectChanged)
	// HandleClientGone is called once, after a backend's stream closes and
	// its entry has been removed from the supervisor's client table. It
	// must disconnect every user still assigned to c.
	HandleClientGone(c *Client)
}

// Supervisor accepts connections from spawned backend processes, keeps them
// alive with heartbeats, demultiplexes inbound envelopes by tag, and
// respawns a replacement whenever load demands one.
type Supervisor struct {
	BackendPath string
	ConfigPath  string
	Host        string
	Port        int
	Log         *logging.Logger
	Dispatcher  Dispatcher

	mu          sync.Mutex
	listener    net.Listener
	clients     map[int64]*Client
	nextID      int64
	nextRestart int
}

// NewSupervisor constructs a supervisor bound to backendPath, listening on
// host:port, passing configPath to each spawned child.
func NewSupervisor(backendPath, configPath, host string, port int, log *logging.Logger, d Dispatcher) *Supervisor {
	return &Supervisor{
		BackendPath: backendPath,
		ConfigPath:  configPath,
		Host:        host,
		Port:        port,
		Log:         log,
		Dispatcher:  d,
		clients:     make(map[int64]*Client),
	}
}

// Start opens the listening socket, spawns the first backend, accepts
// connections in a background goroutine, and starts the heartbeat ticker.
func (s *Supervisor) Start() error {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("backend: listen on %s: %w", addr, err)
	}
	s.listener = l

	s.spawn(0)

	go s.acceptLoop()
	go s.heartbeatLoop()
	return nil
}

// Addr returns the listening socket's actual address, useful when the
// supervisor was configured with port 0.
func (s *Supervisor) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listening socket and every connected client.
func (s *Supervisor) Stop() error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.Close()
	}
	return nil
}

// spawn forks a new backend child process. restartCount is carried onto the
// client once it connects, so the log line reflects how many times this
// slot has been replaced. Spawn failures are logged and otherwise ignored:
// the next user assignment that finds no free client will simply trigger
// another spawn attempt.
func (s *Supervisor) spawn(restartCount int) {
	cmd := exec.Command(s.BackendPath,
		"--host", s.Host,
		"--port", strconv.Itoa(s.Port),
		s.ConfigPath,
	)
	if err := cmd.Start(); err != nil {
		s.Log.Error("backend: spawn %s: %v", s.BackendPath, err)
		return
	}
	s.Log.Info("backend: spawned pid=%d restart=%d", cmd.Process.Pid, restartCount)

	go func() {
		// Reap asynchronously so the child never becomes a zombie; this
		// is the supervisor's SIGCHLD-handler equivalent.
		_ = cmd.Wait()
	}()

	s.pendingRestart(restartCount)
}

// pendingRestart remembers the restart count to attach to the next accepted
// connection. A single in-flight spawn at a time is assumed, matching the
// base assignment policy's one-spawn-per-shortage behavior.
func (s *Supervisor) pendingRestart(n int) {
	s.mu.Lock()
	s.nextRestart = n
	s.mu.Unlock()
}

func (s *Supervisor) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.nextID++
		id := s.nextID
		restart := s.nextRestart
		s.nextRestart = 0
		c := newClient(id, conn, restart)
		s.clients[id] = c
		s.mu.Unlock()

		s.Log.Info("backend: client %d connected", id)
		go s.readLoop(c)
	}
}

func (s *Supervisor) readLoop(c *Client) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			frames, ferr := c.decoder.Feed(buf[:n])
			if ferr != nil {
				s.Log.Warn("backend: client %d protocol violation: %v", c.id, ferr)
				_ = c.Close()
				s.clientGone(c)
				return
			}
			for _, frame := range frames {
				if !s.dispatch(c, frame) {
					_ = c.Close()
					s.clientGone(c)
					return
				}
			}
		}
		if err != nil {
			s.clientGone(c)
			return
		}
	}
}

// dispatch decodes and routes a single frame. It returns false on a
// protocol violation (unparseable wrapper or unknown tag), signaling the
// caller to terminate the stream.
func (s *Supervisor) dispatch(c *Client, frame []byte) bool {
	w, err := wire.UnmarshalWrapper(frame)
	if err != nil {
		s.Log.Warn("backend: client %d: bad wrapper: %v", c.id, err)
		return false
	}

	switch w.Tag {
	case wire.TagPong:
		c.setPongReceived(true)
		return true
	case wire.TagPing:
		_ = c.Send(wire.Wrapper{Tag: wire.TagPong})
		return true
	case wire.TagConnected:
		p, err := wire.UnmarshalSessionLifecycle(w.Payload)
		if err != nil {
			return false
		}
		s.Log.Info("backend: client %d: %s connected", c.id, p.User)
		s.Dispatcher.HandleConnected(c, p)
		return true
	case wire.TagDisconnected:
		p, err := wire.UnmarshalSessionLifecycle(w.Payload)
		if err != nil {
			return false
		}
		s.Dispatcher.HandleDisconnected(c, p)
		return true
	case wire.TagBuddyChanged:
		p, err := wire.UnmarshalBuddyChanged(w.Payload)
		if err != nil {
			return false
		}
		s.Dispatcher.HandleBuddyChanged(c, p)
		return true
	case wire.TagParticipantChanged:
		p, err := wire.UnmarshalParticipantChanged(w.Payload)
		if err != nil {
			return false
		}
		s.Dispatcher.HandleParticipantChanged(c, p)
		return true
	case wire.TagRoomNicknameChanged:
		p, err := wire.UnmarshalRoomNicknameChanged(w.Payload)
		if err != nil {
			return false
		}
		s.Dispatcher.HandleRoomNicknameChanged(c, p)
		return true
	case wire.TagConvMessage:
		p, err := wire.UnmarshalConvMessage(w.Payload)
		if err != nil {
			return false
		}
		s.Dispatcher.HandleConvMessage(c, p)
		return true
	case wire.TagRoomSubjectChanged:
		p, err := wire.UnmarshalRoomSubjectChanged(w.Payload)
		if err != nil {
			return false
		}
		s.Dispatcher.HandleRoomSubjectChanged(c, p)
		return true
	default:
		s.Log.Warn("backend: client %d: protocol violation: unexpected tag %v", c.id, w.Tag)
		return false
	}
}

// clientGone handles the end of a client's stream: every assigned user is
// disconnected, the slot is removed, and a replacement is spawned if that
// leaves no free client for the next login.
func (s *Supervisor) clientGone(c *Client) {
	s.mu.Lock()
	_, present := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()
	if !present {
		return
	}

	s.Log.Info("backend: client %d disconnected (%d users)", c.id, c.UserCount())
	s.Dispatcher.HandleClientGone(c)

	if !s.hasFreeClient() {
		s.spawn(c.RestartCount + 1)
	}
}

func (s *Supervisor) hasFreeClient() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.UserCount() < maxUsersPerClient {
			return true
		}
	}
	return false
}

// GetFreeClient returns the first client with fewer than maxUsersPerClient
// users assigned. If none exists it triggers a spawn and returns nil; the
// caller should retry once the next connection is accepted.
func (s *Supervisor) GetFreeClient() *Client {
	s.mu.Lock()
	for _, c := range s.clients {
		if c.UserCount() < maxUsersPerClient {
			s.mu.Unlock()
			return c
		}
	}
	s.mu.Unlock()
	s.spawn(0)
	return nil
}

func (s *Supervisor) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.tick()
	}
}

// tick runs one heartbeat round: clients that answered the previous PING are
// sent a new one; clients that did not are declared dead.
func (s *Supervisor) tick() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if c.takePongReceived() {
			_ = c.Send(wire.Wrapper{Tag: wire.TagPing})
			continue
		}
		s.Log.Warn("backend: client %d missed heartbeat, declaring dead", c.id)
		_ = c.Close()
		s.clientGone(c)
	}
}
