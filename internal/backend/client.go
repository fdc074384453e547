// Package backend supervises backend worker processes and multiplexes the
// framed wire protocol to and from each of them.
package backend

import (
	"fmt"
	"net"
	"sync"

	"github.com/nyxbridge/xmppgw/internal/wire"
)

// Client is the supervisor's endpoint for one connected backend process: an
// open stream, an inbound frame decoder, the set of users currently
// assigned to it, and heartbeat bookkeeping.
type Client struct {
	mu           sync.Mutex
	id           int64
	conn         net.Conn
	decoder      *wire.Decoder
	users        map[string]struct{}
	pongReceived bool

	// RestartCount is incremented every time this backend slot is
	// respawned after a dead connection, for operational visibility.
	RestartCount int
}

func newClient(id int64, conn net.Conn, restartCount int) *Client {
	return &Client{
		id:           id,
		conn:         conn,
		decoder:      wire.NewDecoder(),
		users:        make(map[string]struct{}),
		pongReceived: true,
		RestartCount: restartCount,
	}
}

// ID returns the supervisor-assigned identifier for this client slot.
func (c *Client) ID() int64 { return c.id }

// UserCount returns the number of users currently assigned to this client.
func (c *Client) UserCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

// HasUser reports whether jid is assigned to this client.
func (c *Client) HasUser(jid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.users[jid]
	return ok
}

// AddUser assigns jid to this client.
func (c *Client) AddUser(jid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[jid] = struct{}{}
}

// RemoveUser unassigns jid from this client.
func (c *Client) RemoveUser(jid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, jid)
}

// Users returns a snapshot of the JIDs currently assigned to this client.
func (c *Client) Users() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.users))
	for j := range c.users {
		out = append(out, j)
	}
	return out
}

func (c *Client) setPongReceived(v bool) {
	c.mu.Lock()
	c.pongReceived = v
	c.mu.Unlock()
}

func (c *Client) takePongReceived() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.pongReceived
	c.pongReceived = false
	return v
}

// Send frames w and writes it to the backend's stream.
func (c *Client) Send(w wire.Wrapper) error {
	if _, err := c.conn.Write(wire.Encode(w.Marshal())); err != nil {
		return fmt.Errorf("backend: write to client %d: %w", c.id, err)
	}
	return nil
}

// Close closes the underlying stream, which will surface as a read error in
// the client's reader goroutine and trigger cleanup through the supervisor.
func (c *Client) Close() error {
	return c.conn.Close()
}
