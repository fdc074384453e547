// Package transport is the gateway's XMPP-side façade: it owns the
// single stream to the upstream XMPP server, dialed either as an external
// component (XEP-0114) or, in server mode, accepted directly, and exposes
// three collaborator capabilities — a stanza channel, an IQ router, and a
// presence oracle — as plain Go hooks rather than a generic signal bus
// (see internal/extension for the same callback-registry shape).
package transport

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"mellium.im/xmlstream"
	"mellium.im/xmpp"
	"mellium.im/xmpp/component"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/nyxbridge/xmppgw/internal/logging"
)

// reconnectInterval is fixed and unbounded: no exponential backoff,
// retries never stop.
const reconnectInterval = 3 * time.Second

// Config configures the transport façade's dial behavior.
type Config struct {
	JID          string // gateway's own XMPP domain or component JID
	Server       string
	Port         int
	ServerMode   bool
	Password     string // component handshake secret
	Cert         string // PKCS#12 bundle path, optional
	CertPassword string
}

// Hooks is the set of callbacks the gateway core registers to observe the
// XMPP side. Every field is optional; a nil hook is simply not called.
type Hooks struct {
	OnConnected       func()
	OnConnectionError func(err error)
	OnUserPresence    func(p stanza.Presence, show string, status string, caps string)
	OnUserDiscoInfo   func(from jid.JID, node string)
	OnRawIQ           func(iq stanza.IQ, raw []byte)
	OnMessage         func(msg stanza.Message, body string, subject string)
}

// Transport owns the connection to the upstream XMPP server and the
// reconnect loop.
type Transport struct {
	cfg  Config
	log  *logging.Logger
	jid  jid.JID
	hook Hooks

	mu       sync.RWMutex
	session  *xmpp.Session
	conn     net.Conn
	listener net.Listener
	server   *serverStream
	ctx      context.Context
	cancel   context.CancelFunc

	// RestartCount mirrors backend.Client's field: it is surfaced to logs
	// but never caps the reconnect loop.
	RestartCount int

	rawXML bool
}

// New constructs a transport façade. rawXML enables features.rawxml
// passthrough of unrecognized IQs to Hooks.OnRawIQ.
func New(cfg Config, log *logging.Logger, hooks Hooks, rawXML bool) (*Transport, error) {
	j, err := jid.Parse(cfg.JID)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid service.jid %q: %w", cfg.JID, err)
	}
	return &Transport{cfg: cfg, log: log, jid: j, hook: hooks, rawXML: rawXML}, nil
}

// Run dials the upstream server and serves the session until ctx is
// cancelled, reconnecting on every disconnect per the fixed 3s interval.
func (t *Transport) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sctx, cancel := context.WithCancel(ctx)
		t.mu.Lock()
		t.ctx, t.cancel = sctx, cancel
		t.mu.Unlock()

		if err := t.connectOnce(sctx); err != nil {
			t.log.Warn("transport: connect attempt %d: %v", t.RestartCount, err)
			if t.hook.OnConnectionError != nil {
				t.hook.OnConnectionError(err)
			}
		}
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			t.RestartCount++
		}
	}
}

// Close tears down the current session or accepted stream, if any, and the
// server-mode listener.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	if t.listener != nil {
		_ = t.listener.Close()
	}
	if t.server != nil {
		_ = t.server.conn.Close()
	}
	if t.session != nil {
		return t.session.Close()
	}
	return nil
}

func (t *Transport) connectOnce(ctx context.Context) error {
	if t.cfg.ServerMode {
		return t.acceptOnce(ctx)
	}
	return t.dialOnce(ctx)
}

// dialOnce connects out to an upstream XMPP server as an external component
// (XEP-0114), the direction actually implemented by mellium.im/xmpp/component.
func (t *Transport) dialOnce(ctx context.Context) error {
	addr := net.JoinHostPort(t.cfg.Server, strconv.Itoa(t.cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	conn, err = t.maybeWrapTLS(conn)
	if err != nil {
		conn.Close()
		return err
	}

	session, err := component.NewSession(ctx, t.jid, []byte(t.cfg.Password), conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("component handshake: %w", err)
	}

	t.mu.Lock()
	t.session = session
	t.conn = conn
	t.mu.Unlock()

	t.log.Info("transport: component session established with %s", addr)
	if t.hook.OnConnected != nil {
		t.hook.OnConnected()
	}

	err = session.Serve(xmpp.HandlerFunc(t.handleStanza))

	t.mu.Lock()
	t.session = nil
	t.conn = nil
	t.mu.Unlock()
	_ = conn.Close()
	return err
}

// acceptOnce runs the gateway's server mode: accept one connection at a
// time from an upstream server speaking the component protocol and serve it
// until the stream ends. mellium.im/xmpp's component package only implements
// the dial-out side of stream negotiation (its AcceptSession is commented
// out upstream), so the accept-side handshake is hand-rolled in server.go.
func (t *Transport) acceptOnce(ctx context.Context) error {
	l, err := t.serverListener()
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	conn, err := l.Accept()
	stop()
	if err != nil {
		t.mu.Lock()
		t.listener = nil
		t.mu.Unlock()
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()

	return t.serveAccepted(ctx, conn)
}

func (t *Transport) maybeWrapTLS(conn net.Conn) (net.Conn, error) {
	if t.cfg.Cert == "" {
		return conn, nil
	}
	cert, err := loadPKCS12(t.cfg.Cert, t.cfg.CertPassword)
	if err != nil {
		return conn, fmt.Errorf("load client cert %s: %w", t.cfg.Cert, err)
	}
	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:   t.cfg.Server,
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	})
	return tlsConn, nil
}

// messageStanza is an inbound message with the child elements the gateway
// consumes.
type messageStanza struct {
	stanza.Message
	Body    string `xml:"body,omitempty"`
	Subject string `xml:"subject,omitempty"`
}

type capsElement struct {
	Node string `xml:"node,attr"`
}

// presenceStanza is an inbound presence with show/status/caps children.
type presenceStanza struct {
	stanza.Presence
	Show   string      `xml:"show,omitempty"`
	Status string      `xml:"status,omitempty"`
	Caps   capsElement `xml:"http://jabber.org/protocol/caps c"`
}

// iqStanza captures an inbound IQ's first child element verbatim so it can
// be routed by namespace (disco) or forwarded raw (features.rawxml).
type iqStanza struct {
	stanza.IQ
	Payload rawElement `xml:",any"`
}

// handleStanza dispatches one top-level stanza from the component-mode
// serve loop. The token-decoder re-wrap of the already-consumed start
// element follows the mellium echobot example's workaround for
// mellium.im/issue/196.
func (t *Transport) handleStanza(tr xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	d := xml.NewTokenDecoder(xmlstream.MultiReader(xmlstream.Token(*start), tr))
	if _, err := d.Token(); err != nil {
		return err
	}
	return t.dispatchStanza(d, start)
}

// dispatchStanza decodes one top-level stanza whose start element has
// already been consumed from d and routes it to the registered hooks,
// shared by the component-mode serve loop and the server-mode accepted
// stream. Non-stanza elements are skipped.
func (t *Transport) dispatchStanza(d *xml.Decoder, start *xml.StartElement) error {
	switch start.Name.Local {
	case "message":
		var msg messageStanza
		if err := d.DecodeElement(&msg, start); err != nil && err != io.EOF {
			t.log.Debug("transport: decode message: %v", err)
			return nil
		}
		if t.hook.OnMessage != nil {
			t.hook.OnMessage(msg.Message, msg.Body, msg.Subject)
		}
	case "presence":
		var p presenceStanza
		if err := d.DecodeElement(&p, start); err != nil && err != io.EOF {
			t.log.Debug("transport: decode presence: %v", err)
			return nil
		}
		if t.hook.OnUserPresence != nil {
			t.hook.OnUserPresence(p.Presence, p.Show, p.Status, p.Caps.Node)
		}
	case "iq":
		var iq iqStanza
		if err := d.DecodeElement(&iq, start); err != nil && err != io.EOF {
			t.log.Debug("transport: decode iq: %v", err)
			return nil
		}
		t.routeIQ(iq)
	default:
		return d.Skip()
	}
	return nil
}

// routeIQ answers the discovery namespaces the gateway serves itself and
// forwards anything else to the raw-IQ hook when features.rawxml is on.
// Unrecognized IQs are otherwise dropped without a synthesized error reply.
func (t *Transport) routeIQ(iq iqStanza) {
	if iq.Type != stanza.GetIQ && iq.Type != stanza.SetIQ {
		return
	}

	switch {
	case iq.Payload.XMLName.Space == nsDiscoInfo && iq.Payload.XMLName.Local == "query":
		t.replyDiscoInfo(iq.IQ)
		if t.hook.OnUserDiscoInfo != nil {
			t.hook.OnUserDiscoInfo(iq.From, attrValue(iq.Payload.Attrs, "node"))
		}
	case iq.Payload.XMLName.Space == nsDiscoItems && iq.Payload.XMLName.Local == "query":
		t.replyDiscoItems(iq.IQ)
	default:
		if t.rawXML && t.hook.OnRawIQ != nil {
			raw, err := xml.Marshal(iq.Payload)
			if err != nil {
				t.log.Debug("transport: marshal raw iq payload: %v", err)
				return
			}
			t.hook.OnRawIQ(iq.IQ, raw)
		}
	}
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Send writes any xml-encodable stanza to the live stream — the component
// session in component mode, the accepted stream in server mode. It returns
// an error when the transport has no connection, which only happens during
// a reconnect window.
func (t *Transport) Send(ctx context.Context, v interface{}) error {
	t.mu.RLock()
	session := t.session
	srv := t.server
	t.mu.RUnlock()
	if session != nil {
		return session.Encode(ctx, v)
	}
	if srv != nil {
		return srv.Encode(v)
	}
	return fmt.Errorf("transport: not connected")
}

func loadPKCS12(path, password string) (tls.Certificate, error) {
	return loadPKCS12Bundle(path, password)
}
