package transport

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
)

const (
	nsComponentAccept = "jabber:component:accept"
	nsStream          = "http://etherx.jabber.org/streams"
	nsStreamErrors    = "urn:ietf:params:xml:ns:xmpp-streams"
)

// serverStream is the accepted-connection counterpart of *xmpp.Session: a
// locked XML encoder over the raw connection, enough for the stanza surface
// the gateway emits.
type serverStream struct {
	conn net.Conn
	mu   sync.Mutex
	enc  *xml.Encoder
}

func (s *serverStream) Encode(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(v)
}

// serverListener lazily opens, and caches across reconnect rounds, the
// server-mode bind socket.
func (t *Transport) serverListener() (net.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener, nil
	}
	addr := net.JoinHostPort(t.cfg.Server, strconv.Itoa(t.cfg.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	t.listener = l
	return l, nil
}

// serveAccepted negotiates the accept side of the component protocol
// (XEP-0114) on conn and serves stanzas until the stream ends. It is the
// mirror image of the dial-side negotiator in mellium.im/xmpp/component,
// which only implements the initiating entity: wait for the initiator's
// stream header, answer with one carrying a fresh stream id, verify the
// SHA-1 handshake digest over id+secret, confirm with an empty
// <handshake/>, then read stanzas off the stream.
func (t *Transport) serveAccepted(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	d := xml.NewDecoder(conn)

	open, err := readStreamOpen(d)
	if err != nil {
		return fmt.Errorf("server: read stream open: %w", err)
	}
	if to := attrValue(open.Attr, "to"); to != "" && to != t.jid.String() {
		_, _ = fmt.Fprintf(conn, "<stream:error><host-unknown xmlns='%s'/></stream:error></stream:stream>", nsStreamErrors)
		return fmt.Errorf("server: stream addressed to %q, serving %q", to, t.jid)
	}

	id, err := streamID()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(conn,
		"<?xml version='1.0'?><stream:stream xmlns='%s' xmlns:stream='%s' from='%s' id='%s'>",
		nsComponentAccept, nsStream, t.jid, id,
	); err != nil {
		return fmt.Errorf("server: write stream open: %w", err)
	}

	digest, err := readHandshake(d)
	if err != nil {
		return fmt.Errorf("server: read handshake: %w", err)
	}
	h := sha1.New()
	_, _ = h.Write([]byte(id))
	_, _ = h.Write([]byte(t.cfg.Password))
	if digest != fmt.Sprintf("%x", h.Sum(nil)) {
		_, _ = fmt.Fprintf(conn, "<stream:error><not-authorized xmlns='%s'/></stream:error></stream:stream>", nsStreamErrors)
		return fmt.Errorf("server: handshake digest mismatch")
	}
	if _, err := fmt.Fprint(conn, "<handshake/>"); err != nil {
		return fmt.Errorf("server: confirm handshake: %w", err)
	}

	srv := &serverStream{conn: conn, enc: xml.NewEncoder(conn)}
	t.mu.Lock()
	t.server = srv
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.server = nil
		t.mu.Unlock()
	}()

	t.log.Info("transport: accepted component stream from %s", conn.RemoteAddr())
	if t.hook.OnConnected != nil {
		t.hook.OnConnected()
	}

	for {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		switch tk := tok.(type) {
		case xml.StartElement:
			if err := t.dispatchStanza(d, &tk); err != nil {
				return err
			}
		case xml.EndElement:
			if tk.Name.Local == "stream" {
				return nil
			}
		}
	}
}

// readStreamOpen consumes tokens until the initiator's <stream:stream>
// header, skipping the XML declaration and any whitespace before it.
func readStreamOpen(d *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "stream" || start.Name.Space != nsStream {
			return xml.StartElement{}, fmt.Errorf("expected stream:stream, got %s", start.Name.Local)
		}
		return start, nil
	}
}

// readHandshake consumes tokens until a <handshake/> element and returns
// its character data, the hex digest on the initiating side and empty on
// the acknowledgement.
func readHandshake(d *xml.Decoder) (string, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return "", err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "handshake" {
			return "", fmt.Errorf("expected handshake, got %s", start.Name.Local)
		}
		var digest string
		if err := d.DecodeElement(&digest, &start); err != nil {
			return "", err
		}
		return digest, nil
	}
}

func streamID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("server: stream id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
