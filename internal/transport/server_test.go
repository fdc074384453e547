package transport

import (
	"context"
	"crypto/sha1"
	"encoding/xml"
	"fmt"
	"net"
	"testing"
	"time"

	"mellium.im/xmpp/stanza"

	"github.com/nyxbridge/xmppgw/internal/logging"
)

// TestServeAcceptedHandshakeAndDispatch plays the initiating server's side
// of the component protocol against the gateway's accept-side negotiation:
// stream header exchange, SHA-1 handshake digest, acknowledgement, then one
// stanza each way.
func TestServeAcceptedHandshakeAndDispatch(t *testing.T) {
	log, err := logging.New(logging.Config{Level: "error", Console: false})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	msgCh := make(chan string, 1)
	hooks := Hooks{
		OnMessage: func(m stanza.Message, body, subject string) {
			msgCh <- body
		},
	}
	tr, err := New(Config{JID: "gw.example.net", ServerMode: true, Password: "s3cret"}, log, hooks, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	initiator, accepted := net.Pipe()
	defer initiator.Close()

	done := make(chan error, 1)
	go func() {
		done <- tr.serveAccepted(context.Background(), accepted)
	}()

	d := xml.NewDecoder(initiator)

	if _, err := fmt.Fprintf(initiator,
		"<stream:stream xmlns='%s' xmlns:stream='%s' to='gw.example.net'>",
		nsComponentAccept, nsStream,
	); err != nil {
		t.Fatalf("write stream open: %v", err)
	}

	open, err := readStreamOpen(d)
	if err != nil {
		t.Fatalf("read response stream open: %v", err)
	}
	id := attrValue(open.Attr, "id")
	if id == "" {
		t.Fatal("response stream header carries no id")
	}

	h := sha1.New()
	h.Write([]byte(id))
	h.Write([]byte("s3cret"))
	if _, err := fmt.Fprintf(initiator, "<handshake>%x</handshake>", h.Sum(nil)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	ack, err := readHandshake(d)
	if err != nil {
		t.Fatalf("read handshake ack: %v", err)
	}
	if ack != "" {
		t.Fatalf("handshake ack carries digest %q, want empty", ack)
	}

	// Inbound stanza reaches the message hook.
	if _, err := fmt.Fprint(initiator,
		"<message from='alice@example.com/r1' to='bob42@gw.example.net' type='chat'><body>hi</body></message>",
	); err != nil {
		t.Fatalf("write message: %v", err)
	}
	select {
	case body := <-msgCh:
		if body != "hi" {
			t.Fatalf("OnMessage body = %q, want hi", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessage hook never fired for the accepted stream")
	}

	// Outbound stanza goes out over the accepted stream.
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- tr.SendGatewayNotice(context.Background(), "alice@example.com", "hello")
	}()
	var reply struct {
		XMLName xml.Name `xml:"message"`
		Body    string   `xml:"body"`
	}
	if err := d.Decode(&reply); err != nil {
		t.Fatalf("decode outbound message: %v", err)
	}
	if reply.Body != "hello" {
		t.Fatalf("outbound body = %q, want hello", reply.Body)
	}
	if err := <-sendErr; err != nil {
		t.Fatalf("Send over accepted stream: %v", err)
	}

	// Orderly stream close ends the serve loop without error.
	if _, err := fmt.Fprint(initiator, "</stream:stream>"); err != nil {
		t.Fatalf("write stream close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serveAccepted returned %v on an orderly close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serveAccepted did not return after the stream closed")
	}
}

func TestServeAcceptedRejectsBadDigest(t *testing.T) {
	log, err := logging.New(logging.Config{Level: "error", Console: false})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	tr, err := New(Config{JID: "gw.example.net", ServerMode: true, Password: "s3cret"}, log, Hooks{}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	initiator, accepted := net.Pipe()
	defer initiator.Close()

	done := make(chan error, 1)
	go func() {
		done <- tr.serveAccepted(context.Background(), accepted)
	}()

	d := xml.NewDecoder(initiator)
	if _, err := fmt.Fprintf(initiator,
		"<stream:stream xmlns='%s' xmlns:stream='%s' to='gw.example.net'>",
		nsComponentAccept, nsStream,
	); err != nil {
		t.Fatalf("write stream open: %v", err)
	}
	if _, err := readStreamOpen(d); err != nil {
		t.Fatalf("read response stream open: %v", err)
	}
	if _, err := fmt.Fprint(initiator, "<handshake>deadbeef</handshake>"); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	// Drain the stream error so the server's write does not block on the
	// synchronous pipe.
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := initiator.Read(buf); err != nil {
				return
			}
		}
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("serveAccepted accepted a bad handshake digest")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serveAccepted did not reject the bad digest")
	}
}
