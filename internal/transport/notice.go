package transport

import (
	"context"

	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// SendGatewayNotice sends a plain chat message from the gateway's own JID
// to toBare, used for user-visible session diagnostics such as the
// dead-backend notice.
func (t *Transport) SendGatewayNotice(ctx context.Context, toBare, text string) error {
	to, err := jid.Parse(toBare)
	if err != nil {
		return err
	}
	return t.Send(ctx, struct {
		stanza.Message
		Body string `xml:"body"`
	}{
		Message: stanza.Message{From: t.jid, To: to, Type: stanza.ChatMessage},
		Body:    text,
	})
}

// SendGatewayUnavailable sends an unavailable presence from the gateway's
// own JID to toBare, the session-termination signal a user sees when their
// backend dies or their legacy session ends.
func (t *Transport) SendGatewayUnavailable(ctx context.Context, toBare string) error {
	to, err := jid.Parse(toBare)
	if err != nil {
		return err
	}
	return t.Send(ctx, stanza.Presence{From: t.jid, To: to, Type: stanza.UnavailablePresence})
}
