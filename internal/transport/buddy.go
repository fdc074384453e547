package transport

import (
	"context"
	"fmt"

	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/nyxbridge/xmppgw/internal/conversation"
)

// SendBuddyPresence delivers a one-to-one roster presence update, the XMPP
// side of a BUDDY_CHANGED envelope: fromNode is the buddy's rewritten
// legacy name, toBare the subscribed user's bare JID.
func (t *Transport) SendBuddyPresence(ctx context.Context, fromNode, toBare string, show conversation.Show, statusMessage string, unavailable bool) error {
	from, err := jid.Parse(fmt.Sprintf("%s@%s/bot", fromNode, t.jid.Domainpart()))
	if err != nil {
		return err
	}
	to, err := jid.Parse(toBare)
	if err != nil {
		return err
	}

	typ := stanza.PresenceType("")
	if unavailable {
		typ = stanza.UnavailablePresence
	}
	pres := struct {
		stanza.Presence
		Show   string `xml:"show,omitempty"`
		Status string `xml:"status,omitempty"`
	}{
		Presence: stanza.Presence{From: from, To: to, Type: typ},
		Show:     string(show),
		Status:   statusMessage,
	}
	return t.Send(ctx, pres)
}
