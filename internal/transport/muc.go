package transport

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"mellium.im/xmpp/delay"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/nyxbridge/xmppgw/internal/conversation"
)

// mucUserX is the XEP-0045 <x xmlns='...#user'/> payload carried on MUC
// presence, grounded on meszmate-xmpp-go/plugins/muc/muc.go's UserX/UserItem/
// Status shapes, trimmed to the fields the gateway actually emits.
type mucUserX struct {
	XMLName xml.Name    `xml:"http://jabber.org/protocol/muc#user x"`
	Item    mucUserItem `xml:"item"`
	Status  []mucStatus `xml:"status"`
}

type mucUserItem struct {
	Affiliation string `xml:"affiliation,attr,omitempty"`
	Role        string `xml:"role,attr,omitempty"`
	Nick        string `xml:"nick,attr,omitempty"`
}

type mucStatus struct {
	Code int `xml:"code,attr"`
}

// delayedMessage is an outbound message that may carry a XEP-0203 delayed
// delivery stamp for entries replayed out of a conversation's cache. Subject
// updates carry their text in <subject/>, never <body/>.
type delayedMessage struct {
	stanza.Message
	Subject string       `xml:"subject,omitempty"`
	Body    string       `xml:"body,omitempty"`
	Delay   *delay.Delay `xml:"urn:xmpp:delay delay,omitempty"`
}

// mucOccupantJID builds the full JID of an occupant inside room@domain.
func (t *Transport) mucOccupantJID(roomNode, nickname string) (jid.JID, error) {
	if nickname == "" {
		nickname = " "
	}
	return jid.Parse(fmt.Sprintf("%s@%s/%s", roomNode, t.jid.Domainpart(), nickname))
}

// SendMUCPresence delivers p to every JID the conversation has joined.
func (t *Transport) SendMUCPresence(ctx context.Context, roomNode string, conv *conversation.Conversation, p conversation.OutboundPresence) error {
	from, err := t.mucOccupantJID(roomNode, p.FromNickname)
	if err != nil {
		return err
	}

	x := mucUserX{Item: mucUserItem{Affiliation: p.Affiliation, Role: p.Role, Nick: p.NewNick}}
	for _, c := range p.StatusCodes {
		x.Status = append(x.Status, mucStatus{Code: c})
	}

	typ := stanza.AvailablePresence
	if p.Unavailable {
		typ = stanza.UnavailablePresence
	}

	for _, full := range conv.Jids() {
		to, err := jid.Parse(full)
		if err != nil {
			continue
		}
		pres := struct {
			stanza.Presence
			Show   string   `xml:"show,omitempty"`
			Status string   `xml:"status,omitempty"`
			X      mucUserX `xml:"http://jabber.org/protocol/muc#user x"`
		}{
			Presence: stanza.Presence{From: from, To: to, Type: typ},
			Show:     string(p.Show),
			Status:   p.StatusMessage,
			X:        x,
		}
		if err := t.Send(ctx, pres); err != nil {
			return err
		}
	}
	return nil
}

// SendMUCMessage delivers a groupchat message or subject update to every
// joined JID. The pre-join caching decision has already been made by
// Conversation.HandleMessage; anything arriving here is deliverable now.
func (t *Transport) SendMUCMessage(ctx context.Context, roomNode string, conv *conversation.Conversation, m conversation.OutboundMessage) error {
	from, err := t.mucOccupantJID(roomNode, m.FromNickname)
	if err != nil {
		return err
	}
	for _, full := range conv.Jids() {
		to, err := jid.Parse(full)
		if err != nil {
			continue
		}
		msg := delayedMessage{
			Message: stanza.Message{From: from, To: to, Type: stanza.GroupChatMessage},
		}
		if m.Subject {
			msg.Subject = m.Body
		} else {
			msg.Body = m.Body
		}
		if m.Delay != nil {
			msg.Delay = &delay.Delay{From: t.jid, Time: *m.Delay}
		}
		if err := t.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// SendChatMessage delivers a one-to-one message to a single resolved JID.
// resource distinguishes plain buddy messages ("bot") from private messages
// originating from a room participant ("user").
func (t *Transport) SendChatMessage(ctx context.Context, fromNode, resource, toBare, body string, typ stanza.MessageType, dl *time.Time) error {
	from, err := jid.Parse(fmt.Sprintf("%s@%s/%s", fromNode, t.jid.Domainpart(), resource))
	if err != nil {
		return err
	}
	to, err := jid.Parse(toBare)
	if err != nil {
		return err
	}
	msg := delayedMessage{
		Message: stanza.Message{From: from, To: to, Type: typ},
		Body:    body,
	}
	if dl != nil {
		msg.Delay = &delay.Delay{From: t.jid, Time: *dl}
	}
	return t.Send(ctx, msg)
}

// ObserveMUCPresence is called by the gateway dispatcher for every presence
// addressed to a room the user has a conversation for: full-JID occupant
// tracking lives here rather than in Conversation itself, since Transport is
// the only layer that sees the raw presence stanza, and Conversation has no
// user/conversation lookup of its own.
func (t *Transport) ObserveMUCPresence(conv *conversation.Conversation, full string, unavailable bool) {
	if unavailable {
		conv.RemoveJID(full)
		return
	}
	conv.AddJID(full)
}
