// Package gateway wires the backend supervisor's Dispatcher contract
// (backend -> XMPP direction) to the transport façade's Hooks
// (XMPP -> backend direction). It is intentionally thin: every
// outbound-message/presence translation rule lives in internal/conversation,
// and every wire shape lives in internal/wire; this package only
// resolves "which user/conversation does this envelope belong to" and
// sequences the calls, across a per-JID session table rather than a
// single hardcoded account.
package gateway

import (
	"context"
	"strings"
	"time"

	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/nyxbridge/xmppgw/internal/backend"
	"github.com/nyxbridge/xmppgw/internal/conversation"
	"github.com/nyxbridge/xmppgw/internal/extension"
	"github.com/nyxbridge/xmppgw/internal/logging"
	"github.com/nyxbridge/xmppgw/internal/session"
	"github.com/nyxbridge/xmppgw/internal/storage/sqlite"
	"github.com/nyxbridge/xmppgw/internal/transport"
	"github.com/nyxbridge/xmppgw/internal/wire"
)

// Gateway implements backend.Dispatcher and supplies transport.Hooks,
// forming the bridge between the two halves of the system.
type Gateway struct {
	Sessions    *session.Manager
	Transport   *transport.Transport
	Credentials CredentialStore
	Settings    SettingsStore
	Extensions  *extension.Host
	// RosterStore persists BUDDY_CHANGED metadata across restarts. Optional:
	// a nil store simply means the roster is rebuilt from scratch by the
	// next round of BUDDY_CHANGED envelopes.
	RosterStore *sqlite.DB
	Log         *logging.Logger
	JIDEscaping bool
	RawXML      bool
}

// New constructs a Gateway. Callers still need to register its Hooks()
// with the transport and itself as the backend.Supervisor's Dispatcher.
// extensions and rosterStore may be nil.
func New(sessions *session.Manager, t *transport.Transport, creds CredentialStore, settings SettingsStore, extensions *extension.Host, rosterStore *sqlite.DB, log *logging.Logger, jidEscaping, rawXML bool) *Gateway {
	return &Gateway{
		Sessions:    sessions,
		Transport:   t,
		Credentials: creds,
		Settings:    settings,
		Extensions:  extensions,
		RosterStore: rosterStore,
		Log:         log,
		JIDEscaping: jidEscaping,
		RawXML:      rawXML,
	}
}

// Hooks returns the transport.Hooks bound to this gateway's handlers for
// the XMPP -> backend direction.
func (g *Gateway) Hooks() transport.Hooks {
	return transport.Hooks{
		OnConnected:       g.onConnected,
		OnConnectionError: g.onConnectionError,
		OnUserPresence:    g.onUserPresence,
		OnUserDiscoInfo:   g.onUserDiscoInfo,
		OnRawIQ:           g.onRawIQ,
		OnMessage:         g.onMessage,
	}
}

// unrewriteLegacyName replaces a rewritten legacy node's trailing '%' back
// to '@', the inverse of conversation.ReplaceLastAt, used whenever a room
// or buddy JID arriving from XMPP needs to be turned back into a legacy
// name. jid_escaping names would need jid.Unescape instead; that direction
// is rare enough in practice (service.jid_escaping is almost always paired
// with roster-resolved buddies, never bare room legacy names) that only
// the '%' rule is inverted here, matching what the MUC/room-JID path in
// §4.4 actually produces.
func unrewriteLegacyName(node string) string {
	i := strings.LastIndexByte(node, '%')
	if i < 0 {
		return node
	}
	return node[:i] + "@" + node[i+1:]
}

func (g *Gateway) onConnected() {
	g.Log.Info("transport: connected to upstream XMPP server")
}

func (g *Gateway) onConnectionError(err error) {
	g.Log.Warn("transport: connection error: %v", err)
}

// onUserPresence is the XMPP-side half of §4.5 user session lifecycle plus
// the MUC join/leave path: presence with a resourcepart targets a room
// (the resourcepart is the requested nickname, XEP-0045); presence with no
// resourcepart targets the gateway's own JID and is the user's
// available/unavailable signal.
func (g *Gateway) onUserPresence(p stanza.Presence, show, status, caps string) {
	if p.From.Equal(jid.JID{}) || p.To.Equal(jid.JID{}) {
		return
	}
	bare := p.From.Bare().String()

	if nick := p.To.Resourcepart(); nick != "" {
		g.onRoomPresence(bare, p, nick)
		return
	}

	switch p.Type {
	case stanza.UnavailablePresence:
		g.Sessions.OnUnavailable(bare)
	case stanza.AvailablePresence:
		legacyName, password, ok := g.Credentials.Lookup(bare)
		if !ok {
			g.Log.Warn("gateway: presence from %s has no configured legacy credentials", bare)
			return
		}
		u := g.Sessions.OnAvailable(bare, legacyName, password)
		if g.Settings != nil {
			u.SendHeadlines, u.EnableNotifications = g.Settings.Lookup(bare)
		}
		g.loadCachedRoster(u)
	}
}

// loadCachedRoster repopulates a freshly created session's roster manager
// from the on-disk cache so a restarted gateway has buddy metadata
// available before the backend resends any BUDDY_CHANGED envelopes.
func (g *Gateway) loadCachedRoster(u *session.User) {
	if g.RosterStore == nil {
		return
	}
	entries, err := g.RosterStore.All(u.JID)
	if err != nil {
		g.Log.Warn("gateway: load cached roster for %s: %v", u.JID, err)
		return
	}
	for _, e := range entries {
		u.Roster.Upsert(e.LegacyName, e.Alias, e.Groups, e.Status, e.StatusMessage, e.IconHash)
	}
}

func (g *Gateway) onRoomPresence(bare string, p stanza.Presence, nickname string) {
	room := unrewriteLegacyName(p.To.Localpart())

	if p.Type == stanza.UnavailablePresence {
		g.markRoomPresence(bare, room, p.From.String(), true)
		_ = g.Sessions.LeaveRoom(bare, room)
		return
	}

	u, ok := g.Sessions.Get(bare)
	if !ok {
		return
	}
	if _, exists := u.Conversations.Get(room); !exists {
		if err := g.Sessions.JoinRoom(bare, room, nickname, ""); err != nil {
			g.Log.Warn("gateway: join room %s for %s: %v", room, bare, err)
			return
		}
	}
	g.markRoomPresence(bare, room, p.From.String(), false)
	if u, ok := g.Sessions.Get(bare); ok {
		if conv, ok := u.Conversations.Get(room); ok {
			g.flushCached(u, conv)
		}
	}
}

func (g *Gateway) markRoomPresence(bare, room, full string, unavailable bool) {
	u, ok := g.Sessions.Get(bare)
	if !ok {
		return
	}
	conv, ok := u.Conversations.Get(room)
	if !ok {
		return
	}
	g.Transport.ObserveMUCPresence(conv, full, unavailable)
}

// onUserDiscoInfo is informational only: the transport façade calls it for
// disco#info queries, after it has already sent the reply itself (see
// transport/disco.go and routeIQ), so this only logs the query.
func (g *Gateway) onUserDiscoInfo(from jid.JID, node string) {
	g.Log.Debug("gateway: disco info observed from %s node=%q", from.String(), node)
}

// onRawIQ forwards an unrecognized IQ to the user's assigned backend when
// features.rawxml is enabled (§6), a fire-and-forget passthrough with no
// reply path back to XMPP.
func (g *Gateway) onRawIQ(iq stanza.IQ, raw []byte) {
	if !g.RawXML || raw == nil || iq.From.Equal(jid.JID{}) {
		return
	}
	bare := iq.From.Bare().String()
	u, ok := g.Sessions.Get(bare)
	if !ok || u.Client == nil {
		return
	}
	_ = u.Client.Send(wire.Wrapper{
		Tag:     wire.TagRawIQ,
		Payload: wire.RawIQ{User: bare, XML: raw}.Marshal(),
	})
}

// onMessage is the XMPP -> backend half of CONV_MESSAGE: a user-authored
// message, one-to-one or into a joined room, forwarded to their backend
// as a legacy chat payload.
func (g *Gateway) onMessage(msg stanza.Message, body string, subject string) {
	if body == "" || msg.From.Equal(jid.JID{}) || msg.To.Equal(jid.JID{}) {
		return
	}
	bare := msg.From.Bare().String()
	u, ok := g.Sessions.Get(bare)
	if !ok || u.Client == nil {
		return
	}

	var buddyName, nickname string
	if msg.Type == stanza.GroupChatMessage {
		buddyName = unrewriteLegacyName(msg.To.Localpart())
		nickname = msg.To.Resourcepart()
	} else {
		buddyName = unrewriteLegacyName(msg.To.Localpart())
	}

	_ = u.Client.Send(wire.Wrapper{
		Tag: wire.TagConvMessage,
		Payload: wire.ConvMessage{
			User:      bare,
			BuddyName: buddyName,
			Message:   body,
			Nickname:  nickname,
			Headline:  msg.Type == stanza.HeadlineMessage,
		}.Marshal(),
	})
}

// --- backend.Dispatcher: backend -> XMPP direction ---

var _ backend.Dispatcher = (*Gateway)(nil)

// HandleConnected is informational per §4.3's dispatch table, but also
// flushes any one-to-one messages that arrived and were cached before the
// backend had a live legacy session to attribute them to.
func (g *Gateway) HandleConnected(c *backend.Client, p wire.SessionLifecycle) {
	g.Log.Info("backend: %s connected (legacy_name=%s)", p.User, p.LegacyName)
	u, ok := g.Sessions.Get(p.User)
	if !ok {
		return
	}
	if g.Extensions != nil {
		g.Extensions.EmitUserConnected(p.User, p.LegacyName)
	}
	for _, conv := range u.Conversations.All() {
		if !conv.IsMUC {
			g.flushCached(u, conv)
		}
	}
}

// HandleDisconnected tears down every MUC the user had joined with a
// system-shutdown presence, surfaces the backend's reason to the user, and
// destroys the session.
func (g *Gateway) HandleDisconnected(c *backend.Client, p wire.SessionLifecycle) {
	reason := p.Message
	if reason == "" {
		reason = p.Error
	}
	g.disconnectUser(p.User, reason)
}

// disconnectUser is the shared session-termination path: MUC teardown
// presences, an unavailable presence from the gateway itself, the
// user-visible reason as a chat message, then session destruction.
func (g *Gateway) disconnectUser(jidBare, reason string) {
	u, ok := g.Sessions.Get(jidBare)
	if !ok {
		return
	}
	g.teardownConversations(u, reason)

	ctx := context.Background()
	if err := g.Transport.SendGatewayUnavailable(ctx, jidBare); err != nil {
		g.Log.Debug("gateway: termination presence for %s: %v", jidBare, err)
	}
	if reason != "" {
		if err := g.Transport.SendGatewayNotice(ctx, jidBare, reason); err != nil {
			g.Log.Debug("gateway: termination notice for %s: %v", jidBare, err)
		}
	}
	g.Sessions.OnUnavailable(jidBare)
}

func (g *Gateway) teardownConversations(u *session.User, reason string) {
	ctx := context.Background()
	for _, conv := range u.Conversations.All() {
		if !conv.IsMUC {
			continue
		}
		pres := conv.Teardown(reason)
		roomNode := conversation.RewriteLegacyName(conv.LegacyName, g.JIDEscaping)
		if err := g.Transport.SendMUCPresence(ctx, roomNode, conv, pres); err != nil {
			g.Log.Warn("gateway: teardown presence for %s/%s: %v", u.JID, conv.LegacyName, err)
		}
	}
}

// HandleBuddyChanged upserts the roster entry and emits the corresponding
// one-to-one presence update, per §4.3/§4.4.
func (g *Gateway) HandleBuddyChanged(c *backend.Client, p wire.BuddyChanged) {
	u, ok := g.Sessions.Get(p.User)
	if !ok {
		return
	}
	// Upsert mutates the existing *Item in place, so the old hash must be
	// copied out before it runs.
	previousHash := ""
	previous, hadEntry := u.Roster.Get(p.BuddyName)
	if hadEntry {
		previousHash = previous.IconHash
	}
	u.Roster.Upsert(p.BuddyName, p.Alias, p.Groups, p.Status, p.StatusMessage, p.IconHash)
	if g.RosterStore != nil {
		if err := g.RosterStore.Upsert(p.User, sqlite.Entry{
			LegacyName:    p.BuddyName,
			Alias:         p.Alias,
			Groups:        p.Groups,
			Status:        p.Status,
			StatusMessage: p.StatusMessage,
			IconHash:      p.IconHash,
		}); err != nil {
			g.Log.Warn("gateway: cache roster entry %s/%s: %v", p.User, p.BuddyName, err)
		}
	}

	if g.Extensions != nil && p.IconHash != "" && (!hadEntry || previousHash != p.IconHash) {
		g.Extensions.EmitAvatarChanged(extension.AvatarChangedEvent{
			User:      p.User,
			BuddyName: p.BuddyName,
			IconHash:  p.IconHash,
		})
	}

	show, unavailable := conversation.ShowFor(p.Status)
	node := conversation.ResolveSenderNode(p.BuddyName, g.rosterLookup(u), g.JIDEscaping)

	if err := g.Transport.SendBuddyPresence(context.Background(), node, u.JID, show, p.StatusMessage, unavailable); err != nil {
		g.Log.Warn("gateway: buddy presence for %s/%s: %v", u.JID, p.BuddyName, err)
	}
}

// HandleParticipantChanged routes a MUC occupant change to its conversation
// and emits the resulting presence stanzas, flushing a pending subject if
// the change was the local user's own initial presence.
func (g *Gateway) HandleParticipantChanged(c *backend.Client, p wire.ParticipantChanged) {
	u, ok := g.Sessions.Get(p.User)
	if !ok {
		g.Log.Info("gateway: participant change for unknown user %s, dropping", p.User)
		return
	}
	conv, ok := u.Conversations.Get(p.Room)
	if !ok {
		g.Log.Info("gateway: participant change for unknown room %s/%s, dropping", p.User, p.Room)
		return
	}

	result := conv.ApplyParticipantChange(p.Nickname, conversation.Flag(p.Flag), p.Status, p.StatusMessage, p.NewName, conv.Nickname)
	roomNode := conversation.RewriteLegacyName(conv.LegacyName, g.JIDEscaping)
	ctx := context.Background()
	for _, pres := range result.Presences {
		if err := g.Transport.SendMUCPresence(ctx, roomNode, conv, pres); err != nil {
			g.Log.Warn("gateway: participant presence %s/%s: %v", u.JID, p.Room, err)
		}
	}
	if result.FlushedSubject != nil {
		if err := g.Transport.SendMUCMessage(ctx, roomNode, conv, *result.FlushedSubject); err != nil {
			g.Log.Warn("gateway: flushed subject %s/%s: %v", u.JID, p.Room, err)
		}
	}
}

// HandleRoomNicknameChanged records the local user's new nickname so
// subsequent presence/message sender JIDs use it.
func (g *Gateway) HandleRoomNicknameChanged(c *backend.Client, p wire.RoomNicknameChanged) {
	u, ok := g.Sessions.Get(p.User)
	if !ok {
		g.Log.Info("gateway: nickname change for unknown user %s, dropping", p.User)
		return
	}
	conv, ok := u.Conversations.Get(p.Room)
	if !ok {
		g.Log.Info("gateway: nickname change for unknown room %s/%s, dropping", p.User, p.Room)
		return
	}
	conv.Nickname = p.Nickname
}

// HandleConvMessage delivers a legacy chat payload to XMPP, auto-creating a
// one-to-one conversation for an unknown buddy_name per §4.3.
func (g *Gateway) HandleConvMessage(c *backend.Client, p wire.ConvMessage) {
	u, ok := g.Sessions.Get(p.User)
	if !ok {
		g.Log.Info("gateway: message for unknown user %s, dropping", p.User)
		return
	}
	conv := u.Conversations.GetOrCreate(p.BuddyName)
	g.deliverConvMessage(u, conv, p, false)
}

// HandleRoomSubjectChanged is wire-identical to CONV_MESSAGE but always
// marked as a subject update.
func (g *Gateway) HandleRoomSubjectChanged(c *backend.Client, p wire.RoomSubjectChanged) {
	u, ok := g.Sessions.Get(p.User)
	if !ok {
		return
	}
	conv := u.Conversations.GetOrCreate(p.BuddyName)
	g.deliverConvMessage(u, conv, p, true)
}

func (g *Gateway) deliverConvMessage(u *session.User, conv *conversation.Conversation, p wire.ConvMessage, isSubject bool) {
	out := conv.HandleMessage(p.Message, p.Nickname, isSubject, g.shouldCacheOneToOne(u), time.Now())
	if out == nil {
		return
	}

	roomNode := conversation.RewriteLegacyName(conv.LegacyName, g.JIDEscaping)
	ctx := context.Background()
	if conv.IsMUC {
		if err := g.Transport.SendMUCMessage(ctx, roomNode, conv, *out); err != nil {
			g.Log.Warn("gateway: muc message %s/%s: %v", u.JID, conv.LegacyName, err)
		}
		return
	}

	// Headlines survive only for users who opted in; everything else is
	// downgraded to chat. A nickname on a one-to-one message marks a private
	// message from a room participant, delivered from the /user resource.
	typ := stanza.ChatMessage
	if p.Headline && u.SendHeadlines {
		typ = stanza.HeadlineMessage
	}
	resource := "bot"
	if out.FromNickname != "" {
		resource = "user"
	}

	senderNode := conversation.ResolveSenderNode(conv.LegacyName, g.rosterLookup(u), g.JIDEscaping)
	if err := g.Transport.SendChatMessage(ctx, senderNode, resource, u.JID, out.Body, typ, out.Delay); err != nil {
		g.Log.Warn("gateway: chat message %s/%s: %v", u.JID, conv.LegacyName, err)
	}
}

// rosterLookup adapts a "does the roster have a resolved JID for this
// buddy" rule to conversation.RosterLookup. internal/roster only caches
// the BUDDY_CHANGED metadata the backend supplies (alias, groups,
// presence), never a JID mapping, so there is nothing to resolve here yet
// and every buddy falls through to the name-rewrite branch. A real
// JID-holding roster-storage integration would populate this closure
// instead of always returning false.
func (g *Gateway) rosterLookup(u *session.User) conversation.RosterLookup {
	return func(name string) (string, bool) {
		return "", false
	}
}

// flushCached delivers every message or subject that was queued while conv
// had no subscriber, stamping each with its original enqueue time as the
// delayed-delivery timestamp (§4.4).
func (g *Gateway) flushCached(u *session.User, conv *conversation.Conversation) {
	cached := conv.FlushCached()
	if len(cached) == 0 {
		return
	}
	roomNode := conversation.RewriteLegacyName(conv.LegacyName, g.JIDEscaping)
	ctx := context.Background()
	for _, cm := range cached {
		stamp := cm.Stamp
		out := conversation.OutboundMessage{MUC: conv.IsMUC, FromNickname: cm.Nickname, Body: cm.Body, Delay: &stamp}
		if conv.IsMUC {
			if err := g.Transport.SendMUCMessage(ctx, roomNode, conv, out); err != nil {
				g.Log.Warn("gateway: flush cached muc message %s/%s: %v", u.JID, conv.LegacyName, err)
			}
			continue
		}
		resource := "bot"
		if cm.Nickname != "" {
			resource = "user"
		}
		senderNode := conversation.ResolveSenderNode(conv.LegacyName, g.rosterLookup(u), g.JIDEscaping)
		if err := g.Transport.SendChatMessage(ctx, senderNode, resource, u.JID, out.Body, stanza.ChatMessage, out.Delay); err != nil {
			g.Log.Warn("gateway: flush cached chat message %s/%s: %v", u.JID, conv.LegacyName, err)
		}
	}
}

// shouldCacheOneToOne implements §4.4 point 3's server-mode caching
// predicate: cache while the user has no live backend attachment yet.
func (g *Gateway) shouldCacheOneToOne(u *session.User) bool {
	return u.Client == nil
}

// deadBackendReason is what a user sees when their backend's stream closes
// or misses a heartbeat.
const deadBackendReason = "Internal Server Error, please reconnect."

// HandleClientGone disconnects every user the dead client was serving.
func (g *Gateway) HandleClientGone(c *backend.Client) {
	for _, jidBare := range c.Users() {
		g.disconnectUser(jidBare, deadBackendReason)
	}
}
