// Package conversation models the state of one legacy chat — one-to-one or
// multi-user — and the translation rules between it and XMPP presence and
// message events. It knows nothing about XMPP wire types: it produces small
// outbound event structs that a transport layer turns into stanzas, keeping
// the translation rules testable without a live connection.
package conversation

import (
	"sync"
	"time"
)

// Flag is a bit-set of MUC occupant flags.
type Flag int32

const (
	FlagNone      Flag = 0
	FlagModerator Flag = 1 << 0
)

// MUC user-payload status codes (XEP-0045).
const (
	StatusSelfPresence   = 110
	StatusNicknameChange = 303
	StatusKicked         = 307
	StatusSystemShutdown = 332
)

// maxCachedMessages bounds the pre-join message queue.
const maxCachedMessages = 100

// Show is the XMPP <show/> value derived from a legacy status integer.
type Show string

const (
	ShowOnline Show = "" // available, no <show/> element
	ShowChat   Show = "chat"
	ShowAway   Show = "away"
	ShowXA     Show = "xa"
	ShowDND    Show = "dnd"
)

// legacyStatusShow maps the legacy status integer carried on
// PARTICIPANT_CHANGED/BUDDY_CHANGED envelopes to an XMPP show value.
var legacyStatusShow = map[int32]Show{
	1: ShowOnline,
	2: ShowChat,
	3: ShowAway,
	4: ShowXA,
	5: ShowDND,
}

// ShowFor returns the XMPP show for a legacy status integer and whether
// that status ("None", conventionally 0) means the presence is
// unavailable rather than carrying a show value.
func ShowFor(status int32) (show Show, unavailable bool) {
	if status == 0 {
		return "", true
	}
	if s, ok := legacyStatusShow[status]; ok {
		return s, false
	}
	return ShowOnline, false
}

// Participant is the state kept for one MUC occupant.
type Participant struct {
	Flag          Flag
	Status        int32
	StatusMessage string
}

// CachedMessage is a message or subject queued while waiting for a
// subscriber, stamped with the time it was enqueued for the delayed-delivery
// annotation applied when it is eventually flushed.
type CachedMessage struct {
	Nickname string
	Body     string
	Stamp    time.Time
}

// OutboundMessage is a message event the conversation has produced and is
// ready for the transport layer to address and send.
type OutboundMessage struct {
	MUC          bool
	FromNickname string
	Body         string
	Subject      bool
	Delay        *time.Time
}

// OutboundPresence is a presence event the conversation has produced.
type OutboundPresence struct {
	FromNickname  string
	Unavailable   bool
	Show          Show
	Affiliation   string
	Role          string
	StatusCodes   []int
	StatusMessage string
	NewNick       string
}

func (p OutboundPresence) hasStatusCode(code int) bool {
	for _, c := range p.StatusCodes {
		if c == code {
			return true
		}
	}
	return false
}

// ParticipantChangeResult is the outcome of applying one PARTICIPANT_CHANGED
// envelope: the ordered presence stanzas to emit, plus a subject message
// that was deferred earlier and is now released because the local user's
// own presence was just emitted.
type ParticipantChangeResult struct {
	Presences      []OutboundPresence
	FlushedSubject *OutboundMessage
}

// Conversation is the state for one chat, one-to-one or multi-user.
type Conversation struct {
	mu sync.Mutex

	LegacyName string
	IsMUC      bool
	Nickname   string

	participants map[string]Participant
	jids         map[string]struct{}

	cached              []CachedMessage
	pendingSubject      *CachedMessage
	sentInitialPresence bool
}

// New creates an empty conversation for legacyName.
func New(legacyName string, isMUC bool) *Conversation {
	return &Conversation{
		LegacyName:   legacyName,
		IsMUC:        isMUC,
		participants: make(map[string]Participant),
		jids:         make(map[string]struct{}),
	}
}

// AddJID records a full JID as joined to this conversation from the local
// user's side. Per the open question in the design notes, this set is
// maintained by whatever layer observes MUC presence (the transport
// façade), not by Conversation itself deciding when a join happened.
func (c *Conversation) AddJID(full string) {
	c.mu.Lock()
	c.jids[full] = struct{}{}
	c.mu.Unlock()
}

// RemoveJID removes a full JID from the joined set.
func (c *Conversation) RemoveJID(full string) {
	c.mu.Lock()
	delete(c.jids, full)
	c.mu.Unlock()
}

// Jids returns a snapshot of the currently joined full JIDs.
func (c *Conversation) Jids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.jids))
	for j := range c.jids {
		out = append(out, j)
	}
	return out
}

func (c *Conversation) hasJidsLocked() bool {
	return len(c.jids) > 0
}

// HandleMessage records an inbound legacy message or subject change and
// reports what to do with it: an OutboundMessage to deliver now, or nil if
// it was cached or deferred as a pending subject.
//
// forceCache models the one-to-one / server-mode branch of §4.4 point 3:
// when the caller's "should cache messages" predicate holds (the user is
// offline or pre-join), the message is cached exactly like the MUC pre-join
// branch.
func (c *Conversation) HandleMessage(body, nickname string, isSubject, forceCache bool, stamp time.Time) *OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsMUC && isSubject && !c.sentInitialPresence {
		c.pendingSubject = &CachedMessage{Nickname: nickname, Body: body, Stamp: stamp}
		return nil
	}

	if (c.IsMUC && !c.hasJidsLocked()) || (!c.IsMUC && forceCache) {
		c.enqueueLocked(CachedMessage{Nickname: nickname, Body: body, Stamp: stamp})
		return nil
	}

	return &OutboundMessage{
		MUC:          c.IsMUC,
		FromNickname: nickname,
		Body:         body,
		Subject:      isSubject,
	}
}

func (c *Conversation) enqueueLocked(m CachedMessage) {
	c.cached = append(c.cached, m)
	if len(c.cached) > maxCachedMessages {
		c.cached = c.cached[len(c.cached)-maxCachedMessages:]
	}
}

// FlushCached drains the cache in FIFO order and clears it.
func (c *Conversation) FlushCached() []CachedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.cached
	c.cached = nil
	return out
}

// CachedLen reports how many messages are currently queued.
func (c *Conversation) CachedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cached)
}

// ApplyParticipantChange updates participant state for one PARTICIPANT_CHANGED
// envelope and returns the presence events to emit, in order, plus any
// subject that was waiting on the local user's own presence.
func (c *Conversation) ApplyParticipantChange(nickname string, flag Flag, status int32, statusMessage, newName, localNickname string) ParticipantChangeResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	presences := c.applyParticipantChangeLocked(nickname, flag, status, statusMessage, newName, localNickname)

	var flushed *OutboundMessage
	for _, p := range presences {
		if p.hasStatusCode(StatusSelfPresence) && c.pendingSubject != nil {
			ps := c.pendingSubject
			c.pendingSubject = nil
			flushed = &OutboundMessage{MUC: true, FromNickname: ps.Nickname, Body: ps.Body, Subject: true}
			break
		}
	}
	return ParticipantChangeResult{Presences: presences, FlushedSubject: flushed}
}

func (c *Conversation) applyParticipantChangeLocked(nickname string, flag Flag, status int32, statusMessage, newName, localNickname string) []OutboundPresence {
	if newName != "" {
		rename := OutboundPresence{
			FromNickname: nickname,
			Unavailable:  true,
			StatusCodes:  []int{StatusNicknameChange},
			NewNick:      newName,
		}
		if nickname == localNickname {
			rename.StatusCodes = append(rename.StatusCodes, StatusSelfPresence)
		}
		delete(c.participants, nickname)
		rest := c.applyParticipantChangeLocked(newName, flag, status, statusMessage, "", localNickname)
		return append([]OutboundPresence{rename}, rest...)
	}

	show, unavailable := ShowFor(status)
	affiliation, role := "member", "participant"
	if flag&FlagModerator != 0 {
		affiliation, role = "admin", "moderator"
	}

	pres := OutboundPresence{
		FromNickname:  nickname,
		Unavailable:   unavailable,
		Show:          show,
		Affiliation:   affiliation,
		Role:          role,
		StatusMessage: statusMessage,
	}

	if nickname == localNickname {
		pres.StatusCodes = append(pres.StatusCodes, StatusSelfPresence)
		c.sentInitialPresence = true
	}

	if unavailable {
		delete(c.participants, nickname)
	} else {
		c.participants[nickname] = Participant{Flag: flag, Status: status, StatusMessage: statusMessage}
	}

	return []OutboundPresence{pres}
}

// Participants returns a snapshot of the current occupant registry.
func (c *Conversation) Participants() map[string]Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Participant, len(c.participants))
	for k, v := range c.participants {
		out[k] = v
	}
	return out
}

// Teardown returns the presence template to send to every currently joined
// JID when the owning user session is destroyed (§4.4 "Room destruction").
func (c *Conversation) Teardown(reason string) OutboundPresence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return OutboundPresence{
		FromNickname:  c.Nickname,
		Unavailable:   true,
		Affiliation:   "none",
		Role:          "none",
		StatusCodes:   []int{StatusSystemShutdown, StatusKicked},
		StatusMessage: reason,
	}
}
