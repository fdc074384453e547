package wire

import "google.golang.org/protobuf/encoding/protowire"

// Login establishes a legacy session. Sent gateway -> backend.
type Login struct {
	User       string
	LegacyName string
	Password   string
}

func (p Login) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.User)
	b = appendString(b, 2, p.LegacyName)
	b = appendString(b, 3, p.Password)
	return b
}

func UnmarshalLogin(b []byte) (Login, error) {
	var p Login
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(v)
			p.User = s
			return n, err
		case 2:
			s, n, err := consumeString(v)
			p.LegacyName = s
			return n, err
		case 3:
			s, n, err := consumeString(v)
			p.Password = s
			return n, err
		default:
			return skipUnknown(num, typ, v)
		}
	})
	return p, err
}

// Logout terminates a legacy session. Sent gateway -> backend.
type Logout struct {
	User       string
	LegacyName string
}

func (p Logout) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.User)
	b = appendString(b, 2, p.LegacyName)
	return b
}

func UnmarshalLogout(b []byte) (Logout, error) {
	var p Logout
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(v)
			p.User = s
			return n, err
		case 2:
			s, n, err := consumeString(v)
			p.LegacyName = s
			return n, err
		default:
			return skipUnknown(num, typ, v)
		}
	})
	return p, err
}

// ConvMessage carries a chat payload, either direction. ROOM_SUBJECT_CHANGED
// uses this same shape per the wrapper table. Headline marks a message the
// legacy network flagged as a broadcast/announcement; whether it survives as
// an XMPP headline depends on the user's send_headlines setting.
type ConvMessage struct {
	User      string
	BuddyName string
	Message   string
	Nickname  string
	Headline  bool
}

func (p ConvMessage) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.User)
	b = appendString(b, 2, p.BuddyName)
	b = appendString(b, 3, p.Message)
	b = appendString(b, 4, p.Nickname)
	if p.Headline {
		b = appendVarint(b, 5, 1)
	}
	return b
}

func UnmarshalConvMessage(b []byte) (ConvMessage, error) {
	var p ConvMessage
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(v)
			p.User = s
			return n, err
		case 2:
			s, n, err := consumeString(v)
			p.BuddyName = s
			return n, err
		case 3:
			s, n, err := consumeString(v)
			p.Message = s
			return n, err
		case 4:
			s, n, err := consumeString(v)
			p.Nickname = s
			return n, err
		case 5:
			i, n, err := consumeVarint32(v)
			p.Headline = i != 0
			return n, err
		default:
			return skipUnknown(num, typ, v)
		}
	})
	return p, err
}

// RoomSubjectChanged is wire-identical to ConvMessage; kept as a distinct
// name because the two tags carry different meaning at the dispatch layer.
type RoomSubjectChanged = ConvMessage

func UnmarshalRoomSubjectChanged(b []byte) (RoomSubjectChanged, error) {
	return UnmarshalConvMessage(b)
}

// JoinRoom requests a MUC join. Sent gateway -> backend.
type JoinRoom struct {
	User     string
	Room     string
	Nickname string
	Password string
}

func (p JoinRoom) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.User)
	b = appendString(b, 2, p.Room)
	b = appendString(b, 3, p.Nickname)
	b = appendString(b, 4, p.Password)
	return b
}

func UnmarshalJoinRoom(b []byte) (JoinRoom, error) {
	var p JoinRoom
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(v)
			p.User = s
			return n, err
		case 2:
			s, n, err := consumeString(v)
			p.Room = s
			return n, err
		case 3:
			s, n, err := consumeString(v)
			p.Nickname = s
			return n, err
		case 4:
			s, n, err := consumeString(v)
			p.Password = s
			return n, err
		default:
			return skipUnknown(num, typ, v)
		}
	})
	return p, err
}

// LeaveRoom requests a MUC leave. Sent gateway -> backend.
type LeaveRoom struct {
	User string
	Room string
}

func (p LeaveRoom) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.User)
	b = appendString(b, 2, p.Room)
	return b
}

func UnmarshalLeaveRoom(b []byte) (LeaveRoom, error) {
	var p LeaveRoom
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(v)
			p.User = s
			return n, err
		case 2:
			s, n, err := consumeString(v)
			p.Room = s
			return n, err
		default:
			return skipUnknown(num, typ, v)
		}
	})
	return p, err
}

// BuddyChanged is a roster update. Sent backend -> gateway.
type BuddyChanged struct {
	User          string
	BuddyName     string
	Alias         string
	Groups        []string
	Status        int32
	StatusMessage string
	IconHash      string
}

func (p BuddyChanged) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.User)
	b = appendString(b, 2, p.BuddyName)
	b = appendString(b, 3, p.Alias)
	b = appendStrings(b, 4, p.Groups)
	b = appendVarint(b, 5, p.Status)
	b = appendString(b, 6, p.StatusMessage)
	b = appendString(b, 7, p.IconHash)
	return b
}

func UnmarshalBuddyChanged(b []byte) (BuddyChanged, error) {
	var p BuddyChanged
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(v)
			p.User = s
			return n, err
		case 2:
			s, n, err := consumeString(v)
			p.BuddyName = s
			return n, err
		case 3:
			s, n, err := consumeString(v)
			p.Alias = s
			return n, err
		case 4:
			s, n, err := consumeString(v)
			p.Groups = append(p.Groups, s)
			return n, err
		case 5:
			i, n, err := consumeVarint32(v)
			p.Status = i
			return n, err
		case 6:
			s, n, err := consumeString(v)
			p.StatusMessage = s
			return n, err
		case 7:
			s, n, err := consumeString(v)
			p.IconHash = s
			return n, err
		default:
			return skipUnknown(num, typ, v)
		}
	})
	return p, err
}

// ParticipantFlag is a bit-set of MUC occupant flags.
type ParticipantFlag int32

const (
	FlagNone      ParticipantFlag = 0
	FlagModerator ParticipantFlag = 1 << 0
)

// ParticipantChanged is a MUC occupant change. Sent backend -> gateway. A
// non-empty NewName indicates a rename.
type ParticipantChanged struct {
	User          string
	Nickname      string
	Room          string
	Flag          ParticipantFlag
	Status        int32
	StatusMessage string
	NewName       string
}

func (p ParticipantChanged) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.User)
	b = appendString(b, 2, p.Nickname)
	b = appendString(b, 3, p.Room)
	b = appendVarint(b, 4, int32(p.Flag))
	b = appendVarint(b, 5, p.Status)
	b = appendString(b, 6, p.StatusMessage)
	b = appendString(b, 7, p.NewName)
	return b
}

func UnmarshalParticipantChanged(b []byte) (ParticipantChanged, error) {
	var p ParticipantChanged
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(v)
			p.User = s
			return n, err
		case 2:
			s, n, err := consumeString(v)
			p.Nickname = s
			return n, err
		case 3:
			s, n, err := consumeString(v)
			p.Room = s
			return n, err
		case 4:
			i, n, err := consumeVarint32(v)
			p.Flag = ParticipantFlag(i)
			return n, err
		case 5:
			i, n, err := consumeVarint32(v)
			p.Status = i
			return n, err
		case 6:
			s, n, err := consumeString(v)
			p.StatusMessage = s
			return n, err
		case 7:
			s, n, err := consumeString(v)
			p.NewName = s
			return n, err
		default:
			return skipUnknown(num, typ, v)
		}
	})
	return p, err
}

// RoomNicknameChanged reports the local user's own nickname changing in a
// room. Sent backend -> gateway.
type RoomNicknameChanged struct {
	User     string
	Room     string
	Nickname string
}

func (p RoomNicknameChanged) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.User)
	b = appendString(b, 2, p.Room)
	b = appendString(b, 3, p.Nickname)
	return b
}

func UnmarshalRoomNicknameChanged(b []byte) (RoomNicknameChanged, error) {
	var p RoomNicknameChanged
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(v)
			p.User = s
			return n, err
		case 2:
			s, n, err := consumeString(v)
			p.Room = s
			return n, err
		case 3:
			s, n, err := consumeString(v)
			p.Nickname = s
			return n, err
		default:
			return skipUnknown(num, typ, v)
		}
	})
	return p, err
}

// SessionLifecycle backs both CONNECTED and DISCONNECTED, which share a
// shape per the wrapper table.
type SessionLifecycle struct {
	User       string
	LegacyName string
	Error      string
	Message    string
}

func (p SessionLifecycle) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.User)
	b = appendString(b, 2, p.LegacyName)
	b = appendString(b, 3, p.Error)
	b = appendString(b, 4, p.Message)
	return b
}

func UnmarshalSessionLifecycle(b []byte) (SessionLifecycle, error) {
	var p SessionLifecycle
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(v)
			p.User = s
			return n, err
		case 2:
			s, n, err := consumeString(v)
			p.LegacyName = s
			return n, err
		case 3:
			s, n, err := consumeString(v)
			p.Error = s
			return n, err
		case 4:
			s, n, err := consumeString(v)
			p.Message = s
			return n, err
		default:
			return skipUnknown(num, typ, v)
		}
	})
	return p, err
}

// RawIQ carries an opaque IQ payload through to a backend that opted into
// features.rawxml.
type RawIQ struct {
	User string
	XML  []byte
}

func (p RawIQ) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.User)
	b = appendBytes(b, 2, p.XML)
	return b
}

func UnmarshalRawIQ(b []byte) (RawIQ, error) {
	var p RawIQ
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(v)
			p.User = s
			return n, err
		case 2:
			bs, n, err := consumeBytesField(v)
			p.XML = bs
			return n, err
		default:
			return skipUnknown(num, typ, v)
		}
	})
	return p, err
}
