package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Tag identifies the kind of payload a Wrapper carries. The set is closed:
// any value not listed here is a protocol violation.
type Tag int32

const (
	TagUnknown Tag = iota
	TagLogin
	TagLogout
	TagConvMessage
	TagRoomSubjectChanged
	TagJoinRoom
	TagLeaveRoom
	TagBuddyChanged
	TagParticipantChanged
	TagRoomNicknameChanged
	TagConnected
	TagDisconnected
	TagPing
	TagPong
	TagRawIQ
)

func (t Tag) String() string {
	switch t {
	case TagLogin:
		return "LOGIN"
	case TagLogout:
		return "LOGOUT"
	case TagConvMessage:
		return "CONV_MESSAGE"
	case TagRoomSubjectChanged:
		return "ROOM_SUBJECT_CHANGED"
	case TagJoinRoom:
		return "JOIN_ROOM"
	case TagLeaveRoom:
		return "LEAVE_ROOM"
	case TagBuddyChanged:
		return "BUDDY_CHANGED"
	case TagParticipantChanged:
		return "PARTICIPANT_CHANGED"
	case TagRoomNicknameChanged:
		return "ROOM_NICKNAME_CHANGED"
	case TagConnected:
		return "CONNECTED"
	case TagDisconnected:
		return "DISCONNECTED"
	case TagPing:
		return "PING"
	case TagPong:
		return "PONG"
	case TagRawIQ:
		return "RAW_IQ"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
}

// Wrapper is the outer envelope every frame payload decodes into: a type tag
// plus an opaque inner payload whose schema is selected by the tag.
type Wrapper struct {
	Tag     Tag
	Payload []byte
}

const (
	wrapperFieldTag     protowire.Number = 1
	wrapperFieldPayload protowire.Number = 2
)

// Marshal encodes the wrapper as a protobuf-wire-format record.
func (w Wrapper) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, wrapperFieldTag, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(w.Tag)))
	if len(w.Payload) > 0 {
		b = protowire.AppendTag(b, wrapperFieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, w.Payload)
	}
	return b
}

// UnmarshalWrapper decodes a wrapper previously produced by Marshal. Unknown
// fields are skipped rather than rejected, so future fields can be added
// without breaking older peers.
func UnmarshalWrapper(b []byte) (Wrapper, error) {
	var w Wrapper
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case wrapperFieldTag:
			val, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return 0, fmt.Errorf("wire: wrapper tag field: %w", protowire.ParseError(n))
			}
			w.Tag = Tag(int32(val))
			return n, nil
		case wrapperFieldPayload:
			val, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return 0, fmt.Errorf("wire: wrapper payload field: %w", protowire.ParseError(n))
			}
			w.Payload = append([]byte(nil), val...)
			return n, nil
		default:
			n := protowire.ConsumeFieldValue(num, typ, v)
			if n < 0 {
				return 0, fmt.Errorf("wire: unknown field %d: %w", num, protowire.ParseError(n))
			}
			return n, nil
		}
	})
	return w, err
}

// forEachField walks a protowire-encoded record, invoking fn with each
// field's number, wire type, and the remaining buffer positioned at that
// field's value. fn returns how many bytes of v it consumed.
func forEachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: bad field tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		consumed, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if consumed <= 0 || consumed > len(b) {
			return fmt.Errorf("wire: field %d consumed invalid length %d", num, consumed)
		}
		b = b[consumed:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendStrings(b []byte, num protowire.Number, vals []string) []byte {
	for _, s := range vals {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(uint32(v)))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func consumeString(v []byte) (string, int, error) {
	val, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return "", 0, fmt.Errorf("wire: bad string field: %w", protowire.ParseError(n))
	}
	return string(val), n, nil
}

func consumeVarint32(v []byte) (int32, int, error) {
	val, n := protowire.ConsumeVarint(v)
	if n < 0 {
		return 0, 0, fmt.Errorf("wire: bad varint field: %w", protowire.ParseError(n))
	}
	return int32(uint32(val)), n, nil
}

func consumeBytesField(v []byte) ([]byte, int, error) {
	val, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return nil, 0, fmt.Errorf("wire: bad bytes field: %w", protowire.ParseError(n))
	}
	return append([]byte(nil), val...), n, nil
}

func skipUnknown(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, v)
	if n < 0 {
		return 0, fmt.Errorf("wire: unknown field %d: %w", num, protowire.ParseError(n))
	}
	return n, nil
}
