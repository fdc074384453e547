// Package wire implements the length-prefixed framing and envelope codec
// used to talk to backend processes over a local TCP connection.
package wire

import (
	"encoding/binary"
	"fmt"
)

const headerSize = 4

// Decoder reconstructs a sequence of length-prefixed frames out of
// arbitrarily chunked input. It is restartable across short reads: callers
// feed it whatever bytes a socket read produced, in any size, and drain the
// frames that have become complete.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty decoder ready to receive the start of a
// stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends p to the decoder's internal buffer and returns every frame
// payload that is now complete, in arrival order. Any trailing partial frame
// is retained for the next call.
func (d *Decoder) Feed(p []byte) ([][]byte, error) {
	d.buf = append(d.buf, p...)

	var frames [][]byte
	for {
		if len(d.buf) < headerSize {
			break
		}
		length := binary.BigEndian.Uint32(d.buf[:headerSize])
		total := headerSize + int(length)
		if total < 0 {
			return frames, fmt.Errorf("wire: frame length %d overflows int", length)
		}
		if len(d.buf) < total {
			break
		}
		payload := make([]byte, length)
		copy(payload, d.buf[headerSize:total])
		frames = append(frames, payload)
		d.buf = d.buf[total:]
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames, nil
}

// Encode prefixes payload with its big-endian 4-byte length, producing one
// complete frame ready to write to the stream.
func Encode(payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out[:headerSize], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out
}
