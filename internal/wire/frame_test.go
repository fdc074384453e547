package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{},
		[]byte("a slightly longer payload with some bytes in it"),
		{0x00, 0x01, 0x02, 0xff},
	}

	var stream []byte
	for _, p := range payloads {
		stream = append(stream, Encode(p)...)
	}

	for chunk := 1; chunk <= len(stream)+1; chunk++ {
		d := NewDecoder()
		var got [][]byte
		for i := 0; i < len(stream); i += chunk {
			end := i + chunk
			if end > len(stream) {
				end = len(stream)
			}
			frames, err := d.Feed(stream[i:end])
			if err != nil {
				t.Fatalf("chunk size %d: Feed: %v", chunk, err)
			}
			got = append(got, frames...)
		}
		if len(got) != len(payloads) {
			t.Fatalf("chunk size %d: got %d frames, want %d", chunk, len(got), len(payloads))
		}
		for i, p := range payloads {
			if !bytes.Equal(got[i], p) {
				t.Fatalf("chunk size %d: frame %d = %v, want %v", chunk, i, got[i], p)
			}
		}
	}
}

func TestDecoderRetainsPartialFrame(t *testing.T) {
	d := NewDecoder()
	full := Encode([]byte("payload"))

	frames, err := d.Feed(full[:2])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("got %d frames from a partial header, want 0", len(frames))
	}

	frames, err = d.Feed(full[2:5])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("got %d frames from a partial body, want 0", len(frames))
	}

	frames, err = d.Feed(full[5:])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 || string(frames[0]) != "payload" {
		t.Fatalf("final Feed = %v, want [payload]", frames)
	}
}

func TestDecoderHandlesBackToBackFramesInOneFeed(t *testing.T) {
	d := NewDecoder()
	stream := append(Encode([]byte("one")), Encode([]byte("two"))...)

	frames, err := d.Feed(stream)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 2 || string(frames[0]) != "one" || string(frames[1]) != "two" {
		t.Fatalf("frames = %v, want [one two]", frames)
	}
}
