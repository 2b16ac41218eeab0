package wire

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Type: MessageTypeAddrRequest, Payload: []byte("payload")}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.Type != in.Type || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("frame mismatch: %+v", out)
	}
}

func TestFrameSequenceOnSameStream(t *testing.T) {
	// The control stream carries several frames back to back; reading one
	// must not consume bytes that belong to the next.
	var buf bytes.Buffer
	frames := []Frame{
		{Type: MessageTypeHello, Payload: []byte("first")},
		{Type: MessageTypeAddrRequest},
		{Type: MessageTypeAddrList, Payload: []byte("third")},
	}
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	for i, want := range frames {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if got.Type != want.Type || !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("frame %d mismatch: %+v", i, got)
		}
	}
}

func TestFrameRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, Frame{Type: MessageTypeAddrList, Payload: make([]byte, MaxFramePayload+1)})
	if err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFrameRejectsZeroType(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Type: 0}); err != ErrInvalidType {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}
