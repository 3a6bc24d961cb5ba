package wire

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := &Frame{Type: MATOCS_CREATE, Payload: []byte{1, 2, 3, 4}}
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf, MaxMasterFrameLength)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Type != want.Type || !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	f := &Frame{Type: ANTOAN_NOP, Payload: make([]byte, 64)}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if _, err := ReadFrame(&buf, 32); err == nil {
		t.Fatalf("expected oversize frame to be rejected")
	}
}

func TestWriterPreservesOrder(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	w := NewWriter(server, 8)
	frames := []*Frame{
		{Type: MATOCS_CREATE, Payload: []byte("a")},
		{Type: MATOCS_DELETE, Payload: []byte("b")},
		{Type: MATOCS_TRUNCATE, Payload: []byte("c")},
	}
	go func() {
		for _, f := range frames {
			w.Send(f)
		}
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range frames {
		got, err := ReadFrame(client, MaxMasterFrameLength)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if got.Type != want.Type || string(got.Payload) != string(want.Payload) {
			t.Fatalf("out of order: got %+v want %+v", got, want)
		}
	}
	w.Close()
	server.Close()
}
