package rsyncwire_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/gokrazy/rsync/internal/rsyncwire"
)

type recordingHandler struct {
	msgs []rsyncwire.Message
}

func (r *recordingHandler) HandleMessage(msg rsyncwire.Message) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := rsyncwire.NewConn(nil, &buf)
	w.EnableMultiplexOut()

	if err := w.WriteInt32(42); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteMessage(rsyncwire.Message{Code: rsyncwire.MsgInfo, Data: []byte("hello")}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBytes([]byte("world")); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	h := &recordingHandler{}
	r := rsyncwire.NewConn(bytes.NewReader(buf.Bytes()), nil)
	r.Handler = h
	r.EnableMultiplexIn()

	got, err := r.ReadInt32()
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("ReadInt32() = %d, want 42", got)
	}

	world, err := r.ReadN(5)
	if err != nil {
		t.Fatal(err)
	}
	if string(world) != "world" {
		t.Fatalf("ReadN() = %q, want %q", world, "world")
	}

	if len(h.msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(h.msgs))
	}
	if h.msgs[0].Code != rsyncwire.MsgInfo || string(h.msgs[0].Data) != "hello" {
		t.Fatalf("got message %+v, want Code=MsgInfo Data=hello", h.msgs[0])
	}
}

func TestReadByteEOFMidPayload(t *testing.T) {
	r := rsyncwire.NewConn(bytes.NewReader(nil), nil)
	_, err := r.ReadByte()
	if err == nil {
		t.Fatal("expected error on empty stream")
	}
	var eof *rsyncwire.ErrChannelEOF
	if !isChannelEOF(err, &eof) {
		t.Fatalf("got %v (%T), want *ErrChannelEOF", err, err)
	}
}

func isChannelEOF(err error, target **rsyncwire.ErrChannelEOF) bool {
	for err != nil {
		if e, ok := err.(*rsyncwire.ErrChannelEOF); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var _ io.Reader = (*bytes.Reader)(nil)
