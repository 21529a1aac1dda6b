package rsyncindex_test

import (
	"bytes"
	"testing"

	"github.com/gokrazy/rsync/internal/rsyncindex"
	"github.com/gokrazy/rsync/internal/rsyncwire"
)

func TestRoundTrip(t *testing.T) {
	seqs := [][]int32{
		{0, 1, 2, 3, 300, 1, -1},
		{-2, -5, -100000, 0, 1000000, -1},
		{0, 0, 0, -1},
		{1<<30 + 5, -(1<<30 + 5), -1},
	}
	for _, seq := range seqs {
		var buf bytes.Buffer
		w := rsyncwire.NewConn(nil, &buf)
		var enc rsyncindex.Encoder
		for _, idx := range seq {
			if err := enc.Write(w, idx); err != nil {
				t.Fatal(err)
			}
		}
		if err := w.Flush(); err != nil {
			t.Fatal(err)
		}

		r := rsyncwire.NewConn(bytes.NewReader(buf.Bytes()), nil)
		var dec rsyncindex.Decoder
		for _, want := range seq {
			got, err := dec.Read(r)
			if err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Fatalf("got %d, want %d (seq %v)", got, want, seq)
			}
		}
	}
}
