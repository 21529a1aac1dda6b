package sender_test

import (
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gokrazy/rsync/internal/receiver"
	"github.com/gokrazy/rsync/internal/rsyncopts"
	"github.com/gokrazy/rsync/internal/rsyncos"
	"github.com/gokrazy/rsync/internal/rsyncwire"
	"github.com/gokrazy/rsync/internal/sender"
	"github.com/gokrazy/rsync/internal/session"
	"github.com/google/go-cmp/cmp"
)

// pipeConn returns two *rsyncwire.Conn instances (plus the sender side's
// byte counters, which sender.Do needs directly) connected by a pair of
// io.Pipes, one playing the sender role and one the receiver role, each
// already past the version/seed handshake.
func pipeConn(t *testing.T) (sConn, rConn *rsyncwire.Conn, sCrd *rsyncwire.CountingReader, sCwr *rsyncwire.CountingWriter, seed int32) {
	t.Helper()

	ard, awr := io.Pipe()
	brd, bwr := io.Pipe()

	sCrd = &rsyncwire.CountingReader{R: brd}
	sCwr = &rsyncwire.CountingWriter{W: awr}
	sConn = rsyncwire.NewConn(sCrd, sCwr)

	rCrd := &rsyncwire.CountingReader{R: ard}
	rCwr := &rsyncwire.CountingWriter{W: bwr}
	rConn = rsyncwire.NewConn(rCrd, rCwr)

	var wg sync.WaitGroup
	wg.Add(1)
	var serverSeed int32
	go func() {
		defer wg.Done()
		var err error
		serverSeed, err = session.ServerHandshake(rConn)
		if err != nil {
			t.Error(err)
		}
	}()
	clientSeed, err := session.ClientHandshake(sConn)
	if err != nil {
		t.Fatal(err)
	}
	wg.Wait()
	if clientSeed != serverSeed {
		t.Fatalf("handshake seed mismatch: client got %d, server got %d", clientSeed, serverSeed)
	}
	return sConn, rConn, sCrd, sCwr, clientSeed
}

// TestTransferRoundTrip exercises the Sender and Receiver/Generator agents
// directly against each other over an in-memory duplex pipe, without going
// through rsyncd or rsyncclient: a single file, synced twice, the second
// time with only part of its contents changed.
func TestTransferRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dest := filepath.Join(tmp, "dest")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}

	original := make([]byte, 256*1024)
	for i := range original {
		original[i] = byte(i % 251)
	}
	if err := os.WriteFile(filepath.Join(src, "blob"), original, 0644); err != nil {
		t.Fatal(err)
	}

	opts, err := rsyncopts.ParseArguments(&rsyncos.Env{Stderr: os.Stderr}, []string{"-av"})
	if err != nil {
		t.Fatal(err)
	}

	run := func() {
		sConn, rConn, sCrd, sCwr, seed := pipeConn(t)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := &sender.Transfer{
				Logger: stdlog.New(os.Stderr, "sender: ", 0),
				Opts:   opts.Options,
				Conn:   sConn,
				Seed:   seed,
			}
			if _, err := st.Do(sCrd, sCwr, "src/", src+"/", []string{"src/"}, nil); err != nil {
				t.Error(err)
			}
		}()

		rt := &receiver.Transfer{
			Logger: stdlog.New(os.Stderr, "receiver: ", 0),
			Opts: &receiver.TransferOpts{
				PreserveTimes: opts.Options.PreserveMTimes(),
				PreservePerms: opts.Options.PreservePerms(),
			},
			Conn: rConn,
			Seed: seed,
		}
		if err := rt.OpenDestRoot(dest); err != nil {
			t.Fatal(err)
		}
		if err := rConn.WriteInt32(0); err != nil { // empty exclusion list
			t.Fatal(err)
		}
		if err := rConn.Flush(); err != nil {
			t.Fatal(err)
		}
		fileList, err := rt.ReceiveFileList()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := rt.Do(rConn, fileList, false /* noReport: sender always writes stats */); err != nil {
			t.Fatal(err)
		}
		wg.Wait()
	}

	run()

	got, err := os.ReadFile(filepath.Join(dest, "blob"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(original, got); diff != "" {
		t.Fatalf("unexpected contents after first sync: diff (-want +got):\n%s", diff)
	}

	// Change a chunk in the middle and resync: the delta engine should
	// still reproduce the file exactly.
	changed := append([]byte(nil), original...)
	for i := 100000; i < 100000+4096; i++ {
		changed[i] = byte(0xff)
	}
	if err := os.WriteFile(filepath.Join(src, "blob"), changed, 0644); err != nil {
		t.Fatal(err)
	}

	run()

	got, err = os.ReadFile(filepath.Join(dest, "blob"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(changed, got); diff != "" {
		t.Fatalf("unexpected contents after second sync: diff (-want +got):\n%s", diff)
	}
}
