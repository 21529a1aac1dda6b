package session_test

import (
	"io"
	"sync"
	"testing"

	"github.com/gokrazy/rsync/internal/rsyncwire"
	"github.com/gokrazy/rsync/internal/session"
)

func TestHandshakeRoundTrip(t *testing.T) {
	ard, awr := io.Pipe()
	brd, bwr := io.Pipe()

	client := rsyncwire.NewConn(ard, bwr)
	server := rsyncwire.NewConn(brd, awr)

	var wg sync.WaitGroup
	wg.Add(1)
	var serverSeed int32
	var serverErr error
	go func() {
		defer wg.Done()
		serverSeed, serverErr = session.ServerHandshake(server)
	}()

	clientSeed, err := session.ClientHandshake(client)
	if err != nil {
		t.Fatal(err)
	}
	wg.Wait()
	if serverErr != nil {
		t.Fatal(serverErr)
	}

	if clientSeed != serverSeed {
		t.Fatalf("negotiated seeds differ: client=%d server=%d", clientSeed, serverSeed)
	}
}

func TestNewSeedVaries(t *testing.T) {
	a, err := session.NewSeed()
	if err != nil {
		t.Fatal(err)
	}
	b, err := session.NewSeed()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("two consecutive seeds were equal: %d", a)
	}
}
