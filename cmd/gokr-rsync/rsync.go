// Tool gokr-rsync is a native Go implementation of the rsync client and
// --server counterpart, wire-compatible with tridge rsync and openrsync.
package main

import (
	"context"
	"log"
	"os"

	"github.com/gokrazy/rsync/internal/maincmd"
	"github.com/gokrazy/rsync/internal/rsyncos"
)

func main() {
	osenv := &rsyncos.Env{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	if _, err := maincmd.Main(context.Background(), osenv, os.Args); err != nil {
		log.Fatal(err)
	}
}
