// Package sender implements the Sender agent (§4.5): it walks the local
// source tree into a file list, transmits it, then for each file the peer's
// Generator asks about, matches the peer's checksum header against a
// sliding window over the local data and emits the resulting LITERAL/MATCH
// token stream (§4.8).
package sender

import (
	"log"

	"github.com/gokrazy/rsync/internal/filter"
	"github.com/gokrazy/rsync/internal/rsyncopts"
	"github.com/gokrazy/rsync/internal/rsyncwire"
)

// Transfer holds the state of one sender-side session.
type Transfer struct {
	Logger *log.Logger
	Opts   *rsyncopts.Options
	Conn   *rsyncwire.Conn
	Seed   int32

	// Filters, when non-nil, gates which source paths are included in the
	// outgoing file list (§4.4).
	Filters *filter.Set

	bytesRead    int64
	bytesWritten int64
}
