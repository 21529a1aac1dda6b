// Package receiver implements the Receiver and Generator agents (§4.6/§4.7):
// together they decode the incoming file list, walk it to decide which
// entries need fresh data (consulting a filter.Set for deletions), emit
// checksum headers for the sender to diff against, and write the resulting
// literal/matched byte stream to disk through a temporary file that is
// atomically renamed into place only once its checksum has been verified.
package receiver

import (
	"log"
	"os"

	"github.com/gokrazy/rsync/internal/filter"
	"github.com/gokrazy/rsync/internal/rsyncos"
	"github.com/gokrazy/rsync/internal/rsyncwire"
)

// TransferOpts mirrors the subset of rsyncopts.Options that the receiver and
// generator agents consult; kept as a plain struct (rather than depending on
// rsyncopts directly) so package receiver stays usable without pulling in
// command-line parsing.
type TransferOpts struct {
	Verbose bool
	DryRun  bool
	Server  bool

	DeleteMode bool

	PreservePerms     bool
	PreserveUid       bool
	PreserveGid       bool
	PreserveLinks     bool
	PreserveDevices   bool
	PreserveSpecials  bool
	PreserveTimes     bool
	PreserveHardlinks bool

	// IgnoreTimes disables the quick size/mtime check in generateOne: every
	// file is checksummed and diffed against the basis even when its size
	// and modification time already match the incoming entry.
	IgnoreTimes bool

	BlockSize int32
}

// Transfer holds the state of one receiver-side session: the agents defined
// in this package are all methods on *Transfer so they can share the
// destination root, the negotiated seed, and the running I/O error count
// without a separate context object.
type Transfer struct {
	Conn   *rsyncwire.Conn
	Logger *log.Logger
	Env    rsyncos.Std
	Opts   *TransferOpts

	// Dest is the destination argument as given on the command line;
	// DestRoot is the same directory opened once via os.OpenRoot so every
	// per-file operation is confined to it even if a malicious or buggy
	// peer sends a file-list entry containing "..".
	Dest     string
	DestRoot *os.Root

	// Filters gates deletion decisions (MatchDelete) independently of which
	// entries the sender chose to include; a nil Filters accepts everything.
	Filters *filter.Set

	Seed int32

	// IOErrors counts local I/O failures reported so far; non-zero
	// suppresses the deletion pass, matching rsync's refusal to delete
	// anything once it can no longer trust its view of the destination.
	IOErrors int32

	// redo is never populated: receiveData fails the whole transfer on a
	// whole-file digest mismatch instead of queueing the index again, so
	// the generator's PHASE_REDO round is always empty.
	redo []int32
}

// OpenDestRoot opens dir (creating it first if needed, matching rsync's
// server behavior of mkdir-ing writable module paths) and assigns it to
// rt.DestRoot.
func (rt *Transfer) OpenDestRoot(dir string) error {
	if !rt.Opts.DryRun {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	rt.Dest = dir
	rt.DestRoot = root
	return nil
}
