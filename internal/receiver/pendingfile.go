package receiver

import "github.com/google/renameio/v2"

// newPendingFile opens a temporary file next to local that is atomically
// renamed into place by CloseAtomicallyReplace, or discarded by Cleanup if
// the transfer is abandoned (checksum mismatch, I/O error, cancellation) —
// a peer never observes a partially written destination file.
func newPendingFile(local string) (*renameio.PendingFile, error) {
	return renameio.NewPendingFile(local,
		renameio.WithPermissions(0644),
		renameio.WithExistingPermissions(),
	)
}
