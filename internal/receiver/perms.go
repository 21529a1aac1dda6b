package receiver

import (
	"os"
	"path/filepath"
	"time"
)

// setPerms applies the metadata carried in f's file-list entry to the local
// file that was just written, in the order rsync's C generator.c does: mode
// first, then ownership (which can clear the setuid/setgid bits the kernel
// stripped on write), then mtime last so an ownership-triggered ctime bump
// doesn't shift what was recorded.
func (rt *Transfer) setPerms(f *File) error {
	local := filepath.Join(rt.Dest, f.Name)

	st, err := os.Lstat(local)
	if err != nil {
		return err
	}

	if rt.Opts.PreservePerms && st.Mode()&os.ModeSymlink == 0 {
		if err := os.Chmod(local, f.FileMode().Perm()); err != nil {
			return err
		}
	}

	if rt.Opts.PreserveUid || rt.Opts.PreserveGid {
		st, err = rt.setUid(f, local, st)
		if err != nil {
			return err
		}
	}

	if rt.Opts.PreserveTimes && st.Mode()&os.ModeSymlink == 0 {
		mtime := time.Unix(f.ModTime, 0)
		if err := os.Chtimes(local, mtime, mtime); err != nil {
			return err
		}
	}

	return nil
}
