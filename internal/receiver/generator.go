package receiver

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/gokrazy/rsync/internal/rsyncchecksum"
)

// GenerateFiles is the Generator agent (§4.6): for each entry in fileList it
// decides, by comparing against whatever basis file already exists at the
// destination, whether the sender can send a short delta or must resend the
// whole file, and writes that decision onto the wire as a checksum header
// (possibly with zero blocks) the sender consumes to drive its own delta
// engine. It runs concurrently with RecvFiles on the same *Transfer,
// writing generator requests while RecvFiles reads the resulting data
// stream — the two halves of one duplex connection.
func (rt *Transfer) GenerateFiles(fileList []*File) error {
	for idx, f := range fileList {
		if f.FileMode().IsDir() {
			if err := rt.mkdirForEntry(f); err != nil {
				rt.IOErrors++
				rt.Logger.Printf("mkdir %s: %v", f.Name, err)
			}
			continue
		}
		if !f.FileMode().IsRegular() {
			// Symlinks, devices and specials carry no block data: they're
			// materialized directly from the file-list entry, not via the
			// token stream RecvFiles drives.
			if err := rt.materializeSpecial(f); err != nil {
				rt.IOErrors++
				rt.Logger.Printf("materializing %s: %v", f.Name, err)
			}
			continue
		}
		if err := rt.generateOne(int32(idx), f); err != nil {
			return err
		}
	}
	// End PHASE_TRANSFER. The sender's phase loop (internal/sender.Do) waits
	// for a second -1 ending PHASE_REDO before it will move on to reporting
	// statistics; since this generator does not yet re-request indexes whose
	// checksums failed to verify (see Transfer.redo), PHASE_REDO is always
	// empty and its -1 follows immediately.
	if err := rt.Conn.WriteInt32(-1); err != nil {
		return err
	}
	if err := rt.Conn.WriteInt32(-1); err != nil {
		return err
	}
	return rt.Conn.Flush()
}

// materializeSpecial recreates a non-regular, non-directory entry
// (symlink, device, or special file) directly at the destination, since
// none of these carry delta-engine block data.
func (rt *Transfer) materializeSpecial(f *File) error {
	if rt.Opts.DryRun {
		return nil
	}
	local := filepath.Join(rt.Dest, f.Name)
	mode := f.FileMode()

	switch {
	case mode&os.ModeSymlink != 0:
		if !rt.Opts.PreserveLinks {
			return nil
		}
		os.Remove(local)
		if err := symlink(f.LinkTarget, local); err != nil {
			return err
		}
	case mode&(os.ModeDevice|os.ModeCharDevice) != 0:
		if !rt.Opts.PreserveDevices {
			return nil
		}
		os.Remove(local)
		devMode := uint32(0644)
		if mode&os.ModeCharDevice != 0 {
			devMode |= syscall.S_IFCHR
		} else {
			devMode |= syscall.S_IFBLK
		}
		devt := int(f.Major)<<8 | int(f.Minor)
		if err := syscall.Mknod(local, devMode, devt); err != nil {
			return err
		}
	case mode&(os.ModeNamedPipe|os.ModeSocket) != 0:
		if !rt.Opts.PreserveSpecials {
			return nil
		}
		os.Remove(local)
		devMode := uint32(0644)
		if mode&os.ModeSocket != 0 {
			devMode |= syscall.S_IFSOCK
		} else {
			devMode |= syscall.S_IFIFO
		}
		if err := syscall.Mknod(local, devMode, 0); err != nil {
			return err
		}
	default:
		return nil
	}

	return rt.setPerms(f)
}

func (rt *Transfer) mkdirForEntry(f *File) error {
	if rt.Opts.DryRun {
		return nil
	}
	return os.MkdirAll(filepath.Join(rt.Dest, f.Name), 0755)
}

// generateOne computes (or fabricates, when no basis file exists) the
// checksum header for one regular file and writes it to the wire, matching
// rsync's generator.c:generate_and_send_sums / recv_generator.
func (rt *Transfer) generateOne(idx int32, f *File) error {
	local := filepath.Join(rt.Dest, f.Name)
	basis, err := os.Open(local)
	if err != nil {
		if !os.IsNotExist(err) {
			rt.IOErrors++
			rt.Logger.Printf("opening basis file %s: %v", local, err)
		}
		return rt.sendEmptySums(idx)
	}
	defer basis.Close()

	st, err := basis.Stat()
	if err != nil || !st.Mode().IsRegular() {
		return rt.sendEmptySums(idx)
	}

	// Quick check: a basis file whose size and mtime already match the
	// incoming entry is assumed byte-identical, unless --ignore-times
	// forces a full checksum comparison regardless.
	if !rt.Opts.IgnoreTimes && st.Size() == f.Size && st.ModTime().Unix() == f.ModTime {
		return rt.sendEmptySums(idx)
	}

	sh := rsyncchecksum.SumSizesSqroot(st.Size())
	if rt.Opts.BlockSize > 0 {
		sh.BlockLength = rt.Opts.BlockSize
		sh.ChecksumCount = int32((st.Size() + int64(sh.BlockLength) - 1) / int64(sh.BlockLength))
		sh.RemainderLength = int32(st.Size() % int64(sh.BlockLength))
	}

	if err := rt.Conn.WriteInt32(idx); err != nil {
		return err
	}
	if err := sh.WriteTo(rt.Conn); err != nil {
		return err
	}

	buf := make([]byte, sh.BlockLength)
	for i := int32(0); i < sh.ChecksumCount; i++ {
		n := int(sh.BlockLength)
		if i == sh.ChecksumCount-1 && sh.RemainderLength != 0 {
			n = int(sh.RemainderLength)
		}
		if _, err := basis.ReadAt(buf[:n], int64(i)*int64(sh.BlockLength)); err != nil {
			return err
		}
		rc := rsyncchecksum.New(buf[:n])
		if err := rt.Conn.WriteInt32(int32(rc.Value())); err != nil {
			return err
		}
		strong := rsyncchecksum.StrongSum(rt.Seed, buf[:n], int32(sh.ChecksumLength))
		if err := rt.Conn.WriteBytes(strong[:sh.ChecksumLength]); err != nil {
			return err
		}
	}

	return nil
}

// sendEmptySums writes a checksum header with zero blocks, telling the
// sender no basis data exists: the whole file comes across as one literal
// token.
func (rt *Transfer) sendEmptySums(idx int32) error {
	if err := rt.Conn.WriteInt32(idx); err != nil {
		return err
	}
	sh := rsyncchecksum.SumSizesSqroot(0)
	sh.ChecksumCount = 0
	sh.RemainderLength = 0
	return sh.WriteTo(rt.Conn)
}
