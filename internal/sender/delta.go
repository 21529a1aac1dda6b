package sender

import (
	"io"
	"os"

	"github.com/gokrazy/rsync"
	"github.com/gokrazy/rsync/internal/rsyncchecksum"
)

// blockSum is one entry of the peer's checksum header: the rolling sum and
// truncated strong digest for one fixed-size block of their basis file.
type blockSum struct {
	index  int32
	strong []byte
}

// readSumHead reads one generator checksum header: the SumHead itself,
// followed by ChecksumCount (rolling, strong) pairs, returning a hash table
// keyed by rolling checksum value so sendFile can look up candidate blocks
// in constant time while sliding its window.
func (rt *Transfer) readSumHead() (rsync.SumHead, map[uint32][]blockSum, error) {
	var sh rsync.SumHead
	if err := sh.ReadFrom(rt.Conn); err != nil {
		return sh, nil, err
	}
	table := make(map[uint32][]blockSum, sh.ChecksumCount)
	for i := int32(0); i < sh.ChecksumCount; i++ {
		rsum, err := rt.Conn.ReadInt32()
		if err != nil {
			return sh, nil, err
		}
		strong, err := rt.Conn.ReadN(int(sh.ChecksumLength))
		if err != nil {
			return sh, nil, err
		}
		key := uint32(rsum)
		table[key] = append(table[key], blockSum{index: i, strong: strong})
	}
	return sh, table, nil
}

// sendFile reads the generator's checksum header for one file, matches the
// local file's contents against it with a sliding window, and writes the
// resulting LITERAL/MATCH token stream (§4.8) followed by the whole-file
// digest. A missing or unreadable local file is sent as a single literal
// read failure is reported to the peer via the running IOErrors count
// rather than aborting the session.
func (rt *Transfer) sendFile(path string) error {
	sh, table, err := rt.readSumHead()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		rt.Logger.Printf("opening %s for send: %v", path, err)
		return rt.Conn.WriteInt32(0)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		rt.Logger.Printf("reading %s for send: %v", path, err)
		return rt.Conn.WriteInt32(0)
	}

	digest := rsyncchecksum.NewWholeFileDigest(rt.Seed)

	blockLen := int(sh.BlockLength)
	if blockLen == 0 || len(table) == 0 {
		return rt.sendLiteralAndDigest(data, digest)
	}

	var literal []byte
	i := 0
	var rc rsyncchecksum.RollingChecksum
	haveRC := false
	for i < len(data) {
		remaining := len(data) - i
		winLen := blockLen
		if remaining < winLen {
			winLen = remaining
		}
		window := data[i : i+winLen]
		if winLen == blockLen {
			if !haveRC {
				rc = rsyncchecksum.New(window)
				haveRC = true
			}
		} else {
			// Tail shorter than a full block: nothing left to roll into, and
			// it can never match a block-length candidate anyway.
			rc = rsyncchecksum.New(window)
			haveRC = false
		}
		if cands, ok := table[rc.Value()]; ok && winLen == blockLen {
			strong := rsyncchecksum.StrongSum(rt.Seed, window, int32(sh.ChecksumLength))
			matched := int32(-1)
			for _, c := range cands {
				if bytesEqual(c.strong, strong) {
					matched = c.index
					break
				}
			}
			if matched >= 0 {
				if err := rt.flushLiteral(literal, digest); err != nil {
					return err
				}
				literal = nil
				if err := rt.Conn.WriteInt32(-(matched + 1)); err != nil {
					return err
				}
				digest.Write(window)
				i += winLen
				haveRC = false
				continue
			}
		}
		literal = append(literal, data[i])
		digest.Write(data[i : i+1])
		if haveRC && i+winLen < len(data) {
			rc.Roll(data[i], data[i+winLen])
		} else {
			haveRC = false
		}
		i++
	}
	if err := rt.flushLiteral(literal, digest); err != nil {
		return err
	}
	if err := rt.Conn.WriteInt32(0); err != nil {
		return err
	}
	if err := rt.Conn.WriteBytes(digest.Sum()); err != nil {
		return err
	}
	return rt.Conn.Flush()
}

func (rt *Transfer) flushLiteral(literal []byte, digest *rsyncchecksum.WholeFileDigest) error {
	if len(literal) == 0 {
		return nil
	}
	if err := rt.Conn.WriteInt32(int32(len(literal))); err != nil {
		return err
	}
	return rt.Conn.WriteBytes(literal)
}

func (rt *Transfer) sendLiteralAndDigest(data []byte, digest *rsyncchecksum.WholeFileDigest) error {
	digest.Write(data)
	if len(data) > 0 {
		if err := rt.Conn.WriteInt32(int32(len(data))); err != nil {
			return err
		}
		if err := rt.Conn.WriteBytes(data); err != nil {
			return err
		}
	}
	if err := rt.Conn.WriteInt32(0); err != nil {
		return err
	}
	if err := rt.Conn.WriteBytes(digest.Sum()); err != nil {
		return err
	}
	return rt.Conn.Flush()
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
