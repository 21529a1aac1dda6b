// Package rsyncchecksum implements the two checksums the delta engine
// matches blocks with: rsync's incrementally-updatable rolling sum, and the
// truncated, seeded MD4 strong digest used to resolve rolling-sum
// collisions and to verify whole files after reconstruction.
package rsyncchecksum

import (
	"encoding/binary"

	"github.com/mmcloughlin/md4"

	"github.com/gokrazy/rsync"
)

// Offs is the constant rsync mixes into every byte before accumulating the
// rolling sum (get_checksum1 in checksum.c).
const Offs = 31

// blockSize is the minimum block length produced by SumSizesSqroot,
// mirroring rsync's generator.c BLOCK_SIZE constant.
const blockSize = 700

// SumSizesSqroot computes the checksum header for a basis file of the
// given length, using rsync's square-root-like heuristic: block size
// grows with the square root of the file size (rounded up to a multiple
// of 8, then bounded below by blockSize). The strong checksum length is
// always the full 16-byte MD4 digest.
func SumSizesSqroot(length int64) rsync.SumHead {
	// Round up to a multiple of 8, as rsync does, to keep block lengths
	// tidy across platforms.
	blockLength := (int32(isqrt(length)) + 7) &^ 7
	if blockLength < blockSize {
		blockLength = blockSize
	}

	var checksumCount, remainder int32
	if length > 0 {
		checksumCount = int32((length + int64(blockLength) - 1) / int64(blockLength))
		remainder = int32(length % int64(blockLength))
		if remainder == 0 {
			remainder = blockLength
		}
	}

	const checksumLength = 16 // full MD4 digest; gokr-rsync does not truncate

	return rsync.SumHead{
		ChecksumCount:   checksumCount,
		BlockLength:     blockLength,
		ChecksumLength:  checksumLength,
		RemainderLength: remainder,
	}
}

func isqrt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

// RollingChecksum is rsync's two-halved additive checksum, updatable in
// constant time as a window slides over the input one byte at a time.
type RollingChecksum struct {
	s1, s2 uint32
	n      uint32 // window length
}

// New computes the initial rolling checksum over data.
func New(data []byte) RollingChecksum {
	var r RollingChecksum
	r.n = uint32(len(data))
	var s1, s2 uint32
	for i, b := range data {
		s1 += uint32(b) + Offs
		s2 += (r.n - uint32(i)) * (uint32(b) + Offs)
	}
	r.s1, r.s2 = s1&0xFFFF, s2&0xFFFF
	return r
}

// Value returns the combined 32-bit rolling checksum, s2<<16|s1.
func (r RollingChecksum) Value() uint32 {
	return r.s2<<16 | (r.s1 & 0xFFFF)
}

// Roll advances the window by one byte: outByte leaves at the front, inByte
// enters at the back.
func (r *RollingChecksum) Roll(outByte, inByte byte) {
	r.s1 = (r.s1 - uint32(outByte) - Offs + uint32(inByte) + Offs) & 0xFFFF
	r.s2 = (r.s2 - r.n*(uint32(outByte)+Offs) + r.s1) & 0xFFFF
}

// StrongSum computes the session-seeded MD4 digest of data, truncated to
// length bytes (length must be in [2,16]).
func StrongSum(seed int32, data []byte, length int32) []byte {
	h := md4.New()
	var seedBuf [4]byte
	binary.LittleEndian.PutUint32(seedBuf[:], uint32(seed))
	h.Write(seedBuf[:])
	h.Write(data)
	sum := h.Sum(nil)
	if int(length) < len(sum) {
		sum = sum[:length]
	}
	return sum
}

// NewWholeFileDigest returns an MD4 hash primed with the session seed, to
// which callers Write() the reconstructed (or source) file bytes in order,
// then Sum(nil) to obtain the whole-file digest that terminates a delta
// stream.
func NewWholeFileDigest(seed int32) *WholeFileDigest {
	h := md4.New()
	var seedBuf [4]byte
	binary.LittleEndian.PutUint32(seedBuf[:], uint32(seed))
	h.Write(seedBuf[:])
	return &WholeFileDigest{h: h}
}

// WholeFileDigest accumulates a seeded MD4 digest incrementally.
type WholeFileDigest struct {
	h interface {
		Write(p []byte) (int, error)
		Sum(b []byte) []byte
	}
}

func (w *WholeFileDigest) Write(p []byte) (int, error) { return w.h.Write(p) }
func (w *WholeFileDigest) Sum() []byte                 { return w.h.Sum(nil) }
