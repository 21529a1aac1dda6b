// Package rsync contains wire-level types shared by every gokrazy/rsync
// component: the rest of this module imports this package the same way the
// upstream rsync(1) sources share rsync.h across sender.c/receiver.c/
// generator.c.
package rsync

import (
	"fmt"

	"github.com/gokrazy/rsync/internal/rsyncwire"
)

// ProtocolVersion is the only protocol version this module speaks. Wire
// compatibility with other protocol versions is explicitly out of scope.
const ProtocolVersion = 30

// SumHead is the per-file checksum header described in rsync's technical
// report: how many blocks the basis file was split into, how large each
// block is, how many bytes the strong checksum is truncated to, and the
// length of the final (possibly short) block.
//
// Invariant: BlockLength*(ChecksumCount-1)+RemainderLength == basis file
// size, and 0 < RemainderLength <= BlockLength (or both zero for an empty
// basis).
type SumHead struct {
	ChecksumCount   int32 // number of blocks
	BlockLength     int32 // block size in bytes
	ChecksumLength  int32 // strong checksum length in bytes, [2,16]
	RemainderLength int32 // length of the final block
}

// ReadFrom decodes a SumHead from c, in the field order rsync places them
// on the wire.
func (s *SumHead) ReadFrom(c *rsyncwire.Conn) error {
	var err error
	if s.ChecksumCount, err = c.ReadInt32(); err != nil {
		return err
	}
	if s.BlockLength, err = c.ReadInt32(); err != nil {
		return err
	}
	if s.ChecksumLength, err = c.ReadInt32(); err != nil {
		return err
	}
	if s.RemainderLength, err = c.ReadInt32(); err != nil {
		return err
	}
	if s.BlockLength < 0 || s.ChecksumCount < 0 || s.RemainderLength < 0 {
		return fmt.Errorf("rsync: malformed sum head: %+v", *s)
	}
	return nil
}

// WriteTo encodes s onto c.
func (s *SumHead) WriteTo(c *rsyncwire.Conn) error {
	if err := c.WriteInt32(s.ChecksumCount); err != nil {
		return err
	}
	if err := c.WriteInt32(s.BlockLength); err != nil {
		return err
	}
	if err := c.WriteInt32(s.ChecksumLength); err != nil {
		return err
	}
	return c.WriteInt32(s.RemainderLength)
}

// BlockLengthFor returns the length, in bytes, of the block at the given
// zero-based ordinal: BlockLength for all but the last block, which is
// RemainderLength bytes long (when non-zero).
func (s SumHead) BlockLengthFor(blockIdx int32) int32 {
	if blockIdx == s.ChecksumCount-1 && s.RemainderLength != 0 {
		return s.RemainderLength
	}
	return s.BlockLength
}
