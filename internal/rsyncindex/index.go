// Package rsyncindex implements rsync's diff-encoded index codec: the wire
// format used to reference positions in the current file list (positive
// indices) or the start of a segment (negative indices) without repeating
// full 32-bit values for the common case of small, monotonic deltas.
package rsyncindex

import (
	"github.com/gokrazy/rsync/internal/rsyncwire"
)

// Done is the sentinel index value signalling the end of a phase.
const Done int32 = -1

// Encoder tracks the two independent "previous index" counters the wire
// format diffs against: one for non-negative indices, one for negative
// ones. The zero value is ready to use.
type Encoder struct {
	prevPos int32
	prevNeg int32
	init    bool
}

func (e *Encoder) ensureInit() {
	if e.init {
		return
	}
	e.prevPos = -1
	e.prevNeg = 1
	e.init = true
}

// Write encodes idx onto c.
func (e *Encoder) Write(c *rsyncwire.Conn, idx int32) error {
	e.ensureInit()

	if idx == Done {
		return c.WriteByte(0x00)
	}

	var abs, diff int32
	neg := idx < 0
	if neg {
		if err := c.WriteByte(0xFF); err != nil {
			return err
		}
		abs = -idx
		diff = abs - e.prevNeg
		e.prevNeg = abs
	} else {
		abs = idx
		diff = abs - e.prevPos
		e.prevPos = abs
	}

	switch {
	case diff >= 1 && diff <= 253:
		return c.WriteByte(byte(diff))
	case diff > 0 && diff <= 0x7FFF:
		if err := c.WriteByte(0xFE); err != nil {
			return err
		}
		return c.WriteBytes([]byte{byte(diff >> 8), byte(diff)})
	default:
		if err := c.WriteByte(0xFE); err != nil {
			return err
		}
		u := uint32(abs)
		return c.WriteBytes([]byte{
			byte(u>>24) | 0x80,
			byte(u),
			byte(u >> 8),
			byte(u >> 16),
		})
	}
}

// Decoder mirrors Encoder on the receiving side.
type Decoder struct {
	prevPos int32
	prevNeg int32
	init    bool
}

func (d *Decoder) ensureInit() {
	if d.init {
		return
	}
	d.prevPos = -1
	d.prevNeg = 1
	d.init = true
}

// Read decodes the next index from c.
func (d *Decoder) Read(c *rsyncwire.Conn) (int32, error) {
	d.ensureInit()

	b, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	if b == 0x00 {
		return Done, nil
	}

	neg := false
	if b == 0xFF {
		neg = true
		b, err = c.ReadByte()
		if err != nil {
			return 0, err
		}
	}

	var abs int32
	if b != 0xFE {
		diff := int32(b)
		abs = d.applyDiff(neg, diff)
		return d.signed(neg, abs), nil
	}

	first, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	if first&0x80 == 0 {
		// 16-bit diff: byte0 is the high half, byte1 the low half.
		low, err := c.ReadByte()
		if err != nil {
			return 0, err
		}
		diff := int32(first)<<8 | int32(low)
		abs = d.applyDiff(neg, diff)
		return d.signed(neg, abs), nil
	}

	// 4-byte absolute value, bit-exact mixed-endianness layout: byte0
	// carries the sign bit plus the top 7 bits; bytes 1-3 carry the
	// remaining 24 bits in little-endian order.
	b1, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	b2, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	b3, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	u := uint32(first&0x7F)<<24 | uint32(b3)<<16 | uint32(b2)<<8 | uint32(b1)
	abs = int32(u)
	if neg {
		d.prevNeg = abs
	} else {
		d.prevPos = abs
	}
	return d.signed(neg, abs), nil
}

func (d *Decoder) applyDiff(neg bool, diff int32) int32 {
	if neg {
		d.prevNeg += diff
		return d.prevNeg
	}
	d.prevPos += diff
	return d.prevPos
}

func (d *Decoder) signed(neg bool, abs int32) int32 {
	if neg {
		return -abs
	}
	return abs
}
