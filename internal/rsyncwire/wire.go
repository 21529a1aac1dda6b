// Package rsyncwire implements the framed, multiplexed byte transport that
// every other gokrazy/rsync component sits on top of: a tagged 4-byte frame
// header precedes every non-literal chunk of the outbound stream, and
// inbound control frames are dispatched to a MessageHandler transparently
// while payload bytes are being read.
package rsyncwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// MsgCode identifies the kind of a multiplexed Message. The numeric values
// match rsync's MSG_* constants in io.c.
type MsgCode int8

const (
	MsgData      MsgCode = 0 // reserved; DATA frames carry no Code value of their own
	MsgLog       MsgCode = 1
	MsgInfo      MsgCode = 2
	MsgError     MsgCode = 3
	MsgWarning   MsgCode = 4
	MsgErrorXfer MsgCode = 5
	MsgNoSend    MsgCode = 6
	MsgSuccess   MsgCode = 7
	MsgDeleted   MsgCode = 8
	MsgIOError   MsgCode = 22
	MsgNoop      MsgCode = 42
)

// msgOffset is added to a MsgCode to produce the tag byte written on the
// wire (so DATA, code 0, travels as tag byte 7) and subtracted again by
// untag, per rsync's io.c MPLEX_BASE convention.
const msgOffset = 7

// Message is a tagged control frame multiplexed onto the data channel.
type Message struct {
	Code MsgCode
	Data []byte
}

// MessageHandler receives control frames encountered while reading payload
// bytes off the wire. Implementations must not block indefinitely: the
// reader that triggered the dispatch is blocked until HandleMessage
// returns.
type MessageHandler interface {
	HandleMessage(msg Message) error
}

// ProtocolError signals a malformed frame: a negative length, an unknown
// tag, or a tag appearing where only DATA is legal.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "rsyncwire: protocol error: " + e.Reason }

// ErrChannelEOF is returned (wrapped) when the peer closes the connection
// cleanly while a payload read is still pending.
type ErrChannelEOF struct {
	Err error
}

func (e *ErrChannelEOF) Error() string { return fmt.Sprintf("rsyncwire: channel EOF: %v", e.Err) }
func (e *ErrChannelEOF) Unwrap() error { return e.Err }

func wrapEOF(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &ErrChannelEOF{Err: err}
	}
	return err
}

// demuxReader is the plain io.Reader view of an inbound multiplexed
// stream: Read returns only DATA payload bytes, transparently dispatching
// any interleaved control frame to Handler first. Conn.Reader is always
// set to a value like this (or, before multiplexing is enabled, to a bare
// buffered reader), so callers may bypass Conn's helper methods and read
// directly from Conn.Reader, exactly as rsync's own C sources read
// straight off fd_in outside of the token loop.
type demuxReader struct {
	src       *bufio.Reader
	conn      *Conn
	remaining int
	enabled   bool
}

func (d *demuxReader) Read(p []byte) (int, error) {
	if !d.enabled {
		return d.src.Read(p)
	}
	for d.remaining == 0 {
		var hdr [4]byte
		if _, err := io.ReadFull(d.src, hdr[:]); err != nil {
			return 0, wrapEOF(err)
		}
		code, length := untag(binary.LittleEndian.Uint32(hdr[:]))
		if length < 0 {
			return 0, &ProtocolError{Reason: fmt.Sprintf("negative frame length %d", length)}
		}
		if code == MsgData {
			d.remaining = length
			continue
		}
		data := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(d.src, data); err != nil {
				return 0, wrapEOF(err)
			}
		}
		if d.conn != nil && d.conn.Handler != nil {
			if err := d.conn.Handler.HandleMessage(Message{Code: code, Data: data}); err != nil {
				return 0, err
			}
		}
	}
	if len(p) > d.remaining {
		p = p[:d.remaining]
	}
	n, err := d.src.Read(p)
	d.remaining -= n
	return n, wrapEOF(err)
}

func tag(code MsgCode, length int) uint32 {
	return uint32(byte(code)+msgOffset)<<24 | uint32(length)
}

func untag(v uint32) (code MsgCode, length int) {
	return MsgCode(byte(v>>24) - msgOffset), int(v & 0x00FFFFFF)
}

// Conn wraps a bidirectional byte stream with the little-endian primitive
// codec and outbound message-tag buffering described in rsync's io.c. The
// zero value is not usable; construct with NewConn.
type Conn struct {
	// Reader is the payload view of the inbound stream: plain io.Reader
	// semantics, frames stripped transparently. Safe to read from
	// directly with io.ReadFull, bypassing ReadByte/ReadInt32/etc.
	Reader io.Reader
	Writer io.Writer

	Handler MessageHandler

	demux    *demuxReader
	outBuf   []byte // pending untagged payload, not yet framed
	muxOut   bool
}

// NewConn constructs a Conn around r and w. Multiplexing is off until
// EnableMultiplexOut/EnableMultiplexIn is called, matching the protocol
// phase before the version/seed exchange completes.
func NewConn(r io.Reader, w io.Writer) *Conn {
	d := &demuxReader{src: bufio.NewReaderSize(r, 32*1024)}
	c := &Conn{
		Reader: d,
		Writer: w,
		demux:  d,
	}
	d.conn = c
	return c
}

// EnableMultiplexOut switches outbound writes to tagged-frame mode.
func (c *Conn) EnableMultiplexOut() { c.muxOut = true }

// EnableMultiplexIn switches inbound reads to tagged-frame mode,
// dispatching non-DATA frames to c.Handler as they're encountered.
func (c *Conn) EnableMultiplexIn() {
	c.demux.enabled = true
}

// flushBuffer writes any untagged payload accumulated in c.outBuf as a
// single DATA frame (or as a raw write, when multiplexing is disabled).
func (c *Conn) flushBuffer() error {
	if len(c.outBuf) == 0 {
		return nil
	}
	if err := c.writeFrame(MsgData, c.outBuf); err != nil {
		return err
	}
	c.outBuf = c.outBuf[:0]
	return nil
}

func (c *Conn) writeFrame(code MsgCode, payload []byte) error {
	if !c.muxOut {
		_, err := c.Writer.Write(payload)
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], tag(code, len(payload)))
	if _, err := c.Writer.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := c.Writer.Write(payload)
	return err
}

// Flush forces any buffered untagged payload onto the wire as a DATA
// frame. Otherwise buffered payload is only written out by WriteMessage or
// by appendOut once the buffer would exceed 32 KiB, so anything smaller
// stays buffered until Flush is called.
func (c *Conn) Flush() error {
	return c.flushBuffer()
}

// appendOut buffers p for later framing, auto-flushing first when the
// buffer has grown too large to admit another chunk without an oversized
// single DATA write.
func (c *Conn) appendOut(p []byte) error {
	const autoFlushAt = 32 * 1024
	if len(c.outBuf)+len(p) > autoFlushAt {
		if err := c.flushBuffer(); err != nil {
			return err
		}
	}
	c.outBuf = append(c.outBuf, p...)
	return nil
}

// WriteByte appends a single byte to the pending payload.
func (c *Conn) WriteByte(b byte) error { return c.appendOut([]byte{b}) }

// WriteInt32 appends a little-endian 32-bit integer.
func (c *Conn) WriteInt32(v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return c.appendOut(b[:])
}

// WriteInt64 appends a 64-bit integer using rsync's variable-width
// encoding: values that fit in 32 bits are written directly; larger values
// are preceded by a sentinel -1.
func (c *Conn) WriteInt64(v int64) error {
	if v >= 0 && v <= 0x7FFFFFFF {
		return c.WriteInt32(int32(v))
	}
	if err := c.WriteInt32(-1); err != nil {
		return err
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return c.appendOut(b[:])
}

// WriteString appends raw bytes without a length prefix; callers that need
// a length-prefixed string write the length separately.
func (c *Conn) WriteString(s string) error { return c.appendOut([]byte(s)) }

// WriteBytes appends raw bytes, same contract as WriteString.
func (c *Conn) WriteBytes(p []byte) error { return c.appendOut(p) }

// WriteMessage flushes any pending untagged payload, then writes msg as
// its own tagged frame. Control frames never interleave with a partial
// DATA payload: the pending buffer is always flushed first.
func (c *Conn) WriteMessage(msg Message) error {
	if err := c.flushBuffer(); err != nil {
		return err
	}
	return c.writeFrame(msg.Code, msg.Data)
}

// ReadByte reads a single byte off the wire, transparently dispatching any
// intervening control frames.
func (c *Conn) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(c.Reader, b[:]); err != nil {
		return 0, wrapEOF(err)
	}
	return b[0], nil
}

// ReadInt32 reads a little-endian 32-bit integer.
func (c *Conn) ReadInt32() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(c.Reader, b[:]); err != nil {
		return 0, wrapEOF(err)
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

// ReadInt64 mirrors WriteInt64's variable-width encoding.
func (c *Conn) ReadInt64() (int64, error) {
	v, err := c.ReadInt32()
	if err != nil {
		return 0, err
	}
	if v != -1 {
		return int64(v), nil
	}
	var b [8]byte
	if _, err := io.ReadFull(c.Reader, b[:]); err != nil {
		return 0, wrapEOF(err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// CountingReader wraps an io.Reader, accumulating the number of bytes
// successfully read so a session can report wire statistics independently
// of the demultiplexing layer.
type CountingReader struct {
	R     io.Reader
	Bytes int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.Bytes += int64(n)
	return n, err
}

// CountingWriter is the write-side counterpart of CountingReader.
type CountingWriter struct {
	W     io.Writer
	Bytes int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.Bytes += int64(n)
	return n, err
}

// CounterPair wraps r and w with byte counters in one call, the shape a
// freshly accepted connection needs before NewConn.
func CounterPair(r io.Reader, w io.Writer) (*CountingReader, *CountingWriter) {
	return &CountingReader{R: r}, &CountingWriter{W: w}
}

// ReadN reads exactly n payload bytes.
func (c *Conn) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.Reader, buf); err != nil {
		return nil, wrapEOF(err)
	}
	return buf, nil
}
