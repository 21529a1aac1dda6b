// Package session implements the connection bootstrap shared by every
// transfer direction: the protocol version handshake, the random seed
// exchange that feeds the strong-checksum digests (§4.1/§4.8), and
// switching the duplex channel into multiplexed mode once the plaintext
// preamble is done.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/gokrazy/rsync"
	"github.com/gokrazy/rsync/internal/rsyncwire"
)

// NewSeed draws a cryptographically random 32-bit seed for the session's
// strong-checksum digests. rsync only needs this to decorrelate the digest
// across sessions, not for any security property, but crypto/rand is no
// harder to use correctly than math/rand and avoids ever shipping a
// hardcoded value.
func NewSeed() (int32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

// ClientHandshake performs the client side of the version/seed exchange and
// returns the negotiated seed, with c left ready for file-list and token
// traffic (multiplexed inbound, since the server side multiplexes its
// output once the seed is sent, in either transfer direction).
func ClientHandshake(c *rsyncwire.Conn) (seed int32, err error) {
	if err := c.WriteInt32(rsync.ProtocolVersion); err != nil {
		return 0, fmt.Errorf("writing protocol version: %w", err)
	}
	if err := c.Flush(); err != nil {
		return 0, err
	}
	remote, err := c.ReadInt32()
	if err != nil {
		return 0, fmt.Errorf("reading remote protocol version: %w", err)
	}
	if remote < 27 {
		return 0, fmt.Errorf("remote protocol version %d too old (need >= 27)", remote)
	}
	seed, err = c.ReadInt32()
	if err != nil {
		return 0, fmt.Errorf("reading seed: %w", err)
	}
	c.EnableMultiplexIn()
	return seed, nil
}

// ServerHandshake performs the server side: read the client's proposed
// version, echo back our own, mint a fresh seed and send it, then switch
// outbound writes to multiplexed frames (the server is the side that
// interleaves MSG_INFO/MSG_ERROR/MSG_IO_ERROR control frames into the data
// stream).
func ServerHandshake(c *rsyncwire.Conn) (seed int32, err error) {
	remote, err := c.ReadInt32()
	if err != nil {
		return 0, fmt.Errorf("reading client protocol version: %w", err)
	}
	if remote < 27 {
		return 0, fmt.Errorf("client protocol version %d too old (need >= 27)", remote)
	}
	if err := c.WriteInt32(rsync.ProtocolVersion); err != nil {
		return 0, fmt.Errorf("writing protocol version: %w", err)
	}
	seed, err = NewSeed()
	if err != nil {
		return 0, err
	}
	if err := c.WriteInt32(seed); err != nil {
		return 0, fmt.Errorf("writing seed: %w", err)
	}
	if err := c.Flush(); err != nil {
		return 0, err
	}
	c.EnableMultiplexOut()
	return seed, nil
}
