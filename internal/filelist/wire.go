package filelist

import (
	"fmt"
	"os"

	"github.com/gokrazy/rsync/internal/rsyncwire"
)

// Flags bits, first byte. The high bit signals a second ("extended") flags
// byte follows immediately; the remaining bits select which optional
// fields are omitted because they repeat the previous entry's value, or
// are compressed (short name length, inherited name prefix).
const (
	flagTopDir      = 1 << 0
	flagModeSame    = 1 << 1
	flagRdevSame    = 1 << 2
	flagUidSame     = 1 << 3
	flagGidSame     = 1 << 4
	flagSameName    = 1 << 5 // inherited name prefix follows
	flagNameShort   = 1 << 6 // single-byte suffix length
	flagExtended    = 1 << 7

	// Second byte.
	flagMtimeSame = 1 << 0
)

// encodeState tracks the "same as previous entry" fields the wire format
// compresses against.
type encodeState struct {
	havePrev   bool
	prevName   string
	prevMode   int32
	prevUid    int32
	prevGid    int32
	prevMtime  int64
	prevMajor  int32
	prevMinor  int32
	knownUids  map[int32]string
	knownGids  map[int32]string
}

// Options controls which optional fields are encoded/decoded, matching the
// session's negotiated preservation flags.
type Options struct {
	PreserveUids    bool
	PreserveGids    bool
	PreserveLinks   bool
	PreserveDevices bool
	NumericIds      bool
}

// Encode writes entries (already sorted) to c as a sequence of variable-
// length records terminated by a zero flags byte, followed by the
// cumulative I/O-error count.
func Encode(c *rsyncwire.Conn, entries []*Entry, opts Options, ioErrors int32) error {
	st := &encodeState{
		knownUids: make(map[int32]string),
		knownGids: make(map[int32]string),
	}
	for _, e := range entries {
		if err := encodeOne(c, st, e, opts); err != nil {
			return err
		}
	}
	if err := c.WriteByte(0x00); err != nil {
		return err
	}
	return c.WriteInt32(ioErrors)
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	if i > 255 {
		i = 255
	}
	return i
}

func encodeOne(c *rsyncwire.Conn, st *encodeState, e *Entry, opts Options) error {
	mode := int32(modeToWire(e))
	uid, gid := e.Uid, e.Gid
	mtime := e.ModTime

	var flags, flags2 byte
	sameName := 0
	if st.havePrev {
		if mode == st.prevMode {
			flags |= flagModeSame
		}
		if !opts.PreserveUids || uid == st.prevUid {
			flags |= flagUidSame
		}
		if !opts.PreserveGids || gid == st.prevGid {
			flags |= flagGidSame
		}
		if e.IsDevice() && e.Major == st.prevMajor && e.Minor == st.prevMinor {
			flags |= flagRdevSame
		}
		if mtime == st.prevMtime {
			flags2 |= flagMtimeSame
		}
		sameName = commonPrefixLen(st.prevName, e.Name)
		if sameName > 0 {
			flags |= flagSameName
		}
	}
	suffixLen := len(e.Name) - sameName
	shortLen := suffixLen < 256
	if shortLen {
		flags |= flagNameShort
	}
	if e.TopLevel {
		flags |= flagTopDir
	}
	if flags2 != 0 {
		flags |= flagExtended
	}

	if err := c.WriteByte(flags); err != nil {
		return err
	}
	if flags&flagExtended != 0 {
		if err := c.WriteByte(flags2); err != nil {
			return err
		}
	}

	if flags&flagSameName != 0 {
		if err := c.WriteByte(byte(sameName)); err != nil {
			return err
		}
	}
	if shortLen {
		if err := c.WriteByte(byte(suffixLen)); err != nil {
			return err
		}
	} else {
		if err := c.WriteInt32(int32(suffixLen)); err != nil {
			return err
		}
	}
	if err := c.WriteString(e.Name[sameName:]); err != nil {
		return err
	}

	if err := writeVarlong(c, e.Size); err != nil {
		return err
	}

	if flags2&flagMtimeSame == 0 {
		if err := c.WriteInt32(int32(mtime)); err != nil {
			return err
		}
	}
	if flags&flagModeSame == 0 {
		if err := c.WriteInt32(mode); err != nil {
			return err
		}
	}

	if opts.PreserveUids {
		if flags&flagUidSame == 0 {
			if err := c.WriteInt32(uid); err != nil {
				return err
			}
			if !opts.NumericIds {
				if err := writeIdName(c, st.knownUids, uid, e.UserName); err != nil {
					return err
				}
			}
		}
	}
	if opts.PreserveGids {
		if flags&flagGidSame == 0 {
			if err := c.WriteInt32(gid); err != nil {
				return err
			}
			if !opts.NumericIds {
				if err := writeIdName(c, st.knownGids, gid, e.GroupName); err != nil {
					return err
				}
			}
		}
	}

	if e.IsDevice() && opts.PreserveDevices {
		if flags&flagRdevSame == 0 {
			if err := c.WriteInt32(e.Major); err != nil {
				return err
			}
			if err := c.WriteInt32(e.Minor); err != nil {
				return err
			}
		}
	}

	if e.IsSymlink() && opts.PreserveLinks {
		if err := c.WriteInt32(int32(len(e.LinkTarget))); err != nil {
			return err
		}
		if err := c.WriteString(e.LinkTarget); err != nil {
			return err
		}
	}

	st.havePrev = true
	st.prevName = e.Name
	st.prevMode = mode
	st.prevUid = uid
	st.prevGid = gid
	st.prevMtime = mtime
	st.prevMajor = e.Major
	st.prevMinor = e.Minor
	return nil
}

func writeIdName(c *rsyncwire.Conn, known map[int32]string, id int32, name string) error {
	if _, ok := known[id]; ok {
		return c.WriteByte(0)
	}
	known[id] = name
	if err := c.WriteByte(byte(len(name))); err != nil {
		return err
	}
	return c.WriteString(name)
}

// writeVarlong encodes a non-negative size using rsync's 1/5/9-byte
// sentinel scheme: a plain byte for small values, 0xFE-prefixed 4-byte
// values, and 0xFF-prefixed 8-byte values for anything larger.
func writeVarlong(c *rsyncwire.Conn, v int64) error {
	switch {
	case v >= 0 && v < 0xFE:
		return c.WriteByte(byte(v))
	case v >= 0 && v <= 0x7FFFFFFF:
		if err := c.WriteByte(0xFE); err != nil {
			return err
		}
		return c.WriteInt32(int32(v))
	default:
		if err := c.WriteByte(0xFF); err != nil {
			return err
		}
		return c.WriteInt64(v)
	}
}

func readVarlong(c *rsyncwire.Conn) (int64, error) {
	b, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case 0xFE:
		v, err := c.ReadInt32()
		return int64(v), err
	case 0xFF:
		return c.ReadInt64()
	default:
		return int64(b), nil
	}
}

func modeToWire(e *Entry) uint32 {
	m := uint32(e.Mode.Perm())
	switch {
	case e.Mode.IsDir():
		m |= 0o040000
	case e.IsSymlink():
		m |= 0o120000
	case e.IsDevice():
		m |= 0o020000
	default:
		m |= 0o100000
	}
	return m
}

func modeFromWire(m int32) os.FileMode {
	perm := os.FileMode(m & 0o7777)
	switch m & 0o170000 {
	case 0o040000:
		return perm | os.ModeDir
	case 0o120000:
		return perm | os.ModeSymlink
	case 0o020000, 0o060000:
		return perm | os.ModeDevice
	case 0o010000:
		return perm | os.ModeNamedPipe
	default:
		return perm
	}
}

// Decode reads entries off c until the terminating zero flags byte, then
// reads the trailing cumulative I/O-error count.
func Decode(c *rsyncwire.Conn, opts Options) (entries []*Entry, ioErrors int32, err error) {
	st := &decodeState{
		knownUids: make(map[int32]string),
		knownGids: make(map[int32]string),
	}
	for {
		flags, err := c.ReadByte()
		if err != nil {
			return nil, 0, err
		}
		if flags == 0x00 {
			break
		}
		e, err := decodeOne(c, st, flags, opts)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	ioErrors, err = c.ReadInt32()
	return entries, ioErrors, err
}

type decodeState struct {
	havePrev  bool
	prevName  string
	prevMode  int32
	prevUid   int32
	prevGid   int32
	prevMtime int64
	prevMajor int32
	prevMinor int32
	knownUids map[int32]string
	knownGids map[int32]string
}

func decodeOne(c *rsyncwire.Conn, st *decodeState, flags byte, opts Options) (*Entry, error) {
	var flags2 byte
	if flags&flagExtended != 0 {
		var err error
		flags2, err = c.ReadByte()
		if err != nil {
			return nil, err
		}
	}

	sameName := 0
	if flags&flagSameName != 0 {
		b, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		sameName = int(b)
	}

	var suffixLen int32
	if flags&flagNameShort != 0 {
		b, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		suffixLen = int32(b)
	} else {
		v, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		suffixLen = v
	}
	suffix, err := c.ReadN(int(suffixLen))
	if err != nil {
		return nil, err
	}
	var name string
	if sameName > 0 {
		if !st.havePrev || sameName > len(st.prevName) {
			return nil, &rsyncwire.ProtocolError{Reason: "filelist: inherited name prefix longer than previous name"}
		}
		name = st.prevName[:sameName] + string(suffix)
	} else {
		name = string(suffix)
	}

	size, err := readVarlong(c)
	if err != nil {
		return nil, err
	}

	mtime := st.prevMtime
	if flags2&flagMtimeSame == 0 {
		v, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		mtime = int64(v)
	}

	mode := st.prevMode
	if flags&flagModeSame == 0 {
		v, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		mode = v
	}

	e := &Entry{
		Name:     name,
		Mode:     modeFromWire(mode),
		Size:     size,
		ModTime:  mtime,
		TopLevel: flags&flagTopDir != 0,
	}

	uid, gid := st.prevUid, st.prevGid
	if opts.PreserveUids {
		if flags&flagUidSame == 0 {
			v, err := c.ReadInt32()
			if err != nil {
				return nil, err
			}
			uid = v
			if !opts.NumericIds {
				name, err := readIdName(c, st.knownUids, uid)
				if err != nil {
					return nil, err
				}
				e.UserName = name
			}
		} else if !opts.NumericIds {
			e.UserName = st.knownUids[uid]
		}
	}
	if opts.PreserveGids {
		if flags&flagGidSame == 0 {
			v, err := c.ReadInt32()
			if err != nil {
				return nil, err
			}
			gid = v
			if !opts.NumericIds {
				name, err := readIdName(c, st.knownGids, gid)
				if err != nil {
					return nil, err
				}
				e.GroupName = name
			}
		} else if !opts.NumericIds {
			e.GroupName = st.knownGids[gid]
		}
	}
	e.Uid, e.Gid = uid, gid

	major, minor := st.prevMajor, st.prevMinor
	if e.IsDevice() && opts.PreserveDevices {
		if flags&flagRdevSame == 0 {
			v, err := c.ReadInt32()
			if err != nil {
				return nil, err
			}
			major = v
			v, err = c.ReadInt32()
			if err != nil {
				return nil, err
			}
			minor = v
		}
		e.Major, e.Minor = major, minor
	}

	if e.IsSymlink() && opts.PreserveLinks {
		n, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("filelist: negative symlink target length")
		}
		target, err := c.ReadN(int(n))
		if err != nil {
			return nil, err
		}
		e.LinkTarget = string(target)
	}

	st.havePrev = true
	st.prevName = name
	st.prevMode = mode
	st.prevUid = uid
	st.prevGid = gid
	st.prevMtime = mtime
	st.prevMajor = major
	st.prevMinor = minor
	return e, nil
}

func readIdName(c *rsyncwire.Conn, known map[int32]string, id int32) (string, error) {
	n, err := c.ReadByte()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return known[id], nil
	}
	data, err := c.ReadN(int(n))
	if err != nil {
		return "", err
	}
	name := string(data)
	known[id] = name
	return name, nil
}
