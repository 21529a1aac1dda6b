// Package filelist implements the ordered catalog of files exchanged once
// per rsync session: the wire codec (§4.3 of the protocol notes) and the
// in-memory segmented list that the Sender produces and the Generator and
// Receiver consume.
package filelist

import (
	"os"
	"sort"
)

// Selection controls how the Sender enumerates source roots.
type Selection int

const (
	// Exact includes only the named roots; symlinks are followed only
	// when given directly as command-line arguments; no recursion.
	Exact Selection = iota
	// TransferDirs includes empty-directory entries, without recursing
	// into them.
	TransferDirs
	// Recurse performs a full recursive walk, recording every directory
	// (emitting stub directory entries for later expansion).
	Recurse
)

// Entry is one node in a file list. Once constructed, an Entry is treated
// as immutable; agents share it read-only via index into a List.
type Entry struct {
	Name       string // rsync path, '/'-separated, session charset
	Mode       os.FileMode
	Size       int64
	ModTime    int64 // seconds since epoch
	Uid        int32
	Gid        int32
	UserName   string // optional
	GroupName  string // optional
	LinkTarget string // symlink target, when Mode&os.ModeSymlink != 0
	Major      int32  // device major, when Mode&(os.ModeDevice|os.ModeCharDevice) != 0
	Minor      int32  // device minor

	// TopLevel marks an entry that is a root argument of the transfer
	// (rsync's FLAG_TOP_DIR). Encode and Decode carry it on the wire; the
	// receiver's deletion scan does not consult it.
	TopLevel bool
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool { return e.Mode.IsDir() }

// IsRegular reports whether the entry is a regular file.
func (e *Entry) IsRegular() bool { return e.Mode.IsRegular() }

// IsSymlink reports whether the entry is a symbolic link.
func (e *Entry) IsSymlink() bool { return e.Mode&os.ModeSymlink != 0 }

// IsDevice reports whether the entry is a device or special file.
func (e *Entry) IsDevice() bool {
	return e.Mode&(os.ModeDevice|os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0
}

// Segment is a contiguous range of indices in a List corresponding to one
// directory's immediate children. DirIdx is the position of the parent
// directory entry in the owning List, or -1 for the initial (root)
// segment.
type Segment struct {
	DirIdx int
	// entries maps index -> *Entry for indices [DirIdx+1, EndIdx]; an
	// index is removed from the map as soon as the owning agent (the
	// Generator while deciding transfers, the Receiver while writing
	// data) has finished its work for that index, keeping the map
	// sparse rather than filled with stale tombstones.
	entries map[int]*Entry
	endIdx  int

	// totalBytes tracks the sum of sizes of regular-file and symlink
	// entries still present in entries.
	totalBytes int64
}

// NewSegment builds a Segment covering entries[offset:], owned by the
// directory at dirIdx.
func NewSegment(dirIdx int, offset int, entries []*Entry) *Segment {
	s := &Segment{
		DirIdx:  dirIdx,
		entries: make(map[int]*Entry, len(entries)),
		endIdx:  offset + len(entries) - 1,
	}
	for i, e := range entries {
		idx := offset + i
		s.entries[idx] = e
		if e.IsRegular() || e.IsSymlink() {
			s.totalBytes += e.Size
		}
	}
	if len(entries) == 0 {
		s.endIdx = offset - 1
	}
	return s
}

// EndIdx returns the last index covered by the segment.
func (s *Segment) EndIdx() int { return s.endIdx }

// Get returns the entry at idx, if still present.
func (s *Segment) Get(idx int) (*Entry, bool) {
	e, ok := s.entries[idx]
	return e, ok
}

// Remove drops idx from the segment, e.g. once the Generator decides no
// transfer is needed or the Receiver finishes writing it.
func (s *Segment) Remove(idx int) {
	if e, ok := s.entries[idx]; ok {
		if e.IsRegular() || e.IsSymlink() {
			s.totalBytes -= e.Size
		}
		delete(s.entries, idx)
	}
}

// TotalBytes returns the sum of sizes of regular-file and symlink entries
// still present in the segment.
func (s *Segment) TotalBytes() int64 { return s.totalBytes }

// List is the ordered collection of all entries in a session, grouped into
// append-only Segments. Index ranges never overlap and an index appears in
// at most one segment.
type List struct {
	Entries  []*Entry
	Segments []*Segment
}

// AppendSegment appends a new segment built from entries, rooted at
// dirIdx, and extends Entries accordingly. It returns the new segment.
func (l *List) AppendSegment(dirIdx int, entries []*Entry) *Segment {
	offset := len(l.Entries)
	l.Entries = append(l.Entries, entries...)
	seg := NewSegment(dirIdx, offset, entries)
	l.Segments = append(l.Segments, seg)
	return seg
}

// Len returns the number of entries across all segments (including
// removed ones, since Entries is never shrunk).
func (l *List) Len() int { return len(l.Entries) }

// Sort orders entries lexicographically by byte value of Name, which is
// the wire invariant the Sender must establish before transmission and the
// Receiver must re-establish after decoding (§3: "paths within one file
// list are sorted lexicographically by byte value").
func Sort(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}

// Prune removes entries whose Name is byte-identical to the immediately
// preceding (already-sorted) entry's Name, keeping the first occurrence.
// It returns the deduplicated slice and the number of entries dropped.
func Prune(entries []*Entry) ([]*Entry, int) {
	if len(entries) == 0 {
		return entries, 0
	}
	out := entries[:1]
	dropped := 0
	for _, e := range entries[1:] {
		if e.Name == out[len(out)-1].Name {
			dropped++
			continue
		}
		out = append(out, e)
	}
	return out, dropped
}
