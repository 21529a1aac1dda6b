package receiver

import "os"

// File is one entry of the file list as seen by the receiver side. Mode
// holds rsync's raw mode word (permission bits plus the file-type bits
// rsync multiplexes into the same 32-bit field) rather than Go's
// os.FileMode; fromEntryFields builds it from an os.FileMode and FileMode
// converts it back.
type File struct {
	Name       string
	Mode       int32
	Size       int64
	ModTime    int64
	Uid        int32
	Gid        int32
	UserName   string
	GroupName  string
	LinkTarget string
	Major      int32
	Minor      int32
}

// FileMode interprets Mode as an os.FileMode, the way callers that only
// care about file type and permission bits (not the raw wire value) want to
// consume it.
func (f *File) FileMode() os.FileMode {
	return wireModeToFileMode(f.Mode)
}

const (
	wireSIFMT   = 0170000
	wireSIFDIR  = 0040000
	wireSIFLNK  = 0120000
	wireSIFREG  = 0100000
	wireSIFBLK  = 0060000
	wireSIFCHR  = 0020000
	wireSIFIFO  = 0010000
	wireSIFSOCK = 0140000
)

func wireModeToFileMode(mode int32) os.FileMode {
	perm := os.FileMode(mode & 0777)
	switch mode & wireSIFMT {
	case wireSIFDIR:
		return perm | os.ModeDir
	case wireSIFLNK:
		return perm | os.ModeSymlink
	case wireSIFBLK:
		return perm | os.ModeDevice
	case wireSIFCHR:
		return perm | os.ModeDevice | os.ModeCharDevice
	case wireSIFIFO:
		return perm | os.ModeNamedPipe
	case wireSIFSOCK:
		return perm | os.ModeSocket
	default:
		return perm
	}
}

func fileModeToWireMode(mode os.FileMode) int32 {
	perm := int32(mode.Perm())
	switch {
	case mode&os.ModeDir != 0:
		return perm | wireSIFDIR
	case mode&os.ModeSymlink != 0:
		return perm | wireSIFLNK
	case mode&os.ModeNamedPipe != 0:
		return perm | wireSIFIFO
	case mode&os.ModeSocket != 0:
		return perm | wireSIFSOCK
	case mode&os.ModeCharDevice != 0:
		return perm | wireSIFCHR
	case mode&os.ModeDevice != 0:
		return perm | wireSIFBLK
	default:
		return perm | wireSIFREG
	}
}

// fromEntryFields converts the fields of a filelist.Entry (the segmented, session-wide list
// that the sender encodes and both the generator and receiver decode) into
// the receiver's own File representation.
func fromEntryFields(name string, mode os.FileMode, size, modTime int64, uid, gid int32, userName, groupName, linkTarget string, major, minor int32) *File {
	return &File{
		Name:       name,
		Mode:       fileModeToWireMode(mode),
		Size:       size,
		ModTime:    modTime,
		Uid:        uid,
		Gid:        gid,
		UserName:   userName,
		GroupName:  groupName,
		LinkTarget: linkTarget,
		Major:      major,
		Minor:      minor,
	}
}
