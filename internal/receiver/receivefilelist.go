package receiver

import "github.com/gokrazy/rsync/internal/filelist"

// ReceiveFileList decodes the file list (§4.3) the sender transmits at the
// start of every session and converts it to the receiver's own File
// representation. The wire-level IO-error counter the sender appends is
// folded into rt.IOErrors, which later gates the deletion pass.
func (rt *Transfer) ReceiveFileList() ([]*File, error) {
	opts := filelist.Options{
		PreserveUids:    rt.Opts.PreserveUid,
		PreserveGids:    rt.Opts.PreserveGid,
		PreserveLinks:   rt.Opts.PreserveLinks,
		PreserveDevices: rt.Opts.PreserveDevices || rt.Opts.PreserveSpecials,
	}
	entries, ioErrors, err := filelist.Decode(rt.Conn, opts)
	if err != nil {
		return nil, err
	}
	rt.IOErrors += ioErrors

	files := make([]*File, len(entries))
	for i, e := range entries {
		files[i] = fromEntryFields(e.Name, e.Mode, e.Size, e.ModTime, e.Uid, e.Gid, e.UserName, e.GroupName, e.LinkTarget, e.Major, e.Minor)
	}
	return files, nil
}
