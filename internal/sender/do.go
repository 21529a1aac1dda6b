package sender

import (
	"path/filepath"

	"github.com/gokrazy/rsync/internal/filelist"
	"github.com/gokrazy/rsync/internal/filter"
	"github.com/gokrazy/rsync/internal/rsyncstats"
	"github.com/gokrazy/rsync/internal/rsyncwire"
)

// Do runs a full sender-side session: build and transmit the file list
// rooted at root (sources are paths relative to trimPrefix, §4.4), then
// answer the peer's Generator requests until it signals end of phase twice
// (PHASE_TRANSFER followed immediately by PHASE_DONE, since this
// implementation does not yet retry a PHASE_REDO pass), and finally report
// the session's byte counters.
func (rt *Transfer) Do(crd *rsyncwire.CountingReader, cwr *rsyncwire.CountingWriter, trimPrefix, root string, sources []string, filters *filter.Set) (*rsyncstats.TransferStats, error) {
	if filters != nil {
		rt.Filters = filters
	}
	entries, err := rt.buildFileList(trimPrefix, root, sources)
	if err != nil {
		return nil, err
	}

	opts := filelist.Options{
		PreserveUids:    rt.Opts.PreserveUid(),
		PreserveGids:    rt.Opts.PreserveGid(),
		PreserveLinks:   rt.Opts.PreserveLinks(),
		PreserveDevices: rt.Opts.PreserveDevices() || rt.Opts.PreserveSpecials(),
	}
	if err := filelist.Encode(rt.Conn, entries, opts, 0); err != nil {
		return nil, err
	}
	if err := rt.Conn.Flush(); err != nil {
		return nil, err
	}

	paths := make([]string, len(entries))
	var totalSize int64
	for i, e := range entries {
		paths[i] = filepath.Join(root, e.Name)
		if e.Mode.IsRegular() {
			totalSize += e.Size
		}
	}

	for phase := 0; ; {
		idx, err := rt.Conn.ReadInt32()
		if err != nil {
			return nil, err
		}
		if idx == -1 {
			phase++
			if phase >= 2 {
				break
			}
			continue
		}
		if int(idx) >= len(entries) || !entries[idx].Mode.IsRegular() {
			continue
		}
		if err := rt.sendFile(paths[idx]); err != nil {
			return nil, err
		}
	}

	if err := rt.Conn.WriteInt64(crd.Bytes); err != nil {
		return nil, err
	}
	if err := rt.Conn.WriteInt64(cwr.Bytes); err != nil {
		return nil, err
	}
	if err := rt.Conn.WriteInt64(totalSize); err != nil {
		return nil, err
	}
	if err := rt.Conn.Flush(); err != nil {
		return nil, err
	}

	// final goodbye
	if _, err := rt.Conn.ReadInt32(); err != nil {
		return nil, err
	}

	return &rsyncstats.TransferStats{
		Read:    crd.Bytes,
		Written: cwr.Bytes,
		Size:    totalSize,
	}, nil
}
