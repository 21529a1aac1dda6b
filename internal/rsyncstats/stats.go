// Package rsyncstats defines the summary counters exchanged at the end of a
// transfer (rsync's "total size is ... speedup is ..." report line).
package rsyncstats

import "fmt"

// TransferStats mirrors the three 64-bit counters rsync's sender sends
// after the file list has been fully processed.
type TransferStats struct {
	Read    int64 // bytes read from the wire
	Written int64 // bytes written to the wire
	Size    int64 // total size of the file set, as if copied verbatim
}

// String renders the stats the way rsync(1) prints its closing summary.
func (s TransferStats) String() string {
	speedup := "n/a"
	if s.Written+s.Read > 0 {
		speedup = fmt.Sprintf("%.2f", float64(s.Size)/float64(s.Written+s.Read))
	}
	return fmt.Sprintf("total: size=%d, read=%d, written=%d, speedup=%s",
		s.Size, s.Read, s.Written, speedup)
}
