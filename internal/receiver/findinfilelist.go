package receiver

// findInFileList reports whether name appears in fileList, used by
// deleteFiles to decide whether a locally-walked path was part of the
// transferred set (and must therefore survive a --delete pass).
func findInFileList(fileList []*File, name string) bool {
	// The list is sorted lexicographically (§3), so a binary search would
	// do, but fileList also carries stub directory entries interleaved
	// with their children in a way that makes a plain sort.Search subtle
	// to get right; a linear scan keeps this correct and deletion is not
	// the hot path.
	for _, f := range fileList {
		if f.Name == name {
			return true
		}
	}
	return false
}
