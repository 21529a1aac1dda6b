package sender

import (
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gokrazy/rsync/internal/filelist"
	"github.com/gokrazy/rsync/internal/filter"
)

// activeDirMergeRules collects the dir-merge registrations in effect for s,
// climbing the parent chain the same way Set.Match would: a dir-merge rule
// declared several directories up stays active in every directory below it
// until a non-inheriting ("n" modifier) Set breaks the chain.
func activeDirMergeRules(s *filter.Set) []*filter.Rule {
	var out []*filter.Rule
	for s != nil {
		out = append(out, s.DirMergeRules()...)
		if !s.Inherit {
			break
		}
		s = s.Parent
	}
	return out
}

// buildFileList walks sources (each already relative to trimPrefix, the
// directory the session is rooted at) and produces the sorted, pruned file
// list the sender transmits first, applying rt.Filters to each candidate
// path along the way (§4.4: a rule list consulted once per entry, first
// match wins).
func (rt *Transfer) buildFileList(trimPrefix, root string, sources []string) ([]*filelist.Entry, error) {
	var entries []*filelist.Entry
	seenUsers := map[uint32]string{}
	seenGroups := map[uint32]string{}

	// dirFilters tracks, per directory path already visited, the *filter.Set
	// in effect for its children: the Set a dir-merge rule last loaded a
	// per-directory merge file into (or the nearest ancestor's, if none was
	// loaded there). filepath.Walk visits a directory before its entries, so
	// by the time a child is visited, its parent's entry has already
	// populated this map.
	dirFilters := map[string]*filter.Set{}

	rootFilters := rt.Filters
	if rootFilters == nil {
		rootFilters = filter.New()
	}

	for _, rel := range sources {
		full := filepath.Join(root, strings.TrimPrefix(rel, trimPrefix))
		err := filepath.Walk(full, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				rt.Logger.Printf("walk %s: %v", path, err)
				return nil
			}
			name := strings.TrimPrefix(path, root)
			name = strings.TrimPrefix(name, "/")
			if name == "" {
				name = "."
			}
			isDir := info.IsDir()

			effective := rootFilters
			if parent, ok := dirFilters[filepath.Dir(path)]; ok {
				effective = parent
			}

			if isDir {
				for _, dm := range activeDirMergeRules(effective) {
					mergePath := filepath.Join(path, dm.MergeFile)
					if _, err := os.Stat(mergePath); err != nil {
						continue
					}
					child := effective.Child(dm.MergeInherit)
					if err := child.LoadMergeFile(mergePath); err != nil {
						rt.Logger.Printf("loading %s: %v", mergePath, err)
						continue
					}
					effective = child
				}
				dirFilters[path] = effective
			} else {
				for _, dm := range activeDirMergeRules(effective) {
					if dm.MergeExcludeSelf && info.Name() == filepath.Base(dm.MergeFile) {
						return nil
					}
				}
			}

			if effective.Match(name, isDir) == filter.Excluded {
				if isDir {
					return filepath.SkipDir
				}
				return nil
			}
			// Hide rules (daemon read-access restriction, independent of the
			// include/exclude list) keep a path out of the file list entirely.
			if effective.MatchHide(name, isDir) == filter.Hidden {
				if isDir {
					return filepath.SkipDir
				}
				return nil
			}

			e := &filelist.Entry{
				Name:    name,
				Mode:    info.Mode(),
				Size:    info.Size(),
				ModTime: info.ModTime().Unix(),
			}
			if st, ok := info.Sys().(*syscall.Stat_t); ok {
				e.Uid = int32(st.Uid)
				e.Gid = int32(st.Gid)
				if u, ok := seenUsers[st.Uid]; ok {
					e.UserName = u
				} else if u, err := user.LookupId(strconv.Itoa(int(st.Uid))); err == nil {
					e.UserName = u.Username
					seenUsers[st.Uid] = u.Username
				}
				if g, ok := seenGroups[st.Gid]; ok {
					e.GroupName = g
				} else if g, err := user.LookupGroupId(strconv.Itoa(int(st.Gid))); err == nil {
					e.GroupName = g.Name
					seenGroups[st.Gid] = g.Name
				}
				if e.Mode&os.ModeDevice != 0 {
					e.Major = int32(st.Rdev >> 8 & 0xFFF)
					e.Minor = int32(st.Rdev & 0xFF)
				}
			}
			if e.Mode&os.ModeSymlink != 0 {
				target, err := os.Readlink(path)
				if err != nil {
					rt.Logger.Printf("readlink %s: %v", path, err)
					return nil
				}
				e.LinkTarget = target
			}
			entries = append(entries, e)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	filelist.Sort(entries)
	pruned, dropped := filelist.Prune(entries)
	if dropped > 0 {
		rt.Logger.Printf("dropped %d duplicate file list entries", dropped)
	}
	return pruned, nil
}
