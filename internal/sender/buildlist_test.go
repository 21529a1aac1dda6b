package sender

import (
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/gokrazy/rsync/internal/filter"
)

func TestBuildFileListDirMerge(t *testing.T) {
	tmp := t.TempDir()
	mustWrite := func(rel, contents string) {
		t.Helper()
		full := filepath.Join(tmp, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(contents), 0644); err != nil {
			t.Fatal(err)
		}
	}

	mustWrite("keep.txt", "a")
	mustWrite("sub/.rsync-filter", "- secret.txt\n")
	mustWrite("sub/secret.txt", "b")
	mustWrite("sub/public.txt", "c")

	filters := filter.New()
	if err := filters.AddRule("dir-merge,e /.rsync-filter"); err != nil {
		t.Fatal(err)
	}

	rt := &Transfer{
		Logger:  stdlog.New(os.Stderr, "", 0),
		Filters: filters,
	}

	entries, err := rt.buildFileList(tmp+"/", tmp+"/", []string{tmp + "/"})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, e := range entries {
		got = append(got, e.Name)
	}
	sort.Strings(got)

	for _, want := range []string{"keep.txt", "sub/public.txt"} {
		found := false
		for _, g := range got {
			if g == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected %q in file list, got %v", want, got)
		}
	}
	for _, unwanted := range []string{"sub/secret.txt", "sub/.rsync-filter"} {
		for _, g := range got {
			if g == unwanted {
				t.Errorf("did not expect %q in file list (excluded by per-directory dir-merge, or the merge file itself with the e modifier), got %v", unwanted, got)
			}
		}
	}
}
