package filelist_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/gokrazy/rsync/internal/filelist"
	"github.com/gokrazy/rsync/internal/rsyncwire"
	"github.com/google/go-cmp/cmp"
)

func TestSortPrune(t *testing.T) {
	entries := []*filelist.Entry{
		{Name: "b"},
		{Name: "a"},
		{Name: "a"},
		{Name: "c"},
	}
	filelist.Sort(entries)
	got := make([]string, len(entries))
	for i, e := range entries {
		got[i] = e.Name
	}
	want := []string{"a", "a", "b", "c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Sort: unexpected order (-want +got):\n%s", diff)
	}

	pruned, dropped := filelist.Prune(entries)
	if dropped != 1 {
		t.Fatalf("Prune: dropped = %d, want 1", dropped)
	}
	gotNames := make([]string, len(pruned))
	for i, e := range pruned {
		gotNames[i] = e.Name
	}
	wantNames := []string{"a", "b", "c"}
	if diff := cmp.Diff(wantNames, gotNames); diff != "" {
		t.Fatalf("Prune: unexpected result (-want +got):\n%s", diff)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entries := []*filelist.Entry{
		{Name: ".", Mode: os.ModeDir | 0755, ModTime: 1000},
		{Name: "a", Mode: 0644, Size: 100, ModTime: 1000, Uid: 1000, Gid: 1000, UserName: "michael", GroupName: "michael"},
		{Name: "b", Mode: os.ModeDir | 0755, ModTime: 1001},
		{Name: "b/c", Mode: 0644, Size: 4096, ModTime: 1001, Uid: 1000, Gid: 1000, UserName: "michael", GroupName: "michael"},
		{Name: "b/link", Mode: os.ModeSymlink | 0777, LinkTarget: "c", ModTime: 1001},
	}

	opts := filelist.Options{PreserveUids: true, PreserveGids: true, PreserveLinks: true}

	var buf bytes.Buffer
	w := rsyncwire.NewConn(nil, &buf)
	if err := filelist.Encode(w, entries, opts, 3); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := rsyncwire.NewConn(bytes.NewReader(buf.Bytes()), nil)
	got, ioErrors, err := filelist.Decode(r, opts)
	if err != nil {
		t.Fatal(err)
	}
	if ioErrors != 3 {
		t.Fatalf("ioErrors = %d, want 3", ioErrors)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, want := range entries {
		g := got[i]
		if g.Name != want.Name || g.Size != want.Size || g.ModTime != want.ModTime ||
			g.Uid != want.Uid || g.Gid != want.Gid || g.LinkTarget != want.LinkTarget {
			t.Fatalf("entry %d: got %+v, want %+v", i, g, want)
		}
	}
}
