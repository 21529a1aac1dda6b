package filter_test

import (
	"testing"

	"github.com/gokrazy/rsync/internal/filter"
)

func TestIncludeExclude(t *testing.T) {
	s := filter.New()
	for _, rule := range []string{"+ /keep", "- *"} {
		if err := s.AddRule(rule); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		name string
		want filter.Result
	}{
		{"keep", filter.Included},
		{"drop", filter.Excluded},
	}
	for _, tc := range cases {
		if got := s.Match(tc.name, false); got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFirstMatchWinsIsDeterministic(t *testing.T) {
	s := filter.New()
	for _, rule := range []string{"- *.o", "+ *.go", "- *"} {
		if err := s.AddRule(rule); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 10; i++ {
		if got := s.Match("main.go", false); got != filter.Included {
			t.Fatalf("Match(main.go) = %v, want Included (matches +*.go before the trailing -*)", got)
		}
		if got := s.Match("main.o", false); got != filter.Excluded {
			t.Fatalf("Match(main.o) = %v, want Excluded (matches -*.o first)", got)
		}
	}
}

func TestMatchDeleteProtects(t *testing.T) {
	s := filter.New()
	for _, rule := range []string{"P /keep.txt", "- *"} {
		if err := s.AddRule(rule); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.MatchDelete("keep.txt", false); got != filter.Protected {
		t.Fatalf("MatchDelete(keep.txt) = %v, want Protected", got)
	}
	if got := s.MatchDelete("gone.txt", false); got != filter.Protected {
		t.Fatalf("MatchDelete(gone.txt) = %v, want Protected (an exclude rule protects from deletion too)", got)
	}
}

func TestMatchHide(t *testing.T) {
	s := filter.New()
	for _, rule := range []string{"H /secret", "S /public"} {
		if err := s.AddRule(rule); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.MatchHide("secret", false); got != filter.Hidden {
		t.Fatalf("MatchHide(secret) = %v, want Hidden", got)
	}
	if got := s.MatchHide("public", false); got != filter.Included {
		t.Fatalf("MatchHide(public) = %v, want Included (an S rule resolves to Neutral, which defaults to Included)", got)
	}
	if got := s.MatchHide("unrelated", false); got != filter.Included {
		t.Fatalf("MatchHide(unrelated) = %v, want Included", got)
	}
}

func TestCompileDirMergeRule(t *testing.T) {
	r, err := filter.Compile("dir-merge /.rsync-filter")
	if err != nil {
		t.Fatal(err)
	}
	if r.Action != filter.DirMerge {
		t.Fatalf("Action = %v, want DirMerge", r.Action)
	}
	if r.MergeFile != "/.rsync-filter" {
		t.Fatalf("MergeFile = %q, want %q", r.MergeFile, "/.rsync-filter")
	}
	if !r.MergeInherit {
		t.Fatalf("MergeInherit = false, want true (no n modifier given)")
	}
	if r.MergeExcludeSelf {
		t.Fatalf("MergeExcludeSelf = true, want false (no e modifier given)")
	}
}

func TestCompileDirMergeRuleWithModifiers(t *testing.T) {
	r, err := filter.Compile("dir-merge,en .rsync-filter")
	if err != nil {
		t.Fatal(err)
	}
	if r.MergeInherit {
		t.Fatalf("MergeInherit = true, want false (n modifier given)")
	}
	if !r.MergeExcludeSelf {
		t.Fatalf("MergeExcludeSelf = false, want true (e modifier given)")
	}
}

func TestDirMergeRuleDoesNotMatchCandidates(t *testing.T) {
	s := filter.New()
	if err := s.AddRule("dir-merge /.rsync-filter"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddRule("- *"); err != nil {
		t.Fatal(err)
	}
	// The dir-merge rule must never itself be tested against candidate
	// names; evaluate() must skip it and fall through to the next rule.
	if got := s.Match("anything", false); got != filter.Excluded {
		t.Fatalf("Match(anything) = %v, want Excluded", got)
	}
	rules := s.DirMergeRules()
	if len(rules) != 1 || rules[0].MergeFile != "/.rsync-filter" {
		t.Fatalf("DirMergeRules() = %v, want one rule for /.rsync-filter", rules)
	}
}

func TestDirOnlyNeverMatchesFile(t *testing.T) {
	s := filter.New()
	if err := s.AddRule("- build/"); err != nil {
		t.Fatal(err)
	}
	if got := s.Match("build", false); got != filter.Included {
		t.Fatalf("Match(build, isDir=false) = %v, want Included (dir_only rule must not match a file)", got)
	}
	if got := s.Match("build", true); got != filter.Excluded {
		t.Fatalf("Match(build, isDir=true) = %v, want Excluded", got)
	}
}
