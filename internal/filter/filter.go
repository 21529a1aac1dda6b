// Package filter implements rsync's include/exclude/protect/hide rule
// matching: ordered rule lists compiled from shell-glob-like patterns,
// first-match-wins evaluation, and per-directory merge-file inheritance.
package filter

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Action is the disposition a matching rule assigns to a candidate path.
type Action int

const (
	Include Action = iota
	Exclude
	Protect
	Risk
	Hide
	Show
	Merge
	DirMerge
)

// Result is the outcome of matching a candidate against a Set.
type Result int

const (
	Neutral Result = iota
	Included
	Excluded
	Protected
	Hidden
)

// Rule is one compiled filter rule.
type Rule struct {
	Action   Action
	Anchored bool // spec starts with '/': matching is rooted
	DirOnly  bool // spec ends with '/': never matches non-directories
	Negate   bool // spec starts with '!'
	Literal  string
	Pattern  *regexp.Regexp // nil for a Literal rule

	// MergeFile, MergeInherit and MergeExcludeSelf are only meaningful when
	// Action is Merge or DirMerge: the filename to load (dir-merge: from
	// every directory the walk visits; merge: stored as parsed, and not
	// loaded by this package or by the sender's walk),
	// whether a dir-merge's rules are inherited into subdirectories (the
	// "n" modifier turns this off), and whether the merge file itself is
	// hidden from the transfer (the "e" modifier).
	MergeFile        string
	MergeInherit     bool
	MergeExcludeSelf bool
}

// Compile parses one filter rule source line of the form
// "<+|-|P|R|H|S> [modifier]<spec>" (or the long forms "include,<spec>" and
// "exclude,<spec>", or a "merge"/"dir-merge" registration) into a Rule.
func Compile(src string) (*Rule, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("filter: empty rule")
	}

	action, rest, err := parseAction(src)
	if err != nil {
		return nil, err
	}
	if action == Merge || action == DirMerge {
		return compileMergeRule(action, rest)
	}
	rest = strings.TrimPrefix(rest, " ")

	r := &Rule{Action: action}
	if strings.HasPrefix(rest, "!") {
		r.Negate = true
		rest = rest[1:]
	}
	r.Anchored = strings.HasPrefix(rest, "/")
	r.DirOnly = strings.HasSuffix(rest, "/") && rest != "/"

	spec := rest
	if isPlainLiteral(spec) {
		r.Literal = strings.TrimSuffix(spec, "/")
		r.Literal = strings.TrimPrefix(r.Literal, "/")
		return r, nil
	}

	pat, err := globToRegexp(spec)
	if err != nil {
		return nil, err
	}
	r.Pattern = pat
	return r, nil
}

func parseAction(src string) (Action, string, error) {
	switch {
	case strings.HasPrefix(src, "+ "):
		return Include, src[2:], nil
	case strings.HasPrefix(src, "- "):
		return Exclude, src[2:], nil
	case strings.HasPrefix(src, "P "):
		return Protect, src[2:], nil
	case strings.HasPrefix(src, "R "):
		return Risk, src[2:], nil
	case strings.HasPrefix(src, "H "):
		return Hide, src[2:], nil
	case strings.HasPrefix(src, "S "):
		return Show, src[2:], nil
	case strings.HasPrefix(src, "include,"):
		return Include, strings.TrimPrefix(src, "include,"), nil
	case strings.HasPrefix(src, "exclude,"):
		return Exclude, strings.TrimPrefix(src, "exclude,"), nil
	case strings.HasPrefix(src, "dir-merge"):
		return DirMerge, strings.TrimPrefix(src, "dir-merge"), nil
	case strings.HasPrefix(src, "merge"):
		return Merge, strings.TrimPrefix(src, "merge"), nil
	}
	return 0, "", fmt.Errorf("filter: malformed rule %q", src)
}

// compileMergeRule parses the tail of a "merge"/"dir-merge" rule: either
// " FILENAME" (no modifiers) or ",MODS FILENAME", where MODS is a run of
// modifier letters ("n": don't inherit into subdirectories, "e": exclude
// the merge file itself from the transfer).
func compileMergeRule(action Action, rest string) (*Rule, error) {
	var mods string
	if strings.HasPrefix(rest, ",") {
		rest = rest[1:]
		i := strings.IndexByte(rest, ' ')
		if i < 0 {
			return nil, fmt.Errorf("filter: merge rule missing filename")
		}
		mods = rest[:i]
		rest = rest[i:]
	}
	filename := strings.TrimSpace(rest)
	if filename == "" {
		return nil, fmt.Errorf("filter: merge rule missing filename")
	}
	r := &Rule{
		Action:       action,
		MergeFile:    filename,
		MergeInherit: true,
	}
	for _, m := range mods {
		switch m {
		case 'n':
			r.MergeInherit = false
		case 'e':
			r.MergeExcludeSelf = true
		}
	}
	return r, nil
}

func isPlainLiteral(spec string) bool {
	return !strings.ContainsAny(spec, "*?[")
}

// globToRegexp translates a shell-glob pattern into the equivalent
// anchored regular expression: "?" matches any single non-separator byte,
// "**" matches anything (including separators), and "*" matches anything
// except a separator.
func globToRegexp(glob string) (*regexp.Regexp, error) {
	anchored := strings.HasPrefix(glob, "/")
	dirOnly := strings.HasSuffix(glob, "/") && glob != "/"
	g := strings.TrimPrefix(glob, "/")
	if dirOnly {
		g = strings.TrimSuffix(g, "/")
	}

	var b strings.Builder
	b.WriteString("^")
	if !anchored {
		b.WriteString("(.*/)?")
	}
	runes := []rune(g)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Matches reports whether r matches the candidate path (already relative
// to the scanned root) and directory-ness.
func (r *Rule) Matches(name string, isDir bool) bool {
	if r.DirOnly && !isDir {
		return false
	}
	name = strings.TrimSuffix(name, "/")
	var matched bool
	if r.Pattern != nil {
		matched = r.Pattern.MatchString(name)
	} else if r.Anchored {
		matched = name == r.Literal
	} else {
		matched = name == r.Literal || strings.HasSuffix(name, "/"+r.Literal)
	}
	if r.Negate {
		return !matched
	}
	return matched
}

func (r *Rule) resultFor(sub subList) Result {
	switch sub {
	case subDelete:
		if r.Action == Protect {
			return Protected
		}
		if r.Action == Risk {
			return Neutral
		}
		if r.Action == Exclude {
			return Protected
		}
		return Included
	case subHide:
		if r.Action == Hide {
			return Hidden
		}
		if r.Action == Show {
			return Neutral
		}
		if r.Action == Exclude {
			return Hidden
		}
		return Included
	default: // subInclude
		switch r.Action {
		case Include:
			return Included
		case Exclude:
			return Excluded
		default:
			return Neutral
		}
	}
}

type subList int

const (
	subInclude subList = iota
	subDelete
	subHide
)

// Set is an ordered list of rules, with parent-chain inheritance for
// dir-merge files. The chain is a tree of borrows: a child Set never
// mutates its parent.
type Set struct {
	Rules  []*Rule
	Parent *Set

	// Inherit controls whether, on a Neutral local result, the parent
	// Set is consulted.
	Inherit bool
}

// New builds a root Set with no parent.
func New() *Set { return &Set{Inherit: true} }

// Child creates a Set that inherits from s (or not, per inherit).
func (s *Set) Child(inherit bool) *Set {
	return &Set{Parent: s, Inherit: inherit}
}

// AddRule compiles src and appends it to s.
func (s *Set) AddRule(src string) error {
	r, err := Compile(src)
	if err != nil {
		return err
	}
	s.Rules = append(s.Rules, r)
	return nil
}

// DirMergeRules returns the dir-merge rules registered directly on s (not
// inherited from Parent): the walker consults these, at the Set in effect
// for the directory it is about to descend into, to decide whether to load
// a per-directory merge file there.
func (s *Set) DirMergeRules() []*Rule {
	var out []*Rule
	for _, r := range s.Rules {
		if r.Action == DirMerge {
			out = append(out, r)
		}
	}
	return out
}

// LoadMergeFile reads filter rules from path and appends them to s, once.
func (s *Set) LoadMergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.AddRule(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (s *Set) evaluate(name string, isDir bool, sub subList) Result {
	for _, r := range s.Rules {
		if r.Action == Merge || r.Action == DirMerge {
			continue
		}
		if r.Matches(name, isDir) {
			return r.resultFor(sub)
		}
	}
	if s.Inherit && s.Parent != nil {
		return s.Parent.evaluate(name, isDir, sub)
	}
	return Neutral
}

// Match evaluates the inclusion rule list: the first rule that matches
// wins; Neutral falls through to the parent chain when inheritance is
// enabled, and defaults to Included when nothing matches at all (rsync's
// default: transfer everything not explicitly excluded).
func (s *Set) Match(name string, isDir bool) Result {
	r := s.evaluate(name, isDir, subInclude)
	if r == Neutral {
		return Included
	}
	return r
}

// MatchDelete evaluates the deletion rule sub-list (protect/risk),
// independently of Match.
func (s *Set) MatchDelete(name string, isDir bool) Result {
	r := s.evaluate(name, isDir, subDelete)
	if r == Neutral {
		return Included
	}
	return r
}

// MatchHide evaluates the hiding rule sub-list (hide/show), independently
// of Match.
func (s *Set) MatchHide(name string, isDir bool) Result {
	r := s.evaluate(name, isDir, subHide)
	if r == Neutral {
		return Included
	}
	return r
}
