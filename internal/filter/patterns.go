package filter

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternSet decides which paths trigger tasks. A path matches when some
// include pattern matches it and no exclude pattern does; exclusion wins.
type PatternSet struct {
	include []string
	exclude []string
}

// NewPatternSet validates the patterns and returns the set. Entries prefixed
// with "!" in include are treated as exclusions.
func NewPatternSet(include, exclude []string) (*PatternSet, error) {
	ps := &PatternSet{}

	for _, p := range include {
		if neg, ok := strings.CutPrefix(p, "!"); ok {
			exclude = append(exclude, neg)
			continue
		}

		clean, err := cleanPattern(p)
		if err != nil {
			return nil, err
		}

		ps.include = append(ps.include, clean)
	}

	for _, p := range exclude {
		clean, err := cleanPattern(p)
		if err != nil {
			return nil, err
		}

		ps.exclude = append(ps.exclude, clean)
	}

	if len(ps.include) == 0 {
		return nil, fmt.Errorf("pattern set needs at least one include pattern")
	}

	return ps, nil
}

func cleanPattern(p string) (string, error) {
	p = filepath.ToSlash(strings.TrimPrefix(strings.TrimSpace(p), "./"))
	if p == "" {
		return "", fmt.Errorf("empty pattern")
	}

	if !doublestar.ValidatePattern(p) {
		return "", fmt.Errorf("invalid pattern %q", p)
	}

	return p, nil
}

// Match reports whether rel, a path relative to the watch root, is selected.
func (ps *PatternSet) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimPrefix(rel, "./")

	if !matchAny(ps.include, rel) {
		return false
	}

	return !matchAny(ps.exclude, rel)
}

// Excluded reports whether rel matches an exclude pattern.
func (ps *PatternSet) Excluded(rel string) bool {
	return matchAny(ps.exclude, filepath.ToSlash(rel))
}

// Include returns a copy of the include patterns.
func (ps *PatternSet) Include() []string {
	return append([]string(nil), ps.include...)
}

// Exclude returns a copy of the exclude patterns.
func (ps *PatternSet) Exclude() []string {
	return append([]string(nil), ps.exclude...)
}

// Roots returns the literal directory prefix of every include pattern,
// deduplicated. "**/*.jade" yields ".", "views/**/*.jade" yields "views".
func (ps *PatternSet) Roots() []string {
	seen := make(map[string]bool)

	var roots []string

	for _, p := range ps.include {
		base, _ := doublestar.SplitPattern(p)
		if base == "" {
			base = "."
		}

		base = path.Clean(base)
		if !seen[base] {
			seen[base] = true
			roots = append(roots, base)
		}
	}

	return roots
}

// SkipDir reports whether a directory can never contain a match. That is
// the case when the directory is covered by a "dir/**" exclusion, or by a
// "dir/**/tail" exclusion whose tail covers the file name of every include.
func (ps *PatternSet) SkipDir(rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return false
	}

	for _, p := range ps.exclude {
		dir, tail, ok := splitRecursive(p)
		if !ok || !ps.tailCoversIncludes(tail) {
			continue
		}

		if matched, _ := doublestar.Match(dir, rel); matched {
			return true
		}

		if matched, _ := doublestar.Match(dir+"/**", rel); matched {
			return true
		}
	}

	return false
}

// splitRecursive splits "dir/**" and "dir/**/tail" into dir and tail. The
// tail of "dir/**" is "*".
func splitRecursive(p string) (dir, tail string, ok bool) {
	if d, found := strings.CutSuffix(p, "/**"); found {
		return d, "*", d != ""
	}

	d, t, found := strings.Cut(p, "/**/")
	if !found || d == "" || t == "" || strings.Contains(t, "/") {
		return "", "", false
	}

	return d, t, true
}

func (ps *PatternSet) tailCoversIncludes(tail string) bool {
	if tail == "*" || tail == "**" {
		return true
	}

	for _, inc := range ps.include {
		if path.Base(inc) != tail {
			return false
		}
	}

	return true
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}

	return false
}
