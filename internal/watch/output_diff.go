package watch

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// OutputDiff summarises how a regenerated file differs from the previous
// generation.
type OutputDiff struct {
	Added   int
	Removed int

	// Unified is the unified diff text, empty when nothing changed.
	Unified string
}

// DiffOutput compares two generations of the file at path.
func DiffOutput(path string, prev, curr []byte) (*OutputDiff, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(prev)),
		B:        difflib.SplitLines(string(curr)),
		FromFile: path + " (previous)",
		ToFile:   path,
		Context:  2,
	}

	unified, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return nil, fmt.Errorf("diffing %s: %w", path, err)
	}

	od := &OutputDiff{Unified: unified}

	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			od.Added++
		case strings.HasPrefix(line, "-"):
			od.Removed++
		}
	}

	return od, nil
}

// Changed reports whether the two generations differ.
func (d *OutputDiff) Changed() bool {
	return d.Unified != ""
}

// Summary returns a one-line description such as "+3/-1 lines".
func (d *OutputDiff) Summary() string {
	if !d.Changed() {
		return "output unchanged"
	}

	return fmt.Sprintf("+%d/-%d lines", d.Added, d.Removed)
}
