// Package task defines the tasks jadewatch can run and dispatches them.
//
// Tasks are a closed set. A [Kind] is resolved from its runner-facing name
// once, and [Runner] switches on it; there is no string-keyed registry.
package task

import (
	"fmt"
	"strings"

	"github.com/hupe1980/jadewatch/internal/config"
)

// Kind identifies a task.
type Kind int

// Known task kinds.
const (
	KindCompile Kind = iota + 1
	KindWatch
)

// Name is the runner-facing task name.
type Name = string

// Canonical names. "watch:jade" is accepted as an alias for the watch task.
const (
	NameCompile   Name = config.TaskCompile
	NameWatch     Name = config.TaskWatch
	NameWatchJade Name = "watch:jade"
)

// DefaultPipeline is what runs when no task is named.
var DefaultPipeline = []Name{NameCompile}

// String returns the canonical name of k.
func (k Kind) String() string {
	switch k {
	case KindCompile:
		return NameCompile
	case KindWatch:
		return NameWatch
	default:
		return fmt.Sprintf("task(%d)", int(k))
	}
}

// LongRunning reports whether the task blocks until interrupted.
func (k Kind) LongRunning() bool {
	return k == KindWatch
}

// Parse resolves a task name. "jade" alone selects the compile task.
func Parse(name string) (Kind, error) {
	switch strings.TrimSpace(name) {
	case NameCompile, "jade", "compile":
		return KindCompile, nil
	case NameWatch, NameWatchJade:
		return KindWatch, nil
	default:
		return 0, fmt.Errorf("unknown task %q", name)
	}
}

// ParseAll resolves a sequence of names, failing on the first unknown one.
func ParseAll(names []string) ([]Kind, error) {
	kinds := make([]Kind, 0, len(names))

	for _, n := range names {
		k, err := Parse(n)
		if err != nil {
			return nil, err
		}

		kinds = append(kinds, k)
	}

	return kinds, nil
}
