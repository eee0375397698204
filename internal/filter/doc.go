// Package filter decides which file-system paths are relevant to the watch
// task. A [PatternSet] combines doublestar include globs with exclude globs;
// a path matching both is excluded.
package filter
