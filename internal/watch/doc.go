// Package watch implements the watch task. An fsnotify goroutine feeds
// matching change events into a queue; a single loop debounces them, runs
// the configured tasks synchronously and notifies live-reload clients after
// each successful run. Runs never overlap; changes that arrive mid-run are
// coalesced into one follow-up run.
package watch
