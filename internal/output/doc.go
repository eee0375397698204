// Package output provides the destinations compiled HTML is written to.
//
// [FileWriter] replaces its file atomically so a failed or interrupted run
// never leaves a half-written page behind. [StdoutWriter] streams output for
// the "-" destination.
package output
