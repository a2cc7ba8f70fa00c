// Package progress tracks completions during a run, estimates remaining time
// with an adaptive rate window, and fans completion events out to sinks.
package progress
