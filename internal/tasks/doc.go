// Package tasks owns the conversion-task data model, its status state
// machine, and the SQLite store that persists both. Status writes are
// compare-and-swap transitions: every component that advances a task
// declares the status it expects, and stale writers lose the race instead
// of clobbering newer state.
package tasks
