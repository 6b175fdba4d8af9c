// Package daemon coordinates the long-running Resonate process.
//
// It wires configuration, task storage, the dispatch service, and the
// sweeper into a single lifecycle with flock-based locking to prevent
// multiple instances, and serves the HTTP API that callers and inference
// backends talk to.
//
// Keep orchestration logic here: pipeline steps live in their own packages
// while the daemon focuses on startup, shutdown, and the API surface.
package daemon
