// Package workspace manages run workspace directories, supporting both
// ephemeral (timestamped) and persistent (fixed-path) modes.
//
// Ephemeral mode creates timestamped directories (e.g. blogpipe-20260826-101500)
// suitable for one-shot runs, removed completely after the run.
//
// Persistent mode uses a fixed directory (e.g. /var/lib/blogpipe/checkout)
// that survives across runs, so the daemon can pull instead of reclone.
package workspace
