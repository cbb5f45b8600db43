// Package workspace allocates isolated per-task directories, clones the
// target repository into them, and releases them when a task completes.
//
// Each workspace is named <slug>-ws-<ts>-<short> under a configured root.
// Allocation is exclusive: two tasks can never share a directory. A
// periodic sweeper removes directories left behind by crashed runs.
package workspace
