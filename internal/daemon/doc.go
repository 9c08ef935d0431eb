// Package daemon assembles the stitchd runtime: the task store, the worker
// manager, and the HTTP API server, guarded by a single-instance lock file.
package daemon
