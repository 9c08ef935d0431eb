// Package tasks is the orchestration and dedup layer. It derives
// content-based task identities, resolves resubmissions against existing
// records, runs the worker loop that claims queued tasks and drives them
// through the segment/merge/publish pipeline, and finalizes tasks with
// cleanup on both the success and failure paths.
package tasks
