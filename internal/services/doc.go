// Package services defines shared utilities consumed across the merge
// pipeline.
//
// Key responsibilities:
//   - Context helpers that stamp task identifiers, pipeline phases, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     (filesystem, network, audio processing, store, task) without losing the
//     originating cause, and the IsRetryable predicate the retry layer keys
//     off.
//
// Use these helpers when wiring new pipeline logic so error handling and
// observability stay uniform.
package services
