// Package segments implements the per-segment pipeline: download the
// remote audio, normalize it, trim it to the speaker turn's time range,
// and hand back a processed file ready for merging. Each attempt is
// wrapped with bounded exponential-backoff retry and a structured error
// history so a failed task can report exactly which segment, phase, and
// attempt went wrong.
package segments
