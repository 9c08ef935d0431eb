// Package logging builds slog loggers for stitchd and standardizes the
// structured fields used across the pipeline.
//
// Two output formats are supported: a human console format (colorized when
// stdout is a terminal) and JSON for log aggregation. Attr helpers mirror the
// slog constructors so call sites stay terse, and WithContext stamps task,
// phase, and correlation identifiers carried in a context onto a logger.
package logging
