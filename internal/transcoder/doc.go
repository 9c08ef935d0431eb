// Package transcoder wraps the external audio utility (ffmpeg by default)
// behind a typed five-operation client. Each operation runs as a bounded
// subprocess; on timeout the process is killed and the failure is reported
// as retryable. Callers verify output files themselves, the adapter only
// reports command success or failure.
package transcoder
