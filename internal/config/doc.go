// Package config loads, validates, and normalizes stitchd configuration.
//
// Configuration is TOML with a single file resolved from an explicit path,
// ~/.config/stitch/config.toml, or ./stitch.toml. Defaults cover every field
// so the daemon runs without a config file. Path fields are expanded
// (~ and relative paths) during load; durations are stored as integer
// seconds/milliseconds in TOML and exposed as time.Duration accessors.
//
// Pipeline tuning values (retry backoff, batch thresholds, merge chunk size,
// silence padding, publish threshold) live here rather than as constants so
// they can be adjusted against real workloads.
package config
