package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkspaceDir string `toml:"workspace_dir"`
	LogDir       string `toml:"log_dir"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
}

// Transcoder contains configuration for the external audio utility.
type Transcoder struct {
	Binary string `toml:"binary"`
	// BaseTimeout is the per-operation budget in seconds; individual
	// operations scale it (trim 1x, normalize 2x, concatenate 4x, compress 6x).
	BaseTimeout int    `toml:"base_timeout"`
	SampleRate  int    `toml:"sample_rate"`
	Channels    int    `toml:"channels"`
	Format      string `toml:"format"`
}

// Download contains configuration for fetching remote segments.
type Download struct {
	Timeout   int    `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// Pipeline contains tuning for retry, batching, and the streaming merge.
type Pipeline struct {
	RetryAttempts      int `toml:"retry_attempts"`
	RetryBackoffBaseMS int `toml:"retry_backoff_base_ms"`
	RetryBackoffCapMS  int `toml:"retry_backoff_cap_ms"`

	LongJobSeconds   int `toml:"long_job_seconds"`
	ManySegments     int `toml:"many_segments"`
	BatchSizeLong    int `toml:"batch_size_long"`
	BatchSizeMany    int `toml:"batch_size_many"`
	BatchSizeDefault int `toml:"batch_size_default"`

	MergeChunkSize int `toml:"merge_chunk_size"`
	SilencePadMS   int `toml:"silence_pad_ms"`
}

// Publish contains configuration for result delivery.
type Publish struct {
	LargeFileThresholdMiB int    `toml:"large_file_threshold_mib"`
	ObjectStoreDir        string `toml:"object_store_dir"`
	SignedURLTTL          int    `toml:"signed_url_ttl"`
}

// Tasks contains lifecycle timing for task records.
type Tasks struct {
	TTLSeconds        int `toml:"ttl_seconds"`
	StuckMaxAge       int `toml:"stuck_max_age"`
	QueuePollInterval int `toml:"queue_poll_interval"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for stitchd.
//
// Configuration sections by subsystem:
//   - Paths: workspace/log directories and API bind address
//   - Transcoder: external audio utility binary and timeouts
//   - Download: remote segment fetch settings
//   - Pipeline: retry, batching, and streaming-merge tuning
//   - Publish: result delivery thresholds and object store location
//   - Tasks: task record TTL, stuck-task sweep, and worker polling
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Transcoder Transcoder `toml:"transcoder"`
	Download   Download   `toml:"download"`
	Pipeline   Pipeline   `toml:"pipeline"`
	Publish    Publish    `toml:"publish"`
	Tasks      Tasks      `toml:"tasks"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/stitch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("stitch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.WorkspaceDir, err = expandPath(c.Paths.WorkspaceDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Publish.ObjectStoreDir, err = expandPath(c.Publish.ObjectStoreDir); err != nil {
		return err
	}
	c.Transcoder.Binary = strings.TrimSpace(c.Transcoder.Binary)
	c.Transcoder.Format = strings.ToLower(strings.TrimSpace(c.Transcoder.Format))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkspaceDir, c.Paths.LogDir, c.Publish.ObjectStoreDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// TranscodeBaseTimeout returns the base per-operation budget for the
// external transcoder.
func (c *Config) TranscodeBaseTimeout() time.Duration {
	return time.Duration(c.Transcoder.BaseTimeout) * time.Second
}

// DownloadTimeout returns the client timeout for segment downloads.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.Timeout) * time.Second
}

// TaskTTL returns how long completed and failed task records are retained.
func (c *Config) TaskTTL() time.Duration {
	return time.Duration(c.Tasks.TTLSeconds) * time.Second
}

// StuckMaxAge returns the age past which a processing task with no progress
// updates is considered abandoned.
func (c *Config) StuckMaxAge() time.Duration {
	return time.Duration(c.Tasks.StuckMaxAge) * time.Second
}

// QueuePollInterval returns the worker idle polling interval.
func (c *Config) QueuePollInterval() time.Duration {
	return time.Duration(c.Tasks.QueuePollInterval) * time.Second
}

// HeartbeatInterval returns how often the worker refreshes a claimed task.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Tasks.HeartbeatInterval) * time.Second
}

// LargeFileThreshold returns the publish routing threshold in bytes.
func (c *Config) LargeFileThreshold() int64 {
	return int64(c.Publish.LargeFileThresholdMiB) * 1024 * 1024
}

// SilencePad returns the inter-segment silence duration.
func (c *Config) SilencePad() time.Duration {
	return time.Duration(c.Pipeline.SilencePadMS) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
