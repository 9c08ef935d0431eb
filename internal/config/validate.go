package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTranscoder(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if err := c.validateTasks(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		return errors.New("paths.workspace_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateTranscoder() error {
	if c.Transcoder.Binary == "" {
		return errors.New("transcoder.binary must be set")
	}
	if c.Transcoder.BaseTimeout <= 0 {
		return errors.New("transcoder.base_timeout must be positive")
	}
	if c.Transcoder.SampleRate <= 0 {
		return errors.New("transcoder.sample_rate must be positive")
	}
	if c.Transcoder.Channels <= 0 {
		return errors.New("transcoder.channels must be positive")
	}
	if c.Transcoder.Format == "" {
		return errors.New("transcoder.format must be set")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if c.Download.Timeout <= 0 {
		return errors.New("download.timeout must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.RetryAttempts < 1 {
		return errors.New("pipeline.retry_attempts must be at least 1")
	}
	if c.Pipeline.RetryBackoffBaseMS <= 0 {
		return errors.New("pipeline.retry_backoff_base_ms must be positive")
	}
	if c.Pipeline.RetryBackoffCapMS < c.Pipeline.RetryBackoffBaseMS {
		return errors.New("pipeline.retry_backoff_cap_ms must be >= retry_backoff_base_ms")
	}
	for name, size := range map[string]int{
		"pipeline.batch_size_long":    c.Pipeline.BatchSizeLong,
		"pipeline.batch_size_many":    c.Pipeline.BatchSizeMany,
		"pipeline.batch_size_default": c.Pipeline.BatchSizeDefault,
	} {
		if size < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	if c.Pipeline.MergeChunkSize < 2 {
		return errors.New("pipeline.merge_chunk_size must be at least 2")
	}
	if c.Pipeline.SilencePadMS < 0 {
		return errors.New("pipeline.silence_pad_ms must not be negative")
	}
	return nil
}

func (c *Config) validatePublish() error {
	if c.Publish.LargeFileThresholdMiB <= 0 {
		return errors.New("publish.large_file_threshold_mib must be positive")
	}
	if strings.TrimSpace(c.Publish.ObjectStoreDir) == "" {
		return errors.New("publish.object_store_dir must be set")
	}
	if c.Publish.SignedURLTTL <= 0 {
		return errors.New("publish.signed_url_ttl must be positive")
	}
	return nil
}

func (c *Config) validateTasks() error {
	if c.Tasks.TTLSeconds <= 0 {
		return errors.New("tasks.ttl_seconds must be positive")
	}
	if c.Tasks.StuckMaxAge <= 0 {
		return errors.New("tasks.stuck_max_age must be positive")
	}
	if c.Tasks.QueuePollInterval <= 0 {
		return errors.New("tasks.queue_poll_interval must be positive")
	}
	if c.Tasks.HeartbeatInterval <= 0 {
		return errors.New("tasks.heartbeat_interval must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
