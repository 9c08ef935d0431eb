package config

const (
	defaultWorkspaceDir   = "~/.local/share/stitch/workspaces"
	defaultLogDir         = "~/.local/share/stitch/logs"
	defaultObjectStoreDir = "~/.local/share/stitch/store"
	defaultAPIBind        = "127.0.0.1:7512"

	defaultTranscoderBinary  = "ffmpeg"
	defaultTranscodeTimeout  = 60
	defaultSampleRate        = 44100
	defaultChannels          = 1
	defaultOutputFormat      = "mp3"
	defaultDownloadTimeout   = 30
	defaultDownloadUserAgent = "stitchd/dev"

	defaultRetryAttempts      = 3
	defaultRetryBackoffBaseMS = 1000
	defaultRetryBackoffCapMS  = 5000

	defaultLongJobSeconds   = 300
	defaultManySegments     = 20
	defaultBatchSizeLong    = 2
	defaultBatchSizeMany    = 3
	defaultBatchSizeDefault = 5

	defaultMergeChunkSize = 5
	defaultSilencePadMS   = 50

	defaultLargeFileThresholdMiB = 100
	defaultSignedURLTTL          = 3600

	defaultTaskTTLSeconds    = 3600
	defaultStuckMaxAge       = 900
	defaultQueuePollInterval = 2
	defaultHeartbeatInterval = 15

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceDir: defaultWorkspaceDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Transcoder: Transcoder{
			Binary:      defaultTranscoderBinary,
			BaseTimeout: defaultTranscodeTimeout,
			SampleRate:  defaultSampleRate,
			Channels:    defaultChannels,
			Format:      defaultOutputFormat,
		},
		Download: Download{
			Timeout:   defaultDownloadTimeout,
			UserAgent: defaultDownloadUserAgent,
		},
		Pipeline: Pipeline{
			RetryAttempts:      defaultRetryAttempts,
			RetryBackoffBaseMS: defaultRetryBackoffBaseMS,
			RetryBackoffCapMS:  defaultRetryBackoffCapMS,
			LongJobSeconds:     defaultLongJobSeconds,
			ManySegments:       defaultManySegments,
			BatchSizeLong:      defaultBatchSizeLong,
			BatchSizeMany:      defaultBatchSizeMany,
			BatchSizeDefault:   defaultBatchSizeDefault,
			MergeChunkSize:     defaultMergeChunkSize,
			SilencePadMS:       defaultSilencePadMS,
		},
		Publish: Publish{
			LargeFileThresholdMiB: defaultLargeFileThresholdMiB,
			ObjectStoreDir:        defaultObjectStoreDir,
			SignedURLTTL:          defaultSignedURLTTL,
		},
		Tasks: Tasks{
			TTLSeconds:        defaultTaskTTLSeconds,
			StuckMaxAge:       defaultStuckMaxAge,
			QueuePollInterval: defaultQueuePollInterval,
			HeartbeatInterval: defaultHeartbeatInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
