package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"stitch/internal/config"
	"stitch/internal/services"
)

var commandContext = exec.CommandContext

// Timeout multipliers applied to the configured base budget. Normalize
// decodes and re-encodes, concatenate touches every input, and compress
// re-encodes the full merged asset, so they get proportionally more time.
const (
	trimMultiplier        = 1
	silenceMultiplier     = 1
	normalizeMultiplier   = 2
	concatenateMultiplier = 4
	compressMultiplier    = 6
)

// Client defines the audio operations the pipeline needs.
type Client interface {
	Normalize(ctx context.Context, inputPath, outputPath string) error
	Trim(ctx context.Context, inputPath, outputPath string, start, end float64) error
	Concatenate(ctx context.Context, inputPaths []string, outputPath string) error
	GenerateSilence(ctx context.Context, outputPath string, duration time.Duration) error
	Compress(ctx context.Context, inputPath, outputPath string) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithBaseTimeout overrides the per-operation base budget.
func WithBaseTimeout(timeout time.Duration) Option {
	return func(c *CLI) {
		if timeout > 0 {
			c.baseTimeout = timeout
		}
	}
}

// WithSampleRate overrides the normalization sample rate.
func WithSampleRate(rate int) Option {
	return func(c *CLI) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// WithChannels overrides the normalization channel count.
func WithChannels(channels int) Option {
	return func(c *CLI) {
		if channels > 0 {
			c.channels = channels
		}
	}
}

// CLI wraps the ffmpeg command line.
type CLI struct {
	binary      string
	baseTimeout time.Duration
	sampleRate  int
	channels    int
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{
		binary:      "ffmpeg",
		baseTimeout: time.Minute,
		sampleRate:  48000,
		channels:    1,
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// NewFromConfig constructs a CLI client from daemon configuration.
func NewFromConfig(cfg *config.Config) *CLI {
	return NewCLI(
		WithBinary(cfg.Transcoder.Binary),
		WithBaseTimeout(cfg.TranscodeBaseTimeout()),
		WithSampleRate(cfg.Transcoder.SampleRate),
		WithChannels(cfg.Transcoder.Channels),
	)
}

// Normalize re-encodes the input with loudness normalization at the
// configured sample rate and channel layout.
func (c *CLI) Normalize(ctx context.Context, inputPath, outputPath string) error {
	if err := requirePaths(inputPath, outputPath); err != nil {
		return err
	}
	args := []string{
		"-y", "-i", inputPath,
		"-af", "loudnorm=I=-16:TP=-1.5:LRA=11",
		"-ar", strconv.Itoa(c.sampleRate),
		"-ac", strconv.Itoa(c.channels),
		outputPath,
	}
	return c.run(ctx, "normalize", normalizeMultiplier, args)
}

// Trim extracts [start,end) seconds from the input without re-encoding.
func (c *CLI) Trim(ctx context.Context, inputPath, outputPath string, start, end float64) error {
	if err := requirePaths(inputPath, outputPath); err != nil {
		return err
	}
	if end <= start {
		return services.Wrap(services.ErrValidation, "trim", "arguments",
			fmt.Sprintf("end %.3f must be after start %.3f", end, start), nil)
	}
	args := []string{
		"-y", "-i", inputPath,
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-c", "copy",
		outputPath,
	}
	return c.run(ctx, "trim", trimMultiplier, args)
}

// Concatenate joins the inputs in order into one output file via the concat
// demuxer. The input list file is written next to the output and removed
// when the command finishes.
func (c *CLI) Concatenate(ctx context.Context, inputPaths []string, outputPath string) error {
	if len(inputPaths) == 0 {
		return services.Wrap(services.ErrValidation, "concatenate", "arguments", "no input files", nil)
	}
	if err := requirePaths(inputPaths[0], outputPath); err != nil {
		return err
	}

	listPath := outputPath + ".list"
	var list strings.Builder
	for _, input := range inputPaths {
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(input, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return services.Wrap(services.ErrFileSystem, "concatenate", "write-list", "write concat list", err)
	}
	defer os.Remove(listPath)

	args := []string{
		"-y", "-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outputPath,
	}
	return c.run(ctx, "concatenate", concatenateMultiplier, args)
}

// GenerateSilence synthesizes a silent clip of the given duration at the
// configured sample rate and channel layout.
func (c *CLI) GenerateSilence(ctx context.Context, outputPath string, duration time.Duration) error {
	if strings.TrimSpace(outputPath) == "" {
		return services.Wrap(services.ErrValidation, "generate-silence", "arguments", "output path required", nil)
	}
	if duration <= 0 {
		return services.Wrap(services.ErrValidation, "generate-silence", "arguments", "duration must be positive", nil)
	}
	layout := "mono"
	if c.channels == 2 {
		layout = "stereo"
	}
	args := []string{
		"-y", "-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=%s", c.sampleRate, layout),
		"-t", formatSeconds(duration.Seconds()),
		outputPath,
	}
	return c.run(ctx, "generate-silence", silenceMultiplier, args)
}

// Compress re-encodes the input to the delivery codec.
func (c *CLI) Compress(ctx context.Context, inputPath, outputPath string) error {
	if err := requirePaths(inputPath, outputPath); err != nil {
		return err
	}
	args := []string{
		"-y", "-i", inputPath,
		"-codec:a", "libmp3lame",
		"-b:a", "128k",
		outputPath,
	}
	return c.run(ctx, "compress", compressMultiplier, args)
}

func (c *CLI) run(ctx context.Context, operation string, multiplier int, args []string) error {
	budget := c.baseTimeout * time.Duration(multiplier)
	opCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	cmd := commandContext(opCtx, c.binary, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, operation, c.binary,
			fmt.Sprintf("operation exceeded %s budget", budget), err)
	}
	if errors.Is(opCtx.Err(), context.Canceled) {
		return services.Wrap(services.ErrTask, operation, c.binary, "operation canceled", opCtx.Err())
	}
	return services.Wrap(services.ErrAudioProcessing, operation, c.binary,
		fmt.Sprintf("command failed: %s", summarizeOutput(output)), err)
}

func requirePaths(inputPath, outputPath string) error {
	if strings.TrimSpace(inputPath) == "" {
		return services.Wrap(services.ErrValidation, "transcode", "arguments", "input path required", nil)
	}
	if strings.TrimSpace(outputPath) == "" {
		return services.Wrap(services.ErrValidation, "transcode", "arguments", "output path required", nil)
	}
	return nil
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', 3, 64)
}

// summarizeOutput keeps the tail of ffmpeg's combined output, where the
// actual error message lands.
func summarizeOutput(output []byte) string {
	text := strings.TrimSpace(string(output))
	if text == "" {
		return "no output"
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}
	return strings.Join(lines, " | ")
}

var _ Client = (*CLI)(nil)

// Probe checks that the configured binary is runnable. Used by the health
// report on synthetic test submissions.
func (c *CLI) Probe(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := commandContext(opCtx, c.binary, "-version")
	if err := cmd.Run(); err != nil {
		return services.Wrap(services.ErrAudioProcessing, "probe", c.binary,
			fmt.Sprintf("binary %q is not runnable", filepath.Base(c.binary)), err)
	}
	return nil
}
