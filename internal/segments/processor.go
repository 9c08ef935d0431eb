package segments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"stitch/internal/logging"
	"stitch/internal/transcoder"
	"stitch/internal/workspace"
)

// Downloader fetches one remote file into a workspace.
type Downloader interface {
	DownloadFile(ctx context.Context, ws *workspace.Workspace, url, localName string) (string, error)
}

// Processor runs the download/normalize/trim pipeline for single segments.
type Processor struct {
	workspace  *workspace.Workspace
	downloader Downloader
	transcoder transcoder.Client
	logger     *slog.Logger
}

// NewProcessor builds a segment processor bound to one task's workspace.
func NewProcessor(ws *workspace.Workspace, downloader Downloader, client transcoder.Client, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		workspace:  ws,
		downloader: downloader,
		transcoder: client,
		logger:     logger,
	}
}

// phasedError tags a pipeline failure with the phase it occurred in so the
// retry layer can record structured attempt history.
type phasedError struct {
	phase string
	err   error
}

func (e *phasedError) Error() string { return e.err.Error() }
func (e *phasedError) Unwrap() error { return e.err }

func failPhase(phase string, err error) error {
	return &phasedError{phase: phase, err: err}
}

// PhaseOf extracts the pipeline phase from a processing error. Errors
// without phase context report "pipeline".
func PhaseOf(err error) string {
	var phased *phasedError
	if errors.As(err, &phased) {
		return phased.phase
	}
	return "pipeline"
}

// Process runs one segment through download, normalize, and trim, verifying
// the output of each step and deleting the predecessor file as soon as the
// next one is confirmed good. The returned file is registered with the
// workspace.
func (p *Processor) Process(ctx context.Context, segment Segment, index int) (*Processed, error) {
	rawName := fmt.Sprintf("segment-%d-raw%s", index, remoteExtension(segment.URL))

	rawPath, err := p.downloader.DownloadFile(ctx, p.workspace, segment.URL, rawName)
	if err != nil {
		return nil, failPhase("download", err)
	}
	if err := p.workspace.VerifyFile(rawPath); err != nil {
		return nil, failPhase("verify-download", err)
	}
	rawSize, err := p.workspace.FileSize(rawPath)
	if err != nil {
		return nil, failPhase("verify-download", err)
	}

	normalizedPath, err := p.workspace.GetPath(fmt.Sprintf("segment-%d-norm.wav", index))
	if err != nil {
		return nil, failPhase("normalize", err)
	}
	if err := p.transcoder.Normalize(ctx, rawPath, normalizedPath); err != nil {
		return nil, failPhase("normalize", err)
	}
	p.workspace.Register(normalizedPath)
	if err := p.workspace.VerifyFile(normalizedPath); err != nil {
		return nil, failPhase("normalize", err)
	}
	if err := p.workspace.DeleteFile(rawPath); err != nil {
		return nil, failPhase("normalize", err)
	}

	trimmedPath, err := p.workspace.GetPath(fmt.Sprintf("segment-%d.wav", index))
	if err != nil {
		return nil, failPhase("trim", err)
	}
	if err := p.transcoder.Trim(ctx, normalizedPath, trimmedPath, segment.StartTime, segment.EndTime); err != nil {
		return nil, failPhase("trim", err)
	}
	p.workspace.Register(trimmedPath)
	if err := p.workspace.VerifyFile(trimmedPath); err != nil {
		return nil, failPhase("trim", err)
	}
	if err := p.workspace.DeleteFile(normalizedPath); err != nil {
		return nil, failPhase("trim", err)
	}

	size, err := p.workspace.FileSize(trimmedPath)
	if err != nil {
		return nil, failPhase("trim", err)
	}

	p.logger.Debug("segment processed",
		logging.Int("segment_index", index),
		logging.String("speaker", segment.SpeakerLabel),
		logging.Int64("raw_bytes", rawSize),
		logging.Int64("bytes", size),
	)
	return &Processed{Index: index, LocalPath: trimmedPath, ByteSize: size}, nil
}

// remoteExtension pulls a usable file extension from the segment URL,
// defaulting to .webm for extension-less CDN paths.
func remoteExtension(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ".webm"
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	switch ext {
	case ".webm", ".wav", ".mp3", ".ogg", ".m4a", ".flac", ".opus":
		return ext
	default:
		return ".webm"
	}
}
