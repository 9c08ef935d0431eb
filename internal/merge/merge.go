package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stitch/internal/config"
	"stitch/internal/logging"
	"stitch/internal/segments"
	"stitch/internal/services"
	"stitch/internal/transcoder"
	"stitch/internal/workspace"
)

// ProgressFunc receives merge progress as a percentage of concatenate
// operations completed.
type ProgressFunc func(percent float64)

// Merger reduces processed segment files to a single merged file.
type Merger struct {
	workspace  *workspace.Workspace
	transcoder transcoder.Client
	chunkSize  int
	silencePad time.Duration
	logger     *slog.Logger
}

// New builds a merger bound to one task's workspace.
func New(ws *workspace.Workspace, client transcoder.Client, chunkSize int, silencePad time.Duration, logger *slog.Logger) *Merger {
	if chunkSize < 2 {
		chunkSize = 2
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Merger{
		workspace:  ws,
		transcoder: client,
		chunkSize:  chunkSize,
		silencePad: silencePad,
		logger:     logger,
	}
}

// NewFromConfig builds a merger using the configured chunk size and pad.
func NewFromConfig(ws *workspace.Workspace, client transcoder.Client, cfg *config.Config, logger *slog.Logger) *Merger {
	return New(ws, client, cfg.Pipeline.MergeChunkSize, cfg.SilencePad(), logger)
}

// Merge combines the processed segments, in order, into one file and
// returns its path. Consumed inputs are deleted as the tree is reduced;
// the silence pad file is generated once, reused for every junction, and
// removed at the end.
func (m *Merger) Merge(ctx context.Context, processed []segments.Processed, progress ProgressFunc) (string, error) {
	if len(processed) == 0 {
		return "", services.Wrap(services.ErrValidation, "merge", "arguments", "no processed segments", nil)
	}
	if len(processed) == 1 {
		return processed[0].LocalPath, nil
	}

	silencePath, err := m.generateSilence(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if silencePath != "" {
			_ = m.workspace.DeleteFile(silencePath)
		}
	}()

	// Total concatenate operations for progress: one per chunk, then one
	// per pairwise reduction.
	chunkCount := (len(processed) + m.chunkSize - 1) / m.chunkSize
	totalOps := 2*chunkCount - 1
	completedOps := 0
	report := func() {
		completedOps++
		if progress != nil {
			progress(float64(completedOps) / float64(totalOps) * 100)
		}
	}

	chunkFiles, err := m.buildChunks(ctx, processed, silencePath, report)
	if err != nil {
		return "", err
	}

	m.logger.Debug("chunk pass complete",
		logging.Int("segments", len(processed)),
		logging.Int("chunks", len(chunkFiles)),
	)

	final, err := m.reduce(ctx, chunkFiles, silencePath, report)
	if err != nil {
		return "", err
	}
	return final, nil
}

func (m *Merger) generateSilence(ctx context.Context) (string, error) {
	if m.silencePad <= 0 {
		return "", nil
	}
	path, err := m.workspace.GetPath("silence-pad.wav")
	if err != nil {
		return "", err
	}
	if err := m.transcoder.GenerateSilence(ctx, path, m.silencePad); err != nil {
		return "", err
	}
	m.workspace.Register(path)
	if err := m.workspace.VerifyFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// buildChunks concatenates consecutive runs of chunkSize segments into one
// file per chunk, deleting the segment files as they are consumed.
func (m *Merger) buildChunks(ctx context.Context, processed []segments.Processed, silencePath string, report func()) ([]string, error) {
	var chunkFiles []string
	for start := 0; start < len(processed); start += m.chunkSize {
		end := start + m.chunkSize
		if end > len(processed) {
			end = len(processed)
		}
		group := processed[start:end]

		if len(group) == 1 {
			// A trailing singleton chunk needs no concatenation.
			chunkFiles = append(chunkFiles, group[0].LocalPath)
			report()
			continue
		}

		chunkPath, err := m.workspace.GetPath(fmt.Sprintf("chunk-%d.wav", len(chunkFiles)))
		if err != nil {
			return nil, err
		}

		inputs := interleave(pathsOf(group), silencePath)
		if err := m.transcoder.Concatenate(ctx, inputs, chunkPath); err != nil {
			return nil, err
		}
		m.workspace.Register(chunkPath)
		if err := m.workspace.VerifyFile(chunkPath); err != nil {
			return nil, err
		}
		for _, item := range group {
			if err := m.workspace.DeleteFile(item.LocalPath); err != nil {
				return nil, err
			}
		}
		chunkFiles = append(chunkFiles, chunkPath)
		report()
	}
	return chunkFiles, nil
}

// reduce merges chunk files pairwise until one remains.
func (m *Merger) reduce(ctx context.Context, files []string, silencePath string, report func()) (string, error) {
	mergeCounter := 0
	for len(files) > 1 {
		left, right := files[0], files[1]

		mergedPath, err := m.workspace.GetPath(fmt.Sprintf("merge-%d.wav", mergeCounter))
		if err != nil {
			return "", err
		}
		mergeCounter++

		inputs := interleave([]string{left, right}, silencePath)
		if err := m.transcoder.Concatenate(ctx, inputs, mergedPath); err != nil {
			return "", err
		}
		m.workspace.Register(mergedPath)
		if err := m.workspace.VerifyFile(mergedPath); err != nil {
			return "", err
		}
		if err := m.workspace.DeleteFile(left); err != nil {
			return "", err
		}
		if err := m.workspace.DeleteFile(right); err != nil {
			return "", err
		}

		files = append([]string{mergedPath}, files[2:]...)
		report()
	}
	return files[0], nil
}

func pathsOf(group []segments.Processed) []string {
	paths := make([]string, len(group))
	for i, item := range group {
		paths[i] = item.LocalPath
	}
	return paths
}

// interleave inserts the silence pad between consecutive inputs. With no
// pad file the inputs pass through unchanged.
func interleave(inputs []string, silencePath string) []string {
	if silencePath == "" || len(inputs) < 2 {
		return inputs
	}
	out := make([]string, 0, len(inputs)*2-1)
	for i, input := range inputs {
		if i > 0 {
			out = append(out, silencePath)
		}
		out = append(out, input)
	}
	return out
}
