package publish

import (
	"context"
	"log/slog"
	"os"

	"stitch/internal/config"
	"stitch/internal/logging"
	"stitch/internal/queue"
	"stitch/internal/services"
	"stitch/internal/transcoder"
	"stitch/internal/workspace"
)

// Publisher compresses the merged file and routes delivery by size.
type Publisher struct {
	transcoder transcoder.Client
	store      ObjectStore
	threshold  int64
	format     string
	logger     *slog.Logger
}

// NewPublisher builds a publisher. Results above threshold bytes go to the
// object store; smaller results are returned inline.
func NewPublisher(client transcoder.Client, store ObjectStore, threshold int64, format string, logger *slog.Logger) *Publisher {
	if format == "" {
		format = "mp3"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		transcoder: client,
		store:      store,
		threshold:  threshold,
		format:     format,
		logger:     logger,
	}
}

// NewFromConfig builds a publisher with the configured threshold and format.
func NewFromConfig(client transcoder.Client, store ObjectStore, cfg *config.Config, logger *slog.Logger) *Publisher {
	return NewPublisher(client, store, cfg.LargeFileThreshold(), cfg.Transcoder.Format, logger)
}

// Publish compresses mergedPath inside the workspace and delivers it. The
// merged input and the compressed temp file are both deleted before
// returning; on the large path ownership moves to the object store, on the
// small path the bytes travel in the result itself.
func (p *Publisher) Publish(ctx context.Context, ws *workspace.Workspace, mergedPath, conversationID, taskID string) (*queue.Result, error) {
	outputPath, err := ws.GetPath("output." + p.format)
	if err != nil {
		return nil, err
	}

	if err := p.transcoder.Compress(ctx, mergedPath, outputPath); err != nil {
		return nil, err
	}
	ws.Register(outputPath)
	if err := ws.VerifyFile(outputPath); err != nil {
		return nil, err
	}
	if err := ws.DeleteFile(mergedPath); err != nil {
		return nil, err
	}

	size, err := ws.FileSize(outputPath)
	if err != nil {
		return nil, err
	}

	if size > p.threshold {
		key := Key(conversationID, taskID, p.format)
		url, err := p.store.Upload(ctx, key, outputPath)
		if err != nil {
			return nil, err
		}
		if err := ws.DeleteFile(outputPath); err != nil {
			return nil, err
		}
		p.logger.Info("published large result",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("key", key),
			logging.Int64("bytes", size),
		)
		return &queue.Result{URL: url, Format: p.format, Size: size, IsLarge: true}, nil
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, services.Wrap(services.ErrFileSystem, "publish", "read", "read compressed result", err)
	}
	if err := ws.DeleteFile(outputPath); err != nil {
		return nil, err
	}
	p.logger.Info("published inline result",
		logging.String(logging.FieldTaskID, taskID),
		logging.Int64("bytes", size),
	)
	return &queue.Result{Bytes: data, Format: p.format, Size: size}, nil
}

// CleanupConversation removes any temp artifacts the conversation left in
// the object store. Runs on both the success and failure paths.
func (p *Publisher) CleanupConversation(ctx context.Context, conversationID string) error {
	prefix := "conversations/" + conversationID + "/tmp/"
	keys, err := p.store.ListByPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := p.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
