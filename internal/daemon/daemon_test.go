package daemon_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stitch/internal/config"
	"stitch/internal/daemon"
	"stitch/internal/logging"
	"stitch/internal/publish"
	"stitch/internal/queue"
	"stitch/internal/segments"
	"stitch/internal/tasks"
	"stitch/internal/testsupport"
	"stitch/internal/workspace"
)

// fileDownloader satisfies downloads with canned bytes on disk.
type fileDownloader struct{}

func (fileDownloader) DownloadFile(ctx context.Context, ws *workspace.Workspace, url, localName string) (string, error) {
	path, err := ws.GetPath(localName)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte("segment-bytes"), 0o644); err != nil {
		return "", err
	}
	ws.Register(path)
	return path, nil
}

// fileTranscoder fulfils transcode operations with plain file copies.
type fileTranscoder struct{}

func (fileTranscoder) Normalize(ctx context.Context, in, out string) error {
	return copyFile(in, out)
}

func (fileTranscoder) Trim(ctx context.Context, in, out string, start, end float64) error {
	return copyFile(in, out)
}

func (fileTranscoder) Concatenate(ctx context.Context, inputs []string, out string) error {
	var joined bytes.Buffer
	for _, input := range inputs {
		data, err := os.ReadFile(input)
		if err != nil {
			return err
		}
		joined.Write(data)
	}
	return os.WriteFile(out, joined.Bytes(), 0o644)
}

func (fileTranscoder) GenerateSilence(ctx context.Context, out string, d time.Duration) error {
	return os.WriteFile(out, []byte("~"), 0o644)
}

func (fileTranscoder) Compress(ctx context.Context, in, out string) error {
	return copyFile(in, out)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

type fixture struct {
	daemon  *daemon.Daemon
	service *tasks.Service
	store   *queue.Store
	cfg     *config.Config
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) (*fixture, *fixture) {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)

	build := func() *fixture {
		worker := tasks.NewManager(store, cfg, fileTranscoder{}, publish.NewDirStore(cfg.Publish.ObjectStoreDir), fileDownloader{}, logging.NewNop())
		service := tasks.NewService(store, cfg, nil, logging.NewNop())
		d, err := daemon.New(cfg, store, worker, service, logging.NewNop())
		if err != nil {
			t.Fatalf("daemon.New: %v", err)
		}
		return &fixture{daemon: d, service: service, store: store, cfg: cfg}
	}
	return build(), build()
}

func submitSegments(n int) []segments.Segment {
	segs := make([]segments.Segment, n)
	for i := range segs {
		segs[i] = segments.Segment{
			URL:       fmt.Sprintf("https://cdn.example/conv/seg-%d.webm", i),
			StartTime: 0,
			EndTime:   2,
		}
	}
	return segs
}

func TestDaemonStartStop(t *testing.T) {
	fx, _ := newFixture(t)
	ctx := context.Background()

	if err := fx.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status := fx.daemon.Status(ctx); !status.Running {
		t.Fatal("expected running status after start")
	}

	fx.daemon.Stop()
	if status := fx.daemon.Status(ctx); status.Running {
		t.Fatal("expected stopped status after stop")
	}

	// Stop is idempotent.
	fx.daemon.Stop()
}

func TestDaemonSingleInstance(t *testing.T) {
	first, second := newFixture(t)
	ctx := context.Background()

	if err := first.daemon.Start(ctx); err != nil {
		t.Fatalf("start first instance: %v", err)
	}
	defer first.daemon.Stop()

	if err := second.daemon.Start(ctx); err == nil {
		second.daemon.Stop()
		t.Fatal("expected second instance start to fail while lock is held")
	}

	first.daemon.Stop()
	if err := second.daemon.Start(ctx); err != nil {
		t.Fatalf("start after lock release: %v", err)
	}
	second.daemon.Stop()
}

func TestDaemonStartSweepsStaleWorkspaces(t *testing.T) {
	fx, _ := newFixture(t)
	ctx := context.Background()

	workspaceDir := fx.cfg.Paths.WorkspaceDir
	stale := filepath.Join(workspaceDir, "task-stale")
	fresh := filepath.Join(workspaceDir, "task-fresh")
	for _, dir := range []string{stale, fresh} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if err := fx.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fx.daemon.Stop()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale workspace to be removed at startup")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh workspace to survive startup sweep: %v", err)
	}
}

func TestDaemonProcessesQueuedTask(t *testing.T) {
	fx, _ := newFixture(t)
	ctx := context.Background()

	if err := fx.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fx.daemon.Stop()

	resp, err := fx.service.Submit(ctx, tasks.SubmitRequest{
		ConversationID: "conv-daemon",
		Segments:       submitSegments(3),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Disposition != tasks.DispositionQueued {
		t.Fatalf("expected queued disposition, got %s", resp.Disposition)
	}

	deadline := time.After(10 * time.Second)
	for {
		task, err := fx.store.GetByID(ctx, resp.TaskID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if task != nil && task.Status == queue.StatusCompleted {
			if task.Result == nil {
				t.Fatal("expected a result on the completed task")
			}
			if task.Result.IsLarge {
				t.Fatal("expected inline result below the size threshold")
			}
			if len(task.Result.Bytes) == 0 {
				t.Fatal("expected inline audio bytes")
			}
			return
		}
		if task != nil && task.Status == queue.StatusFailed {
			t.Fatalf("task failed: %s", task.ErrorMessage)
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for task completion")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
