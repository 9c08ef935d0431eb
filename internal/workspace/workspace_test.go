package workspace_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"stitch/internal/services"
	"stitch/internal/workspace"
)

func TestInitializeCreatesWritableRoot(t *testing.T) {
	ws := workspace.New(t.TempDir(), "task-a", nil)
	if err := ws.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	info, err := os.Stat(ws.Root())
	if err != nil {
		t.Fatalf("stat root: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected workspace root to be a directory")
	}
}

func TestInitializeRejectsUnwritableRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	base := t.TempDir()
	if err := os.Chmod(base, 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(base, 0o755) })

	ws := workspace.New(base, "task-a", nil)
	err := ws.Initialize()
	if err == nil {
		t.Fatal("expected initialize to fail on read-only base")
	}
	if !errors.Is(err, services.ErrFileSystem) {
		t.Fatalf("expected filesystem error, got %v", err)
	}
}

func TestGetPathRejectsEscape(t *testing.T) {
	ws := workspace.New(t.TempDir(), "task-a", nil)

	if _, err := ws.GetPath("segment-0.webm"); err != nil {
		t.Fatalf("GetPath inside root: %v", err)
	}
	if _, err := ws.GetPath("nested", "chunk-1.wav"); err != nil {
		t.Fatalf("GetPath nested: %v", err)
	}

	for _, segments := range [][]string{
		{".."},
		{"..", "other"},
		{"a", "..", "..", "escape"},
	} {
		_, err := ws.GetPath(segments...)
		if err == nil {
			t.Fatalf("expected escape rejection for %v", segments)
		}
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %v, got %v", segments, err)
		}
	}
}

func TestVerifyFile(t *testing.T) {
	ws := workspace.New(t.TempDir(), "task-a", nil)
	if err := ws.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	missing, _ := ws.GetPath("missing.wav")
	if err := ws.VerifyFile(missing); !errors.Is(err, services.ErrFileSystem) {
		t.Fatalf("expected filesystem error for missing file, got %v", err)
	}

	empty, _ := ws.GetPath("empty.wav")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if err := ws.VerifyFile(empty); !errors.Is(err, services.ErrFileSystem) {
		t.Fatalf("expected filesystem error for empty file, got %v", err)
	}

	good, _ := ws.GetPath("good.wav")
	if err := os.WriteFile(good, []byte("pcm"), 0o644); err != nil {
		t.Fatalf("write good: %v", err)
	}
	if err := ws.VerifyFile(good); err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
}

func TestDeleteFileIdempotent(t *testing.T) {
	ws := workspace.New(t.TempDir(), "task-a", nil)
	if err := ws.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	path, _ := ws.GetPath("segment-0.wav")
	if err := os.WriteFile(path, []byte("pcm"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ws.Register(path)

	if err := ws.DeleteFile(path); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if err := ws.DeleteFile(path); err != nil {
		t.Fatalf("DeleteFile second call: %v", err)
	}
}

func TestCleanupRemovesManagedFilesAndRoot(t *testing.T) {
	ws := workspace.New(t.TempDir(), "task-a", nil)
	if err := ws.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for _, name := range []string{"segment-0.wav", "segment-1.wav", "chunk-0.wav"} {
		path, _ := ws.GetPath(name)
		if err := os.WriteFile(path, []byte("pcm"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		ws.Register(path)
	}

	// An unregistered stray plus a nested directory still go away with the root.
	nested := filepath.Join(ws.Root(), "nested", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nested, "stray.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	if err := ws.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(ws.Root()); !os.IsNotExist(err) {
		t.Fatalf("expected workspace root removed, stat err = %v", err)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	ws := workspace.New(t.TempDir(), "task-a", nil)
	if err := ws.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := ws.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if err := ws.Cleanup(); err != nil {
		t.Fatalf("Cleanup second call: %v", err)
	}
}
