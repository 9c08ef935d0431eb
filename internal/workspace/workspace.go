package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"stitch/internal/logging"
	"stitch/internal/services"
)

// Workspace is a per-task scratch arena rooted under a private directory.
// Paths created through the workspace are registered so Cleanup can remove
// them without rediscovering files from disk.
type Workspace struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	managed map[string]struct{}
}

// New creates a workspace handle rooted at a fresh directory under baseDir.
// The directory is not created until Initialize runs.
func New(baseDir, taskID string, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = logging.NewNop()
	}
	name := taskID
	if strings.TrimSpace(name) == "" {
		name = uuid.NewString()
	}
	return &Workspace{
		root:    filepath.Join(baseDir, "task-"+name),
		logger:  logger,
		managed: make(map[string]struct{}),
	}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Initialize creates the workspace directory and probes write access. A
// non-writable root fails fast so the task is rejected before any download
// work starts.
func (w *Workspace) Initialize() error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return services.Wrap(services.ErrFileSystem, "workspace", "initialize", "create workspace directory", err)
	}

	probe := filepath.Join(w.root, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return services.Wrap(services.ErrFileSystem, "workspace", "initialize", "workspace directory is not writable", err)
	}
	if err := os.Remove(probe); err != nil {
		return services.Wrap(services.ErrFileSystem, "workspace", "initialize", "remove write probe", err)
	}

	w.logger.Debug("workspace initialized", logging.String("path", w.root))
	return nil
}

// GetPath joins the given path segments under the workspace root. Segments
// that would escape the root are rejected.
func (w *Workspace) GetPath(segments ...string) (string, error) {
	joined := filepath.Join(append([]string{w.root}, segments...)...)
	cleaned := filepath.Clean(joined)
	if cleaned != w.root && !strings.HasPrefix(cleaned, w.root+string(filepath.Separator)) {
		return "", services.Wrap(services.ErrValidation, "workspace", "get-path",
			fmt.Sprintf("path %q escapes workspace root", filepath.Join(segments...)), nil)
	}
	return cleaned, nil
}

// Register records a path as managed by the workspace so Cleanup removes it.
func (w *Workspace) Register(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.managed[path] = struct{}{}
}

// Unregister drops a path from the managed set, for files whose ownership
// moves elsewhere (for example a published result).
func (w *Workspace) Unregister(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.managed, path)
}

// VerifyFile asserts that a produced file exists, is non-empty, and is
// readable and writable by the current process.
func (w *Workspace) VerifyFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrFileSystem, "verify", "stat", fmt.Sprintf("file %q missing", filepath.Base(path)), err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrFileSystem, "verify", "size", fmt.Sprintf("file %q is empty", filepath.Base(path)), nil)
	}

	handle, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return services.Wrap(services.ErrFileSystem, "verify", "open", fmt.Sprintf("file %q is not read/write accessible", filepath.Base(path)), err)
	}
	return handle.Close()
}

// FileSize returns the byte size of a file.
func (w *Workspace) FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, services.Wrap(services.ErrFileSystem, "verify", "stat", "stat file", err)
	}
	return info.Size(), nil
}

// DeleteFile removes a file, forgetting it from the managed set. A missing
// file is not an error.
func (w *Workspace) DeleteFile(path string) error {
	w.mu.Lock()
	delete(w.managed, path)
	w.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return services.Wrap(services.ErrFileSystem, "workspace", "delete", fmt.Sprintf("remove %q", filepath.Base(path)), err)
	}
	return nil
}

// Cleanup removes every managed path and then the workspace directory
// itself. Removal is best-effort per path; the first error is returned after
// all paths have been attempted, so a single stubborn file does not leave
// the rest behind.
func (w *Workspace) Cleanup() error {
	w.mu.Lock()
	paths := make([]string, 0, len(w.managed))
	for path := range w.managed {
		paths = append(paths, path)
	}
	w.managed = make(map[string]struct{})
	w.mu.Unlock()

	sort.Strings(paths)

	var firstErr error
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = err
			}
			w.logger.Warn("failed to remove managed file",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "workspace_cleanup_failed"),
			)
		}
	}

	if err := removeTree(w.root); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		w.logger.Warn("failed to remove workspace directory",
			logging.String("path", w.root),
			logging.Error(err),
			logging.String(logging.FieldEventType, "workspace_cleanup_failed"),
		)
	}

	if firstErr != nil {
		return services.Wrap(services.ErrFileSystem, "workspace", "cleanup", "remove managed files", firstErr)
	}
	return nil
}

// removeTree deletes a directory tree using an explicit worklist so deep
// trees cannot exhaust the stack. Files are removed as directories are
// discovered; directories are removed in reverse discovery order once empty.
func removeTree(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	worklist := []string{root}
	var dirs []string
	for len(worklist) > 0 {
		dir := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		dirs = append(dirs, dir)

		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				worklist = append(worklist, path)
				continue
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
