package publish

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stitch/internal/fileutil"
	"stitch/internal/services"
)

// ObjectStore accepts uploads and returns retrievable URLs. Implementations
// must tolerate Delete on absent keys.
type ObjectStore interface {
	Upload(ctx context.Context, key, path string) (string, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Key builds the deterministic object key for a task's merged output.
func Key(conversationID, taskID, format string) string {
	return fmt.Sprintf("conversations/%s/merged/%s.%s", conversationID, taskID, format)
}

// DirStore is a directory-backed object store returning file:// URLs.
// It stands in for a cloud bucket in single-host deployments and tests.
type DirStore struct {
	root string
}

// NewDirStore builds a store rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{root: dir}
}

func (s *DirStore) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", services.Wrap(services.ErrValidation, "publish", "resolve-key",
			fmt.Sprintf("invalid object key %q", key), nil)
	}
	return filepath.Join(s.root, cleaned), nil
}

// Upload copies the file into the store under key and returns its URL.
func (s *DirStore) Upload(ctx context.Context, key, path string) (string, error) {
	destination, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := fileutil.CopyFileVerified(path, destination); err != nil {
		return "", services.Wrap(services.ErrStore, "publish", "upload", fmt.Sprintf("store object %q", key), err)
	}
	return fileURL(destination), nil
}

// SignedURL returns a retrievable URL for an existing object. A directory
// store has no signing authority, so the URL carries only an expiry marker.
func (s *DirStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	destination, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(destination); err != nil {
		return "", services.Wrap(services.ErrStore, "publish", "signed-url", fmt.Sprintf("object %q not found", key), err)
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("%s?expires=%d", fileURL(destination), expires), nil
}

// Delete removes an object. Absent keys are not an error.
func (s *DirStore) Delete(ctx context.Context, key string) error {
	destination, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(destination); err != nil && !os.IsNotExist(err) {
		return services.Wrap(services.ErrStore, "publish", "delete", fmt.Sprintf("delete object %q", key), err)
	}
	return nil
}

// ListByPrefix returns the keys of all stored objects under prefix.
func (s *DirStore) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		relative, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(relative)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "publish", "list", fmt.Sprintf("list prefix %q", prefix), err)
	}
	return keys, nil
}

func fileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

var _ ObjectStore = (*DirStore)(nil)
