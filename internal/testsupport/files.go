package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteAudio fills path with size bytes of a synthetic ramp so tests can
// fabricate segment and merged-output fixtures of an exact size. A size <= 0
// writes a single byte.
func WriteAudio(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	const block = 64 * 1024
	pattern := make([]byte, block)
	for i := range pattern {
		pattern[i] = byte(i % 251)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	for written := int64(0); written < size; {
		n := size - written
		if n > block {
			n = block
		}
		if _, err := f.Write(pattern[:n]); err != nil {
			f.Close()
			t.Fatalf("write %s: %v", path, err)
		}
		written += n
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}
