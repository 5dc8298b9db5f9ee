package discovery

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// FileMode is the permission of the written server list.
const FileMode os.FileMode = 0o754

// Writer replaces the server list file atomically and skips writes whose
// content did not change since the last one.
type Writer struct {
	path     string
	lastHash string
}

// NewWriter creates a writer for path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the file the writer replaces.
func (w *Writer) Path() string {
	return w.path
}

// Write stores data unless it matches the previous write. It reports
// whether the file was replaced.
func (w *Writer) Write(data []byte) (bool, error) {
	sum := sha1.Sum(data)
	hash := hex.EncodeToString(sum[:])
	if hash == w.lastHash {
		return false, nil
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*")
	if err != nil {
		return false, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return false, fmt.Errorf("failed to move server list into place: %w", err)
	}
	if err := os.Chmod(w.path, FileMode); err != nil {
		return false, fmt.Errorf("failed to set permissions on %s: %w", w.path, err)
	}

	w.lastHash = hash
	return true, nil
}
