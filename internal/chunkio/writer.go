package chunkio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Writer writes chunks into a ".part" file at arbitrary offsets without
// truncating the file, so partially-received files can be resumed.
type Writer struct {
	path string
	f    *os.File
}

// OpenWriter creates the parent directory if missing and opens the target
// path for read+write, creating it if absent but never truncating existing
// content. When totalSize > 0 the file is pre-allocated to that length.
func OpenWriter(path string, totalSize int64) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("transfer_target_mkdir_failed: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transfer_target_open_failed: %w", err)
	}
	w := &Writer{path: path, f: f}
	if totalSize > 0 {
		if err := f.Truncate(totalSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("transfer_target_preallocate_failed: %w", err)
		}
	}
	return w, nil
}

// WriteChunk writes bytes at offset k*chunkSize. It never pads short writes
// and never truncates the file.
func (w *Writer) WriteChunk(k int64, chunkSize int64, data []byte) error {
	if _, err := w.f.Seek(k*chunkSize, io.SeekStart); err != nil {
		return fmt.Errorf("transfer_target_seek_failed: %w", err)
	}
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("transfer_target_write_failed: %w", err)
	}
	return nil
}

// Flush durably commits written data via fsync.
func (w *Writer) Flush() error {
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("transfer_target_fsync_failed: %w", err)
	}
	return nil
}

// Close closes the underlying file handle.
func (w *Writer) Close() error {
	return w.f.Close()
}

// Path returns the underlying .part file path.
func (w *Writer) Path() string {
	return w.path
}
