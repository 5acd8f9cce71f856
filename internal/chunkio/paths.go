package chunkio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// NormalizeSlashes converts a filesystem-local relative path to the
// forward-slash form carried on the wire.
func NormalizeSlashes(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// LocalizePath converts a wire-form (forward-slash) relative path back into
// the local filesystem's separator convention and joins it under saveDir.
func LocalizePath(saveDir, relativePath string) string {
	parts := strings.Split(relativePath, "/")
	return filepath.Join(append([]string{saveDir}, parts...)...)
}

// PartPath returns the ".part" scratch path for a target file, derived as
// "<relative_file_name>.<session_id>.part" in the same directory as the
// resolved target.
func PartPath(targetPath, sessionID string) string {
	dir := filepath.Dir(targetPath)
	base := filepath.Base(targetPath)
	return filepath.Join(dir, fmt.Sprintf("%s.%s.part", base, sessionID))
}

// ResolveConflictPath returns targetPath if it doesn't exist, otherwise
// appends "(n)" before the extension for n = 1..9999 until a free path is
// found. Returns an error if no free path exists in that range.
func ResolveConflictPath(targetPath string) (string, error) {
	if _, err := os.Stat(targetPath); os.IsNotExist(err) {
		return targetPath, nil
	}
	ext := filepath.Ext(targetPath)
	stem := strings.TrimSuffix(targetPath, ext)
	for n := 1; n <= 9999; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("transfer_target_conflict_exhausted: no free name for %s", targetPath)
}

// FinalizeRename moves src to dst, renaming atomically when they share a
// filesystem and falling back to copy+remove with a destination fsync
// whenever the rename fails (e.g. across mount points).
func FinalizeRename(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyAndRemove(src, dst); err != nil {
		return fmt.Errorf("transfer_target_rename_failed: %w", err)
	}
	return nil
}

func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
