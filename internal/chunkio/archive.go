package chunkio

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveFolder zips the contents of srcDir into a new archive at dstPath,
// creating parent directories as needed. Entry names are relative to
// srcDir and forward-slash normalized. Symlinks are skipped.
func ArchiveFolder(srcDir, dstPath string) error {
	info, err := os.Stat(srcDir)
	if err != nil {
		return fmt.Errorf("transfer_source_stat_failed: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("transfer_source_not_a_directory: %s", srcDir)
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("transfer_target_mkdir_failed: %w", err)
	}
	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("transfer_target_open_failed: %w", err)
	}

	zw := zip.NewWriter(out)
	walkErr := filepath.Walk(srcDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}
		hdr.Name = strings.ReplaceAll(rel, string(filepath.Separator), "/")
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, in)
		in.Close()
		return err
	})
	if walkErr != nil {
		zw.Close()
		out.Close()
		os.Remove(dstPath)
		return fmt.Errorf("transfer_source_read_failed: %w", walkErr)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dstPath)
		return fmt.Errorf("transfer_target_write_failed: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("transfer_target_write_failed: %w", err)
	}
	return nil
}
