package chunkio

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// HashFile computes the BLAKE3 digest of a whole file using a streaming
// 1 MiB buffer, returning it hex-encoded.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("transfer_source_open_failed: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 1<<20)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("transfer_source_read_failed: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashChunk computes the BLAKE3 digest of a single chunk's bytes, hex-encoded.
func HashChunk(data []byte) string {
	h := blake3.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
