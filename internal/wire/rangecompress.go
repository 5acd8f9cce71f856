package wire

import (
	"bytes"
	"fmt"
)

// CompressChunkRanges encodes a sorted slice of chunk indices as a compact
// range string ("1-5,7,9-12"), used for ManifestAck's missing-chunk lists.
func CompressChunkRanges(chunks []int64) string {
	if len(chunks) == 0 {
		return ""
	}

	var buf bytes.Buffer
	start := chunks[0]
	prev := chunks[0]

	for i := 1; i < len(chunks); i++ {
		curr := chunks[i]
		if curr == prev+1 {
			prev = curr
			continue
		}
		writeRange(&buf, start, prev)
		start = curr
		prev = curr
	}
	writeRange(&buf, start, prev)

	return buf.String()[:buf.Len()-1] // trim trailing comma
}

func writeRange(buf *bytes.Buffer, start, end int64) {
	if start == end {
		fmt.Fprintf(buf, "%d,", start)
	} else {
		fmt.Fprintf(buf, "%d-%d,", start, end)
	}
}

// DecompressChunkRanges parses a range string back into chunk indices.
func DecompressChunkRanges(rangeStr string) ([]int64, error) {
	if rangeStr == "" {
		return []int64{}, nil
	}

	var chunks []int64
	for _, r := range bytes.Split([]byte(rangeStr), []byte(",")) {
		parts := bytes.Split(r, []byte("-"))
		switch len(parts) {
		case 1:
			var chunk int64
			if _, err := fmt.Sscanf(string(parts[0]), "%d", &chunk); err != nil {
				return nil, fmt.Errorf("parse chunk range %q: %w", rangeStr, err)
			}
			chunks = append(chunks, chunk)
		case 2:
			var start, end int64
			if _, err := fmt.Sscanf(string(parts[0]), "%d", &start); err != nil {
				return nil, fmt.Errorf("parse chunk range %q: %w", rangeStr, err)
			}
			if _, err := fmt.Sscanf(string(parts[1]), "%d", &end); err != nil {
				return nil, fmt.Errorf("parse chunk range %q: %w", rangeStr, err)
			}
			for i := start; i <= end; i++ {
				chunks = append(chunks, i)
			}
		default:
			return nil, fmt.Errorf("parse chunk range %q: malformed segment %q", rangeStr, r)
		}
	}
	return chunks, nil
}
