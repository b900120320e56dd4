// Package index implements the document indexing pipeline: staleness
// detection, queue-first job dispatch, the reindex job handler, and the
// periodic sweep that catches documents missed by the mutation path.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Checksum returns the content fingerprint used to decide whether
// re-embedding is necessary.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// SplitChunks splits text into overlapping chunks of at most size runes.
// overlap runes are repeated between adjacent chunks so sentences cut at a
// boundary stay searchable. Whitespace-only chunks are dropped.
func SplitChunks(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size - overlap {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[start:end])
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
