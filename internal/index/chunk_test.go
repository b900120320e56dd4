package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	a := Checksum("hello")
	b := Checksum("hello")
	c := Checksum("hello!")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
	assert.NotEmpty(t, Checksum(""))
}

func TestSplitChunksEmpty(t *testing.T) {
	assert.Nil(t, SplitChunks("", 100, 10))
	assert.Nil(t, SplitChunks("   \n\t  ", 100, 10))
	assert.Nil(t, SplitChunks("text", 0, 0))
}

func TestSplitChunksShortText(t *testing.T) {
	chunks := SplitChunks("short", 100, 10)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short", chunks[0])
}

func TestSplitChunksOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 10) // 100 runes
	chunks := SplitChunks(text, 40, 10)

	require.True(t, len(chunks) >= 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 40)
	}
	// Adjacent chunks share the overlap region.
	first := []rune(chunks[0])
	second := []rune(chunks[1])
	assert.Equal(t, string(first[len(first)-10:]), string(second[:10]))
}

func TestSplitChunksCoversAllContent(t *testing.T) {
	text := strings.Repeat("x", 95)
	chunks := SplitChunks(text, 40, 10)

	var total int
	for i, c := range chunks {
		n := len([]rune(c))
		if i > 0 {
			n -= 10 // overlap repeated from the previous chunk
		}
		total += n
	}
	assert.Equal(t, 95, total)
}

func TestSplitChunksMultibyte(t *testing.T) {
	text := strings.Repeat("日本語テキスト", 20) // 120 runes
	chunks := SplitChunks(text, 50, 5)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 50)
		// Rune-based splitting never cuts through a code point.
		assert.True(t, strings.HasPrefix(text, chunks[0]))
	}
}

func TestSplitChunksInvalidOverlapIgnored(t *testing.T) {
	text := strings.Repeat("a", 100)
	// overlap >= size falls back to no overlap instead of looping forever.
	chunks := SplitChunks(text, 10, 10)
	assert.Len(t, chunks, 10)

	chunks = SplitChunks(text, 10, -1)
	assert.Len(t, chunks, 10)
}
