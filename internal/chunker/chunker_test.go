package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int, prefix string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func TestNew(t *testing.T) {
	t.Run("default sizes", func(t *testing.T) {
		c, err := New(Options{ChunkSize: 500, Overlap: 50})
		require.NoError(t, err)
		assert.Equal(t, 100, c.Window())
		assert.Equal(t, 90, c.Stride())
	})

	t.Run("overlap equal to chunk size", func(t *testing.T) {
		_, err := New(Options{ChunkSize: 100, Overlap: 100})
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})

	t.Run("overlap larger than chunk size", func(t *testing.T) {
		_, err := New(Options{ChunkSize: 100, Overlap: 200})
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})

	t.Run("word counts collapse to zero stride", func(t *testing.T) {
		_, err := New(Options{ChunkSize: 9, Overlap: 5})
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})

	t.Run("chunk smaller than one word", func(t *testing.T) {
		_, err := New(Options{ChunkSize: 4})
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})
}

func TestChunkEmptyDocument(t *testing.T) {
	c, err := New(Options{ChunkSize: 50, Overlap: 10})
	require.NoError(t, err)

	assert.Empty(t, c.Chunk(nil))
	assert.Empty(t, c.Chunk([]Page{{Number: 1, Text: "   \n\t "}, {Number: 2, Text: "@@@ ###"}}))
}

func TestChunkShortPage(t *testing.T) {
	c, err := New(Options{ChunkSize: 500, Overlap: 50})
	require.NoError(t, err)

	chunks := c.Chunk([]Page{{Number: 3, Text: "Just a few words here."}})
	require.Len(t, chunks, 1)
	assert.Equal(t, "Just a few words here.", chunks[0].Text)
	assert.Equal(t, 3, chunks[0].PageNumber)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
}

func TestChunkWindows(t *testing.T) {
	// window 4 words, stride 3 words
	c, err := New(Options{ChunkSize: 20, Overlap: 5})
	require.NoError(t, err)

	chunks := c.Chunk([]Page{{Number: 1, Text: words(10, "w")}})
	require.Len(t, chunks, 3)
	assert.Equal(t, "w0 w1 w2 w3", chunks[0].Text)
	assert.Equal(t, "w3 w4 w5 w6", chunks[1].Text)
	assert.Equal(t, "w6 w7 w8 w9", chunks[2].Text)
}

func TestChunkIndexSpansPages(t *testing.T) {
	c, err := New(Options{ChunkSize: 20, Overlap: 0})
	require.NoError(t, err)

	chunks := c.Chunk([]Page{
		{Number: 1, Text: words(6, "a")},
		{Number: 2, Text: ""},
		{Number: 3, Text: words(5, "b")},
	})

	require.Len(t, chunks, 4)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
	}
	assert.Equal(t, 1, chunks[1].PageNumber)
	assert.Equal(t, 3, chunks[2].PageNumber)
	assert.Equal(t, "b4", chunks[3].Text)
}

func TestChunkProperties(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: words(137, "x")},
		{Number: 2, Text: "short page"},
		{Number: 3, Text: "\n\n"},
		{Number: 4, Text: words(53, "y")},
	}

	for size := 5; size <= 300; size += 7 {
		for overlap := 0; overlap < size; overlap += 11 {
			c, err := New(Options{ChunkSize: size, Overlap: overlap})
			if err != nil {
				// Only configurations whose word stride collapses are rejected.
				assert.LessOrEqual(t, size/CharsPerWord-overlap/CharsPerWord, 0)
				continue
			}

			chunks := c.Chunk(pages)
			require.NotEmpty(t, chunks)
			for i, ch := range chunks {
				assert.NotEmpty(t, strings.TrimSpace(ch.Text), "size=%d overlap=%d", size, overlap)
				assert.Equal(t, i, ch.ChunkIndex, "size=%d overlap=%d", size, overlap)
				assert.LessOrEqual(t, len(strings.Fields(ch.Text)), c.Window())
			}
		}
	}
}

func TestChunkCoversEveryWord(t *testing.T) {
	c, err := New(Options{ChunkSize: 35, Overlap: 10})
	require.NoError(t, err)

	text := words(40, "t")
	seen := map[string]bool{}
	for _, ch := range c.Chunk([]Page{{Number: 1, Text: text}}) {
		for _, w := range strings.Fields(ch.Text) {
			seen[w] = true
		}
	}
	for _, w := range strings.Fields(text) {
		assert.True(t, seen[w], "word %s missing", w)
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello   world", "hello world"},
		{"line\none\ttab", "line one tab"},
		{"price: $5 (approx.)", "price: 5 (approx.)"},
		{"emoji 🙂 gone", "emoji  gone"},
		{"naïve café", "naïve café"},
		{"snake_case-and-dash!", "snake_case-and-dash!"},
		{"  padded  ", "padded"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}
