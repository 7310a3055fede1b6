// Package chunker splits extracted page text into overlapping word windows.
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// CharsPerWord converts character budgets into word counts.
const CharsPerWord = 5

// ErrInvalidOptions is returned when the window stride would not advance.
var ErrInvalidOptions = errors.New("invalid chunk options")

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	disallowedRe = regexp.MustCompile(`[^\p{L}\p{N}\p{M}_\s.,!?;:\-()]`)
)

// Page is the raw text of one PDF page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Chunk is one window of normalized words.
type Chunk struct {
	Text       string
	PageNumber int
	ChunkIndex int // contiguous from 0 across the whole document
}

// Options configures the chunker. Sizes are in characters.
type Options struct {
	ChunkSize int
	Overlap   int
}

// Chunker turns pages into chunks with a fixed word window.
type Chunker struct {
	window int
	stride int
}

// New validates opts and returns a chunker.
func New(opts Options) (*Chunker, error) {
	window := opts.ChunkSize / CharsPerWord
	overlap := opts.Overlap / CharsPerWord
	if window < 1 {
		return nil, fmt.Errorf("%w: chunk size %d is smaller than one word", ErrInvalidOptions, opts.ChunkSize)
	}
	if overlap < 0 || window-overlap < 1 {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidOptions, opts.Overlap, opts.ChunkSize)
	}
	return &Chunker{window: window, stride: window - overlap}, nil
}

// Window returns the number of words per chunk.
func (c *Chunker) Window() int { return c.window }

// Stride returns the number of words between chunk starts.
func (c *Chunker) Stride() int { return c.stride }

// Chunk splits pages into chunks. Pages with no usable text are skipped and an empty
// document yields no chunks.
func (c *Chunker) Chunk(pages []Page) []Chunk {
	var chunks []Chunk
	for _, page := range pages {
		words := strings.Fields(Clean(page.Text))
		if len(words) == 0 {
			continue
		}

		for start := 0; start < len(words); start += c.stride {
			end := min(start+c.window, len(words))
			chunks = append(chunks, Chunk{
				Text:       strings.Join(words[start:end], " "),
				PageNumber: page.Number,
				ChunkIndex: len(chunks),
			})
			if end == len(words) {
				break
			}
		}
	}
	return chunks
}

// Clean collapses whitespace and strips characters outside letters, digits, underscore
// and basic punctuation.
func Clean(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = disallowedRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
