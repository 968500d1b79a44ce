// Package chunker splits document text into bounded, deterministic chunks.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/poiesic/kbsync/core"
)

// DefaultMaxChunkSize is the default number of characters per chunk.
const DefaultMaxChunkSize = 1000

// DefaultOverlap is the default number of characters carried across a hard split.
const DefaultOverlap = 200

// Chunker cuts text at the last paragraph break inside the size window, else
// the last sentence end, else the last line break. Boundaries in the first
// half of the window are ignored so chunks stay reasonably full. When no
// boundary qualifies the window is cut hard and the next chunk starts overlap
// characters before the cut.
//
// Sizes are counted in runes. A Chunker has no mutable state.
type Chunker struct {
	maxSize int
	overlap int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithMaxChunkSize sets the chunk size in characters.
func WithMaxChunkSize(size int) Option {
	return func(c *Chunker) {
		c.maxSize = size
	}
}

// WithOverlap sets the overlap used at hard splits.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

// New creates a chunker. It returns core.ErrValidation unless
// maxSize > 0 and 0 <= overlap < maxSize.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		maxSize: DefaultMaxChunkSize,
		overlap: DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.maxSize <= 0 {
		return nil, fmt.Errorf("%w: max chunk size must be positive, got %d", core.ErrValidation, c.maxSize)
	}
	if c.overlap < 0 || c.overlap >= c.maxSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", core.ErrValidation, c.maxSize, c.overlap)
	}
	return c, nil
}

// MaxChunkSize returns the configured window size.
func (c *Chunker) MaxChunkSize() int { return c.maxSize }

// Overlap returns the configured hard-split overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the chunk texts for text in order. Whitespace-only input
// yields no chunks.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	n := len(runes)
	var out []string

	start := skipSpace(runes, 0)
	for start < n {
		end := start + c.maxSize
		if end >= n {
			out = appendTrimmed(out, runes[start:n])
			break
		}

		if cut := c.boundary(runes, start, end); cut > 0 {
			out = appendTrimmed(out, runes[start:cut])
			start = skipSpace(runes, cut)
			continue
		}

		out = appendTrimmed(out, runes[start:end])
		start = end - c.overlap
	}
	return out
}

// Chunk splits a document into core chunks with derived ids and hashes.
func (c *Chunker) Chunk(documentID, text string) []core.Chunk {
	parts := c.Split(text)
	chunks := make([]core.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = core.NewChunk(documentID, i, part)
	}
	return chunks
}

// boundary returns the exclusive cut index for the window [start, end), or 0.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	minCut := start + c.maxSize/2
	if minCut <= start {
		minCut = start + 1
	}

	// Paragraph break: cut after the blank line.
	for i := end - 1; i >= minCut; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}

	// Sentence end: terminal punctuation followed by whitespace.
	for i := end - 1; i >= minCut; i-- {
		if unicode.IsSpace(runes[i]) && isSentenceEnd(runes[i-1]) {
			return i
		}
	}

	// Line break.
	for i := end - 1; i >= minCut; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	return 0
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

func appendTrimmed(out []string, runes []rune) []string {
	s := strings.TrimSpace(string(runes))
	if s == "" {
		return out
	}
	return append(out, s)
}
