package service

import (
	"fmt"
	"strings"

	"github.com/timmy/factcorpus/internal/config"
	"github.com/tmc/langchaingo/textsplitter"
)

// Chunker splits article text into indexable passages.
type Chunker interface {
	Split(text string) ([]string, error)
}

// TextChunker splits on paragraph, line and word boundaries in that order.
type TextChunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewTextChunker creates a chunker from cfg.
func NewTextChunker(cfg *config.ChunkingConfig) *TextChunker {
	return &TextChunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.Size),
			textsplitter.WithChunkOverlap(cfg.Overlap),
		),
	}
}

// Split returns the non-blank chunks of text.
func (c *TextChunker) Split(text string) ([]string, error) {
	parts, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("chunking failed: %w", err)
	}
	chunks := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks, nil
}
