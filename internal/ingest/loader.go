package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/chatdochq/chatdoc/internal/common"
	"github.com/chatdochq/chatdoc/internal/docs"
)

// Loader turns an uploaded file into retrievable chunks: pick the document
// loader by extension, token-split the pages, stamp each chunk with its
// source name and page number.
type Loader struct {
	splitter textsplitter.TextSplitter
}

func NewLoader(cfg Config) *Loader {
	cfg.applyDefaults()
	splitter := textsplitter.NewTokenSplitter(
		textsplitter.WithChunkSize(cfg.ChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
	)
	return &Loader{splitter: splitter}
}

// LoadFile parses and splits the file at path. source is the caller-facing
// document name recorded in chunk provenance (typically the original upload
// filename, not the temp path).
func (l *Loader) LoadFile(ctx context.Context, path, source string) ([]docs.Chunk, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer file.Close()

	var loaded []schema.Document
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		info, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat document: %w", err)
		}
		loaded, err = documentloaders.NewPDF(file, info.Size()).LoadAndSplit(ctx, l.splitter)
		if err != nil {
			return nil, fmt.Errorf("load pdf: %w", err)
		}
	case ".txt", ".md":
		loaded, err = documentloaders.NewText(file).LoadAndSplit(ctx, l.splitter)
		if err != nil {
			return nil, fmt.Errorf("load text: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: no document loader for %q files", docs.ErrInvalidConfig, ext)
	}

	chunks := make([]docs.Chunk, 0, len(loaded))
	for _, doc := range loaded {
		chunk := docs.Chunk{
			Text:   doc.PageContent,
			Source: source,
			Page:   pageOf(doc.Metadata),
		}.Normalize()
		if chunk.Text == "" {
			continue
		}
		chunks = append(chunks, chunk)
	}
	common.Logger().Info("ingest: document loaded", "source", source, "chunks", len(chunks))
	return chunks, nil
}

// pageOf extracts a 1-based page number from loader metadata. Loaders that
// do not paginate (plain text) fall back to the sentinel page 1.
func pageOf(meta map[string]any) int {
	if meta == nil {
		return 1
	}
	switch value := meta["page"].(type) {
	case int:
		if value >= 1 {
			return value
		}
	case float64:
		if value >= 1 {
			return int(value)
		}
	case string:
		var parsed int
		if _, err := fmt.Sscanf(value, "%d", &parsed); err == nil && parsed >= 1 {
			return parsed
		}
	}
	return 1
}
