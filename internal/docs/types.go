package docs

import "strings"

// Chunk is the unit of embedding and retrieval: a bounded span of document
// text plus its provenance. Chunks are immutable once inserted; the ID is
// assigned by the index manager and is only meaningful within the owning
// collection.
type Chunk struct {
	ID     string `json:"id,omitempty"`
	Text   string `json:"text"`
	Source string `json:"source"`
	Page   int    `json:"page"`
}

// Normalize clamps provenance fields to their documented ranges. Documents
// without pagination use page 1 as the sentinel.
func (c Chunk) Normalize() Chunk {
	c.Text = strings.TrimSpace(c.Text)
	c.Source = strings.TrimSpace(c.Source)
	if c.Page < 1 {
		c.Page = 1
	}
	return c
}

// RetrievalResult is one ranked passage returned from a retrieval call.
// Rank is always populated (contiguous 1..N per call); Score is the
// similarity in the strategy's native range and is nil when a strategy does
// not produce one.
type RetrievalResult struct {
	ChunkText string   `json:"chunk_text"`
	Source    string   `json:"source"`
	Page      int      `json:"page"`
	Score     *float64 `json:"score,omitempty"`
	Rank      int      `json:"rank"`
}
