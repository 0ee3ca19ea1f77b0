package retriever

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chatdochq/chatdoc/internal/docs"
	"github.com/chatdochq/chatdoc/internal/vector"
)

type fakeStore struct {
	matches   []vector.SearchResult
	queryErr  error
	lastLimit int
	lastEmbed bool
}

func (f *fakeStore) EnsureCollection(ctx context.Context, name string) (string, error) {
	return "fake-id", nil
}

func (f *fakeStore) Add(ctx context.Context, collection string, batch vector.Batch) error {
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, collection string, ids []string) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) Query(ctx context.Context, collection string, vec []float32, limit int, withEmbeddings bool) ([]vector.SearchResult, error) {
	f.lastLimit = limit
	f.lastEmbed = withEmbeddings
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if limit < len(f.matches) {
		return f.matches[:limit], nil
	}
	return f.matches, nil
}

func (f *fakeStore) DropCollection(ctx context.Context, name string) error { return nil }

func (f *fakeStore) Available() bool { return true }

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(input))
	for i := range input {
		out[i] = f.vec
	}
	return out, nil
}

func match(id string, distance float64, source string, page int) vector.SearchResult {
	return vector.SearchResult{
		ID:       id,
		Distance: distance,
		Document: "text-" + id,
		Metadata: map[string]interface{}{"source": source, "page": float64(page)},
	}
}

func newTestRetriever(store *fakeStore) *Retriever {
	return New(store, &fakeEmbedder{vec: []float32{1, 0}})
}

func TestRetrieveSimilarityRanksAndScores(t *testing.T) {
	store := &fakeStore{matches: []vector.SearchResult{
		match("a", 0.1, "doc.pdf", 1),
		match("b", 0.2, "doc.pdf", 2),
		match("c", 0.4, "notes.txt", 1),
	}}
	retr := newTestRetriever(store)
	cfg := DefaultConfig()
	cfg.TopK = 3

	results, err := retr.Retrieve(context.Background(), "col", "what is this", cfg)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if store.lastLimit != 3 {
		t.Fatalf("expected query limit 3, got %d", store.lastLimit)
	}
	for i, res := range results {
		if res.Rank != i+1 {
			t.Fatalf("result %d has rank %d, want %d", i, res.Rank, i+1)
		}
		if res.Score == nil {
			t.Fatalf("result %d missing score", i)
		}
	}
	if got := *results[0].Score; got != 0.9 {
		t.Fatalf("expected similarity 0.9, got %g", got)
	}
	if results[2].Source != "notes.txt" || results[2].Page != 1 {
		t.Fatalf("provenance not carried: %+v", results[2])
	}
}

func TestRetrieveEmptyResultIsSuccess(t *testing.T) {
	retr := newTestRetriever(&fakeStore{})
	results, err := retr.Retrieve(context.Background(), "col", "anything", DefaultConfig())
	if err != nil {
		t.Fatalf("empty collection should not error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestRetrieveThresholdFiltersAndBounds(t *testing.T) {
	store := &fakeStore{matches: []vector.SearchResult{
		match("a", 0.1, "doc.pdf", 1), // score 0.9
		match("b", 0.3, "doc.pdf", 2), // score 0.7
		match("c", 0.6, "doc.pdf", 3), // score 0.4, below threshold
		match("d", 0.2, "doc.pdf", 4), // score 0.8
	}}
	retr := newTestRetriever(store)
	cfg := Config{Strategy: StrategyThreshold, TopK: 2, ScoreThreshold: 0.5, FetchK: 10}

	results, err := retr.Retrieve(context.Background(), "col", "query", cfg)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected top_k=2 results, got %d", len(results))
	}
	if *results[0].Score != 0.9 || *results[1].Score != 0.8 {
		t.Fatalf("expected descending scores 0.9, 0.8; got %g, %g", *results[0].Score, *results[1].Score)
	}
	for _, res := range results {
		if *res.Score < cfg.ScoreThreshold {
			t.Fatalf("result below threshold leaked through: %g", *res.Score)
		}
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Fatalf("ranks not contiguous: %d, %d", results[0].Rank, results[1].Rank)
	}
}

func TestRetrieveThresholdExcludesAll(t *testing.T) {
	store := &fakeStore{matches: []vector.SearchResult{
		match("a", 0.9, "doc.pdf", 1),
		match("b", 0.8, "doc.pdf", 2),
	}}
	retr := newTestRetriever(store)
	cfg := Config{Strategy: StrategyThreshold, TopK: 4, ScoreThreshold: 0.95, FetchK: 10}

	results, err := retr.Retrieve(context.Background(), "col", "query", cfg)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected all candidates filtered, got %d", len(results))
	}
}

func TestRetrieveThresholdPoolDefaults(t *testing.T) {
	store := &fakeStore{}
	retr := newTestRetriever(store)
	cfg := Config{Strategy: StrategyThreshold, TopK: 4, ScoreThreshold: 0.5}
	if _, err := retr.Retrieve(context.Background(), "col", "query", cfg); err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if store.lastLimit != defaultPoolSize {
		t.Fatalf("expected default pool %d, got %d", defaultPoolSize, store.lastLimit)
	}
}

func TestRetrieveDiversityPrefersDistinctPassages(t *testing.T) {
	near := []float32{1, 0}
	far := []float32{0, 1}
	store := &fakeStore{matches: []vector.SearchResult{
		{ID: "a", Distance: 0.0, Document: "alpha", Embedding: near, Metadata: map[string]interface{}{"source": "d.pdf", "page": float64(1)}},
		{ID: "b", Distance: 0.05, Document: "alpha again", Embedding: near, Metadata: map[string]interface{}{"source": "d.pdf", "page": float64(1)}},
		{ID: "c", Distance: 0.3, Document: "gamma", Embedding: far, Metadata: map[string]interface{}{"source": "d.pdf", "page": float64(2)}},
	}}
	retr := newTestRetriever(store)
	cfg := Config{Strategy: StrategyDiversity, TopK: 2, FetchK: 3, DiversityBias: 0.5}

	results, err := retr.Retrieve(context.Background(), "col", "query", cfg)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if !store.lastEmbed {
		t.Fatalf("diversity strategy must request embeddings")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkText != "alpha" {
		t.Fatalf("first pick should be the most relevant, got %q", results[0].ChunkText)
	}
	if results[1].ChunkText != "gamma" {
		t.Fatalf("second pick should skip the near-duplicate, got %q", results[1].ChunkText)
	}
	// Scores carry original relevance to the query, not the adjusted value.
	if *results[1].Score != 0.7 {
		t.Fatalf("expected original relevance 0.7, got %g", *results[1].Score)
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Fatalf("ranks must follow selection order: %d, %d", results[0].Rank, results[1].Rank)
	}
}

func TestRetrieveDiversityPureRelevance(t *testing.T) {
	near := []float32{1, 0}
	store := &fakeStore{matches: []vector.SearchResult{
		{ID: "a", Distance: 0.0, Document: "alpha", Embedding: near},
		{ID: "b", Distance: 0.05, Document: "beta", Embedding: near},
		{ID: "c", Distance: 0.3, Document: "gamma", Embedding: []float32{0, 1}},
	}}
	retr := newTestRetriever(store)
	cfg := Config{Strategy: StrategyDiversity, TopK: 2, FetchK: 3, DiversityBias: 1}

	results, err := retr.Retrieve(context.Background(), "col", "query", cfg)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if results[0].ChunkText != "alpha" || results[1].ChunkText != "beta" {
		t.Fatalf("bias=1 must reduce to relevance order, got %q, %q", results[0].ChunkText, results[1].ChunkText)
	}
}

func TestRetrieveConfigValidation(t *testing.T) {
	retr := newTestRetriever(&fakeStore{matches: []vector.SearchResult{match("a", 0.1, "d", 1)}})
	cases := []struct {
		name string
		cfg  Config
	}{
		{"unknown strategy", Config{Strategy: Strategy(99), TopK: 4}},
		{"zero top_k", Config{Strategy: StrategySimilarity, TopK: 0}},
		{"negative top_k", Config{Strategy: StrategySimilarity, TopK: -2}},
		{"threshold out of range", Config{Strategy: StrategyThreshold, TopK: 4, ScoreThreshold: 1.5}},
		{"fetch_k below top_k", Config{Strategy: StrategyDiversity, TopK: 5, FetchK: 3, DiversityBias: 0.5}},
		{"bias out of range", Config{Strategy: StrategyDiversity, TopK: 2, FetchK: 5, DiversityBias: 1.2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := retr.Retrieve(context.Background(), "col", "query", tc.cfg)
			if !errors.Is(err, docs.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	retr := newTestRetriever(&fakeStore{})
	if _, err := retr.Retrieve(context.Background(), "col", "   ", DefaultConfig()); !errors.Is(err, docs.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for blank query, got %v", err)
	}
}

func TestRetrieveBackendFailure(t *testing.T) {
	backendErr := fmt.Errorf("%w: connection refused", docs.ErrBackendUnavailable)
	retr := newTestRetriever(&fakeStore{queryErr: backendErr})
	if _, err := retr.Retrieve(context.Background(), "col", "query", DefaultConfig()); !errors.Is(err, docs.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestRetrieveEmbedderFailure(t *testing.T) {
	retr := New(&fakeStore{}, &fakeEmbedder{err: errors.New("provider down")})
	if _, err := retr.Retrieve(context.Background(), "col", "query", DefaultConfig()); !errors.Is(err, docs.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
