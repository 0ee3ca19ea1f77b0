package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chatdochq/chatdoc/internal/common"
	"github.com/chatdochq/chatdoc/internal/common/telemetry"
	"github.com/chatdochq/chatdoc/internal/docs"
	"github.com/chatdochq/chatdoc/internal/vector"
)

// Embedder is the minimal contract needed to turn a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// defaultPoolSize is the candidate pool fetched for the thresholded strategy
// when the caller leaves fetch_k unset.
const defaultPoolSize = 20

// Retriever executes a configured selection strategy against a collection
// and returns ranked, scored passages. It holds no per-call state; the same
// instance serves concurrent calls across sessions.
type Retriever struct {
	store    vector.Store
	embedder Embedder
}

func New(store vector.Store, embedder Embedder) *Retriever {
	return &Retriever{store: store, embedder: embedder}
}

// Retrieve embeds the query, runs the strategy from cfg against the named
// collection and returns results with contiguous ranks 1..N. Zero matches is
// success with an empty list, distinct from a backend failure.
func (r *Retriever) Retrieve(ctx context.Context, collection, query string, cfg Config) ([]docs.RetrievalResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query required", docs.ErrInvalidConfig)
	}
	start := time.Now()
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", docs.ErrBackendUnavailable, err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: embedding provider returned no vector", docs.ErrBackendUnavailable)
	}
	queryVec := vectors[0]

	var results []docs.RetrievalResult
	switch cfg.Strategy {
	case StrategySimilarity:
		results, err = r.bySimilarity(ctx, collection, queryVec, cfg)
	case StrategyThreshold:
		results, err = r.byThreshold(ctx, collection, queryVec, cfg)
	case StrategyDiversity:
		results, err = r.byDiversity(ctx, collection, queryVec, cfg)
	}
	if err != nil {
		return nil, err
	}
	// Ranks are assigned strictly after filtering and ordering, so a rank
	// never depends on discarded candidates.
	for i := range results {
		results[i].Rank = i + 1
	}
	telemetry.RecordRetrieval(cfg.Strategy.String(), time.Since(start))
	common.Logger().Debug(
		"retriever: retrieval complete",
		"collection", collection,
		"strategy", cfg.Strategy.String(),
		"results", len(results),
	)
	return results, nil
}

func (r *Retriever) bySimilarity(ctx context.Context, collection string, queryVec []float32, cfg Config) ([]docs.RetrievalResult, error) {
	matches, err := r.store.Query(ctx, collection, queryVec, cfg.TopK, false)
	if err != nil {
		return nil, err
	}
	results := make([]docs.RetrievalResult, 0, len(matches))
	for _, match := range matches {
		results = append(results, resultFromMatch(match, scoreOf(similarityFromDistance(match.Distance))))
	}
	return results, nil
}

func (r *Retriever) byThreshold(ctx context.Context, collection string, queryVec []float32, cfg Config) ([]docs.RetrievalResult, error) {
	pool := cfg.FetchK
	if pool <= 0 {
		pool = defaultPoolSize
	}
	if pool < cfg.TopK {
		pool = cfg.TopK
	}
	matches, err := r.store.Query(ctx, collection, queryVec, pool, false)
	if err != nil {
		return nil, err
	}
	kept := make([]docs.RetrievalResult, 0, len(matches))
	for _, match := range matches {
		score := similarityFromDistance(match.Distance)
		if score < cfg.ScoreThreshold {
			continue
		}
		kept = append(kept, resultFromMatch(match, scoreOf(score)))
	}
	// Stable: ties keep the backend's retrieval order.
	sort.SliceStable(kept, func(i, j int) bool {
		return *kept[i].Score > *kept[j].Score
	})
	if len(kept) > cfg.TopK {
		kept = kept[:cfg.TopK]
	}
	return kept, nil
}

func (r *Retriever) byDiversity(ctx context.Context, collection string, queryVec []float32, cfg Config) ([]docs.RetrievalResult, error) {
	matches, err := r.store.Query(ctx, collection, queryVec, cfg.FetchK, true)
	if err != nil {
		return nil, err
	}
	candidates := make([]mmrCandidate, len(matches))
	for i, match := range matches {
		candidates[i] = mmrCandidate{
			Embedding: match.Embedding,
			Relevance: similarityFromDistance(match.Distance),
		}
	}
	selected := maximalMarginalRelevance(candidates, cfg.DiversityBias, cfg.TopK)
	results := make([]docs.RetrievalResult, 0, len(selected))
	for _, idx := range selected {
		// Score carries the original relevance-to-query, not the
		// diversity-adjusted value.
		results = append(results, resultFromMatch(matches[idx], scoreOf(candidates[idx].Relevance)))
	}
	return results, nil
}

// similarityFromDistance converts the engine's cosine distance back to a
// cosine similarity in [-1, 1].
func similarityFromDistance(distance float64) float64 {
	return 1 - distance
}

func scoreOf(value float64) *float64 {
	return &value
}

func resultFromMatch(match vector.SearchResult, score *float64) docs.RetrievalResult {
	return docs.RetrievalResult{
		ChunkText: match.Document,
		Source:    metadataString(match.Metadata, "source"),
		Page:      metadataPage(match.Metadata),
		Score:     score,
	}
}

func metadataString(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	if value, ok := meta[key].(string); ok {
		return value
	}
	return ""
}

func metadataPage(meta map[string]interface{}) int {
	if meta == nil {
		return 1
	}
	switch value := meta["page"].(type) {
	case float64:
		if value >= 1 {
			return int(value)
		}
	case int:
		if value >= 1 {
			return value
		}
	}
	return 1
}
