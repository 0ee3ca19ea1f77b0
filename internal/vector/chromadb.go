package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/chatdochq/chatdoc/internal/common"
	"github.com/chatdochq/chatdoc/internal/docs"
)

// Store is the retrieval contract the index manager and retriever compose.
// A storage engine must provide collection management, batched writes,
// deletes and nearest-neighbour queries; everything else (durability,
// persistence layout) is owned by the engine.
type Store interface {
	EnsureCollection(ctx context.Context, name string) (string, error)
	Add(ctx context.Context, collection string, batch Batch) error
	Delete(ctx context.Context, collection string, ids []string) ([]string, error)
	Query(ctx context.Context, collection string, vector []float32, limit int, withEmbeddings bool) ([]SearchResult, error)
	DropCollection(ctx context.Context, name string) error
	Available() bool
}

// Batch is one atomic write: parallel slices, one entry per chunk.
type Batch struct {
	IDs        []string
	Embeddings [][]float32
	Documents  []string
	Metadatas  []map[string]interface{}
}

// SearchResult is a single nearest-neighbour match. Distance is the engine's
// native metric (cosine distance for the default collection space); the
// retriever converts it to a similarity score. Embedding is populated only
// when requested.
type SearchResult struct {
	ID        string
	Distance  float64
	Document  string
	Metadata  map[string]interface{}
	Embedding []float32
}

// Client talks to a ChromaDB server over its v1 REST API. Collection ids are
// resolved lazily by name and cached; the cache mutex is never held across a
// network call.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport

	baseURL string
	apiKey  string
	cfg     Config

	mu          sync.RWMutex
	collections map[string]string
	available   bool
}

var _ Store = (*Client)(nil)

var (
	errNotFound = errors.New("resource not found")
	errConflict = errors.New("resource conflict")
)

// NewFromEnv constructs a client from CHROMADB_* environment configuration.
func NewFromEnv(ctx context.Context) (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// New constructs a client using the provided configuration. Reachability is
// probed once; an unreachable server is not fatal here so the process can
// start before its backends do.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()
	logger := common.Logger()
	logger.Info(
		"vector: initializing chromadb client",
		"host", cfg.Host,
		"port", cfg.Port,
		"timeout", cfg.Timeout,
	)

	transport := &http.Transport{
		MaxIdleConns:        cfg.HTTPMaxIdleConns,
		MaxIdleConnsPerHost: cfg.HTTPMaxIdlePerHost,
		MaxConnsPerHost:     cfg.HTTPMaxConnsPerHost,
	}
	client := &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
		transport:   transport,
		baseURL:     fmt.Sprintf("%s://%s:%s/api/v1", cfg.Scheme, cfg.Host, cfg.Port),
		apiKey:      cfg.APIKey,
		cfg:         cfg,
		collections: make(map[string]string),
	}
	if err := client.Ping(ctx); err != nil {
		logger.Warn("vector: chromadb unreachable at startup", "error", err)
		return client, nil
	}
	client.mu.Lock()
	client.available = true
	client.mu.Unlock()
	logger.Info("vector: chromadb connection established")
	return client, nil
}

// Available reports whether the last reachability probe succeeded.
func (c *Client) Available() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Ping issues a heartbeat request.
func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, c.baseURL+"/heartbeat", nil, nil)
}

// EnsureCollection returns the id of the named collection, creating it when
// missing. Safe for concurrent use; only the id cache is guarded.
func (c *Client) EnsureCollection(ctx context.Context, name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: collection name required", docs.ErrInvalidConfig)
	}
	c.mu.RLock()
	id, ok := c.collections[trimmed]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}
	id, err := c.findCollection(ctx, trimmed)
	if err != nil {
		return "", err
	}
	if id == "" {
		id, err = c.createCollection(ctx, trimmed)
		if err != nil {
			return "", err
		}
	}
	c.mu.Lock()
	c.collections[trimmed] = id
	c.available = true
	c.mu.Unlock()
	return id, nil
}

// Add writes one batch to the collection. The server applies the batch as a
// single request, which is what makes inserts atomic with respect to
// concurrent readers.
func (c *Client) Add(ctx context.Context, collection string, batch Batch) error {
	if len(batch.IDs) == 0 {
		return nil
	}
	if len(batch.Embeddings) != len(batch.IDs) || len(batch.Documents) != len(batch.IDs) || len(batch.Metadatas) != len(batch.IDs) {
		return fmt.Errorf("%w: batch slices must be parallel", docs.ErrInvalidConfig)
	}
	id, err := c.EnsureCollection(ctx, collection)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"ids":        batch.IDs,
		"embeddings": batch.Embeddings,
		"documents":  batch.Documents,
		"metadatas":  batch.Metadatas,
	}
	endpoint := fmt.Sprintf("%s/collections/%s/upsert", c.baseURL, url.PathEscape(id))
	if err := c.doRequest(ctx, http.MethodPost, endpoint, payload, nil); err != nil {
		if errors.Is(err, errNotFound) {
			// Older servers only expose /add.
			fallback := fmt.Sprintf("%s/collections/%s/add", c.baseURL, url.PathEscape(id))
			return c.doRequest(ctx, http.MethodPost, fallback, payload, nil)
		}
		return err
	}
	return nil
}

// Delete removes the given ids and returns the ids the server reports as
// removed. Unknown ids are not an error.
func (c *Client) Delete(ctx context.Context, collection string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	id, err := c.EnsureCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/collections/%s/delete", c.baseURL, url.PathEscape(id))
	var removed []string
	if err := c.doRequest(ctx, http.MethodPost, endpoint, map[string]interface{}{"ids": ids}, &removed); err != nil {
		return nil, err
	}
	return removed, nil
}

// Query returns up to limit nearest neighbours for the vector, closest first.
func (c *Client) Query(ctx context.Context, collection string, vector []float32, limit int, withEmbeddings bool) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: query limit must be positive", docs.ErrInvalidConfig)
	}
	id, err := c.EnsureCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	include := []string{"documents", "metadatas", "distances"}
	if withEmbeddings {
		include = append(include, "embeddings")
	}
	body := map[string]interface{}{
		"query_embeddings": [][]float32{vector},
		"n_results":        limit,
		"include":          include,
	}
	endpoint := fmt.Sprintf("%s/collections/%s/query", c.baseURL, url.PathEscape(id))
	var resp struct {
		IDs        [][]string                 `json:"ids"`
		Distances  [][]float64                `json:"distances"`
		Metadatas  [][]map[string]interface{} `json:"metadatas"`
		Documents  [][]string                 `json:"documents"`
		Embeddings [][][]float32              `json:"embeddings"`
	}
	if err := c.doRequest(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}
	results := make([]SearchResult, 0, len(resp.IDs[0]))
	for idx, matchID := range resp.IDs[0] {
		result := SearchResult{ID: matchID}
		if len(resp.Distances) > 0 && idx < len(resp.Distances[0]) {
			result.Distance = resp.Distances[0][idx]
		}
		if len(resp.Documents) > 0 && idx < len(resp.Documents[0]) {
			result.Document = resp.Documents[0][idx]
		}
		if len(resp.Metadatas) > 0 && idx < len(resp.Metadatas[0]) {
			result.Metadata = resp.Metadatas[0][idx]
		}
		if len(resp.Embeddings) > 0 && idx < len(resp.Embeddings[0]) {
			result.Embedding = resp.Embeddings[0][idx]
		}
		results = append(results, result)
	}
	return results, nil
}

// DropCollection deletes the collection wholesale. Dropping a collection that
// does not exist is a no-op.
func (c *Client) DropCollection(ctx context.Context, name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: collection name required", docs.ErrInvalidConfig)
	}
	endpoint := fmt.Sprintf("%s/collections/%s", c.baseURL, url.PathEscape(trimmed))
	err := c.doRequest(ctx, http.MethodDelete, endpoint, nil, nil)
	if err != nil && !errors.Is(err, errNotFound) {
		return err
	}
	c.mu.Lock()
	delete(c.collections, trimmed)
	c.mu.Unlock()
	return nil
}

func (c *Client) findCollection(ctx context.Context, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/collections?name=%s", c.baseURL, url.QueryEscape(name))
	var resp struct {
		Collections []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return "", nil
		}
		return "", err
	}
	for _, col := range resp.Collections {
		if strings.EqualFold(col.Name, name) {
			return col.ID, nil
		}
	}
	return "", nil
}

func (c *Client) createCollection(ctx context.Context, name string) (string, error) {
	payload := map[string]interface{}{
		"name":     name,
		"metadata": map[string]interface{}{"hnsw:space": "cosine"},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/collections", payload, &resp); err != nil {
		if errors.Is(err, errConflict) {
			return c.findCollection(ctx, name)
		}
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	if c == nil {
		return fmt.Errorf("%w: chromadb client not configured", docs.ErrBackendUnavailable)
	}
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.markUnavailable()
		return fmt.Errorf("%w: %v", docs.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode == http.StatusConflict:
		return errConflict
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		data, _ := io.ReadAll(resp.Body)
		c.markUnavailable()
		return fmt.Errorf("%w: chromadb %s %s: %s", docs.ErrBackendUnavailable, method, endpoint, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode chromadb response: %w", err)
	}
	return nil
}

func (c *Client) markUnavailable() {
	c.mu.Lock()
	c.available = false
	c.mu.Unlock()
}

// Close releases pooled connections.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}
