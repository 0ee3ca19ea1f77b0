package index

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/chatdochq/chatdoc/internal/common"
	"github.com/chatdochq/chatdoc/internal/common/telemetry"
	"github.com/chatdochq/chatdoc/internal/docs"
	"github.com/chatdochq/chatdoc/internal/retriever"
	"github.com/chatdochq/chatdoc/internal/vector"
)

// Embedder is the slice of the provider contract the manager needs.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// Collection is the handle for one session's isolated chunk set. Chunk ids
// are only meaningful within their collection; cross-collection lookups are
// unsupported by design. The embedded config can be swapped between calls
// without touching stored vectors.
type Collection struct {
	session string
	name    string

	mu  sync.RWMutex
	cfg retriever.Config
}

// Session returns the owning session id.
func (c *Collection) Session() string { return c.session }

// Name returns the storage namespace key derived from the session id.
func (c *Collection) Name() string { return c.name }

// Config returns the collection's current retrieval config.
func (c *Collection) Config() retriever.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// SetConfig installs a new retrieval config after validating it, so an
// invalid combination fails here rather than inside a later retrieval.
func (c *Collection) SetConfig(cfg retriever.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return nil
}

// Manager owns the session→collection mapping and the write path into the
// vector store. Its mutex guards only in-memory bookkeeping; it is never
// held across an embedding or storage round trip. Mutation atomicity with
// respect to concurrent readers is delegated to the backend: every insert
// and delete is exactly one batch request.
type Manager struct {
	store      vector.Store
	embedder   Embedder
	defaultCfg retriever.Config

	mu          sync.RWMutex
	collections map[string]*Collection
}

func NewManager(store vector.Store, embedder Embedder, defaultCfg retriever.Config) *Manager {
	return &Manager{
		store:       store,
		embedder:    embedder,
		defaultCfg:  defaultCfg,
		collections: make(map[string]*Collection),
	}
}

// Open returns the collection for the session, creating it lazily on first
// use. Idempotent: repeated calls for one session return the same handle.
func (m *Manager) Open(ctx context.Context, sessionID string) (*Collection, error) {
	session := strings.TrimSpace(sessionID)
	if session == "" {
		return nil, fmt.Errorf("%w: session id required", docs.ErrInvalidConfig)
	}
	m.mu.RLock()
	col, ok := m.collections[session]
	m.mu.RUnlock()
	if ok {
		return col, nil
	}
	name := collectionName(session)
	if _, err := m.store.EnsureCollection(ctx, name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.collections[session]; ok {
		return existing, nil
	}
	col = &Collection{session: session, name: name, cfg: m.defaultCfg}
	m.collections[session] = col
	common.Logger().Info("index: collection opened", "session", session, "collection", name)
	return col, nil
}

// Insert embeds the chunks and stores them as one batch, returning one id
// per chunk in input order. The batch is atomic from the caller's view: if
// embedding or storage fails, a compensating delete removes anything the
// backend may have kept and no ids are returned. Callers retry whole
// batches.
func (m *Manager) Insert(ctx context.Context, col *Collection, chunks []docs.Chunk) ([]string, error) {
	if col == nil {
		return nil, fmt.Errorf("%w: collection required", docs.ErrInvalidConfig)
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	normalized := make([]docs.Chunk, len(chunks))
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		normalized[i] = chunk.Normalize()
		if normalized[i].Text == "" {
			return nil, fmt.Errorf("%w: chunk %d has empty text", docs.ErrInvalidConfig, i)
		}
		texts[i] = normalized[i].Text
	}
	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embed batch: %v", docs.ErrBackendUnavailable, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: embedding provider returned %d vectors for %d chunks", docs.ErrBackendUnavailable, len(vectors), len(chunks))
	}
	batch := vector.Batch{
		IDs:        make([]string, len(chunks)),
		Embeddings: vectors,
		Documents:  texts,
		Metadatas:  make([]map[string]interface{}, len(chunks)),
	}
	for i, chunk := range normalized {
		batch.IDs[i] = uuid.NewString()
		batch.Metadatas[i] = map[string]interface{}{
			"source": chunk.Source,
			"page":   chunk.Page,
		}
	}
	if err := m.store.Add(ctx, col.Name(), batch); err != nil {
		// Best-effort rollback in case the backend kept a partial batch.
		if _, delErr := m.store.Delete(context.WithoutCancel(ctx), col.Name(), batch.IDs); delErr != nil {
			common.Logger().Warn("index: rollback after failed insert also failed", "collection", col.Name(), "error", delErr)
		}
		return nil, err
	}
	telemetry.RecordIngest(len(chunks))
	common.Logger().Info("index: batch inserted", "collection", col.Name(), "chunks", len(chunks))
	return batch.IDs, nil
}

// Delete removes the given chunk ids. Deleting an absent id is not an
// error: the call reports false and the collection is unchanged, so delete
// is idempotent.
func (m *Manager) Delete(ctx context.Context, col *Collection, ids []string) (bool, error) {
	if col == nil {
		return false, fmt.Errorf("%w: collection required", docs.ErrInvalidConfig)
	}
	if len(ids) == 0 {
		return false, nil
	}
	removed, err := m.store.Delete(ctx, col.Name(), ids)
	if err != nil {
		return false, err
	}
	return len(removed) > 0, nil
}

// Drop tears down the session's collection wholesale and forgets the
// handle. Used when a session ends.
func (m *Manager) Drop(ctx context.Context, col *Collection) error {
	if col == nil {
		return fmt.Errorf("%w: collection required", docs.ErrInvalidConfig)
	}
	if err := m.store.DropCollection(ctx, col.Name()); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.collections, col.Session())
	m.mu.Unlock()
	common.Logger().Info("index: collection dropped", "session", col.Session(), "collection", col.Name())
	return nil
}

// collectionName derives a storage-safe namespace key from the session id.
// ChromaDB restricts names to 3-63 chars of [a-zA-Z0-9._-] starting and
// ending alphanumeric; anything else is replaced and the result prefixed.
func collectionName(session string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(session) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	cleaned := strings.Trim(b.String(), "-_.")
	if cleaned == "" {
		cleaned = uuid.NewString()
	}
	name := "chatdoc-" + cleaned
	if len(name) > 63 {
		name = name[:63]
		name = strings.TrimRight(name, "-_.")
	}
	return name
}
