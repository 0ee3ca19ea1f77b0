package index

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chatdochq/chatdoc/internal/docs"
	"github.com/chatdochq/chatdoc/internal/retriever"
	"github.com/chatdochq/chatdoc/internal/vector"
)

type recordingStore struct {
	ensureCalls int
	addCalls    []vector.Batch
	deleteCalls [][]string
	dropCalls   []string

	addErr    error
	deleteRet []string
}

func (r *recordingStore) EnsureCollection(ctx context.Context, name string) (string, error) {
	r.ensureCalls++
	return "id-" + name, nil
}

func (r *recordingStore) Add(ctx context.Context, collection string, batch vector.Batch) error {
	if r.addErr != nil {
		return r.addErr
	}
	r.addCalls = append(r.addCalls, batch)
	return nil
}

func (r *recordingStore) Delete(ctx context.Context, collection string, ids []string) ([]string, error) {
	r.deleteCalls = append(r.deleteCalls, ids)
	if r.deleteRet != nil {
		return r.deleteRet, nil
	}
	return nil, nil
}

func (r *recordingStore) Query(ctx context.Context, collection string, vec []float32, limit int, withEmbeddings bool) ([]vector.SearchResult, error) {
	return nil, nil
}

func (r *recordingStore) DropCollection(ctx context.Context, name string) error {
	r.dropCalls = append(r.dropCalls, name)
	return nil
}

func (r *recordingStore) Available() bool { return true }

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(input))
	for i := range input {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func newTestManager(store *recordingStore, embedder *stubEmbedder) *Manager {
	return NewManager(store, embedder, retriever.DefaultConfig())
}

func sampleChunks(n int) []docs.Chunk {
	chunks := make([]docs.Chunk, n)
	for i := range chunks {
		chunks[i] = docs.Chunk{Text: fmt.Sprintf("chunk %d", i), Source: "doc.pdf", Page: i + 1}
	}
	return chunks
}

func TestOpenRequiresSession(t *testing.T) {
	mgr := newTestManager(&recordingStore{}, &stubEmbedder{})
	if _, err := mgr.Open(context.Background(), "  "); !errors.Is(err, docs.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	store := &recordingStore{}
	mgr := newTestManager(store, &stubEmbedder{})
	first, err := mgr.Open(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	second, err := mgr.Open(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same collection handle")
	}
	if store.ensureCalls != 1 {
		t.Fatalf("expected one backend ensure, got %d", store.ensureCalls)
	}
}

func TestOpenIsolatesSessions(t *testing.T) {
	mgr := newTestManager(&recordingStore{}, &stubEmbedder{})
	a, _ := mgr.Open(context.Background(), "session-a")
	b, _ := mgr.Open(context.Background(), "session-b")
	if a.Name() == b.Name() {
		t.Fatalf("sessions must map to distinct collections, both got %q", a.Name())
	}
}

func TestInsertPreservesOrder(t *testing.T) {
	store := &recordingStore{}
	mgr := newTestManager(store, &stubEmbedder{})
	col, _ := mgr.Open(context.Background(), "session-1")

	chunks := sampleChunks(3)
	ids, err := mgr.Insert(context.Background(), col, chunks)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	if len(store.addCalls) != 1 {
		t.Fatalf("expected a single batch write, got %d", len(store.addCalls))
	}
	batch := store.addCalls[0]
	for i := range chunks {
		if batch.IDs[i] != ids[i] {
			t.Fatalf("returned id %d does not match stored id", i)
		}
		if batch.Documents[i] != chunks[i].Text {
			t.Fatalf("chunk %d stored out of order: %q", i, batch.Documents[i])
		}
		if batch.Metadatas[i]["source"] != "doc.pdf" || batch.Metadatas[i]["page"] != i+1 {
			t.Fatalf("chunk %d provenance wrong: %+v", i, batch.Metadatas[i])
		}
	}
}

func TestInsertRejectsEmptyText(t *testing.T) {
	mgr := newTestManager(&recordingStore{}, &stubEmbedder{})
	col, _ := mgr.Open(context.Background(), "session-1")
	chunks := []docs.Chunk{{Text: "fine", Source: "d", Page: 1}, {Text: "   ", Source: "d", Page: 2}}
	if _, err := mgr.Insert(context.Background(), col, chunks); !errors.Is(err, docs.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestInsertEmbedFailureLeavesNoWrites(t *testing.T) {
	store := &recordingStore{}
	mgr := newTestManager(store, &stubEmbedder{err: errors.New("provider down")})
	col, _ := mgr.Open(context.Background(), "session-1")

	_, err := mgr.Insert(context.Background(), col, sampleChunks(2))
	if !errors.Is(err, docs.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if len(store.addCalls) != 0 {
		t.Fatalf("no write should reach the backend when embedding fails")
	}
}

func TestInsertRollsBackFailedBatch(t *testing.T) {
	store := &recordingStore{addErr: fmt.Errorf("%w: write refused", docs.ErrBackendUnavailable)}
	mgr := newTestManager(store, &stubEmbedder{})
	col, _ := mgr.Open(context.Background(), "session-1")

	ids, err := mgr.Insert(context.Background(), col, sampleChunks(2))
	if err == nil {
		t.Fatalf("expected insert to fail")
	}
	if ids != nil {
		t.Fatalf("failed insert must not return ids")
	}
	if len(store.deleteCalls) != 1 {
		t.Fatalf("expected one compensating delete, got %d", len(store.deleteCalls))
	}
	if len(store.deleteCalls[0]) != 2 {
		t.Fatalf("rollback must target the whole batch, got %v", store.deleteCalls[0])
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := &recordingStore{}
	mgr := newTestManager(store, &stubEmbedder{})
	col, _ := mgr.Open(context.Background(), "session-1")

	ok, err := mgr.Delete(context.Background(), col, nil)
	if err != nil || ok {
		t.Fatalf("empty delete should be a no-op, got ok=%v err=%v", ok, err)
	}

	ok, err = mgr.Delete(context.Background(), col, []string{"absent"})
	if err != nil {
		t.Fatalf("deleting absent ids must not error: %v", err)
	}
	if ok {
		t.Fatalf("absent ids should report false")
	}

	store.deleteRet = []string{"present"}
	ok, err = mgr.Delete(context.Background(), col, []string{"present"})
	if err != nil || !ok {
		t.Fatalf("existing id delete should report true, got ok=%v err=%v", ok, err)
	}
}

func TestDropForgetsCollection(t *testing.T) {
	store := &recordingStore{}
	mgr := newTestManager(store, &stubEmbedder{})
	col, _ := mgr.Open(context.Background(), "session-1")

	if err := mgr.Drop(context.Background(), col); err != nil {
		t.Fatalf("drop failed: %v", err)
	}
	if len(store.dropCalls) != 1 || store.dropCalls[0] != col.Name() {
		t.Fatalf("expected backend drop of %q, got %v", col.Name(), store.dropCalls)
	}
	if _, err := mgr.Open(context.Background(), "session-1"); err != nil {
		t.Fatalf("reopen after drop failed: %v", err)
	}
	if store.ensureCalls != 2 {
		t.Fatalf("dropped session must be recreated on reopen, ensure calls = %d", store.ensureCalls)
	}
}

func TestSetConfigValidates(t *testing.T) {
	mgr := newTestManager(&recordingStore{}, &stubEmbedder{})
	col, _ := mgr.Open(context.Background(), "session-1")

	bad := retriever.Config{Strategy: retriever.StrategyDiversity, TopK: 5, FetchK: 2, DiversityBias: 0.5}
	if err := col.SetConfig(bad); !errors.Is(err, docs.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if col.Config().Strategy != retriever.StrategySimilarity {
		t.Fatalf("rejected config must not be installed")
	}

	good := retriever.Config{Strategy: retriever.StrategyThreshold, TopK: 2, ScoreThreshold: 0.3, FetchK: 10}
	if err := col.SetConfig(good); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if col.Config().Strategy != retriever.StrategyThreshold {
		t.Fatalf("installed config not visible")
	}
}

func TestCollectionNameSanitization(t *testing.T) {
	name := collectionName("User Session/42!")
	if len(name) > 63 {
		t.Fatalf("name too long: %q", name)
	}
	for _, r := range name {
		valid := r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '.'
		if !valid {
			t.Fatalf("invalid rune %q in collection name %q", r, name)
		}
	}
	if collectionName("abc") != collectionName("abc") {
		t.Fatalf("sanitization must be deterministic")
	}
}
