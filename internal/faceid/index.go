package faceid

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/uuid"
)

// CandidateSource narrows the scan to a subset of records likely to contain the nearest match.
type CandidateSource interface {
	Candidates(ctx context.Context, probe Embedding) (iter.Seq[Record], error)
}

// IndexedStore wraps a Store with an in-process HNSW graph over the enrolled
// embeddings. Candidates are approximate: exact distances and the tie-break are
// still applied by the Matcher, but a true nearest record outside the top
// candidates can be missed. The graph reflects writes made through this
// wrapper; Rebuild picks up writes made by other processes.
//
// Removed records are never deleted from the graph. They stay as tombstones,
// are filtered out of search results, and are dropped when the graph is
// compacted.
type IndexedStore struct {
	Store
	k int

	// writeMu orders store writes and the matching index updates.
	writeMu sync.Mutex

	mu         sync.RWMutex
	graph      *hnsw.Graph[string]
	records    map[string]Record
	byIdentity map[string][]string
	tombstones int
}

const hnswMaxNeighbors = 16

// NewIndexedStore builds the graph from the wrapped store's current records.
func NewIndexedStore(ctx context.Context, store Store, candidates int) (*IndexedStore, error) {
	if candidates <= 0 {
		candidates = 32
	}
	s := &IndexedStore{Store: store, k: candidates}
	if err := s.Rebuild(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Rebuild discards the graph and reloads every record from the wrapped store.
func (s *IndexedStore) Rebuild(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	seq, err := s.Store.AllRecords(ctx)
	if err != nil {
		return fmt.Errorf("load records for index: %w", err)
	}

	records := make(map[string]Record)
	byIdentity := make(map[string][]string)
	for rec := range seq {
		if len(rec.Embedding) != s.Store.Dimension() {
			continue
		}
		key := rec.ID.String()
		records[key] = rec
		byIdentity[rec.IdentityID] = append(byIdentity[rec.IdentityID], key)
	}
	g := graphOf(records)

	s.mu.Lock()
	s.graph, s.records, s.byIdentity, s.tombstones = g, records, byIdentity, 0
	s.mu.Unlock()
	return nil
}

func graphOf(records map[string]Record) *hnsw.Graph[string] {
	g := newGraph()
	for key, rec := range records {
		g.Add(hnsw.MakeNode(key, rec.Embedding.Float32()))
	}
	return g
}

// Enroll writes through to the wrapped store and then makes the new record the
// identity's only indexed entry.
func (s *IndexedStore) Enroll(ctx context.Context, identityID string, e Embedding) (*Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec, err := s.Store.Enroll(ctx, identityID, e)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropIdentity(identityID)
	s.compact()
	key := rec.ID.String()
	s.graph.Add(hnsw.MakeNode(key, rec.Embedding.Float32()))
	s.records[key] = *rec
	s.byIdentity[identityID] = []string{key}
	return rec, nil
}

func (s *IndexedStore) Remove(ctx context.Context, identityID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.Store.Remove(ctx, identityID); err != nil {
		return err
	}
	s.mu.Lock()
	s.dropIdentity(identityID)
	s.compact()
	s.mu.Unlock()
	return nil
}

// dropIdentity must be called with mu held.
func (s *IndexedStore) dropIdentity(identityID string) {
	for _, key := range s.byIdentity[identityID] {
		delete(s.records, key)
		s.tombstones++
	}
	delete(s.byIdentity, identityID)
}

// compact rebuilds the graph from live records once tombstones outnumber them.
// It must be called with mu held.
func (s *IndexedStore) compact() {
	if s.tombstones == 0 || s.tombstones < len(s.records) {
		return
	}
	s.graph = graphOf(s.records)
	s.tombstones = 0
}

// Candidates returns up to k live records closest to probe according to the graph.
func (s *IndexedStore) Candidates(_ context.Context, probe Embedding) (iter.Seq[Record], error) {
	if len(probe) != s.Store.Dimension() {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, s.Store.Dimension(), len(probe))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return slices.Values([]Record(nil)), nil
	}

	nodes := s.graph.Search(probe.Float32(), s.k+s.tombstones)
	out := make([]Record, 0, min(len(nodes), s.k))
	for _, n := range nodes {
		if rec, ok := s.records[n.Key]; ok {
			out = append(out, rec)
			if len(out) == s.k {
				break
			}
		}
	}
	return slices.Values(out), nil
}

// Size returns the number of indexed records.
func (s *IndexedStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *IndexedStore) Records(ctx context.Context, identityID string) ([]Record, error) {
	if l, ok := s.Store.(RecordLister); ok {
		return l.Records(ctx, identityID)
	}
	return nil, nil
}

func (s *IndexedStore) FlagForReenrollment(ctx context.Context, recordIDs []uuid.UUID) error {
	if f, ok := s.Store.(Flagger); ok {
		return f.FlagForReenrollment(ctx, recordIDs)
	}
	return nil
}
