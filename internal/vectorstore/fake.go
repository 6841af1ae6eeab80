package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

type fakePoint struct {
	documentID string
	vector     []float32
	metadata   map[string]string
}

// FakeStore is an in-memory, linear-scan VectorStore for tests, grounded on
// the teacher's memory_vector.go cosine-similarity fake.
type FakeStore struct {
	mu         sync.RWMutex
	dimensions map[string]int
	points     map[string]map[string]fakePoint // memoryID -> chunkID -> point
}

func NewFake() *FakeStore {
	return &FakeStore{
		dimensions: make(map[string]int),
		points:     make(map[string]map[string]fakePoint),
	}
}

func (f *FakeStore) EnsureCollection(ctx context.Context, memoryID string, dimension int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dimensions[memoryID] = dimension
	if _, ok := f.points[memoryID]; !ok {
		f.points[memoryID] = make(map[string]fakePoint)
	}
	return nil
}

func (f *FakeStore) DropCollection(ctx context.Context, memoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.points, memoryID)
	delete(f.dimensions, memoryID)
	return nil
}

func (f *FakeStore) Upsert(ctx context.Context, memoryID, chunkID string, vector []float32, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	coll, ok := f.points[memoryID]
	if !ok {
		coll = make(map[string]fakePoint)
		f.points[memoryID] = coll
	}
	cp := make([]float32, len(vector))
	copy(cp, vector)
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	coll[chunkID] = fakePoint{documentID: md["document_id"], vector: cp, metadata: md}
	return nil
}

func (f *FakeStore) DeleteByDocument(ctx context.Context, memoryID, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	coll, ok := f.points[memoryID]
	if !ok {
		return nil
	}
	for chunkID, p := range coll {
		if p.documentID == documentID {
			delete(coll, chunkID)
		}
	}
	return nil
}

func (f *FakeStore) Search(ctx context.Context, memoryID string, vector []float32, k int, documentIDs []string) ([]Hit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	allow := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		allow[id] = struct{}{}
	}
	qnorm := norm(vector)
	var hits []Hit
	for chunkID, p := range f.points[memoryID] {
		if len(allow) > 0 {
			if _, ok := allow[p.documentID]; !ok {
				continue
			}
		}
		hits = append(hits, Hit{
			ChunkID:    chunkID,
			DocumentID: p.documentID,
			Score:      cosine(vector, p.vector, qnorm),
			Metadata:   p.metadata,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// ScrollByMemory returns every point in memoryID's collection with its
// full vector, for backup dump/restore.
func (f *FakeStore) ScrollByMemory(ctx context.Context, memoryID string) ([]Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Record
	for chunkID, p := range f.points[memoryID] {
		out = append(out, Record{ChunkID: chunkID, DocumentID: p.documentID, Vector: p.vector, Metadata: p.metadata})
	}
	return out, nil
}

func (f *FakeStore) Close() error { return nil }

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}

var _ VectorStore = (*FakeStore)(nil)
