package graphstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"graphmemory/internal/apperr"
	"graphmemory/internal/model"
)

// foldTransformer mirrors the unaccent() Postgres extension the real store
// relies on (see schema.go): NFKD-normalise, strip combining marks, lowercase.
var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldName(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// FakeStore is an in-memory GraphStore used by tests throughout the
// codebase, grounded on the teacher's map-backed memory_graph.go fake but
// keyed on the domain model instead of generic nodes/edges.
type FakeStore struct {
	mu sync.RWMutex

	memories  map[string]model.Memory
	documents map[string]model.Document // document_id -> Document
	entities  map[string]model.Entity   // entity_id -> Entity
	relations []model.Relation
	mentions  map[string]map[string]struct{} // document_id -> set(entity_id)
	tokens    map[string]model.Token
}

// NewFake constructs an empty FakeStore.
func NewFake() *FakeStore {
	return &FakeStore{
		memories:  make(map[string]model.Memory),
		documents: make(map[string]model.Document),
		entities:  make(map[string]model.Entity),
		mentions:  make(map[string]map[string]struct{}),
		tokens:    make(map[string]model.Token),
	}
}

func (f *FakeStore) Bootstrap(ctx context.Context) error { return nil }
func (f *FakeStore) Close()                              {}

func (f *FakeStore) CreateMemory(ctx context.Context, m model.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.memories[m.MemoryID]; ok {
		return apperr.AlreadyExistsf("memory %q already exists", m.MemoryID)
	}
	f.memories[m.MemoryID] = m
	return nil
}

func (f *FakeStore) GetMemory(ctx context.Context, memoryID string) (model.Memory, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.memories[memoryID]
	return m, ok, nil
}

func (f *FakeStore) ListMemories(ctx context.Context) ([]model.Memory, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.Memory, 0, len(f.memories))
	for _, m := range f.memories {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *FakeStore) DeleteMemory(ctx context.Context, memoryID string) (CascadeCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.memories[memoryID]; !ok {
		return CascadeCounts{}, apperr.NotFoundf("memory %q", memoryID)
	}
	var counts CascadeCounts
	for id, d := range f.documents {
		if d.MemoryID == memoryID {
			delete(f.documents, id)
			delete(f.mentions, id)
			counts.Documents++
		}
	}
	for id, e := range f.entities {
		if e.MemoryID == memoryID {
			delete(f.entities, id)
			counts.Entities++
		}
	}
	kept := f.relations[:0]
	for _, r := range f.relations {
		if r.MemoryID == memoryID {
			counts.Relations++
			continue
		}
		kept = append(kept, r)
	}
	f.relations = kept
	delete(f.memories, memoryID)
	return counts, nil
}

func (f *FakeStore) MemoryStats(ctx context.Context, memoryID string) (Stats, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var st Stats
	for _, d := range f.documents {
		if d.MemoryID == memoryID {
			st.Documents++
		}
	}
	for _, e := range f.entities {
		if e.MemoryID == memoryID {
			st.Entities++
		}
	}
	for _, r := range f.relations {
		if r.MemoryID == memoryID {
			st.Relations++
		}
	}
	return st, nil
}

func (f *FakeStore) UpsertDocument(ctx context.Context, doc model.Document) (model.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.documents {
		if d.MemoryID == doc.MemoryID && d.ContentHash == doc.ContentHash {
			return d, true, nil
		}
	}
	f.documents[doc.DocumentID] = doc
	return doc, false, nil
}

func (f *FakeStore) GetDocumentByHash(ctx context.Context, memoryID, contentHash string) (model.Document, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, d := range f.documents {
		if d.MemoryID == memoryID && d.ContentHash == contentHash {
			return d, true, nil
		}
	}
	return model.Document{}, false, nil
}

func (f *FakeStore) GetDocument(ctx context.Context, memoryID, documentID string) (model.Document, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.documents[documentID]
	if !ok || d.MemoryID != memoryID {
		return model.Document{}, false, nil
	}
	return d, true, nil
}

func (f *FakeStore) ListDocuments(ctx context.Context, memoryID string) ([]model.Document, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.Document, 0)
	for _, d := range f.documents {
		if d.MemoryID == memoryID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IngestedAt.Before(out[j].IngestedAt) })
	return out, nil
}

func (f *FakeStore) DeleteDocument(ctx context.Context, memoryID, documentID string) (CascadeCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok || d.MemoryID != memoryID {
		return CascadeCounts{}, apperr.NotFoundf("document %q", documentID)
	}
	var counts CascadeCounts
	touched := f.mentions[documentID]
	delete(f.mentions, documentID)
	delete(f.documents, documentID)
	counts.Documents = 1

	for entityID := range touched {
		e, ok := f.entities[entityID]
		if !ok {
			continue
		}
		e.SourceDocs = removeString(e.SourceDocs, documentID)
		if len(e.SourceDocs) == 0 {
			delete(f.entities, entityID)
			counts.Entities++
		} else {
			f.entities[entityID] = e
		}
	}

	kept := f.relations[:0]
	for _, r := range f.relations {
		if r.MemoryID != memoryID {
			kept = append(kept, r)
			continue
		}
		_, fromOK := f.entities[r.From]
		_, toOK := f.entities[r.To]
		if fromOK && toOK {
			kept = append(kept, r)
		} else {
			counts.Relations++
		}
	}
	f.relations = kept
	return counts, nil
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return append([]string{}, out...)
}

func (f *FakeStore) AllDocumentURIs(ctx context.Context) (map[string]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string)
	for _, d := range f.documents {
		if d.ObjectURI != "" {
			out[d.ObjectURI] = d.MemoryID
		}
	}
	return out, nil
}

func (f *FakeStore) MergeEntity(ctx context.Context, memoryID, name, entityType, description, sourceDoc string) (model.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, e := range f.entities {
		if e.MemoryID == memoryID && e.Name == name && e.Type == entityType {
			e.Description = mergeDescription(e.Description, description)
			e.SourceDocs = appendUnique(e.SourceDocs, sourceDoc)
			e.Mentions++
			f.entities[id] = e
			return e, nil
		}
	}
	e := model.Entity{
		EntityID:    uuid.NewString(),
		MemoryID:    memoryID,
		Name:        name,
		Type:        entityType,
		Description: description,
		Mentions:    1,
		SourceDocs:  []string{sourceDoc},
	}
	f.entities[e.EntityID] = e
	return e, nil
}

func (f *FakeStore) LinkMention(ctx context.Context, documentID, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.mentions[documentID]
	if !ok {
		set = make(map[string]struct{})
		f.mentions[documentID] = set
	}
	set[entityID] = struct{}{}
	return nil
}

func (f *FakeStore) GetEntityByName(ctx context.Context, memoryID, name, entityType string) (model.Entity, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, e := range f.entities {
		if e.MemoryID == memoryID && e.Name == name && e.Type == entityType {
			return e, true, nil
		}
	}
	return model.Entity{}, false, nil
}

// FindEntityByName matches the Postgres store's name-only lookup, preferring
// the most-mentioned entity when more than one type shares the name.
func (f *FakeStore) FindEntityByName(ctx context.Context, memoryID, name string) (model.Entity, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var best model.Entity
	found := false
	for _, e := range f.entities {
		if e.MemoryID != memoryID || e.Name != name {
			continue
		}
		if !found || e.Mentions > best.Mentions {
			best = e
			found = true
		}
	}
	return best, found, nil
}

func (f *FakeStore) GetEntity(ctx context.Context, memoryID, entityID string) (model.Entity, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entities[entityID]
	if !ok || e.MemoryID != memoryID {
		return model.Entity{}, false, nil
	}
	return e, true, nil
}

func (f *FakeStore) ListEntities(ctx context.Context, memoryID string) ([]model.Entity, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.Entity, 0)
	for _, e := range f.entities {
		if e.MemoryID == memoryID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (f *FakeStore) Neighborhood(ctx context.Context, memoryID, entityID string, depth int) (Neighborhood, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if depth < 1 {
		depth = 1
	}
	if depth > 2 {
		depth = 2
	}
	entity, ok := f.entities[entityID]
	if !ok || entity.MemoryID != memoryID {
		return Neighborhood{}, apperr.NotFoundf("entity %q", entityID)
	}

	frontier := map[string]struct{}{entityID: {}}
	seen := map[string]struct{}{entityID: {}}
	var allRelations []model.Relation
	neighborSet := map[string]model.Entity{}

	for hop := 0; hop < depth; hop++ {
		nextFrontier := map[string]struct{}{}
		for _, r := range f.relations {
			if r.MemoryID != memoryID {
				continue
			}
			_, fromIn := frontier[r.From]
			_, toIn := frontier[r.To]
			if !fromIn && !toIn {
				continue
			}
			allRelations = append(allRelations, r)
			for _, other := range []string{r.From, r.To} {
				if other == entityID {
					continue
				}
				if _, ok := seen[other]; !ok {
					nextFrontier[other] = struct{}{}
				}
			}
		}
		for id := range nextFrontier {
			seen[id] = struct{}{}
			if e, ok := f.entities[id]; ok {
				neighborSet[id] = e
			}
		}
		frontier = nextFrontier
		if len(frontier) == 0 {
			break
		}
	}

	neighbors := make([]model.Entity, 0, len(neighborSet))
	for _, e := range neighborSet {
		neighbors = append(neighbors, e)
	}
	return Neighborhood{Entity: entity, Neighbors: neighbors, Relations: allRelations, Depth: depth}, nil
}

func (f *FakeStore) MergeRelation(ctx context.Context, rel model.Relation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.relations {
		if r.MemoryID == rel.MemoryID && r.From == rel.From && r.To == rel.To && r.Type == rel.Type {
			if r.Description == "" {
				f.relations[i].Description = rel.Description
			}
			return nil
		}
	}
	f.relations = append(f.relations, rel)
	return nil
}

func (f *FakeStore) RelationsTouching(ctx context.Context, memoryID string, entityIDs []string) ([]model.Relation, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(entityIDs) == 0 {
		return nil, nil
	}
	want := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		want[id] = struct{}{}
	}
	var out []model.Relation
	for _, r := range f.relations {
		if r.MemoryID != memoryID {
			continue
		}
		_, fromIn := want[r.From]
		_, toIn := want[r.To]
		if fromIn || toIn {
			out = append(out, r)
		}
	}
	return out, nil
}

// FullTextSearchEntities is a substring-match approximation of the real
// tsvector ranking, sufficient for exercising callers in tests without a
// Postgres dependency.
func (f *FakeStore) FullTextSearchEntities(ctx context.Context, memoryID, foldedQuery string, limit int) ([]EntityHit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	foldedQuery = strings.TrimSpace(strings.ToLower(foldedQuery))
	if foldedQuery == "" {
		return nil, nil
	}
	terms := strings.Fields(foldedQuery)
	var hits []EntityHit
	for _, e := range f.entities {
		if e.MemoryID != memoryID {
			continue
		}
		folded := foldName(e.Name)
		matched := 0
		for _, t := range terms {
			if strings.Contains(folded, t) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, EntityHit{Entity: e, Score: float64(matched) / float64(len(terms)), TokensMatched: matched})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entity.Mentions > hits[j].Entity.Mentions
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *FakeStore) CreateToken(ctx context.Context, t model.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[t.TokenHash]; ok {
		return apperr.AlreadyExistsf("token already exists")
	}
	f.tokens[t.TokenHash] = t
	return nil
}

func (f *FakeStore) GetTokenByHash(ctx context.Context, hash string) (model.Token, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tokens[hash]
	return t, ok, nil
}

func (f *FakeStore) ListTokens(ctx context.Context) ([]model.Token, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.Token, 0, len(f.tokens))
	for _, t := range f.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *FakeStore) RevokeToken(ctx context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[hash]
	if !ok {
		return apperr.NotFoundf("token")
	}
	now := t.CreatedAt
	t.RevokedAt = &now
	f.tokens[hash] = t
	return nil
}

func (f *FakeStore) UpdateTokenMemoryIDs(ctx context.Context, hash, action string, memoryIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[hash]
	if !ok {
		return apperr.NotFoundf("token")
	}
	switch action {
	case "set":
		t.MemoryIDs = append([]string{}, memoryIDs...)
	case "add":
		for _, id := range memoryIDs {
			t.MemoryIDs = appendUnique(t.MemoryIDs, id)
		}
	case "remove":
		var kept []string
		for _, existing := range t.MemoryIDs {
			drop := false
			for _, id := range memoryIDs {
				if existing == id {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, existing)
			}
		}
		t.MemoryIDs = kept
	default:
		return apperr.InvalidArgumentf("unknown token update action %q", action)
	}
	f.tokens[hash] = t
	return nil
}

func (f *FakeStore) Snapshot(ctx context.Context, memoryID string) (model.GraphSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.memories[memoryID]
	if !ok {
		return model.GraphSnapshot{}, apperr.NotFoundf("memory %q", memoryID)
	}
	snap := model.GraphSnapshot{Memory: m}
	for _, d := range f.documents {
		if d.MemoryID == memoryID {
			snap.Documents = append(snap.Documents, d)
		}
	}
	for _, e := range f.entities {
		if e.MemoryID == memoryID {
			snap.Entities = append(snap.Entities, e)
		}
	}
	for _, r := range f.relations {
		if r.MemoryID == memoryID {
			snap.Relations = append(snap.Relations, r)
		}
	}
	for docID, set := range f.mentions {
		d, ok := f.documents[docID]
		if !ok || d.MemoryID != memoryID {
			continue
		}
		for entityID := range set {
			snap.Mentions = append(snap.Mentions, model.MentionEdge{DocumentID: docID, EntityID: entityID})
		}
	}
	return snap, nil
}

func (f *FakeStore) RestoreSnapshot(ctx context.Context, snap model.GraphSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memories[snap.Memory.MemoryID] = snap.Memory
	for _, d := range snap.Documents {
		f.documents[d.DocumentID] = d
	}
	for _, e := range snap.Entities {
		f.entities[e.EntityID] = e
	}
	f.relations = append(f.relations, snap.Relations...)
	for _, m := range snap.Mentions {
		set, ok := f.mentions[m.DocumentID]
		if !ok {
			set = make(map[string]struct{})
			f.mentions[m.DocumentID] = set
		}
		set[m.EntityID] = struct{}{}
	}
	return nil
}

var _ GraphStore = (*FakeStore)(nil)
