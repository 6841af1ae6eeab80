package search

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"graphmemory/internal/graphstore"
	"graphmemory/internal/model"
)

// Result is one matched entity with its full search context, the shape
// spec §4.7 requires: "type, description, mentions, source_docs[], 1-hop
// neighbours, incident relations."
type Result struct {
	Entity        model.Entity
	Score         float64
	TokensMatched int
	Neighbors     []model.Entity
	Relations     []model.Relation
}

// Options tunes one search call.
type Options struct {
	Limit int
	// RecencyBias is accepted from memory_search's recency_bias argument
	// but Search does not read it: ordering is the same for every value,
	// and documents' ingested_at plays no part in ranking.
	RecencyBias float64
}

// Service runs the two-tier graph search over a GraphStore.
type Service struct {
	store     graphstore.GraphStore
	stopwords *Stopwords
}

func New(store graphstore.GraphStore, stopwords *Stopwords) *Service {
	if stopwords == nil {
		stopwords = NewStopwords()
	}
	return &Service{store: store, stopwords: stopwords}
}

var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold performs spec §4.7's accent-folding: NFKD-normalise, strip combining
// marks, lowercase. It is also used directly by the ontology-driven entity
// normalisation path and by callers that want to compare a raw and a
// folded form of the same query (spec §8 property 5).
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

var letterRunRe = func() func(r rune) bool {
	return unicode.IsLetter
}()

// Tokenize extracts alphabetic word runs (Unicode letters only), lowercases,
// NFKD-normalises and strips combining marks, then drops stopwords and
// tokens shorter than two characters, per spec §4.7.
func Tokenize(query string, stopwords *Stopwords) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := Fold(cur.String())
		cur.Reset()
		if len([]rune(tok)) < 2 {
			return
		}
		if stopwords != nil && stopwords.Contains(tok) {
			return
		}
		tokens = append(tokens, tok)
	}
	for _, r := range query {
		if letterRunRe(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Search runs the full-text tier and, if it under-returns, unions in the
// CONTAINS fallback, per spec §4.7. Results are deduplicated by entity
// identity and enriched with 1-hop neighbourhood context.
func (s *Service) Search(ctx context.Context, memoryID, query string, opt Options) ([]Result, error) {
	limit := opt.Limit
	if limit <= 0 {
		limit = 10
	}
	tokens := Tokenize(query, s.stopwords)
	if len(tokens) == 0 {
		return nil, nil
	}
	foldedQuery := strings.Join(tokens, " ")

	ftsHits, err := s.store.FullTextSearchEntities(ctx, memoryID, foldedQuery, limit)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]graphstore.EntityHit, len(ftsHits))
	for _, h := range ftsHits {
		byID[h.Entity.EntityID] = h
	}

	if len(ftsHits) < limit/2 {
		fallback, err := s.containsFallback(ctx, memoryID, tokens, query)
		if err != nil {
			return nil, err
		}
		for _, h := range fallback {
			if existing, ok := byID[h.Entity.EntityID]; !ok || h.Score > existing.Score {
				byID[h.Entity.EntityID] = h
			}
		}
	}

	merged := make([]graphstore.EntityHit, 0, len(byID))
	for _, h := range byID {
		merged = append(merged, h)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].TokensMatched != merged[j].TokensMatched {
			return merged[i].TokensMatched > merged[j].TokensMatched
		}
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Entity.Mentions > merged[j].Entity.Mentions
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	results := make([]Result, 0, len(merged))
	for _, h := range merged {
		nb, err := s.store.Neighborhood(ctx, memoryID, h.Entity.EntityID, 1)
		if err != nil {
			// Neighbourhood lookup failing does not invalidate the match
			// itself; return the entity bare rather than drop a hit.
			results = append(results, Result{Entity: h.Entity, Score: h.Score, TokensMatched: h.TokensMatched})
			continue
		}
		results = append(results, Result{
			Entity:        h.Entity,
			Score:         h.Score,
			TokensMatched: h.TokensMatched,
			Neighbors:     nb.Neighbors,
			Relations:     nb.Relations,
		})
	}
	return results, nil
}

// containsFallback implements spec §4.7's "for each entity in the memory,
// accept if any token — in either its raw form or its normalised form — is
// a substring of the lowercased entity name," ordered by tokens matched
// desc, mentions desc.
func (s *Service) containsFallback(ctx context.Context, memoryID string, tokens []string, rawQuery string) ([]graphstore.EntityHit, error) {
	entities, err := s.store.ListEntities(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	rawTokens := strings.Fields(Fold(rawQuery))

	var hits []graphstore.EntityHit
	for _, e := range entities {
		lowerName := Fold(e.Name)
		matched := 0
		seen := make(map[string]struct{})
		for _, t := range tokens {
			if _, ok := seen[t]; ok {
				continue
			}
			if strings.Contains(lowerName, t) {
				matched++
				seen[t] = struct{}{}
			}
		}
		for _, t := range rawTokens {
			if _, ok := seen[t]; ok {
				continue
			}
			if strings.Contains(lowerName, t) {
				matched++
				seen[t] = struct{}{}
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, graphstore.EntityHit{
			Entity:        e,
			TokensMatched: matched,
			Score:         float64(matched) / float64(max(1, len(tokens))),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].TokensMatched != hits[j].TokensMatched {
			return hits[i].TokensMatched > hits[j].TokensMatched
		}
		return hits[i].Entity.Mentions > hits[j].Entity.Mentions
	})
	return hits, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SourceDocuments returns the union of source documents referenced by
// results, used by the query engine to build the document-id allow-list
// for Graph-Guided retrieval (spec §4.8 step 1).
func SourceDocuments(results []Result) []string {
	seen := make(map[string]struct{})
	var docs []string
	for _, r := range results {
		for _, d := range r.Entity.SourceDocs {
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				docs = append(docs, d)
			}
		}
	}
	return docs
}
