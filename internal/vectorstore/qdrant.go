package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"graphmemory/internal/apperr"
)

// payloadDocumentField and payloadChunkField let Search recover the original
// document/chunk identifiers from a point whose ID is a deterministic UUID.
const (
	payloadDocumentField = "document_id"
	payloadChunkField    = "chunk_id"
)

// Store is the Qdrant-backed VectorStore. One collection per memory
// (named "mem_<memory_id>") keeps the blast radius of memory_delete to a
// single DropCollection call, matching spec §4.3's per-memory isolation.
type Store struct {
	client *qdrant.Client

	mu      sync.Mutex
	ensured map[string]struct{}
}

// Config describes how to reach a Qdrant instance, parsed from GRAPHMEMORY_QDRANT_ADDR.
type Config struct {
	Addr   string
	APIKey string
}

func New(cfg Config) (*Store, error) {
	host, port, useTLS, err := parseAddr(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: %w", err)
	}
	qc := &qdrant.Config{Host: host, Port: port, UseTLS: useTLS}
	if cfg.APIKey != "" {
		qc.APIKey = cfg.APIKey
	}
	client, err := qdrant.NewClient(qc)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create qdrant client: %w", err)
	}
	return &Store{client: client, ensured: make(map[string]struct{})}, nil
}

func parseAddr(addr string) (host string, port int, useTLS bool, err error) {
	parsed, err := url.Parse(addr)
	if err != nil {
		return "", 0, false, fmt.Errorf("parse qdrant address: %w", err)
	}
	host = parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid qdrant port: %w", err)
	}
	return host, port, parsed.Scheme == "https", nil
}

func collectionName(memoryID string) string {
	return "mem_" + memoryID
}

func (s *Store) EnsureCollection(ctx context.Context, memoryID string, dimension int) error {
	name := collectionName(memoryID)
	s.mu.Lock()
	_, done := s.ensured[name]
	s.mu.Unlock()
	if done {
		return nil
	}
	if dimension <= 0 {
		return apperr.InvalidArgumentf("embedding dimension must be > 0")
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return apperr.DependencyFailuref("vectorstore", err, "check collection %q", name)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return apperr.DependencyFailuref("vectorstore", err, "create collection %q", name)
		}
	}
	s.mu.Lock()
	s.ensured[name] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Store) DropCollection(ctx context.Context, memoryID string) error {
	name := collectionName(memoryID)
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return apperr.DependencyFailuref("vectorstore", err, "drop collection %q", name)
	}
	s.mu.Lock()
	delete(s.ensured, name)
	s.mu.Unlock()
	return nil
}

// pointUUID derives a deterministic UUID from a chunk ID so arbitrary chunk
// identifiers can back Qdrant's UUID-only point IDs.
func pointUUID(chunkID string) string {
	if _, err := uuid.Parse(chunkID); err == nil {
		return chunkID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func (s *Store) Upsert(ctx context.Context, memoryID, chunkID string, vector []float32, metadata map[string]string) error {
	payload := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		payload[k] = v
	}
	payload[payloadChunkField] = chunkID
	vec := make([]float32, len(vector))
	copy(vec, vector)
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDUUID(pointUUID(chunkID)),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(payload),
	}}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName(memoryID),
		Points:         points,
	})
	if err != nil {
		return apperr.DependencyFailuref("vectorstore", err, "upsert chunk %q", chunkID)
	}
	return nil
}

func (s *Store) DeleteByDocument(ctx context.Context, memoryID, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collectionName(memoryID),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadDocumentField, documentID)},
		}),
	})
	if err != nil {
		return apperr.DependencyFailuref("vectorstore", err, "delete chunks of document %q", documentID)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, memoryID string, vector []float32, k int, documentIDs []string) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	var filter *qdrant.Filter
	if len(documentIDs) > 0 {
		should := make([]*qdrant.Condition, 0, len(documentIDs))
		for _, id := range documentIDs {
			should = append(should, qdrant.NewMatch(payloadDocumentField, id))
		}
		filter = &qdrant.Filter{Should: should}
	}

	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionName(memoryID),
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperr.DependencyFailuref("vectorstore", err, "similarity search in memory %q", memoryID)
	}

	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		metadata := make(map[string]string)
		var chunkID, documentID string
		if h.Payload != nil {
			for k, v := range h.Payload {
				switch k {
				case payloadChunkField:
					chunkID = v.GetStringValue()
				case payloadDocumentField:
					documentID = v.GetStringValue()
					metadata[k] = documentID
				default:
					metadata[k] = v.GetStringValue()
				}
			}
		}
		if chunkID == "" {
			chunkID = h.Id.GetUuid()
		}
		out = append(out, Hit{
			ChunkID:    chunkID,
			DocumentID: documentID,
			Score:      float64(h.Score),
			Metadata:   metadata,
		})
	}
	return out, nil
}

// scrollPageSize bounds a single Scroll call; collections larger than this
// are paged by re-issuing Scroll with the last returned point as offset.
const scrollPageSize = 512

// ScrollByMemory pages through the memory's full collection via Qdrant's
// Scroll API, returning every point with its vector for backup dump/restore.
func (s *Store) ScrollByMemory(ctx context.Context, memoryID string) ([]Record, error) {
	name := collectionName(memoryID)
	var out []Record
	var offset *qdrant.PointId
	limit := uint32(scrollPageSize)
	for {
		req := &qdrant.ScrollPoints{
			CollectionName: name,
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		}
		if offset != nil {
			req.Offset = offset
		}
		points, err := s.client.Scroll(ctx, req)
		if err != nil {
			return nil, apperr.DependencyFailuref("vectorstore", err, "scroll collection %q", name)
		}
		for _, p := range points {
			metadata := make(map[string]string)
			var chunkID, documentID string
			if p.Payload != nil {
				for k, v := range p.Payload {
					switch k {
					case payloadChunkField:
						chunkID = v.GetStringValue()
					case payloadDocumentField:
						documentID = v.GetStringValue()
						metadata[k] = documentID
					default:
						metadata[k] = v.GetStringValue()
					}
				}
			}
			if chunkID == "" {
				chunkID = p.Id.GetUuid()
			}
			var vec []float32
			if p.Vectors != nil && p.Vectors.GetVector() != nil {
				vec = p.Vectors.GetVector().GetData()
			}
			out = append(out, Record{ChunkID: chunkID, DocumentID: documentID, Vector: vec, Metadata: metadata})
		}
		if len(points) < scrollPageSize {
			break
		}
		offset = points[len(points)-1].Id
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

var _ VectorStore = (*Store)(nil)
