package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// FakeEmbedder produces deterministic hash-based vectors for tests,
// grounded on the teacher's deterministicEmbedder (rag/embedder/embedder.go):
// 3-gram hashing into a fixed-width vector, L2-normalized.
type FakeEmbedder struct {
	dim int
}

func NewFake(dim int) *FakeEmbedder {
	if dim <= 0 {
		dim = 32
	}
	return &FakeEmbedder{dim: dim}
}

func (f *FakeEmbedder) Name() string   { return "deterministic" }
func (f *FakeEmbedder) Dimension() int { return f.dim }

func (f *FakeEmbedder) Ping(_ context.Context) error { return nil }

func (f *FakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.embed(text)
	}
	return out, nil
}

func (f *FakeEmbedder) embed(text string) []float32 {
	v := make([]float32, f.dim)
	words := strings.Fields(strings.ToLower(text))
	for i := 0; i < len(words); i++ {
		end := i + 3
		if end > len(words) {
			end = len(words)
		}
		gram := strings.Join(words[i:end], " ")
		addHash(v, gram, 1.0)
	}
	normalize(v)
	return v
}

func addHash(v []float32, gram string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(gram))
	idx := int(h.Sum64() % uint64(len(v)))
	v[idx] += float32(weight)
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}

var _ Embedder = (*FakeEmbedder)(nil)
