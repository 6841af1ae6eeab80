// Package embedder produces chunk embedding vectors for the ingestion
// pipeline (spec §4.6), grounded on internal/rag/embedder/embedder.go's
// Embedder interface, backed by the OpenAI-compatible embeddings endpoint
// instead of the teacher's raw HTTP client, with bounded concurrency via
// golang.org/x/sync/semaphore in place of the teacher's single-mutex rate
// limiter, and jittered exponential backoff on 429/5xx per spec.
package embedder

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"golang.org/x/sync/semaphore"

	"graphmemory/internal/apperr"
)

// Embedder converts text to embedding vectors, mirroring the teacher's
// rag/embedder.Embedder surface.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
	Ping(ctx context.Context) error
}

const (
	defaultBatchSize  = 32
	maxConcurrentReqs = 4
	maxRetries        = 5
	baseBackoff       = 250 * time.Millisecond
	maxBackoff        = 8 * time.Second
)

// Client is the OpenAI-compatible embeddings client.
type Client struct {
	sdk       sdk.Client
	model     string
	dim       int
	batchSize int
	sem       *semaphore.Weighted
}

func New(apiKey, baseURL, model string, dim int) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		sdk:       sdk.NewClient(opts...),
		model:     model,
		dim:       dim,
		batchSize: defaultBatchSize,
		sem:       semaphore.NewWeighted(maxConcurrentReqs),
	}
}

func (c *Client) Name() string   { return c.model }
func (c *Client) Dimension() int { return c.dim }

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.EmbedBatch(ctx, []string{"ping"})
	return err
}

// EmbedBatch splits texts into request-sized batches (default 32) and runs
// them with bounded concurrency, retrying transient failures with jittered
// exponential backoff up to maxRetries.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	type span struct{ start, end int }
	var spans []span
	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		spans = append(spans, span{i, end})
	}

	errs := make([]error, len(spans))
	var wg sync.WaitGroup
	for idx, sp := range spans {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, apperr.DependencyFailuref("embedder", err, "acquire embedding slot")
		}
		idx, sp := idx, sp
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.sem.Release(1)
			vecs, err := c.embedBatchWithRetry(ctx, texts[sp.start:sp.end])
			if err != nil {
				errs[idx] = err
				return
			}
			copy(out[sp.start:sp.end], vecs)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Client) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	nonEmpty := make([]string, 0, len(texts))
	idxMap := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			nonEmpty = append(nonEmpty, t)
			idxMap = append(idxMap, i)
		}
	}

	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, c.dim)
	}
	if len(nonEmpty) == 0 {
		return out, nil
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := jitteredBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		vecs, err := c.embedOnce(ctx, nonEmpty)
		if err == nil {
			for i, v := range vecs {
				out[idxMap[i]] = v
			}
			return out, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, apperr.DependencyFailuref("embedder", lastErr, "embedding retries exhausted")
}

func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(c.model),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, apperr.DependencyFailuref("embedder", err, "embed batch of %d", len(texts))
	}
	if len(resp.Data) != len(texts) {
		return nil, apperr.DependencyFailuref("embedder", nil, "embeddings response returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

func isRetryable(err error) bool {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Kind == apperr.DependencyFailure
	}
	return true
}

// jitteredBackoff returns an exponential delay with full jitter, capped at
// maxBackoff, matching the spec's "back-off on 429/5xx with jittered
// exponential delays" requirement.
func jitteredBackoff(attempt int) time.Duration {
	exp := float64(baseBackoff) * math.Pow(2, float64(attempt-1))
	if exp > float64(maxBackoff) {
		exp = float64(maxBackoff)
	}
	return time.Duration(rand.Float64() * exp)
}

var _ Embedder = (*Client)(nil)
