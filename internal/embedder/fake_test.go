package embedder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"graphmemory/internal/apperr"
)

func TestFakeEmbedderDeterministic(t *testing.T) {
	f := NewFake(16)
	ctx := context.Background()

	a, err := f.EmbedBatch(ctx, []string{"graph memory service"})
	require.NoError(t, err)
	b, err := f.EmbedBatch(ctx, []string{"graph memory service"})
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Len(t, a[0], 16)
}

func TestFakeEmbedderDistinctText(t *testing.T) {
	f := NewFake(16)
	ctx := context.Background()

	out, err := f.EmbedBatch(ctx, []string{"alpha entity", "beta relation"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.NotEqual(t, out[0], out[1])
}

func TestFakeEmbedderEmptyText(t *testing.T) {
	f := NewFake(8)
	out, err := f.EmbedBatch(context.Background(), []string{""})
	require.NoError(t, err)
	require.Len(t, out[0], 8)
	for _, x := range out[0] {
		require.Equal(t, float32(0), x)
	}
}

func TestFakeEmbedderDimension(t *testing.T) {
	f := NewFake(64)
	require.Equal(t, 64, f.Dimension())

	def := NewFake(0)
	require.Equal(t, 32, def.Dimension())
}

func TestJitteredBackoffBounded(t *testing.T) {
	for attempt := 1; attempt <= 6; attempt++ {
		d := jitteredBackoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, maxBackoff)
	}
}

func TestIsRetryableDependencyFailure(t *testing.T) {
	require.True(t, isRetryable(apperr.DependencyFailuref("embedder", nil, "boom")))
	require.False(t, isRetryable(apperr.InvalidArgumentf("bad input")))
}
