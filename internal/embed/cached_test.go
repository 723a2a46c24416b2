package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder records how many texts reached the inner embedder.
type countingEmbedder struct {
	inner Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls += len(texts)
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string                  { return c.inner.ModelName() }
func (c *countingEmbedder) Available(ctx context.Context) bool { return true }
func (c *countingEmbedder) Close() error                       { return c.inner.Close() }

func TestCachedEmbedder_Embed_ServesFromCache(t *testing.T) {
	counter := &countingEmbedder{inner: NewStaticEmbedder()}
	cached := NewCachedEmbedder(counter, 10)
	defer func() { _ = cached.Close() }()
	ctx := context.Background()

	first, err := cached.Embed(ctx, "invoice text")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "invoice text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, counter.calls)
}

func TestCachedEmbedder_EmbedBatch_ForwardsMissesOnly(t *testing.T) {
	counter := &countingEmbedder{inner: NewStaticEmbedder()}
	cached := NewCachedEmbedder(counter, 10)
	defer func() { _ = cached.Close() }()
	ctx := context.Background()

	_, err := cached.Embed(ctx, "warm")
	require.NoError(t, err)
	require.Equal(t, 1, counter.calls)

	vecs, err := cached.EmbedBatch(ctx, []string{"warm", "cold", "warm"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// Only "cold" reached the inner embedder
	assert.Equal(t, 2, counter.calls)
	assert.Equal(t, vecs[0], vecs[2])
}

func TestCachedEmbedder_Eviction(t *testing.T) {
	counter := &countingEmbedder{inner: NewStaticEmbedder()}
	cached := NewCachedEmbedder(counter, 1)
	defer func() { _ = cached.Close() }()
	ctx := context.Background()

	_, err := cached.Embed(ctx, "a")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "b")
	require.NoError(t, err)

	// "a" was evicted by "b" in a size-1 cache
	_, err = cached.Embed(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, counter.calls)
}

func TestCachedEmbedder_DelegatesMetadata(t *testing.T) {
	cached := NewCachedEmbedder(NewStaticEmbedder(), 10)
	defer func() { _ = cached.Close() }()

	assert.Equal(t, StaticDimensions, cached.Dimensions())
	assert.Equal(t, "static-hash-256", cached.ModelName())
}
