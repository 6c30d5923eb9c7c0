package offline_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldkite/memstore-go/pkg/embedder/offline"
)

func cosine(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func TestEmbed_Deterministic(t *testing.T) {
	c := offline.NewClient(0)
	ctx := context.Background()

	a, err := c.Embed(ctx, "customer prefers morning appointments")
	require.NoError(t, err)
	b, err := c.Embed(ctx, "customer prefers morning appointments")
	require.NoError(t, err)

	assert.Equal(t, a, b, "same text must yield bit-identical vectors")
}

func TestEmbed_Dimensions(t *testing.T) {
	c := offline.NewClient(0)

	vec, err := c.Embed(context.Background(), "anything")
	require.NoError(t, err)
	assert.Len(t, vec, offline.DefaultDimensions)
	assert.Equal(t, offline.DefaultDimensions, c.Dimensions())

	small := offline.NewClient(64)
	vec, err = small.Embed(context.Background(), "anything")
	require.NoError(t, err)
	assert.Len(t, vec, 64)
}

func TestEmbed_UnitLength(t *testing.T) {
	c := offline.NewClient(128)

	vec, err := c.Embed(context.Background(), "gate code is 4521")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-9)
}

func TestEmbed_DistinctTexts(t *testing.T) {
	c := offline.NewClient(256)
	ctx := context.Background()

	a, err := c.Embed(ctx, "gate code is 4521")
	require.NoError(t, err)
	b, err := c.Embed(ctx, "the customer called twice")
	require.NoError(t, err)

	assert.Less(t, cosine(a, b), 1.0, "different texts must not be identical vectors")
}

func TestEmbedBatch(t *testing.T) {
	c := offline.NewClient(64)
	ctx := context.Background()

	vecs, err := c.EmbedBatch(ctx, []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	single, err := c.Embed(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[0], "batch and single embedding must agree")
}
