// Package offline provides a deterministic embedding provider that needs no
// network access.
//
// The vectors are derived from a cryptographic hash of the input text, so the
// same text always yields bit-identical vectors. They carry no semantic meaning,
// but they are stable, unit-length, and cheap — enough to keep deduplication and
// similarity plumbing working when no real provider is configured or reachable.
package offline

import (
	"context"
	"crypto/sha256"
	"math"
)

// DefaultDimensions matches the dimensionality of the default remote embedding
// model so offline and remote vectors are interchangeable at the storage layer.
const DefaultDimensions = 1536

// Client is a deterministic offline embedding provider.
// It implements the embedder.Provider interface.
type Client struct {
	dimensions int
}

// NewClient creates an offline embedder producing vectors of the given
// dimensionality. If dimensions is 0, DefaultDimensions is used.
func NewClient(dimensions int) *Client {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Client{dimensions: dimensions}
}

// Embed derives a pseudo-embedding from the SHA-256 digest of text.
//
// The digest bytes are expanded cyclically across the configured dimensions,
// modulated by a positional sinusoid so that repeated digest bytes do not
// produce correlated components, then normalized to unit length. The result is
// deterministic and the method never fails.
func (c *Client) Embed(_ context.Context, text string) ([]float64, error) {
	digest := sha256.Sum256([]byte(text))

	vec := make([]float64, c.dimensions)
	for i := range vec {
		b := float64(digest[i%len(digest)])
		// Map the byte into [-1, 1] and decorrelate by position.
		component := (b/255.0)*2.0 - 1.0
		phase := float64(i)*math.Pi/float64(c.dimensions) + b
		vec[i] = component * math.Sin(phase)
	}

	return normalize(vec), nil
}

// EmbedBatch embeds each text independently. It never fails.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vecs := make([][]float64, len(texts))
	for i, text := range texts {
		vec, _ := c.Embed(ctx, text)
		vecs[i] = vec
	}
	return vecs, nil
}

// Dimensions returns the configured vector dimensionality.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the offline embedder holds no resources.
func (c *Client) Close() error {
	return nil
}

// normalize scales v to unit length. A zero vector is returned unchanged.
func normalize(v []float64) []float64 {
	var sum float64
	for _, val := range v {
		sum += val * val
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] /= norm
	}
	return v
}
