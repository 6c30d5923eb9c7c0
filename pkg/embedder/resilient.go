package embedder

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fieldkite/memstore-go/pkg/embedder/offline"
)

// Resilient wraps a primary embedding provider with a deterministic offline
// fallback so that vectorization always succeeds in finite time.
//
// Provider errors are logged and swallowed: a single failure switches the call
// to the fallback immediately rather than retrying. Staleness of a memory's
// embedding is an acceptable degradation; consolidation refreshes survivor
// embeddings later.
type Resilient struct {
	primary  Provider // may be nil when no remote provider is configured
	fallback *offline.Client
	log      zerolog.Logger
}

// NewResilient creates a Resilient embedder around primary. A nil primary is
// valid and routes every call straight to the offline fallback.
func NewResilient(primary Provider, dimensions int, log zerolog.Logger) *Resilient {
	if primary != nil && dimensions == 0 {
		dimensions = primary.Dimensions()
	}
	return &Resilient{
		primary:  primary,
		fallback: offline.NewClient(dimensions),
		log:      log,
	}
}

// Embed vectorizes text. It never returns an error.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float64, error) {
	if r.primary != nil {
		vec, err := r.primary.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		r.log.Warn().Err(err).Msg("embedding provider degraded, using offline fallback")
	}
	return r.fallback.Embed(ctx, text)
}

// EmbedBatch vectorizes texts. A primary failure degrades the whole batch to
// the offline fallback; it never returns an error.
func (r *Resilient) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if r.primary != nil {
		vecs, err := r.primary.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		r.log.Warn().Err(err).Int("batch", len(texts)).Msg("embedding provider degraded, using offline fallback")
	}
	return r.fallback.EmbedBatch(ctx, texts)
}

// Dimensions returns the vector dimensionality shared by both paths.
func (r *Resilient) Dimensions() int {
	return r.fallback.Dimensions()
}

// Close closes the primary provider, if any.
func (r *Resilient) Close() error {
	if r.primary != nil {
		return r.primary.Close()
	}
	return nil
}
