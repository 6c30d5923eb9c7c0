// Package lifecycle manages the long-term health of a tenant's memories:
// statistics aggregation, time/usage-based decay, and consolidation of
// near-duplicate records.
//
// Decay and consolidation are batch jobs over a single tenant. They are safe
// to run concurrently across different tenants but must be serialized per
// tenant; the Scheduler provides that serialization.
package lifecycle

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldkite/memstore-go/pkg/embedder"
	"github.com/fieldkite/memstore-go/pkg/storage"
)

// Defaults for the decay and consolidation policies. They are starting-point
// policy constants, not derived laws; override them per Manager.
const (
	DefaultMaxAgeDays          = 90
	DefaultMinAccessCount      = 1
	DefaultSimilarityThreshold = 0.92
	recentWindow               = 7 * 24 * time.Hour
)

// Stats summarizes a tenant's live memories.
type Stats struct {
	TotalMemories     int            `json:"total_memories"`
	ByType            map[string]int `json:"by_type"`
	ByScope           map[string]int `json:"by_scope"`
	AverageImportance float64        `json:"average_importance"`
	TotalAccessCount  int64          `json:"total_access_count"`
	MemoriesLast7Days int            `json:"memories_last_7_days"`
}

// DecayResult reports the outcome of a decay pass.
type DecayResult struct {
	// Affected is the number of records matching the decay conditions.
	Affected int `json:"affected"`

	// Deleted is the number actually soft-deleted (0 on a dry run).
	Deleted int `json:"deleted"`
}

// DecayOptions tune one decay pass.
type DecayOptions struct {
	// MaxAgeDays is the minimum age of a decayable record. Defaults to 90.
	MaxAgeDays int

	// MinAccessCount is the maximum access count of a decayable record.
	// Defaults to 1.
	MinAccessCount int64

	// DryRun reports the candidate count without mutating anything.
	DryRun bool
}

// ConsolidateResult reports the outcome of a consolidation pass.
type ConsolidateResult struct {
	// Consolidated is the number of clusters merged.
	Consolidated int `json:"consolidated"`

	// Deleted is the number of absorbed records soft-deleted.
	Deleted int `json:"deleted"`
}

// Manager runs statistics, decay, and consolidation for tenants.
type Manager struct {
	store     storage.Store
	embed     embedder.Provider // optional; refreshes survivor embeddings
	threshold float64
	log       zerolog.Logger
}

// NewManager creates a lifecycle manager over store.
//
// embed may be nil; when present, consolidation re-embeds each cluster
// survivor so that fallback-quality vectors get refreshed over time.
// threshold is the pairwise cosine similarity at which two memories are
// considered near-duplicates; 0 selects DefaultSimilarityThreshold.
func NewManager(store storage.Store, embed embedder.Provider, threshold float64, log zerolog.Logger) *Manager {
	if threshold == 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Manager{
		store:     store,
		embed:     embed,
		threshold: threshold,
		log:       log,
	}
}

// Statistics folds the tenant's live records into aggregate counters.
// It performs no mutation.
func (m *Manager) Statistics(ctx context.Context, companyID string) (*Stats, error) {
	records, err := m.store.ListLive(ctx, companyID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByType:  make(map[string]int),
		ByScope: make(map[string]int),
	}

	var importanceSum float64
	recentCutoff := time.Now().Add(-recentWindow)

	for _, rec := range records {
		stats.TotalMemories++
		stats.ByType[rec.MemoryType]++
		stats.ByScope[rec.Scope]++
		stats.TotalAccessCount += rec.AccessCount
		importanceSum += rec.Importance
		if rec.CreatedAt.After(recentCutoff) {
			stats.MemoriesLast7Days++
		}
	}

	if stats.TotalMemories > 0 {
		stats.AverageImportance = importanceSum / float64(stats.TotalMemories)
	}

	return stats, nil
}

// Decay soft-deletes records that are both old and rarely accessed.
//
// Both conditions are required: a frequently-accessed old memory is never
// decayed, and a rarely-accessed recent memory is never decayed. With
// opts.DryRun the candidate count is returned and nothing is mutated.
func (m *Manager) Decay(ctx context.Context, companyID string, opts *DecayOptions) (*DecayResult, error) {
	if opts == nil {
		opts = &DecayOptions{}
	}
	maxAgeDays := opts.MaxAgeDays
	if maxAgeDays == 0 {
		maxAgeDays = DefaultMaxAgeDays
	}
	minAccess := opts.MinAccessCount
	if minAccess == 0 {
		minAccess = DefaultMinAccessCount
	}

	records, err := m.store.ListLive(ctx, companyID)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	var candidates []int64
	for _, rec := range records {
		if rec.CreatedAt.Before(cutoff) && rec.AccessCount <= minAccess {
			candidates = append(candidates, rec.ID)
		}
	}

	if opts.DryRun {
		return &DecayResult{Affected: len(candidates)}, nil
	}

	deleted, err := m.store.SoftDeleteMany(ctx, companyID, candidates)
	if err != nil {
		return nil, err
	}

	m.log.Info().Str("company_id", companyID).Int("deleted", deleted).
		Int("max_age_days", maxAgeDays).Int64("min_access_count", minAccess).
		Msg("decayed stale memories")

	return &DecayResult{Affected: deleted, Deleted: deleted}, nil
}

// Consolidate merges near-duplicate live records within a tenant.
//
// Records whose pairwise cosine similarity meets the threshold and whose
// entity binding matches are clustered greedily. Within each cluster the
// record with the highest importance survives (ties broken by access count,
// then recency); the absorbed records' access counts are folded into the
// survivor and the rest are soft-deleted. The pass is idempotent: a second
// run with no intervening writes finds no further mergeable clusters,
// because every surviving pair already scored below the threshold.
func (m *Manager) Consolidate(ctx context.Context, companyID string) (*ConsolidateResult, error) {
	records, err := m.store.ListLive(ctx, companyID)
	if err != nil {
		return nil, err
	}

	// Survivor preference order: importance, then access count, then recency.
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Importance != records[j].Importance {
			return records[i].Importance > records[j].Importance
		}
		if records[i].AccessCount != records[j].AccessCount {
			return records[i].AccessCount > records[j].AccessCount
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	result := &ConsolidateResult{}
	absorbed := make(map[int64]bool)

	for i, survivor := range records {
		if absorbed[survivor.ID] {
			continue
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		var cluster []int64
		for _, candidate := range records[i+1:] {
			if absorbed[candidate.ID] {
				continue
			}
			if !sameEntity(survivor, candidate) {
				continue
			}
			if storage.CosineSimilarity(survivor.Embedding, candidate.Embedding) < m.threshold {
				continue
			}
			cluster = append(cluster, candidate.ID)
			absorbed[candidate.ID] = true
		}

		if len(cluster) == 0 {
			continue
		}

		if err := m.store.MergeAccess(ctx, companyID, survivor.ID, cluster); err != nil {
			return nil, err
		}
		result.Consolidated++
		result.Deleted += len(cluster)

		m.refreshEmbedding(ctx, companyID, survivor)
	}

	if result.Consolidated > 0 {
		m.log.Info().Str("company_id", companyID).
			Int("consolidated", result.Consolidated).Int("deleted", result.Deleted).
			Msg("consolidated near-duplicate memories")
	}

	return result, nil
}

// refreshEmbedding re-vectorizes the survivor's content. Best effort: a
// failure leaves the old embedding in place.
func (m *Manager) refreshEmbedding(ctx context.Context, companyID string, survivor *storage.Record) {
	if m.embed == nil {
		return
	}
	vec, err := m.embed.Embed(ctx, survivor.Content)
	if err != nil {
		m.log.Warn().Err(err).Int64("memory_id", survivor.ID).Msg("survivor re-embedding failed")
		return
	}
	if err := m.store.UpdateEmbedding(ctx, companyID, survivor.ID, vec); err != nil {
		m.log.Warn().Err(err).Int64("memory_id", survivor.ID).Msg("survivor embedding update failed")
	}
}

// sameEntity reports whether two records share the same entity binding,
// including the unbound case.
func sameEntity(a, b *storage.Record) bool {
	return a.EntityType == b.EntityType && a.EntityID == b.EntityID
}
