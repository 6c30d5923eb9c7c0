package storage

import (
	"math"
	"sort"

	sq "github.com/Masterminds/squirrel"
)

// Columns is the persisted column set, in scan order. It is the compatibility
// contract shared by every backend.
var Columns = []string{
	"id", "company_id", "user_id", "content", "content_hash",
	"memory_type", "scope", "entity_type", "entity_id",
	"source_message_id", "source_chat_id", "embedding",
	"importance", "access_count", "tags", "metadata",
	"created_at", "last_accessed_at", "deleted_at",
}

// LiveConds builds the squirrel conditions selecting live records for a
// company, applying the optional search filters. Backends append these to
// their SELECT builders so the vector path and the lexical fallback share
// identical scoping.
func LiveConds(companyID string, opts *SearchOptions) sq.And {
	conds := sq.And{
		sq.Eq{"company_id": companyID},
		sq.Eq{"deleted_at": nil},
	}
	if opts == nil {
		return conds
	}
	if opts.UserID != "" {
		// A user sees their own memories plus tenant-wide ones; never another
		// user's private memories.
		conds = append(conds, sq.Eq{"user_id": []string{"", opts.UserID}})
	}
	if opts.Scope != "" {
		conds = append(conds, sq.Eq{"scope": opts.Scope})
	}
	if len(opts.MemoryTypes) > 0 {
		conds = append(conds, sq.Eq{"memory_type": opts.MemoryTypes})
	}
	if opts.EntityType != "" {
		conds = append(conds, sq.Eq{"entity_type": opts.EntityType})
	}
	if opts.EntityID != "" {
		conds = append(conds, sq.Eq{"entity_id": opts.EntityID})
	}
	return conds
}

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// The result ranges from -1 (opposite) to 1 (identical). Vectors of mismatched
// dimensions or zero norm score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankBySimilarity orders records by Similarity descending, ties broken by
// CreatedAt descending, and truncates to limit when limit > 0. Backends that
// score in process (SQLite, MySQL) use it after computing similarities.
func RankBySimilarity(records []*Record, limit int) []*Record {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Similarity != records[j].Similarity {
			return records[i].Similarity > records[j].Similarity
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
