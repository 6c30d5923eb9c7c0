package core

import "github.com/fieldkite/memstore-go/pkg/storage"

// toMemory converts a storage record to the public Memory type.
//
// The embedding is deliberately not exposed: it is an implementation detail
// of retrieval, and at deployment dimensions it dominates the payload size.
func toMemory(rec *storage.Record) *Memory {
	if rec == nil {
		return nil
	}
	return &Memory{
		ID:              rec.ID,
		CompanyID:       rec.CompanyID,
		UserID:          rec.UserID,
		Content:         rec.Content,
		ContentHash:     rec.ContentHash,
		MemoryType:      rec.MemoryType,
		Scope:           rec.Scope,
		EntityType:      rec.EntityType,
		EntityID:        rec.EntityID,
		SourceMessageID: rec.SourceMessageID,
		SourceChatID:    rec.SourceChatID,
		Importance:      rec.Importance,
		AccessCount:     rec.AccessCount,
		Tags:            rec.Tags,
		Metadata:        rec.Metadata,
		CreatedAt:       rec.CreatedAt,
		LastAccessedAt:  rec.LastAccessedAt,
	}
}

// toMemories converts a slice of storage records.
func toMemories(records []*storage.Record) []*Memory {
	memories := make([]*Memory, 0, len(records))
	for _, rec := range records {
		memories = append(memories, toMemory(rec))
	}
	return memories
}

// toMatches converts search results, carrying each record's similarity.
func toMatches(records []*storage.Record) []*Match {
	matches := make([]*Match, 0, len(records))
	for _, rec := range records {
		matches = append(matches, &Match{
			Memory:     toMemory(rec),
			Similarity: rec.Similarity,
		})
	}
	return matches
}

// clampImportance bounds an importance score to [0, 1].
func clampImportance(importance float64) float64 {
	if importance < 0 {
		return 0
	}
	if importance > 1 {
		return 1
	}
	return importance
}
