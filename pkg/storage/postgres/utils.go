package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fieldkite/memstore-go/pkg/storage"
)

// vectorToString renders a vector in pgvector's text format: "[0.1,0.2,...]".
// The same format is used for the TEXT column on vectorless deployments.
func vectorToString(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVectorString parses pgvector's text format back into a slice.
func parseVectorString(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		vec[i] = v
	}
	return vec, nil
}

// scanRecord scans one row in storage.Columns order, optionally followed by a
// similarity column from the vector search query.
func scanRecord(rows *sql.Rows, hasSimilarity bool) (*storage.Record, error) {
	var (
		rec            storage.Record
		embeddingStr   string
		tagsRaw        []byte
		metadataRaw    []byte
		lastAccessedAt sql.NullTime
		deletedAt      sql.NullTime
		similarity     float64
	)

	dest := []interface{}{
		&rec.ID, &rec.CompanyID, &rec.UserID, &rec.Content, &rec.ContentHash,
		&rec.MemoryType, &rec.Scope, &rec.EntityType, &rec.EntityID,
		&rec.SourceMessageID, &rec.SourceChatID, &embeddingStr,
		&rec.Importance, &rec.AccessCount, &tagsRaw, &metadataRaw,
		&rec.CreatedAt, &lastAccessedAt, &deletedAt,
	}
	if hasSimilarity {
		dest = append(dest, &similarity)
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	embedding, err := parseVectorString(embeddingStr)
	if err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	rec.Embedding = embedding
	rec.Similarity = similarity

	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &rec.Tags); err != nil {
			return nil, fmt.Errorf("parse tags: %w", err)
		}
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	if lastAccessedAt.Valid {
		rec.LastAccessedAt = &lastAccessedAt.Time
	}
	if deletedAt.Valid {
		rec.DeletedAt = &deletedAt.Time
	}

	return &rec, nil
}

// encodeJSONFields serializes tags and metadata for the JSONB columns.
func encodeJSONFields(rec *storage.Record) (tags, metadata string, err error) {
	tagsData, err := json.Marshal(rec.Tags)
	if err != nil {
		return "", "", err
	}
	metadataData, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", "", err
	}
	return string(tagsData), string(metadataData), nil
}
