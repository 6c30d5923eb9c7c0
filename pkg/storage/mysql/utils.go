package mysql

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fieldkite/memstore-go/pkg/storage"
)

// scanRecord scans one row in storage.Columns order.
func scanRecord(rows *sql.Rows) (*storage.Record, error) {
	var (
		rec            storage.Record
		embeddingStr   string
		tagsRaw        []byte
		metadataRaw    []byte
		lastAccessedAt sql.NullTime
		deletedAt      sql.NullTime
	)

	err := rows.Scan(
		&rec.ID, &rec.CompanyID, &rec.UserID, &rec.Content, &rec.ContentHash,
		&rec.MemoryType, &rec.Scope, &rec.EntityType, &rec.EntityID,
		&rec.SourceMessageID, &rec.SourceChatID, &embeddingStr,
		&rec.Importance, &rec.AccessCount, &tagsRaw, &metadataRaw,
		&rec.CreatedAt, &lastAccessedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(embeddingStr), &rec.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
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

func encodeVector(embedding []float64) (string, error) {
	data, err := json.Marshal(embedding)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// encodeJSONFields serializes the embedding, tags, and metadata of rec.
func encodeJSONFields(rec *storage.Record) (embedding, tags, metadata string, err error) {
	embedding, err = encodeVector(rec.Embedding)
	if err != nil {
		return "", "", "", err
	}
	tagsData, err := json.Marshal(rec.Tags)
	if err != nil {
		return "", "", "", err
	}
	metadataData, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", "", "", err
	}
	return embedding, string(tagsData), string(metadataData), nil
}
