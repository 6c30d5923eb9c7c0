// Package sqlite provides the SQLite memory store backend.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-node deployments. Vectors are stored as JSON strings in TEXT
// fields and similarity is computed in process over the live rows of the
// company being searched. The one-live-record-per-(company, content hash)
// invariant is enforced with a partial unique index.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/fieldkite/memstore-go/pkg/storage"
)

// Client implements storage.Store using SQLite as the backend.
type Client struct {
	db    *sql.DB
	table string
}

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TableName is the table holding memories. Defaults to "memories".
	TableName string
}

// NewClient opens (creating if needed) the SQLite database at cfg.DBPath and
// ensures the memories table and its indexes exist.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	table := cfg.TableName
	if table == "" {
		table = "memories"
	}

	client := &Client{db: db, table: table}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			company_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			memory_type TEXT NOT NULL DEFAULT 'interaction',
			scope TEXT NOT NULL DEFAULT 'company',
			entity_type TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL DEFAULT '',
			source_message_id TEXT NOT NULL DEFAULT '',
			source_chat_id TEXT NOT NULL DEFAULT '',
			embedding TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 0.5,
			access_count INTEGER NOT NULL DEFAULT 0,
			tags TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			last_accessed_at DATETIME,
			deleted_at DATETIME
		)
	`, c.table)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlite: init table: %w", err)
	}

	// Uniqueness among live rows only; soft-deleted duplicates may accumulate.
	liveIdx := fmt.Sprintf(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_live_hash
		ON %s(company_id, content_hash) WHERE deleted_at IS NULL
	`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, liveIdx); err != nil {
		return fmt.Errorf("sqlite: init index: %w", err)
	}

	entityIdx := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_entity
		ON %s(company_id, entity_type, entity_id)
	`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, entityIdx); err != nil {
		return fmt.Errorf("sqlite: init index: %w", err)
	}

	return nil
}

// Insert persists a new record.
//
// A unique-constraint violation on (company_id, content_hash) among live rows
// is reported as storage.ErrDuplicateContent so the caller can retry as an
// access bump against the winning row.
func (c *Client) Insert(ctx context.Context, rec *storage.Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	embeddingJSON, tagsJSON, metadataJSON, err := encodeJSONFields(rec)
	if err != nil {
		return fmt.Errorf("sqlite: insert: %w", err)
	}

	query, args, err := sq.Insert(c.table).
		Columns("id", "company_id", "user_id", "content", "content_hash",
			"memory_type", "scope", "entity_type", "entity_id",
			"source_message_id", "source_chat_id", "embedding",
			"importance", "access_count", "tags", "metadata",
			"created_at", "last_accessed_at").
		Values(rec.ID, rec.CompanyID, rec.UserID, rec.Content, rec.ContentHash,
			rec.MemoryType, rec.Scope, rec.EntityType, rec.EntityID,
			rec.SourceMessageID, rec.SourceChatID, embeddingJSON,
			rec.Importance, rec.AccessCount, tagsJSON, metadataJSON,
			createdAt, rec.LastAccessedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: insert: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return storage.ErrDuplicateContent
		}
		return fmt.Errorf("sqlite: insert: %w", err)
	}

	rec.CreatedAt = createdAt
	return nil
}

// Get returns the live record with the given id.
func (c *Client) Get(ctx context.Context, companyID string, id int64) (*storage.Record, error) {
	records, err := c.selectLive(ctx, storage.LiveConds(companyID, nil), sq.Eq{"id": id})
	if err != nil {
		return nil, fmt.Errorf("sqlite: get: %w", err)
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}
	return records[0], nil
}

// FindByHash returns the live record with the given content hash.
func (c *Client) FindByHash(ctx context.Context, companyID, contentHash string) (*storage.Record, error) {
	records, err := c.selectLive(ctx, storage.LiveConds(companyID, nil), sq.Eq{"content_hash": contentHash})
	if err != nil {
		return nil, fmt.Errorf("sqlite: find by hash: %w", err)
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}
	return records[0], nil
}

// Search performs similarity search by scoring the company's live rows in
// process, the same approach the backend uses for every vector operation:
// SQLite has no native vector index, so the "index" is always available.
func (c *Client) Search(ctx context.Context, companyID string, embedding []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	records, err := c.selectLive(ctx, storage.LiveConds(companyID, opts))
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}

	matched := records[:0]
	for _, rec := range records {
		rec.Similarity = storage.CosineSimilarity(embedding, rec.Embedding)
		if rec.Similarity < opts.MinSimilarity {
			continue
		}
		matched = append(matched, rec)
	}

	return storage.RankBySimilarity(matched, opts.Limit), nil
}

// Scan is the lexical fallback: substring match on content with the same
// scoping filters as Search, ordered by importance.
func (c *Client) Scan(ctx context.Context, companyID, term string, opts *storage.SearchOptions) ([]*storage.Record, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	conds := storage.LiveConds(companyID, opts)
	conds = append(conds, sq.Like{"content": "%" + term + "%"})

	builder := sq.Select(storage.Columns...).From(c.table).Where(conds).
		OrderBy("importance DESC", "created_at DESC")
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}

	records, err := c.runSelect(ctx, builder)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan: %w", err)
	}
	return records, nil
}

// FetchByEntity returns live records bound to a business object, ordered by
// importance descending.
func (c *Client) FetchByEntity(ctx context.Context, companyID, entityType, entityID string, opts *storage.EntityOptions) ([]*storage.Record, error) {
	if opts == nil {
		opts = &storage.EntityOptions{}
	}

	conds := storage.LiveConds(companyID, &storage.SearchOptions{
		EntityType:  entityType,
		EntityID:    entityID,
		MemoryTypes: opts.MemoryTypes,
	})

	builder := sq.Select(storage.Columns...).From(c.table).Where(conds).
		OrderBy("importance DESC", "created_at DESC")
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}

	records, err := c.runSelect(ctx, builder)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch by entity: %w", err)
	}
	return records, nil
}

// UpdateImportance persists a new importance for a live record.
func (c *Client) UpdateImportance(ctx context.Context, companyID string, id int64, importance float64) error {
	return c.updateLive(ctx, companyID, id, sq.Eq{"importance": importance}, "update importance")
}

// UpdateEmbedding replaces the stored embedding of a live record.
func (c *Client) UpdateEmbedding(ctx context.Context, companyID string, id int64, embedding []float64) error {
	encoded, err := encodeVector(embedding)
	if err != nil {
		return fmt.Errorf("sqlite: update embedding: %w", err)
	}
	return c.updateLive(ctx, companyID, id, sq.Eq{"embedding": encoded}, "update embedding")
}

// SoftDelete marks the record deleted and reports whether a live row was found.
func (c *Client) SoftDelete(ctx context.Context, companyID string, id int64) (bool, error) {
	n, err := c.SoftDeleteMany(ctx, companyID, []int64{id})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SoftDeleteMany marks the given records deleted, returning the live-row count
// actually updated.
func (c *Client) SoftDeleteMany(ctx context.Context, companyID string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sq.Update(c.table).
		Set("deleted_at", time.Now().UTC()).
		Where(sq.And{
			sq.Eq{"company_id": companyID},
			sq.Eq{"id": ids},
			sq.Eq{"deleted_at": nil},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("sqlite: soft delete: %w", err)
	}

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: soft delete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: soft delete: %w", err)
	}
	return int(affected), nil
}

// BumpAccess increments access counters and refreshes last-accessed time for
// the given ids. An empty id list is a no-op.
func (c *Client) BumpAccess(ctx context.Context, companyID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sq.Update(c.table).
		Set("access_count", sq.Expr("access_count + 1")).
		Set("last_accessed_at", time.Now().UTC()).
		Where(sq.And{
			sq.Eq{"company_id": companyID},
			sq.Eq{"id": ids},
			sq.Eq{"deleted_at": nil},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: bump access: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: bump access: %w", err)
	}
	return nil
}

// MergeAccess folds the absorbed records' access counts into the survivor and
// soft-deletes the absorbed records in one transaction.
func (c *Client) MergeAccess(ctx context.Context, companyID string, survivorID int64, absorbedIDs []int64) error {
	if len(absorbedIDs) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: merge access: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sumQuery, sumArgs, err := sq.Select("COALESCE(SUM(access_count), 0)").
		From(c.table).
		Where(sq.And{
			sq.Eq{"company_id": companyID},
			sq.Eq{"id": absorbedIDs},
			sq.Eq{"deleted_at": nil},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: merge access: %w", err)
	}

	var total int64
	if err := tx.QueryRowContext(ctx, sumQuery, sumArgs...).Scan(&total); err != nil {
		return fmt.Errorf("sqlite: merge access: %w", err)
	}

	now := time.Now().UTC()

	bumpQuery, bumpArgs, err := sq.Update(c.table).
		Set("access_count", sq.Expr("access_count + ?", total)).
		Set("last_accessed_at", now).
		Where(sq.And{
			sq.Eq{"company_id": companyID},
			sq.Eq{"id": survivorID},
			sq.Eq{"deleted_at": nil},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: merge access: %w", err)
	}
	if _, err := tx.ExecContext(ctx, bumpQuery, bumpArgs...); err != nil {
		return fmt.Errorf("sqlite: merge access: %w", err)
	}

	delQuery, delArgs, err := sq.Update(c.table).
		Set("deleted_at", now).
		Where(sq.And{
			sq.Eq{"company_id": companyID},
			sq.Eq{"id": absorbedIDs},
			sq.Eq{"deleted_at": nil},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: merge access: %w", err)
	}
	if _, err := tx.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return fmt.Errorf("sqlite: merge access: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: merge access: %w", err)
	}
	return nil
}

// ListLive returns every live record for the company.
func (c *Client) ListLive(ctx context.Context, companyID string) ([]*storage.Record, error) {
	records, err := c.selectLive(ctx, storage.LiveConds(companyID, nil))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list live: %w", err)
	}
	return records, nil
}

// Companies lists the distinct company ids with at least one live record.
func (c *Client) Companies(ctx context.Context) ([]string, error) {
	query, args, err := sq.Select("DISTINCT company_id").From(c.table).
		Where(sq.Eq{"deleted_at": nil}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: companies: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: companies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var companies []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: companies: %w", err)
		}
		companies = append(companies, id)
	}
	return companies, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Client) updateLive(ctx context.Context, companyID string, id int64, set sq.Eq, op string) error {
	builder := sq.Update(c.table)
	for col, val := range set {
		builder = builder.Set(col, val)
	}
	query, args, err := builder.
		Where(sq.And{
			sq.Eq{"company_id": companyID},
			sq.Eq{"id": id},
			sq.Eq{"deleted_at": nil},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) selectLive(ctx context.Context, conds sq.And, extra ...sq.Sqlizer) ([]*storage.Record, error) {
	for _, cond := range extra {
		conds = append(conds, cond)
	}
	return c.runSelect(ctx, sq.Select(storage.Columns...).From(c.table).Where(conds))
}

func (c *Client) runSelect(ctx context.Context, builder sq.SelectBuilder) ([]*storage.Record, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
