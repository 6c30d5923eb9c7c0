// Package postgres provides the PostgreSQL memory store backend.
//
// When the pgvector extension is available, similarity search runs in SQL with
// the <=> cosine-distance operator. When the extension cannot be provisioned,
// the backend still persists embeddings (as text) but reports
// storage.ErrVectorSearchUnavailable from Search, which routes callers onto
// the lexical fallback path.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/fieldkite/memstore-go/pkg/storage"
)

// Client implements storage.Store using PostgreSQL as the backend.
type Client struct {
	db         *sql.DB
	table      string
	dimensions int
	hasVector  bool
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	TableName  string
	Dimensions int
	SSLMode    string
}

// NewClient connects to PostgreSQL, provisions the pgvector extension when
// possible, and ensures the memories table and its indexes exist.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	table := cfg.TableName
	if table == "" {
		table = "memories"
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	client := &Client{db: db, table: table, dimensions: dimensions}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	// A failed extension create is not fatal: the deployment simply has no
	// similarity index and Search degrades to the lexical fallback.
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err == nil {
		c.hasVector = true
	}

	embeddingType := "TEXT"
	if c.hasVector {
		embeddingType = fmt.Sprintf("vector(%d)", c.dimensions)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			company_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			content_hash VARCHAR(64) NOT NULL,
			memory_type VARCHAR(64) NOT NULL DEFAULT 'interaction',
			scope VARCHAR(32) NOT NULL DEFAULT 'company',
			entity_type VARCHAR(64) NOT NULL DEFAULT '',
			entity_id VARCHAR(255) NOT NULL DEFAULT '',
			source_message_id VARCHAR(255) NOT NULL DEFAULT '',
			source_chat_id VARCHAR(255) NOT NULL DEFAULT '',
			embedding %s NOT NULL,
			importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			access_count BIGINT NOT NULL DEFAULT 0,
			tags JSONB,
			metadata JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_accessed_at TIMESTAMP,
			deleted_at TIMESTAMP
		)
	`, c.table, embeddingType)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgres: init table: %w", err)
	}

	liveIdx := fmt.Sprintf(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_live_hash
		ON %s(company_id, content_hash) WHERE deleted_at IS NULL
	`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, liveIdx); err != nil {
		return fmt.Errorf("postgres: init index: %w", err)
	}

	entityIdx := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_entity
		ON %s(company_id, entity_type, entity_id)
	`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, entityIdx); err != nil {
		return fmt.Errorf("postgres: init index: %w", err)
	}

	if c.hasVector {
		vectorIdx := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_embedding
			ON %s USING hnsw (embedding vector_cosine_ops)
		`, c.table, c.table)
		// HNSW needs pgvector >= 0.5; older servers just skip the index.
		_, _ = c.db.ExecContext(ctx, vectorIdx)
	}

	return nil
}

// Insert persists a new record, mapping a live-hash uniqueness violation to
// storage.ErrDuplicateContent.
func (c *Client) Insert(ctx context.Context, rec *storage.Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tagsJSON, metadataJSON, err := encodeJSONFields(rec)
	if err != nil {
		return fmt.Errorf("postgres: insert: %w", err)
	}

	builder := sq.Insert(c.table).
		Columns("id", "company_id", "user_id", "content", "content_hash",
			"memory_type", "scope", "entity_type", "entity_id",
			"source_message_id", "source_chat_id", "embedding",
			"importance", "access_count", "tags", "metadata",
			"created_at", "last_accessed_at").
		Values(rec.ID, rec.CompanyID, rec.UserID, rec.Content, rec.ContentHash,
			rec.MemoryType, rec.Scope, rec.EntityType, rec.EntityID,
			rec.SourceMessageID, rec.SourceChatID, vectorToString(rec.Embedding),
			rec.Importance, rec.AccessCount, tagsJSON, metadataJSON,
			createdAt, rec.LastAccessedAt).
		PlaceholderFormat(sq.Dollar)

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("postgres: insert: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return storage.ErrDuplicateContent
		}
		return fmt.Errorf("postgres: insert: %w", err)
	}

	rec.CreatedAt = createdAt
	return nil
}

// Get returns the live record with the given id.
func (c *Client) Get(ctx context.Context, companyID string, id int64) (*storage.Record, error) {
	records, err := c.selectLive(ctx, storage.LiveConds(companyID, nil), sq.Eq{"id": id})
	if err != nil {
		return nil, fmt.Errorf("postgres: get: %w", err)
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
		return nil, fmt.Errorf("postgres: find by hash: %w", err)
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}
	return records[0], nil
}

// Search runs a cosine similarity query through pgvector. Without the
// extension it returns storage.ErrVectorSearchUnavailable.
func (c *Client) Search(ctx context.Context, companyID string, embedding []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	if !c.hasVector {
		return nil, storage.ErrVectorSearchUnavailable
	}
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	vectorStr := vectorToString(embedding)
	conds := storage.LiveConds(companyID, opts)
	conds = append(conds, sq.Expr("1 - (embedding <=> ?::vector) >= ?", vectorStr, opts.MinSimilarity))

	builder := sq.Select(storage.Columns...).
		Column(sq.Alias(sq.Expr("1 - (embedding <=> ?::vector)", vectorStr), "similarity")).
		From(c.table).
		Where(conds).
		OrderBy("similarity DESC", "created_at DESC").
		PlaceholderFormat(sq.Dollar)
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows, true)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Scan is the lexical fallback with the same scoping filters as Search.
func (c *Client) Scan(ctx context.Context, companyID, term string, opts *storage.SearchOptions) ([]*storage.Record, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	conds := storage.LiveConds(companyID, opts)
	conds = append(conds, sq.Expr("content ILIKE ?", "%"+term+"%"))

	builder := sq.Select(storage.Columns...).From(c.table).Where(conds).
		OrderBy("importance DESC", "created_at DESC").
		PlaceholderFormat(sq.Dollar)
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}

	records, err := c.runSelect(ctx, builder)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan: %w", err)
	}
	return records, nil
}

// FetchByEntity returns live records bound to a business object.
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
		OrderBy("importance DESC", "created_at DESC").
		PlaceholderFormat(sq.Dollar)
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}

	records, err := c.runSelect(ctx, builder)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch by entity: %w", err)
	}
	return records, nil
}

// UpdateImportance persists a new importance for a live record.
func (c *Client) UpdateImportance(ctx context.Context, companyID string, id int64, importance float64) error {
	return c.updateLive(ctx, companyID, id, "importance", importance, "update importance")
}

// UpdateEmbedding replaces the stored embedding of a live record.
func (c *Client) UpdateEmbedding(ctx context.Context, companyID string, id int64, embedding []float64) error {
	return c.updateLive(ctx, companyID, id, "embedding", vectorToString(embedding), "update embedding")
}

// SoftDelete marks the record deleted and reports whether a live row was found.
func (c *Client) SoftDelete(ctx context.Context, companyID string, id int64) (bool, error) {
	n, err := c.SoftDeleteMany(ctx, companyID, []int64{id})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SoftDeleteMany marks the given records deleted.
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
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("postgres: soft delete: %w", err)
	}

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: soft delete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: soft delete: %w", err)
	}
	return int(affected), nil
}

// BumpAccess increments access counters for the given ids.
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
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: bump access: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: bump access: %w", err)
	}
	return nil
}

// MergeAccess folds absorbed access counts into the survivor and soft-deletes
// the absorbed records in one transaction.
func (c *Client) MergeAccess(ctx context.Context, companyID string, survivorID int64, absorbedIDs []int64) error {
	if len(absorbedIDs) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: merge access: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sumQuery, sumArgs, err := sq.Select("COALESCE(SUM(access_count), 0)").
		From(c.table).
		Where(sq.And{
			sq.Eq{"company_id": companyID},
			sq.Eq{"id": absorbedIDs},
			sq.Eq{"deleted_at": nil},
		}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: merge access: %w", err)
	}

	var total int64
	if err := tx.QueryRowContext(ctx, sumQuery, sumArgs...).Scan(&total); err != nil {
		return fmt.Errorf("postgres: merge access: %w", err)
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
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: merge access: %w", err)
	}
	if _, err := tx.ExecContext(ctx, bumpQuery, bumpArgs...); err != nil {
		return fmt.Errorf("postgres: merge access: %w", err)
	}

	delQuery, delArgs, err := sq.Update(c.table).
		Set("deleted_at", now).
		Where(sq.And{
			sq.Eq{"company_id": companyID},
			sq.Eq{"id": absorbedIDs},
			sq.Eq{"deleted_at": nil},
		}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: merge access: %w", err)
	}
	if _, err := tx.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return fmt.Errorf("postgres: merge access: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: merge access: %w", err)
	}
	return nil
}

// ListLive returns every live record for the company.
func (c *Client) ListLive(ctx context.Context, companyID string) ([]*storage.Record, error) {
	records, err := c.selectLive(ctx, storage.LiveConds(companyID, nil))
	if err != nil {
		return nil, fmt.Errorf("postgres: list live: %w", err)
	}
	return records, nil
}

// Companies lists the distinct company ids with at least one live record.
func (c *Client) Companies(ctx context.Context) ([]string, error) {
	query, args, err := sq.Select("DISTINCT company_id").From(c.table).
		Where(sq.Eq{"deleted_at": nil}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: companies: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: companies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var companies []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: companies: %w", err)
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

func (c *Client) updateLive(ctx context.Context, companyID string, id int64, column string, value interface{}, op string) error {
	query, args, err := sq.Update(c.table).
		Set(column, value).
		Where(sq.And{
			sq.Eq{"company_id": companyID},
			sq.Eq{"id": id},
			sq.Eq{"deleted_at": nil},
		}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: %s: %w", op, err)
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
	builder := sq.Select(storage.Columns...).From(c.table).Where(conds).
		PlaceholderFormat(sq.Dollar)
	return c.runSelect(ctx, builder)
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
		rec, err := scanRecord(rows, false)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
