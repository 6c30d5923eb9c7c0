// Package mysql provides the MySQL memory store backend.
//
// MySQL has no native vector operations, so similarity is scored in process
// over the company's live rows, the same strategy as the SQLite backend.
// MySQL also lacks partial indexes; the live-uniqueness constraint is enforced
// through a generated column that is 1 for live rows and NULL for deleted
// ones, combined with a regular unique key (NULLs never collide).
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"

	"github.com/fieldkite/memstore-go/pkg/storage"
)

// Client implements storage.Store using MySQL as the backend.
type Client struct {
	db    *sql.DB
	table string
}

// Config contains MySQL configuration.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	TableName string
}

// NewClient connects to MySQL and ensures the memories table exists.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("mysql: ping: %w", err)
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
			embedding LONGTEXT NOT NULL,
			importance DOUBLE NOT NULL DEFAULT 0.5,
			access_count BIGINT NOT NULL DEFAULT 0,
			tags JSON,
			metadata JSON,
			created_at DATETIME(6) NOT NULL,
			last_accessed_at DATETIME(6),
			deleted_at DATETIME(6),
			live TINYINT GENERATED ALWAYS AS (IF(deleted_at IS NULL, 1, NULL)) STORED,
			UNIQUE KEY uq_%s_live_hash (company_id, content_hash, live),
			KEY idx_%s_entity (company_id, entity_type, entity_id)
		)
	`, c.table, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("mysql: init table: %w", err)
	}
	return nil
}

// Insert persists a new record, mapping a duplicate-key error on the live
// hash to storage.ErrDuplicateContent.
func (c *Client) Insert(ctx context.Context, rec *storage.Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	embeddingJSON, tagsJSON, metadataJSON, err := encodeJSONFields(rec)
	if err != nil {
		return fmt.Errorf("mysql: insert: %w", err)
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
		return fmt.Errorf("mysql: insert: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return storage.ErrDuplicateContent
		}
		return fmt.Errorf("mysql: insert: %w", err)
	}

	rec.CreatedAt = createdAt
	return nil
}

// Get returns the live record with the given id.
func (c *Client) Get(ctx context.Context, companyID string, id int64) (*storage.Record, error) {
	records, err := c.selectLive(ctx, storage.LiveConds(companyID, nil), sq.Eq{"id": id})
	if err != nil {
		return nil, fmt.Errorf("mysql: get: %w", err)
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
		return nil, fmt.Errorf("mysql: find by hash: %w", err)
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}
	return records[0], nil
}

// Search scores the company's live rows in process and ranks by similarity.
func (c *Client) Search(ctx context.Context, companyID string, embedding []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	records, err := c.selectLive(ctx, storage.LiveConds(companyID, opts))
	if err != nil {
		return nil, fmt.Errorf("mysql: search: %w", err)
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

// Scan is the lexical fallback with the same scoping filters as Search.
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
		return nil, fmt.Errorf("mysql: scan: %w", err)
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
		OrderBy("importance DESC", "created_at DESC")
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}

	records, err := c.runSelect(ctx, builder)
	if err != nil {
		return nil, fmt.Errorf("mysql: fetch by entity: %w", err)
	}
	return records, nil
}

// UpdateImportance persists a new importance for a live record.
func (c *Client) UpdateImportance(ctx context.Context, companyID string, id int64, importance float64) error {
	return c.updateLive(ctx, companyID, id, "importance", importance, "update importance")
}

// UpdateEmbedding replaces the stored embedding of a live record.
func (c *Client) UpdateEmbedding(ctx context.Context, companyID string, id int64, embedding []float64) error {
	encoded, err := encodeVector(embedding)
	if err != nil {
		return fmt.Errorf("mysql: update embedding: %w", err)
	}
	return c.updateLive(ctx, companyID, id, "embedding", encoded, "update embedding")
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
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("mysql: soft delete: %w", err)
	}

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mysql: soft delete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysql: soft delete: %w", err)
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
		ToSql()
	if err != nil {
		return fmt.Errorf("mysql: bump access: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mysql: bump access: %w", err)
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
		return fmt.Errorf("mysql: merge access: %w", err)
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
		return fmt.Errorf("mysql: merge access: %w", err)
	}

	var total int64
	if err := tx.QueryRowContext(ctx, sumQuery, sumArgs...).Scan(&total); err != nil {
		return fmt.Errorf("mysql: merge access: %w", err)
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
		return fmt.Errorf("mysql: merge access: %w", err)
	}
	if _, err := tx.ExecContext(ctx, bumpQuery, bumpArgs...); err != nil {
		return fmt.Errorf("mysql: merge access: %w", err)
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
		return fmt.Errorf("mysql: merge access: %w", err)
	}
	if _, err := tx.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return fmt.Errorf("mysql: merge access: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql: merge access: %w", err)
	}
	return nil
}

// ListLive returns every live record for the company.
func (c *Client) ListLive(ctx context.Context, companyID string) ([]*storage.Record, error) {
	records, err := c.selectLive(ctx, storage.LiveConds(companyID, nil))
	if err != nil {
		return nil, fmt.Errorf("mysql: list live: %w", err)
	}
	return records, nil
}

// Companies lists the distinct company ids with at least one live record.
func (c *Client) Companies(ctx context.Context) ([]string, error) {
	query, args, err := sq.Select("DISTINCT company_id").From(c.table).
		Where(sq.Eq{"deleted_at": nil}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("mysql: companies: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mysql: companies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var companies []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("mysql: companies: %w", err)
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
		ToSql()
	if err != nil {
		return fmt.Errorf("mysql: %s: %w", op, err)
	}

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mysql: %s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mysql: %s: %w", op, err)
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
