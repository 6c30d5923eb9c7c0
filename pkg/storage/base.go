// Package storage provides interfaces and types for memory persistence backends.
//
// It defines the Store interface that all backends must satisfy, the persisted
// Record shape, and the sentinel errors backends use to report outcomes the
// caller is expected to recover from (duplicate content, missing rows, an
// unprovisioned vector index).
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by every backend.
var (
	// ErrNotFound indicates that no live record matched the given id or hash
	// within the tenant.
	ErrNotFound = errors.New("memory not found")

	// ErrDuplicateContent indicates that inserting a record would violate the
	// one-live-record-per-(company, content hash) constraint. Callers resolve
	// this by bumping the existing record instead; it is not a failure.
	ErrDuplicateContent = errors.New("duplicate memory content")

	// ErrVectorSearchUnavailable indicates that the backend cannot execute a
	// similarity query (vector index not provisioned). Callers fall back to a
	// lexical scan.
	ErrVectorSearchUnavailable = errors.New("vector search unavailable")
)

// Record is a persisted memory row.
//
// This type is defined in the storage package to avoid circular dependencies
// with the core package; it mirrors the public core.Memory structure. A record
// with a nil DeletedAt is "live"; soft-deleted records stay in the table for
// audit but are excluded from every retrieval, statistics, and decay path.
type Record struct {
	// ID is the unique identifier of the memory, immutable once assigned.
	ID int64

	// CompanyID is the owning tenant. Every operation is scoped to it.
	CompanyID string

	// UserID owns the memory within the tenant. Empty means tenant-wide.
	UserID string

	// Content is the stored text.
	Content string

	// ContentHash is the deduplication fingerprint of Content, unique among
	// live records within a company.
	ContentHash string

	// MemoryType tags the record ("interaction", "fact", ...). Open set.
	MemoryType string

	// Scope documents intended visibility: "user" or "company".
	Scope string

	// EntityType and EntityID optionally bind the memory to a business object
	// (a customer, a job). Empty when unbound.
	EntityType string
	EntityID   string

	// SourceMessageID and SourceChatID record conversational provenance.
	SourceMessageID string
	SourceChatID    string

	// Embedding is the vector representation of Content. Its length is a
	// deployment constant shared by all records.
	Embedding []float64

	// Importance is a score in [0, 1]. Writers clamp before persisting.
	Importance float64

	// AccessCount is monotonically non-decreasing.
	AccessCount int64

	// Tags is a set of free-form labels.
	Tags []string

	// Metadata is an open key/value map of caller annotations.
	Metadata map[string]interface{}

	CreatedAt      time.Time
	LastAccessedAt *time.Time
	DeletedAt      *time.Time

	// Similarity is populated by Search/Scan results only; it is not persisted.
	Similarity float64
}

// Live reports whether the record is not soft-deleted.
func (r *Record) Live() bool {
	return r.DeletedAt == nil
}

// SearchOptions scope and bound Search and Scan operations.
//
// The same filter set applies to both the vector path and the lexical fallback;
// only the matching/ranking strategy differs between the two.
type SearchOptions struct {
	// UserID, when set, restricts results to memories owned by that user plus
	// tenant-wide memories (empty UserID on the record). Another user's private
	// memories are never returned.
	UserID string

	// Scope, when set, restricts results to records with that scope tag.
	Scope string

	// MemoryTypes, when non-empty, restricts results to those types.
	MemoryTypes []string

	// EntityType and EntityID, when set, restrict results to memories bound to
	// that business object.
	EntityType string
	EntityID   string

	// Limit bounds the number of results.
	Limit int

	// MinSimilarity excludes vector results scoring below it. Ignored by Scan.
	MinSimilarity float64
}

// EntityOptions bound FetchByEntity operations.
type EntityOptions struct {
	// MemoryTypes, when non-empty, restricts results to those types.
	MemoryTypes []string

	// Limit bounds the number of results.
	Limit int
}

// Store defines the interface for memory persistence backends.
//
// All backends (SQLite, PostgreSQL, MySQL) must implement this interface.
// Every method that touches rows is scoped by companyID, and all read paths
// exclude soft-deleted records.
type Store interface {
	// Insert persists a new record. It returns ErrDuplicateContent when a live
	// record with the same (company, content hash) already exists, which the
	// caller resolves as an access bump against the existing row. The
	// uniqueness constraint, not application locking, arbitrates concurrent
	// inserts of identical content.
	Insert(ctx context.Context, rec *Record) error

	// Get returns the live record with the given id, or ErrNotFound.
	Get(ctx context.Context, companyID string, id int64) (*Record, error)

	// FindByHash returns the live record with the given content hash, or
	// ErrNotFound.
	FindByHash(ctx context.Context, companyID, contentHash string) (*Record, error)

	// Search returns up to opts.Limit live records nearest to embedding by
	// cosine similarity, filtered by opts and excluding results below
	// opts.MinSimilarity. Results carry Similarity and are ordered by it
	// descending, ties broken by CreatedAt descending. Returns
	// ErrVectorSearchUnavailable when the backend has no similarity support.
	Search(ctx context.Context, companyID string, embedding []float64, opts *SearchOptions) ([]*Record, error)

	// Scan is the lexical fallback: live records whose content contains term
	// as a substring, same filters as Search, ordered by importance descending
	// then CreatedAt descending.
	Scan(ctx context.Context, companyID, term string, opts *SearchOptions) ([]*Record, error)

	// FetchByEntity returns live records bound to the given business object,
	// ordered by importance descending, bounded by opts.Limit.
	FetchByEntity(ctx context.Context, companyID, entityType, entityID string, opts *EntityOptions) ([]*Record, error)

	// UpdateImportance persists a new importance for the live record, or
	// returns ErrNotFound. Callers clamp the value before calling.
	UpdateImportance(ctx context.Context, companyID string, id int64, importance float64) error

	// UpdateEmbedding replaces the stored embedding of a live record.
	// Used by consolidation to refresh a survivor's vector.
	UpdateEmbedding(ctx context.Context, companyID string, id int64, embedding []float64) error

	// SoftDelete marks the record deleted and reports whether a live row was
	// actually updated.
	SoftDelete(ctx context.Context, companyID string, id int64) (bool, error)

	// SoftDeleteMany marks the given records deleted and returns how many live
	// rows were updated.
	SoftDeleteMany(ctx context.Context, companyID string, ids []int64) (int, error)

	// BumpAccess increments access counters and refreshes last-accessed time
	// for the given ids in one scoped statement. An empty id list is a no-op.
	BumpAccess(ctx context.Context, companyID string, ids []int64) error

	// MergeAccess folds the access counts of the absorbed records into the
	// survivor and soft-deletes the absorbed records, atomically.
	MergeAccess(ctx context.Context, companyID string, survivorID int64, absorbedIDs []int64) error

	// ListLive returns every live record for the company, embeddings included.
	// Used by lifecycle statistics, decay selection, and consolidation.
	ListLive(ctx context.Context, companyID string) ([]*Record, error)

	// Companies lists the distinct company ids with at least one live record.
	Companies(ctx context.Context) ([]string, error)

	// Close closes the store and releases resources.
	Close() error
}
