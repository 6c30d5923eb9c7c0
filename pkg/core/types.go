package core

import "time"

// Memory scopes describing intended visibility. The scope is a label, not an
// access control mechanism; retrieval filtering is driven by UserID.
const (
	// ScopeUser marks a memory intended for a single user.
	ScopeUser = "user"

	// ScopeCompany marks a tenant-wide memory.
	ScopeCompany = "company"
)

// Well-known memory types. The set is open: callers may define their own.
const (
	MemoryTypeInteraction = "interaction"
	MemoryTypeFact        = "fact"
	MemoryTypePreference  = "preference"
)

// Memory represents a single stored memory with its metadata.
//
// A memory belongs to exactly one company and optionally to one user within
// it. It may additionally be bound to a business entity (a customer, a job)
// through EntityType and EntityID.
type Memory struct {
	// ID is the unique identifier, immutable once assigned.
	ID int64 `json:"id"`

	// CompanyID is the owning tenant.
	CompanyID string `json:"company_id"`

	// UserID owns the memory within the tenant. Empty means tenant-wide.
	UserID string `json:"user_id,omitempty"`

	// Content is the memory text.
	Content string `json:"content"`

	// ContentHash is the deduplication fingerprint of Content.
	ContentHash string `json:"content_hash"`

	// MemoryType tags the memory ("interaction", "fact", ...).
	MemoryType string `json:"memory_type"`

	// Scope documents intended visibility (ScopeUser or ScopeCompany).
	Scope string `json:"scope"`

	// EntityType and EntityID optionally bind the memory to a business object.
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	// SourceMessageID and SourceChatID record conversational provenance.
	SourceMessageID string `json:"source_message_id,omitempty"`
	SourceChatID    string `json:"source_chat_id,omitempty"`

	// Importance is a relevance score in [0, 1].
	Importance float64 `json:"importance"`

	// AccessCount is the number of times the memory was stored again or
	// returned by retrieval. Monotonically non-decreasing.
	AccessCount int64 `json:"access_count"`

	// Tags is a set of free-form labels.
	Tags []string `json:"tags,omitempty"`

	// Metadata is an open key/value map of caller annotations.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// Match is one retrieval result: a memory plus its relevance score.
type Match struct {
	// Memory is the matched memory.
	Memory *Memory `json:"memory"`

	// Similarity is the cosine similarity to the query on the vector path.
	// On the lexical fallback path it is a synthetic score derived from the
	// memory's importance, so both paths rank comparably.
	Similarity float64 `json:"similarity"`
}

// MemoryInput is one item of a batch store request.
//
// Batch items are stored independently: one failing item does not abort the
// rest of the batch.
type MemoryInput struct {
	// Content is the memory text. Required.
	Content string `json:"content"`

	// UserID owns the memory within the tenant. Empty means tenant-wide.
	UserID string `json:"user_id,omitempty"`

	// MemoryType tags the memory. Defaults to MemoryTypeInteraction.
	MemoryType string `json:"memory_type,omitempty"`

	// Scope documents intended visibility. Defaults to ScopeCompany, or
	// ScopeUser when UserID is set.
	Scope string `json:"scope,omitempty"`

	// EntityType and EntityID optionally bind the memory to a business object.
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	// SourceMessageID and SourceChatID record conversational provenance.
	SourceMessageID string `json:"source_message_id,omitempty"`
	SourceChatID    string `json:"source_chat_id,omitempty"`

	// Importance is the initial importance in [0, 1]. Values outside the
	// range are clamped. Defaults to 0.5.
	Importance *float64 `json:"importance,omitempty"`

	// Tags is a set of free-form labels.
	Tags []string `json:"tags,omitempty"`

	// Metadata is an open key/value map of caller annotations.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
