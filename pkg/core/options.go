package core

import "github.com/rs/zerolog"

// ClientOption configures a Client at construction time.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger *zerolog.Logger
}

// WithLogger sets the structured logger used by the client. By default the
// client logs nothing.
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	client, _ := core.NewClient(config, core.WithLogger(logger))
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(opts *clientOptions) {
		opts.logger = &logger
	}
}

// StoreOption is a function type for configuring StoreMemory operations.
//
// Options are applied using the functional options pattern, allowing flexible
// configuration without requiring all parameters.
type StoreOption func(*StoreOptions)

// StoreOptions contains configuration options for StoreMemory operations.
type StoreOptions struct {
	// UserID identifies the user who owns this memory. Empty means
	// tenant-wide.
	UserID string

	// MemoryType specifies the type of memory. Defaults to
	// MemoryTypeInteraction.
	MemoryType string

	// Scope defines the visibility scope of the memory. Defaults to
	// ScopeCompany, or ScopeUser when UserID is set.
	Scope string

	// EntityType and EntityID bind the memory to a business object.
	EntityType string
	EntityID   string

	// SourceMessageID and SourceChatID record conversational provenance.
	SourceMessageID string
	SourceChatID    string

	// Importance is the initial importance in [0, 1]. Defaults to 0.5.
	Importance *float64

	// Tags contains free-form labels for the memory.
	Tags []string

	// Metadata contains additional metadata about the memory.
	Metadata map[string]interface{}
}

// WithUserID sets the user ID for StoreMemory operations.
func WithUserID(userID string) StoreOption {
	return func(opts *StoreOptions) {
		opts.UserID = userID
	}
}

// WithMemoryType sets the memory type for StoreMemory operations.
func WithMemoryType(memoryType string) StoreOption {
	return func(opts *StoreOptions) {
		opts.MemoryType = memoryType
	}
}

// WithScope sets the visibility scope for StoreMemory operations.
func WithScope(scope string) StoreOption {
	return func(opts *StoreOptions) {
		opts.Scope = scope
	}
}

// WithEntity binds the memory to a business object.
//
// Example:
//
//	memory, _ := client.StoreMemory(ctx, companyID, "gate code is 4521",
//	    core.WithEntity("customer", "cust_042"))
func WithEntity(entityType, entityID string) StoreOption {
	return func(opts *StoreOptions) {
		opts.EntityType = entityType
		opts.EntityID = entityID
	}
}

// WithSource records the conversational provenance of the memory.
func WithSource(chatID, messageID string) StoreOption {
	return func(opts *StoreOptions) {
		opts.SourceChatID = chatID
		opts.SourceMessageID = messageID
	}
}

// WithImportance sets the initial importance for StoreMemory operations.
// Values outside [0, 1] are clamped.
func WithImportance(importance float64) StoreOption {
	return func(opts *StoreOptions) {
		opts.Importance = &importance
	}
}

// WithTags sets free-form labels for StoreMemory operations.
func WithTags(tags ...string) StoreOption {
	return func(opts *StoreOptions) {
		opts.Tags = tags
	}
}

// WithMetadata sets additional metadata for StoreMemory operations.
func WithMetadata(metadata map[string]interface{}) StoreOption {
	return func(opts *StoreOptions) {
		opts.Metadata = metadata
	}
}

// SearchOption is a function type for configuring SearchMemories operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for SearchMemories operations.
type SearchOptions struct {
	// UserID restricts results to that user's memories plus tenant-wide
	// memories. Another user's private memories are never returned.
	UserID string

	// Scope restricts results to memories with that scope tag.
	Scope string

	// MemoryTypes restricts results to those types.
	MemoryTypes []string

	// EntityType and EntityID restrict results to memories bound to that
	// business object.
	EntityType string
	EntityID   string

	// Limit bounds the number of results. Defaults to DefaultSearchLimit.
	Limit int

	// MinSimilarity overrides the configured similarity floor.
	MinSimilarity *float64
}

// WithUserIDForSearch sets the user ID filter for SearchMemories operations.
func WithUserIDForSearch(userID string) SearchOption {
	return func(opts *SearchOptions) {
		opts.UserID = userID
	}
}

// WithScopeForSearch sets the scope filter for SearchMemories operations.
func WithScopeForSearch(scope string) SearchOption {
	return func(opts *SearchOptions) {
		opts.Scope = scope
	}
}

// WithMemoryTypes restricts SearchMemories results to the given types.
func WithMemoryTypes(memoryTypes ...string) SearchOption {
	return func(opts *SearchOptions) {
		opts.MemoryTypes = memoryTypes
	}
}

// WithEntityForSearch restricts SearchMemories results to memories bound to
// the given business object.
func WithEntityForSearch(entityType, entityID string) SearchOption {
	return func(opts *SearchOptions) {
		opts.EntityType = entityType
		opts.EntityID = entityID
	}
}

// WithLimit bounds the number of SearchMemories results.
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithMinSimilarity overrides the configured similarity floor for one search.
func WithMinSimilarity(minSimilarity float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MinSimilarity = &minSimilarity
	}
}

// EntityOption is a function type for configuring GetEntityMemories
// operations.
type EntityOption func(*EntityOptions)

// EntityOptions contains configuration options for GetEntityMemories
// operations.
type EntityOptions struct {
	// MemoryTypes restricts results to those types.
	MemoryTypes []string

	// Limit bounds the number of results. Defaults to DefaultEntityLimit.
	Limit int
}

// WithMemoryTypesForEntity restricts GetEntityMemories results to the given
// types.
func WithMemoryTypesForEntity(memoryTypes ...string) EntityOption {
	return func(opts *EntityOptions) {
		opts.MemoryTypes = memoryTypes
	}
}

// WithLimitForEntity bounds the number of GetEntityMemories results.
func WithLimitForEntity(limit int) EntityOption {
	return func(opts *EntityOptions) {
		opts.Limit = limit
	}
}

// DecayOption is a function type for configuring DecayOldMemories operations.
type DecayOption func(*DecayOptions)

// DecayOptions contains configuration options for DecayOldMemories
// operations.
type DecayOptions struct {
	// MaxAgeDays overrides the configured minimum age of a decayable memory.
	MaxAgeDays int

	// MinAccessCount overrides the configured maximum access count of a
	// decayable memory.
	MinAccessCount int64

	// DryRun reports the candidate count without deleting anything.
	DryRun bool
}

// WithMaxAgeDays overrides the minimum age of a decayable memory.
func WithMaxAgeDays(days int) DecayOption {
	return func(opts *DecayOptions) {
		opts.MaxAgeDays = days
	}
}

// WithMinAccessCount overrides the maximum access count of a decayable
// memory.
func WithMinAccessCount(count int64) DecayOption {
	return func(opts *DecayOptions) {
		opts.MinAccessCount = count
	}
}

// WithDryRun makes DecayOldMemories report candidates without deleting.
//
// Example:
//
//	result, _ := client.DecayOldMemories(ctx, companyID, core.WithDryRun())
//	fmt.Printf("%d memories would be decayed\n", result.Affected)
func WithDryRun() DecayOption {
	return func(opts *DecayOptions) {
		opts.DryRun = true
	}
}
