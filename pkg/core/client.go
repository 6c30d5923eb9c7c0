package core

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"

	"github.com/fieldkite/memstore-go/pkg/embedder"
	openaiEmbedder "github.com/fieldkite/memstore-go/pkg/embedder/openai"
	"github.com/fieldkite/memstore-go/pkg/extraction"
	"github.com/fieldkite/memstore-go/pkg/fingerprint"
	"github.com/fieldkite/memstore-go/pkg/lifecycle"
	"github.com/fieldkite/memstore-go/pkg/storage"
	mysqlStore "github.com/fieldkite/memstore-go/pkg/storage/mysql"
	postgresStore "github.com/fieldkite/memstore-go/pkg/storage/postgres"
	sqliteStore "github.com/fieldkite/memstore-go/pkg/storage/sqlite"
)

// Client is the main memstore client for tenant-scoped memory management.
//
// It provides a complete interface for storing, retrieving, and managing
// memories with support for:
//   - Content-hash deduplication (re-storing known content bumps its access
//     count instead of creating a duplicate)
//   - Vector similarity search with a lexical fallback
//   - Entity-bound memories (customer notes, job notes)
//   - Conversational extraction via a pluggable policy
//   - Lifecycle maintenance: statistics, decay, consolidation
//
// Every operation is scoped to a company; no call can read or write another
// tenant's memories. The client is safe for concurrent use.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	memory, _ := client.StoreMemory(ctx, "company_001", "Gate code is 4521",
//	    core.WithMemoryType(core.MemoryTypeFact),
//	    core.WithEntity("customer", "cust_042"),
//	)
type Client struct {
	// config contains the client configuration.
	config *Config

	// store is the storage backend for memory persistence.
	store storage.Store

	// embedder generates content vectors. It degrades to a deterministic
	// offline vectorizer when the configured provider fails, so writes never
	// block on an external service.
	embedder *embedder.Resilient

	// policy extracts memory candidates from conversational turns.
	policy extraction.Policy

	// lifecycle runs statistics, decay, and consolidation.
	lifecycle *lifecycle.Manager

	// snowflakeNode generates unique IDs for memories.
	snowflakeNode *snowflake.Node

	// log is the structured logger. Defaults to a no-op logger.
	log zerolog.Logger
}

// NewClient creates a new memstore client.
//
// The client is initialized with:
//   - Storage backend (SQLite, PostgreSQL, or MySQL)
//   - Embedding provider (OpenAI, or the deterministic offline vectorizer)
//   - The reference extraction policy
//   - Lifecycle manager for decay and consolidation
//
// Returns a new Client instance, or an error if initialization fails.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientOpts := &clientOptions{}
	for _, opt := range opts {
		opt(clientOpts)
	}
	log := zerolog.Nop()
	if clientOpts.logger != nil {
		log = *clientOpts.logger
	}

	store, err := initStore(cfg.Store)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	var primary embedder.Provider
	if cfg.Embedder.Provider == "openai" {
		primary, err = openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.Embedder.APIKey,
			Model:      cfg.Embedder.Model,
			BaseURL:    cfg.Embedder.BaseURL,
			Dimensions: cfg.Embedder.Dimensions,
		})
		if err != nil {
			return nil, NewMemoryError("NewClient", err)
		}
	}
	resilient := embedder.NewResilient(primary, cfg.Embedder.Dimensions, log)

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	return &Client{
		config:        cfg,
		store:         store,
		embedder:      resilient,
		policy:        extraction.NewRegexPolicy(),
		lifecycle:     lifecycle.NewManager(store, resilient, cfg.Lifecycle.SimilarityThreshold, log),
		snowflakeNode: node,
		log:           log,
	}, nil
}

// initStore creates the configured storage backend.
func initStore(cfg StoreConfig) (storage.Store, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:    configString(cfg.Config, "db_path", "./memstore.db"),
			TableName: configString(cfg.Config, "table_name", ""),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:       configString(cfg.Config, "host", "localhost"),
			Port:       configInt(cfg.Config, "port", 5432),
			User:       configString(cfg.Config, "user", "postgres"),
			Password:   configString(cfg.Config, "password", ""),
			DBName:     configString(cfg.Config, "db_name", "memstore"),
			TableName:  configString(cfg.Config, "table_name", ""),
			Dimensions: configInt(cfg.Config, "dimensions", 0),
			SSLMode:    configString(cfg.Config, "ssl_mode", ""),
		})
	case "mysql":
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:      configString(cfg.Config, "host", "localhost"),
			Port:      configInt(cfg.Config, "port", 3306),
			User:      configString(cfg.Config, "user", "root"),
			Password:  configString(cfg.Config, "password", ""),
			DBName:    configString(cfg.Config, "db_name", "memstore"),
			TableName: configString(cfg.Config, "table_name", ""),
		})
	default:
		return nil, ErrInvalidConfig
	}
}

// StoreMemory stores a single memory for a company.
//
// Storing is an upsert keyed by the content fingerprint: when a live memory
// with identical content already exists within the company, no new record is
// created; the existing memory's access count is bumped and it is returned
// with its original id. Two visually different inputs never collide, and
// storing is idempotent with respect to content.
//
// Example:
//
//	memory, err := client.StoreMemory(ctx, "company_001", "Gate code is 4521",
//	    core.WithUserID("user_007"),
//	    core.WithMemoryType(core.MemoryTypeFact),
//	    core.WithImportance(0.9),
//	)
func (c *Client) StoreMemory(ctx context.Context, companyID, content string, opts ...StoreOption) (*Memory, error) {
	options := &StoreOptions{}
	for _, opt := range opts {
		opt(options)
	}

	rec, err := c.storeOne(ctx, companyID, content, options)
	if err != nil {
		return nil, NewMemoryError("StoreMemory", err)
	}
	return toMemory(rec), nil
}

// StoreMemories stores a batch of memories for a company.
//
// Items are stored independently: a failing item is logged and skipped, and
// the successfully stored memories are returned. An error is returned only
// when every item fails.
func (c *Client) StoreMemories(ctx context.Context, companyID string, inputs []MemoryInput) ([]*Memory, error) {
	var memories []*Memory
	var lastErr error

	for i, input := range inputs {
		rec, err := c.storeOne(ctx, companyID, input.Content, &StoreOptions{
			UserID:          input.UserID,
			MemoryType:      input.MemoryType,
			Scope:           input.Scope,
			EntityType:      input.EntityType,
			EntityID:        input.EntityID,
			SourceMessageID: input.SourceMessageID,
			SourceChatID:    input.SourceChatID,
			Importance:      input.Importance,
			Tags:            input.Tags,
			Metadata:        input.Metadata,
		})
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("company_id", companyID).Int("item", i).
				Msg("batch store item failed")
			continue
		}
		memories = append(memories, toMemory(rec))
	}

	if len(memories) == 0 && lastErr != nil {
		return nil, NewMemoryError("StoreMemories", lastErr)
	}
	return memories, nil
}

// storeOne implements the fingerprint-keyed upsert shared by every write path.
func (c *Client) storeOne(ctx context.Context, companyID, content string, opts *StoreOptions) (*storage.Record, error) {
	content = strings.TrimSpace(content)
	if companyID == "" || content == "" {
		return nil, ErrInvalidInput
	}

	memoryType := opts.MemoryType
	if memoryType == "" {
		memoryType = MemoryTypeInteraction
	}
	scope := opts.Scope
	if scope == "" {
		if opts.UserID != "" {
			scope = ScopeUser
		} else {
			scope = ScopeCompany
		}
	}
	importance := 0.5
	if opts.Importance != nil {
		importance = clampImportance(*opts.Importance)
	}

	hash := fingerprint.Content(content)

	existing, err := c.store.FindByHash(ctx, companyID, hash)
	if err == nil {
		return c.bumpAndGet(ctx, companyID, existing.ID)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	vector, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}

	rec := &storage.Record{
		ID:              c.snowflakeNode.Generate().Int64(),
		CompanyID:       companyID,
		UserID:          opts.UserID,
		Content:         content,
		ContentHash:     hash,
		MemoryType:      memoryType,
		Scope:           scope,
		EntityType:      opts.EntityType,
		EntityID:        opts.EntityID,
		SourceMessageID: opts.SourceMessageID,
		SourceChatID:    opts.SourceChatID,
		Embedding:       vector,
		Importance:      importance,
		Tags:            opts.Tags,
		Metadata:        opts.Metadata,
	}

	err = c.store.Insert(ctx, rec)
	if err == nil {
		return rec, nil
	}

	// A concurrent writer won the race for this content; the unique
	// constraint arbitrated. Resolve as an access bump on the winning row.
	if errors.Is(err, storage.ErrDuplicateContent) {
		winner, findErr := c.store.FindByHash(ctx, companyID, hash)
		if findErr != nil {
			return nil, findErr
		}
		return c.bumpAndGet(ctx, companyID, winner.ID)
	}

	return nil, err
}

// bumpAndGet increments the record's access counter and returns its fresh
// state.
func (c *Client) bumpAndGet(ctx context.Context, companyID string, id int64) (*storage.Record, error) {
	if err := c.store.BumpAccess(ctx, companyID, []int64{id}); err != nil {
		return nil, err
	}
	return c.store.Get(ctx, companyID, id)
}

// GetMemory returns a single memory by id, or ErrNotFound.
func (c *Client) GetMemory(ctx context.Context, companyID string, id int64) (*Memory, error) {
	rec, err := c.store.Get(ctx, companyID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewMemoryError("GetMemory", ErrNotFound)
		}
		return nil, NewMemoryError("GetMemory", err)
	}
	return toMemory(rec), nil
}

// SearchMemories performs semantic retrieval over a company's memories.
//
// The query is vectorized and matched by cosine similarity against live
// memories, filtered by the given options. When the vector path is
// unavailable or fails, the search degrades to a lexical substring scan with
// the same filters, ranked by importance; fallback matches carry a synthetic
// similarity equal to the memory's importance so both paths rank comparably.
//
// Every returned memory has its access count bumped as a side effect; a
// failed bump is logged, never surfaced.
//
// Example:
//
//	matches, err := client.SearchMemories(ctx, "company_001", "gate code",
//	    core.WithUserIDForSearch("user_007"),
//	    core.WithLimit(5),
//	)
func (c *Client) SearchMemories(ctx context.Context, companyID, query string, opts ...SearchOption) ([]*Match, error) {
	query = strings.TrimSpace(query)
	if companyID == "" || query == "" {
		return nil, NewMemoryError("SearchMemories", ErrInvalidInput)
	}

	options := &SearchOptions{}
	for _, opt := range opts {
		opt(options)
	}

	limit := options.Limit
	if limit == 0 {
		limit = c.config.Retrieval.SearchLimit
	}
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	minSimilarity := c.config.Retrieval.MinSimilarity
	if minSimilarity == 0 {
		minSimilarity = DefaultMinSimilarity
	}
	if options.MinSimilarity != nil {
		minSimilarity = *options.MinSimilarity
	}

	storeOpts := &storage.SearchOptions{
		UserID:        options.UserID,
		Scope:         options.Scope,
		MemoryTypes:   options.MemoryTypes,
		EntityType:    options.EntityType,
		EntityID:      options.EntityID,
		Limit:         limit,
		MinSimilarity: minSimilarity,
	}

	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, NewMemoryError("SearchMemories", err)
	}

	records, err := c.store.Search(ctx, companyID, vector, storeOpts)
	if err != nil {
		c.log.Warn().Err(err).Str("company_id", companyID).
			Msg("vector search failed, falling back to lexical scan")

		records, err = c.store.Scan(ctx, companyID, query, storeOpts)
		if err != nil {
			return nil, NewMemoryError("SearchMemories", err)
		}
		for _, rec := range records {
			rec.Similarity = rec.Importance
		}
	}

	c.bumpAccessed(ctx, companyID, records)
	return toMatches(records), nil
}

// GetEntityMemories returns memories bound to a business object, ordered by
// importance descending.
//
// Unlike SearchMemories this is a plain lookup: access counts are not
// bumped, so browsing an entity's memories does not distort retrieval
// statistics.
func (c *Client) GetEntityMemories(ctx context.Context, companyID, entityType, entityID string, opts ...EntityOption) ([]*Memory, error) {
	if companyID == "" || entityType == "" || entityID == "" {
		return nil, NewMemoryError("GetEntityMemories", ErrInvalidInput)
	}

	options := &EntityOptions{}
	for _, opt := range opts {
		opt(options)
	}
	limit := options.Limit
	if limit == 0 {
		limit = c.config.Retrieval.EntityLimit
	}
	if limit == 0 {
		limit = DefaultEntityLimit
	}

	records, err := c.store.FetchByEntity(ctx, companyID, entityType, entityID, &storage.EntityOptions{
		MemoryTypes: options.MemoryTypes,
		Limit:       limit,
	})
	if err != nil {
		return nil, NewMemoryError("GetEntityMemories", err)
	}
	return toMemories(records), nil
}

// UpdateMemoryImportance sets a memory's importance, clamped to [0, 1].
//
// Importance updates are best-effort telemetry: targeting a missing or
// deleted memory is logged and ignored, not surfaced as an error.
func (c *Client) UpdateMemoryImportance(ctx context.Context, companyID string, id int64, importance float64) error {
	err := c.store.UpdateImportance(ctx, companyID, id, clampImportance(importance))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.log.Warn().Str("company_id", companyID).Int64("memory_id", id).
				Msg("importance update targeted a missing memory")
			return nil
		}
		return NewMemoryError("UpdateMemoryImportance", err)
	}
	return nil
}

// DeleteMemory soft-deletes a memory and reports whether a live memory was
// actually deleted. Deleting an already-deleted or unknown memory is not an
// error.
//
// The record is retained for audit; it disappears from every retrieval,
// statistics, and lifecycle path immediately.
func (c *Client) DeleteMemory(ctx context.Context, companyID string, id int64) (bool, error) {
	deleted, err := c.store.SoftDelete(ctx, companyID, id)
	if err != nil {
		return false, NewMemoryError("DeleteMemory", err)
	}
	return deleted, nil
}

// ExtractMemoriesFromConversation runs the extraction policy over one
// conversational turn and stores the resulting candidates.
//
// Every turn yields an interaction memory; cue phrases ("remember:",
// "note:", ...) additionally yield higher-importance fact memories. Each
// candidate goes through the same deduplicating store path as StoreMemory,
// so repeated phrases across a conversation collapse into access bumps.
//
// Candidates are stored independently; failures are logged and skipped.
func (c *Client) ExtractMemoriesFromConversation(ctx context.Context, companyID, userID, chatID, messageID, content, role string) ([]*Memory, error) {
	if companyID == "" {
		return nil, NewMemoryError("ExtractMemoriesFromConversation", ErrInvalidInput)
	}

	candidates := c.policy.Extract(content, role)

	var memories []*Memory
	var lastErr error
	for _, candidate := range candidates {
		importance := candidate.Importance
		rec, err := c.storeOne(ctx, companyID, candidate.Content, &StoreOptions{
			UserID:          userID,
			MemoryType:      candidate.MemoryType,
			SourceChatID:    chatID,
			SourceMessageID: messageID,
			Importance:      &importance,
			Tags:            candidate.Tags,
		})
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("company_id", companyID).Str("chat_id", chatID).
				Msg("storing extracted memory failed")
			continue
		}
		memories = append(memories, toMemory(rec))
	}

	if len(memories) == 0 && lastErr != nil {
		return nil, NewMemoryError("ExtractMemoriesFromConversation", lastErr)
	}
	return memories, nil
}

// GetMemoryStatistics returns aggregate statistics over a company's live
// memories.
func (c *Client) GetMemoryStatistics(ctx context.Context, companyID string) (*lifecycle.Stats, error) {
	stats, err := c.lifecycle.Statistics(ctx, companyID)
	if err != nil {
		return nil, NewMemoryError("GetMemoryStatistics", err)
	}
	return stats, nil
}

// DecayOldMemories soft-deletes memories that are both older than the age
// threshold and accessed at most the access threshold. Defaults come from
// the client configuration.
//
// Example:
//
//	result, err := client.DecayOldMemories(ctx, "company_001",
//	    core.WithMaxAgeDays(180),
//	    core.WithDryRun(),
//	)
func (c *Client) DecayOldMemories(ctx context.Context, companyID string, opts ...DecayOption) (*lifecycle.DecayResult, error) {
	options := &DecayOptions{
		MaxAgeDays:     c.config.Lifecycle.MaxAgeDays,
		MinAccessCount: c.config.Lifecycle.MinAccessCount,
	}
	for _, opt := range opts {
		opt(options)
	}

	result, err := c.lifecycle.Decay(ctx, companyID, &lifecycle.DecayOptions{
		MaxAgeDays:     options.MaxAgeDays,
		MinAccessCount: options.MinAccessCount,
		DryRun:         options.DryRun,
	})
	if err != nil {
		return nil, NewMemoryError("DecayOldMemories", err)
	}
	return result, nil
}

// ConsolidateMemories merges near-duplicate memories within a company.
// See lifecycle.Manager.Consolidate for the clustering semantics.
func (c *Client) ConsolidateMemories(ctx context.Context, companyID string) (*lifecycle.ConsolidateResult, error) {
	result, err := c.lifecycle.Consolidate(ctx, companyID)
	if err != nil {
		return nil, NewMemoryError("ConsolidateMemories", err)
	}
	return result, nil
}

// Scheduler creates a lifecycle scheduler that periodically runs decay and
// consolidation for every tenant in the store, using the configured cron
// schedule and decay thresholds. The caller owns starting and stopping it:
//
//	scheduler, _ := client.Scheduler()
//	scheduler.Start()
//	defer scheduler.Stop()
func (c *Client) Scheduler() (*lifecycle.Scheduler, error) {
	scheduler, err := lifecycle.NewScheduler(c.store, c.lifecycle, c.config.Lifecycle.Schedule,
		lifecycle.DecayOptions{
			MaxAgeDays:     c.config.Lifecycle.MaxAgeDays,
			MinAccessCount: c.config.Lifecycle.MinAccessCount,
		}, c.log)
	if err != nil {
		return nil, NewMemoryError("Scheduler", err)
	}
	return scheduler, nil
}

// bumpAccessed records a retrieval hit on each returned memory. Best effort:
// a failure is logged and never surfaces to the caller, but the returned
// records are adjusted optimistically so callers see consistent counts.
func (c *Client) bumpAccessed(ctx context.Context, companyID string, records []*storage.Record) {
	if len(records) == 0 {
		return
	}
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	if err := c.store.BumpAccess(ctx, companyID, ids); err != nil {
		c.log.Warn().Err(err).Str("company_id", companyID).Msg("access bump failed")
		return
	}
	for _, rec := range records {
		rec.AccessCount++
	}
}

// Close closes the client and releases all resources.
func (c *Client) Close() error {
	var firstErr error
	if err := c.embedder.Close(); err != nil {
		firstErr = err
	}
	if err := c.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return NewMemoryError("Close", firstErr)
}
