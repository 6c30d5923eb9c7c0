package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldkite/memstore-go/pkg/embedder"
	"github.com/fieldkite/memstore-go/pkg/extraction"
	"github.com/fieldkite/memstore-go/pkg/lifecycle"
	"github.com/fieldkite/memstore-go/pkg/storage"
	sqliteStore "github.com/fieldkite/memstore-go/pkg/storage/sqlite"
)

const fallbackCompany = "company_001"

// vectorlessStore simulates a backend whose similarity index is not
// provisioned: Search always fails, everything else behaves normally.
type vectorlessStore struct {
	storage.Store
}

func (s *vectorlessStore) Search(context.Context, string, []float64, *storage.SearchOptions) ([]*storage.Record, error) {
	return nil, storage.ErrVectorSearchUnavailable
}

func newVectorlessClient(t *testing.T) *Client {
	t.Helper()

	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "fallback_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	wrapped := &vectorlessStore{Store: store}
	resilient := embedder.NewResilient(nil, 64, zerolog.Nop())
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &Client{
		config:        &Config{},
		store:         wrapped,
		embedder:      resilient,
		policy:        extraction.NewRegexPolicy(),
		lifecycle:     lifecycle.NewManager(wrapped, resilient, 0, zerolog.Nop()),
		snowflakeNode: node,
		log:           zerolog.Nop(),
	}
}

func TestSearchMemories_LexicalFallback(t *testing.T) {
	client := newVectorlessClient(t)
	ctx := context.Background()

	important, err := client.StoreMemory(ctx, fallbackCompany, "warehouse gate code is 4521",
		WithImportance(0.9))
	require.NoError(t, err)
	_, err = client.StoreMemory(ctx, fallbackCompany, "gate repair scheduled for friday",
		WithImportance(0.4))
	require.NoError(t, err)
	_, err = client.StoreMemory(ctx, fallbackCompany, "customer prefers morning visits")
	require.NoError(t, err)

	matches, err := client.SearchMemories(ctx, fallbackCompany, "gate")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Fallback ranks by importance and reports it as the synthetic score.
	assert.Equal(t, important.ID, matches[0].Memory.ID)
	assert.Equal(t, 0.9, matches[0].Similarity)
	assert.Equal(t, 0.4, matches[1].Similarity)
}

func TestSearchMemories_LexicalFallbackKeepsFilters(t *testing.T) {
	client := newVectorlessClient(t)
	ctx := context.Background()

	_, err := client.StoreMemory(ctx, fallbackCompany, "alice gate note", WithUserID("alice"))
	require.NoError(t, err)
	_, err = client.StoreMemory(ctx, fallbackCompany, "bob gate note", WithUserID("bob"))
	require.NoError(t, err)
	_, err = client.StoreMemory(ctx, fallbackCompany, "shared gate note")
	require.NoError(t, err)

	matches, err := client.SearchMemories(ctx, fallbackCompany, "gate",
		WithUserIDForSearch("alice"))
	require.NoError(t, err)
	require.Len(t, matches, 2)

	for _, match := range matches {
		assert.NotEqual(t, "bob", match.Memory.UserID)
	}
}

func TestSearchMemories_LexicalFallbackBumpsAccess(t *testing.T) {
	client := newVectorlessClient(t)
	ctx := context.Background()

	memory, err := client.StoreMemory(ctx, fallbackCompany, "warehouse gate code is 4521")
	require.NoError(t, err)

	_, err = client.SearchMemories(ctx, fallbackCompany, "gate")
	require.NoError(t, err)

	got, err := client.GetMemory(ctx, fallbackCompany, memory.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.AccessCount)
}
