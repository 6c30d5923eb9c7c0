package core_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldkite/memstore-go/pkg/core"
)

const testCompany = "company_001"

// newTestClient builds a client over a throwaway SQLite database with the
// offline embedder, so tests run hermetically. Offline vectors are exact for
// identical text, so searching for a stored memory's exact content always
// scores 1.0.
func newTestClient(t *testing.T) *core.Client {
	t.Helper()

	client, err := core.NewClient(&core.Config{
		Embedder: core.EmbedderConfig{
			Provider:   "offline",
			Dimensions: 256,
		},
		Store: core.StoreConfig{
			Provider: "sqlite",
			Config: map[string]interface{}{
				"db_path": filepath.Join(t.TempDir(), "core_test.db"),
			},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestStoreMemory_IdempotentByContent(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first, err := client.StoreMemory(ctx, testCompany, "Gate code is 4521")
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	assert.Equal(t, int64(0), first.AccessCount)

	second, err := client.StoreMemory(ctx, testCompany, "Gate code is 4521")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), second.AccessCount)

	stats, err := client.GetMemoryStatistics(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalMemories)
}

func TestStoreMemory_DistinctContent(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first, err := client.StoreMemory(ctx, testCompany, "Gate code is 4521")
	require.NoError(t, err)
	second, err := client.StoreMemory(ctx, testCompany, "Gate code is 4522")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestStoreMemory_RejectsEmptyContent(t *testing.T) {
	client := newTestClient(t)

	_, err := client.StoreMemory(context.Background(), testCompany, "   ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = client.StoreMemory(context.Background(), "", "content")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestStoreMemory_ScopeDefaults(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	tenantWide, err := client.StoreMemory(ctx, testCompany, "office closes at 5pm")
	require.NoError(t, err)
	assert.Equal(t, core.ScopeCompany, tenantWide.Scope)
	assert.Empty(t, tenantWide.UserID)

	personal, err := client.StoreMemory(ctx, testCompany, "prefers morning shifts",
		core.WithUserID("user_007"))
	require.NoError(t, err)
	assert.Equal(t, core.ScopeUser, personal.Scope)
	assert.Equal(t, "user_007", personal.UserID)
}

func TestUpdateMemoryImportance_Clamps(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	memory, err := client.StoreMemory(ctx, testCompany, "Gate code is 4521")
	require.NoError(t, err)

	require.NoError(t, client.UpdateMemoryImportance(ctx, testCompany, memory.ID, 1.7))
	got, err := client.GetMemory(ctx, testCompany, memory.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Importance)

	require.NoError(t, client.UpdateMemoryImportance(ctx, testCompany, memory.ID, -0.3))
	got, err = client.GetMemory(ctx, testCompany, memory.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Importance)
}

func TestUpdateMemoryImportance_MissingMemoryIsNoOp(t *testing.T) {
	client := newTestClient(t)

	err := client.UpdateMemoryImportance(context.Background(), testCompany, 424242, 0.5)
	assert.NoError(t, err)
}

func TestSearchMemories_UserScoping(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.StoreMemory(ctx, testCompany, "alice prefers email contact",
		core.WithUserID("alice"))
	require.NoError(t, err)
	_, err = client.StoreMemory(ctx, testCompany, "bob prefers phone contact",
		core.WithUserID("bob"))
	require.NoError(t, err)
	_, err = client.StoreMemory(ctx, testCompany, "warehouse gate code is 4521")
	require.NoError(t, err)

	// Alice searching for Bob's exact memory text must not see it.
	matches, err := client.SearchMemories(ctx, testCompany, "bob prefers phone contact",
		core.WithUserIDForSearch("alice"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	// Her own memory and tenant-wide memories are visible.
	matches, err = client.SearchMemories(ctx, testCompany, "alice prefers email contact",
		core.WithUserIDForSearch("alice"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "alice prefers email contact", matches[0].Memory.Content)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)

	matches, err = client.SearchMemories(ctx, testCompany, "warehouse gate code is 4521",
		core.WithUserIDForSearch("alice"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestSearchMemories_TenantIsolation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.StoreMemory(ctx, testCompany, "warehouse gate code is 4521")
	require.NoError(t, err)

	matches, err := client.SearchMemories(ctx, "company_002", "warehouse gate code is 4521")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchMemories_BumpsAccessCount(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	memory, err := client.StoreMemory(ctx, testCompany, "warehouse gate code is 4521")
	require.NoError(t, err)

	matches, err := client.SearchMemories(ctx, testCompany, "warehouse gate code is 4521")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(1), matches[0].Memory.AccessCount)

	got, err := client.GetMemory(ctx, testCompany, memory.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.AccessCount)
}

func TestGetEntityMemories(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	low, err := client.StoreMemory(ctx, testCompany, "customer has a dog",
		core.WithEntity("customer", "cust_042"),
		core.WithImportance(0.3))
	require.NoError(t, err)
	high, err := client.StoreMemory(ctx, testCompany, "gate code is 4521",
		core.WithEntity("customer", "cust_042"),
		core.WithMemoryType(core.MemoryTypeFact),
		core.WithImportance(0.9))
	require.NoError(t, err)
	_, err = client.StoreMemory(ctx, testCompany, "unrelated job note",
		core.WithEntity("job", "job_001"))
	require.NoError(t, err)

	memories, err := client.GetEntityMemories(ctx, testCompany, "customer", "cust_042")
	require.NoError(t, err)
	require.Len(t, memories, 2)

	// Ordered by importance descending; browsing does not bump access.
	assert.Equal(t, high.ID, memories[0].ID)
	assert.Equal(t, low.ID, memories[1].ID)
	assert.Equal(t, int64(0), memories[0].AccessCount)

	filtered, err := client.GetEntityMemories(ctx, testCompany, "customer", "cust_042",
		core.WithMemoryTypesForEntity(core.MemoryTypeFact))
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, high.ID, filtered[0].ID)
}

func TestDeleteMemory(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	memory, err := client.StoreMemory(ctx, testCompany, "obsolete note")
	require.NoError(t, err)

	deleted, err := client.DeleteMemory(ctx, testCompany, memory.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = client.GetMemory(ctx, testCompany, memory.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	// Deleting again is a no-op, not an error.
	deleted, err = client.DeleteMemory(ctx, testCompany, memory.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteMemory_FreesContentHash(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first, err := client.StoreMemory(ctx, testCompany, "Gate code is 4521")
	require.NoError(t, err)

	_, err = client.DeleteMemory(ctx, testCompany, first.ID)
	require.NoError(t, err)

	// The same content can be stored again as a fresh memory.
	second, err := client.StoreMemory(ctx, testCompany, "Gate code is 4521")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(0), second.AccessCount)
}

func TestExtractMemoriesFromConversation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	memories, err := client.ExtractMemoriesFromConversation(ctx, testCompany,
		"user_007", "chat_12", "msg_34",
		"remember: gate code for the warehouse is 4521", "user")
	require.NoError(t, err)
	require.Len(t, memories, 2)

	assert.Equal(t, core.MemoryTypeInteraction, memories[0].MemoryType)
	assert.Equal(t, core.MemoryTypeFact, memories[1].MemoryType)
	assert.Equal(t, "gate code for the warehouse is 4521", memories[1].Content)
	assert.Greater(t, memories[1].Importance, memories[0].Importance)
	assert.Equal(t, "chat_12", memories[1].SourceChatID)
	assert.Equal(t, "msg_34", memories[1].SourceMessageID)

	// The extracted fact is retrievable by its exact content.
	matches, err := client.SearchMemories(ctx, testCompany, "gate code for the warehouse is 4521",
		core.WithUserIDForSearch("user_007"))
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, memories[1].ID, matches[0].Memory.ID)
}

func TestExtractMemoriesFromConversation_RepeatedTurnBumpsNotDuplicates(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	turn := "remember: gate code is 4521"
	first, err := client.ExtractMemoriesFromConversation(ctx, testCompany,
		"user_007", "chat_12", "msg_34", turn, "user")
	require.NoError(t, err)
	require.Len(t, first, 2)

	_, err = client.ExtractMemoriesFromConversation(ctx, testCompany,
		"user_007", "chat_12", "msg_35", "the customer called twice", "user")
	require.NoError(t, err)

	stats, err := client.GetMemoryStatistics(ctx, testCompany)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalMemories)

	// Replaying the first turn bumps the existing interaction and fact
	// instead of inserting new rows.
	second, err := client.ExtractMemoriesFromConversation(ctx, testCompany,
		"user_007", "chat_12", "msg_36", turn, "user")
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[1].ID, second[1].ID)
	assert.Equal(t, int64(1), second[0].AccessCount)
	assert.Equal(t, int64(1), second[1].AccessCount)

	stats, err = client.GetMemoryStatistics(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalMemories)
}

func TestStoreMemories_PartialSuccess(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	memories, err := client.StoreMemories(ctx, testCompany, []core.MemoryInput{
		{Content: "first valid memory"},
		{Content: "   "},
		{Content: "second valid memory"},
	})
	require.NoError(t, err)
	assert.Len(t, memories, 2)
}

func TestDecayOldMemories_DryRunThroughClient(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.StoreMemory(ctx, testCompany, "fresh memory")
	require.NoError(t, err)

	result, err := client.DecayOldMemories(ctx, testCompany, core.WithDryRun())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Affected)
	assert.Equal(t, 0, result.Deleted)
}
