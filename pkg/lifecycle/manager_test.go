package lifecycle_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldkite/memstore-go/pkg/fingerprint"
	"github.com/fieldkite/memstore-go/pkg/lifecycle"
	"github.com/fieldkite/memstore-go/pkg/storage"
	"github.com/fieldkite/memstore-go/pkg/storage/sqlite"
)

const testCompany = "company-lifecycle"

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()

	store, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "lifecycle_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func newManager(store storage.Store) *lifecycle.Manager {
	return lifecycle.NewManager(store, nil, 0, zerolog.Nop())
}

var nextID int64 = 1000

func insertRecord(t *testing.T, store storage.Store, rec *storage.Record) *storage.Record {
	t.Helper()

	nextID++
	rec.ID = nextID
	rec.CompanyID = testCompany
	rec.ContentHash = fingerprint.Content(rec.Content)
	if rec.MemoryType == "" {
		rec.MemoryType = "interaction"
	}
	if rec.Scope == "" {
		rec.Scope = "company"
	}
	if rec.Embedding == nil {
		rec.Embedding = []float64{1, 0, 0}
	}

	require.NoError(t, store.Insert(context.Background(), rec))
	return rec
}

func daysAgo(n int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -n)
}

func TestDecay_RequiresBothAgeAndLowAccess(t *testing.T) {
	store := newTestStore(t)
	manager := newManager(store)
	ctx := context.Background()

	recent := insertRecord(t, store, &storage.Record{
		Content: "recent and rarely accessed", CreatedAt: daysAgo(10),
	})
	stale := insertRecord(t, store, &storage.Record{
		Content: "old and rarely accessed", CreatedAt: daysAgo(100),
	})
	hot := insertRecord(t, store, &storage.Record{
		Content: "old but frequently accessed", CreatedAt: daysAgo(100), AccessCount: 5,
	})

	result, err := manager.Decay(ctx, testCompany, &lifecycle.DecayOptions{
		MaxAgeDays:     90,
		MinAccessCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	live, err := store.ListLive(ctx, testCompany)
	require.NoError(t, err)
	require.Len(t, live, 2)

	survivors := map[int64]bool{}
	for _, rec := range live {
		survivors[rec.ID] = true
	}
	assert.True(t, survivors[recent.ID])
	assert.True(t, survivors[hot.ID])
	assert.False(t, survivors[stale.ID])
}

func TestDecay_DryRunMutatesNothing(t *testing.T) {
	store := newTestStore(t)
	manager := newManager(store)
	ctx := context.Background()

	insertRecord(t, store, &storage.Record{
		Content: "old dry-run candidate", CreatedAt: daysAgo(120),
	})
	insertRecord(t, store, &storage.Record{
		Content: "fresh record", CreatedAt: daysAgo(1),
	})

	result, err := manager.Decay(ctx, testCompany, &lifecycle.DecayOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Affected)
	assert.Equal(t, 0, result.Deleted)

	live, err := store.ListLive(ctx, testCompany)
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestConsolidate_MergesNearDuplicates(t *testing.T) {
	store := newTestStore(t)
	manager := newManager(store)
	ctx := context.Background()

	survivor := insertRecord(t, store, &storage.Record{
		Content: "gate code for the warehouse is 4521", Importance: 0.9,
		AccessCount: 3, Embedding: []float64{1, 0, 0}, CreatedAt: daysAgo(5),
	})
	duplicate := insertRecord(t, store, &storage.Record{
		Content: "warehouse gate code is 4521", Importance: 0.6,
		AccessCount: 2, Embedding: []float64{0.999, 0.04, 0}, CreatedAt: daysAgo(3),
	})
	unrelated := insertRecord(t, store, &storage.Record{
		Content: "customer prefers morning visits", Importance: 0.7,
		Embedding: []float64{0, 1, 0}, CreatedAt: daysAgo(2),
	})

	result, err := manager.Consolidate(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Consolidated)
	assert.Equal(t, 1, result.Deleted)

	merged, err := store.Get(ctx, testCompany, survivor.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), merged.AccessCount)

	_, err = store.Get(ctx, testCompany, duplicate.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Get(ctx, testCompany, unrelated.ID)
	assert.NoError(t, err)
}

func TestConsolidate_Idempotent(t *testing.T) {
	store := newTestStore(t)
	manager := newManager(store)
	ctx := context.Background()

	insertRecord(t, store, &storage.Record{
		Content: "door code 88 front", Importance: 0.8,
		Embedding: []float64{1, 0, 0}, CreatedAt: daysAgo(4),
	})
	insertRecord(t, store, &storage.Record{
		Content: "front door code is 88", Importance: 0.5,
		Embedding: []float64{0.998, 0.05, 0}, CreatedAt: daysAgo(3),
	})

	first, err := manager.Consolidate(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Consolidated)

	second, err := manager.Consolidate(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Consolidated)
	assert.Equal(t, 0, second.Deleted)
}

func TestConsolidate_RespectsEntityBinding(t *testing.T) {
	store := newTestStore(t)
	manager := newManager(store)
	ctx := context.Background()

	// Identical vectors but bound to different customers: never merged.
	insertRecord(t, store, &storage.Record{
		Content: "prefers text messages", Importance: 0.7,
		EntityType: "customer", EntityID: "cust-1",
		Embedding: []float64{1, 0, 0}, CreatedAt: daysAgo(2),
	})
	insertRecord(t, store, &storage.Record{
		Content: "prefers text message contact", Importance: 0.7,
		EntityType: "customer", EntityID: "cust-2",
		Embedding: []float64{1, 0, 0}, CreatedAt: daysAgo(1),
	})

	result, err := manager.Consolidate(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Consolidated)

	live, err := store.ListLive(ctx, testCompany)
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestStatistics(t *testing.T) {
	store := newTestStore(t)
	manager := newManager(store)
	ctx := context.Background()

	insertRecord(t, store, &storage.Record{
		Content: "fact one", MemoryType: "fact", Scope: "company",
		Importance: 0.8, AccessCount: 4, CreatedAt: daysAgo(1),
	})
	insertRecord(t, store, &storage.Record{
		Content: "interaction one", MemoryType: "interaction", Scope: "user",
		UserID: "user-1", Importance: 0.4, AccessCount: 1, CreatedAt: daysAgo(30),
	})
	deleted := insertRecord(t, store, &storage.Record{
		Content: "soon deleted", MemoryType: "fact", Importance: 0.9, CreatedAt: daysAgo(1),
	})
	_, err := store.SoftDelete(ctx, testCompany, deleted.ID)
	require.NoError(t, err)

	stats, err := manager.Statistics(ctx, testCompany)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalMemories)
	assert.Equal(t, 1, stats.ByType["fact"])
	assert.Equal(t, 1, stats.ByType["interaction"])
	assert.Equal(t, 1, stats.ByScope["company"])
	assert.Equal(t, 1, stats.ByScope["user"])
	assert.Equal(t, int64(5), stats.TotalAccessCount)
	assert.InDelta(t, 0.6, stats.AverageImportance, 1e-9)
	assert.Equal(t, 1, stats.MemoriesLast7Days)
}

func TestStatistics_EmptyTenant(t *testing.T) {
	store := newTestStore(t)
	manager := newManager(store)

	stats, err := manager.Statistics(context.Background(), "no-such-company")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalMemories)
	assert.Zero(t, stats.AverageImportance)
}
