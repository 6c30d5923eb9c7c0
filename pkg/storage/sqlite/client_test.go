package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldkite/memstore-go/pkg/fingerprint"
	"github.com/fieldkite/memstore-go/pkg/storage"
	"github.com/fieldkite/memstore-go/pkg/storage/sqlite"
)

const testCompany = "company-sqlite"

func newTestClient(t *testing.T) *sqlite.Client {
	t.Helper()

	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "storage_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

var nextID int64 = 5000

func newRecord(content string) *storage.Record {
	nextID++
	return &storage.Record{
		ID:          nextID,
		CompanyID:   testCompany,
		Content:     content,
		ContentHash: fingerprint.Content(content),
		MemoryType:  "interaction",
		Scope:       "company",
		Embedding:   []float64{1, 0, 0},
		Importance:  0.5,
	}
}

func TestInsertAndGet(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec := newRecord("hello storage")
	rec.Tags = []string{"greeting"}
	rec.Metadata = map[string]interface{}{"source": "test"}
	require.NoError(t, client.Insert(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := client.Get(ctx, testCompany, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.ContentHash, got.ContentHash)
	assert.Equal(t, []string{"greeting"}, got.Tags)
	assert.Equal(t, "test", got.Metadata["source"])
	assert.Equal(t, []float64{1, 0, 0}, got.Embedding)
	assert.True(t, got.Live())
}

func TestGet_WrongCompany(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec := newRecord("tenant isolation")
	require.NoError(t, client.Insert(ctx, rec))

	_, err := client.Get(ctx, "other-company", rec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsert_DuplicateLiveContent(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first := newRecord("duplicate content")
	require.NoError(t, client.Insert(ctx, first))

	second := newRecord("duplicate content")
	err := client.Insert(ctx, second)
	assert.ErrorIs(t, err, storage.ErrDuplicateContent)

	// The same content in another company does not collide.
	third := newRecord("duplicate content")
	third.CompanyID = "other-company"
	assert.NoError(t, client.Insert(ctx, third))
}

func TestInsert_DuplicateAllowedAfterSoftDelete(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first := newRecord("recyclable content")
	require.NoError(t, client.Insert(ctx, first))

	deleted, err := client.SoftDelete(ctx, testCompany, first.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	second := newRecord("recyclable content")
	assert.NoError(t, client.Insert(ctx, second))
}

func TestFindByHash_ExcludesDeleted(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec := newRecord("find me by hash")
	require.NoError(t, client.Insert(ctx, rec))

	found, err := client.FindByHash(ctx, testCompany, rec.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)

	_, err = client.SoftDelete(ctx, testCompany, rec.ID)
	require.NoError(t, err)

	_, err = client.FindByHash(ctx, testCompany, rec.ContentHash)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSearch_RanksBySimilarity(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	near := newRecord("near match")
	near.Embedding = []float64{0.9, 0.1, 0}
	far := newRecord("far match")
	far.Embedding = []float64{0, 1, 0}
	require.NoError(t, client.Insert(ctx, near))
	require.NoError(t, client.Insert(ctx, far))

	results, err := client.Search(ctx, testCompany, []float64{1, 0, 0}, &storage.SearchOptions{
		MinSimilarity: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, near.ID, results[0].ID)
	assert.Greater(t, results[0].Similarity, 0.9)
}

func TestSearch_ZeroFloorExcludesNegativeSimilarity(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	opposite := newRecord("opposite direction")
	opposite.Embedding = []float64{-1, 0, 0}
	aligned := newRecord("aligned direction")
	aligned.Embedding = []float64{1, 0, 0}
	require.NoError(t, client.Insert(ctx, opposite))
	require.NoError(t, client.Insert(ctx, aligned))

	results, err := client.Search(ctx, testCompany, []float64{1, 0, 0}, &storage.SearchOptions{
		MinSimilarity: 0,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, aligned.ID, results[0].ID)
}

func TestSearch_UserFilter(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	mine := newRecord("my private note")
	mine.UserID = "alice"
	theirs := newRecord("their private note")
	theirs.UserID = "bob"
	shared := newRecord("shared note")
	require.NoError(t, client.Insert(ctx, mine))
	require.NoError(t, client.Insert(ctx, theirs))
	require.NoError(t, client.Insert(ctx, shared))

	results, err := client.Search(ctx, testCompany, []float64{1, 0, 0}, &storage.SearchOptions{
		UserID: "alice",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, rec := range results {
		assert.NotEqual(t, "bob", rec.UserID)
	}
}

func TestSearch_TypeAndEntityFilters(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	fact := newRecord("customer gate code")
	fact.MemoryType = "fact"
	fact.EntityType = "customer"
	fact.EntityID = "cust-1"
	interaction := newRecord("customer small talk")
	interaction.EntityType = "customer"
	interaction.EntityID = "cust-1"
	require.NoError(t, client.Insert(ctx, fact))
	require.NoError(t, client.Insert(ctx, interaction))

	results, err := client.Search(ctx, testCompany, []float64{1, 0, 0}, &storage.SearchOptions{
		MemoryTypes: []string{"fact"},
		EntityType:  "customer",
		EntityID:    "cust-1",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, fact.ID, results[0].ID)
}

func TestSearch_Limit(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, client.Insert(ctx, newRecord("note "+string(rune('a'+i)))))
	}

	results, err := client.Search(ctx, testCompany, []float64{1, 0, 0}, &storage.SearchOptions{
		Limit: 3,
	})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestScan_SubstringAndOrdering(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	low := newRecord("gate repair scheduled")
	low.Importance = 0.3
	high := newRecord("warehouse gate code 4521")
	high.Importance = 0.9
	other := newRecord("unrelated note")
	require.NoError(t, client.Insert(ctx, low))
	require.NoError(t, client.Insert(ctx, high))
	require.NoError(t, client.Insert(ctx, other))

	results, err := client.Scan(ctx, testCompany, "gate", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, high.ID, results[0].ID)
	assert.Equal(t, low.ID, results[1].ID)
}

func TestFetchByEntity(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first := newRecord("entity note one")
	first.EntityType = "job"
	first.EntityID = "job-9"
	first.Importance = 0.4
	second := newRecord("entity note two")
	second.EntityType = "job"
	second.EntityID = "job-9"
	second.Importance = 0.8
	require.NoError(t, client.Insert(ctx, first))
	require.NoError(t, client.Insert(ctx, second))

	results, err := client.FetchByEntity(ctx, testCompany, "job", "job-9", &storage.EntityOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, second.ID, results[0].ID)
}

func TestBumpAccess(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec := newRecord("bump me")
	require.NoError(t, client.Insert(ctx, rec))

	require.NoError(t, client.BumpAccess(ctx, testCompany, []int64{rec.ID}))
	require.NoError(t, client.BumpAccess(ctx, testCompany, []int64{rec.ID}))
	require.NoError(t, client.BumpAccess(ctx, testCompany, nil))

	got, err := client.Get(ctx, testCompany, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AccessCount)
	require.NotNil(t, got.LastAccessedAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.LastAccessedAt, time.Minute)
}

func TestSoftDeleteMany_CountsLiveRowsOnly(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	a := newRecord("delete a")
	b := newRecord("delete b")
	require.NoError(t, client.Insert(ctx, a))
	require.NoError(t, client.Insert(ctx, b))

	n, err := client.SoftDeleteMany(ctx, testCompany, []int64{a.ID, b.ID, 999999})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Already deleted rows are not counted again.
	n, err = client.SoftDeleteMany(ctx, testCompany, []int64{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMergeAccess(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	survivor := newRecord("survivor")
	survivor.AccessCount = 3
	absorbed := newRecord("absorbed")
	absorbed.AccessCount = 4
	require.NoError(t, client.Insert(ctx, survivor))
	require.NoError(t, client.Insert(ctx, absorbed))

	require.NoError(t, client.MergeAccess(ctx, testCompany, survivor.ID, []int64{absorbed.ID}))

	got, err := client.Get(ctx, testCompany, survivor.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.AccessCount)

	_, err = client.Get(ctx, testCompany, absorbed.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateImportance_NotFound(t *testing.T) {
	client := newTestClient(t)

	err := client.UpdateImportance(context.Background(), testCompany, 123456, 0.5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateEmbedding(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec := newRecord("re-embed me")
	require.NoError(t, client.Insert(ctx, rec))

	require.NoError(t, client.UpdateEmbedding(ctx, testCompany, rec.ID, []float64{0, 0, 1}))

	got, err := client.Get(ctx, testCompany, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1}, got.Embedding)
}

func TestCompanies(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	a := newRecord("company a note")
	a.CompanyID = "company-a"
	b := newRecord("company b note")
	b.CompanyID = "company-b"
	require.NoError(t, client.Insert(ctx, a))
	require.NoError(t, client.Insert(ctx, b))

	companies, err := client.Companies(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"company-a", "company-b"}, companies)
}
