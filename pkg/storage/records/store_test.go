package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"repowatch/pkg/platform"
	"repowatch/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{Driver: "sqlite", DSN: "file::memory:", AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(id, owner, name string) storage.RepositoryRecord {
	return storage.RepositoryRecord{
		ID:                   id,
		Identifier:           platform.Identifier{Platform: platform.GitHub, Owner: owner, Name: name},
		FullName:             owner + "/" + name,
		URL:                  "https://github.com/" + owner + "/" + name,
		NotificationsEnabled: true,
	}
}

// TestInsertRejectsDuplicateIdentifier ensures identity uniqueness.
func TestInsertRejectsDuplicateIdentifier(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.InsertRepository(ctx, testRecord("a", "octocat", "hello")))
	err := store.InsertRepository(ctx, testRecord("b", "octocat", "hello"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrDuplicate))

	// Identifiers are case-sensitive.
	require.NoError(t, store.InsertRepository(ctx, testRecord("c", "Octocat", "hello")))

	list, err := store.ListRepositories(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

// TestSaveAndGetRoundTrip ensures every snapshot field survives persistence.
func TestSaveAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	record := testRecord("a", "octocat", "hello")
	require.NoError(t, store.InsertRepository(ctx, record))

	released := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	record.StarCount = 42
	record.PreviousStarCount = 40
	record.LatestReleaseTag = "v1.2.0"
	record.LatestReleaseDate = &released
	record.ForkCount = 7
	require.NoError(t, store.SaveRepository(ctx, record))

	got, err := store.GetRepository(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 42, got.StarCount)
	assert.Equal(t, 2, got.StarDelta())
	assert.Equal(t, "v1.2.0", got.LatestReleaseTag)
	require.NotNil(t, got.LatestReleaseDate)
	assert.True(t, released.Equal(*got.LatestReleaseDate))
	assert.Equal(t, record.Identifier, got.Identifier)
}

// TestMissingRecordsReportNotFound covers get, save and delete.
func TestMissingRecordsReportNotFound(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.GetRepository(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.True(t, errors.Is(store.SaveRepository(ctx, testRecord("missing", "a", "b")), storage.ErrNotFound))
	assert.True(t, errors.Is(store.DeleteRepository(ctx, "missing"), storage.ErrNotFound))
}

// TestAnalyticsUpsert ensures snapshots are replaced in place.
func TestAnalyticsUpsert(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	got, err := store.GetAnalytics(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	snapshot := storage.AnalyticsSnapshot{
		RepositoryID:  "a",
		DailyStars:    []int{1, 2, 3},
		LastSampleDay: "2024-03-01",
		HealthScore:   60,
		ActivityLevel: storage.ActivityModerate,
	}
	require.NoError(t, store.SaveAnalytics(ctx, snapshot))
	snapshot.DailyStars = append(snapshot.DailyStars, 4)
	snapshot.HealthScore = 75
	require.NoError(t, store.SaveAnalytics(ctx, snapshot))

	got, err = store.GetAnalytics(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []int{1, 2, 3, 4}, got.DailyStars)
	assert.Equal(t, 75, got.HealthScore)
	assert.Equal(t, storage.ActivityModerate, got.ActivityLevel)

	require.NoError(t, store.DeleteAnalytics(ctx, "a"))
	got, err = store.GetAnalytics(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestMilestonesAreIdempotent ensures marking twice keeps a single marker.
func TestMilestonesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	marker := storage.MilestoneMarker{RepositoryID: "a", Metric: "stars", Threshold: 100}
	require.NoError(t, store.MarkMilestone(ctx, marker))
	require.NoError(t, store.MarkMilestone(ctx, marker))

	ok, err := store.HasMilestone(ctx, "a", "stars", 100)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasMilestone(ctx, "a", "stars", 500)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.DeleteMilestones(ctx, "a"))
	ok, err = store.HasMilestone(ctx, "a", "stars", 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestNormalizeDriver maps aliases onto supported dialects.
func TestNormalizeDriver(t *testing.T) {
	assert.Equal(t, "sqlite", normalizeDriver(""))
	assert.Equal(t, "sqlite3", normalizeDriver("SQLite3"))
	assert.Equal(t, "postgres", normalizeDriver("postgresql"))
	assert.Equal(t, "mysql", normalizeDriver("mysql"))
	assert.Equal(t, "", normalizeDriver("oracle"))
}
