package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
)

func openTestRepo(t *testing.T) *SessionRepository {
	t.Helper()
	repo, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "bloom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSessionRepository_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	reference := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	records := []progress.SessionRecord{
		{ID: "a", CommunityID: "g1", UserID: "u1", OccurredAt: reference.Add(-48 * time.Hour), Minutes: 20, Seconds: 50},
		{ID: "b", CommunityID: "g1", UserID: "u1", OccurredAt: reference, Minutes: 5, Seconds: 20, UTCOffsetMinutes: -600},
		{ID: "c", CommunityID: "g1", UserID: "u1", OccurredAt: reference.Add(time.Second), Minutes: 99},
		{ID: "d", CommunityID: "g1", UserID: "u2", OccurredAt: reference.Add(-time.Hour), Minutes: 10},
		{ID: "e", CommunityID: "g2", UserID: "u1", OccurredAt: reference.Add(-time.Hour), Minutes: 10},
	}
	for _, rec := range records {
		require.NoError(t, repo.Append(ctx, rec))
	}

	got, err := repo.SessionsUpTo(ctx, "g1", "u1", reference)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, int64(5), got[1].Minutes)
	assert.Equal(t, int64(20), got[1].Seconds)
	assert.Equal(t, -600, got[1].UTCOffsetMinutes)
	assert.Equal(t, 0, got[0].UTCOffsetMinutes)
	assert.True(t, reference.Equal(got[1].OccurredAt))
	assert.Equal(t, time.UTC, got[1].OccurredAt.Location())
}

func TestSessionRepository_ActiveMembers(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, progress.SessionRecord{ID: "1", CommunityID: "g1", UserID: "old", OccurredAt: now.AddDate(0, 0, -30), Minutes: 1}))
	require.NoError(t, repo.Append(ctx, progress.SessionRecord{ID: "2", CommunityID: "g1", UserID: "u1", OccurredAt: now, Minutes: 1, UTCOffsetMinutes: -600}))
	require.NoError(t, repo.Append(ctx, progress.SessionRecord{ID: "3", CommunityID: "g1", UserID: "u1", OccurredAt: now.AddDate(0, 0, -1), Minutes: 1, UTCOffsetMinutes: 60}))
	require.NoError(t, repo.Append(ctx, progress.SessionRecord{ID: "4", CommunityID: "g2", UserID: "u9", OccurredAt: now, Minutes: 1, UTCOffsetMinutes: 330}))

	members, err := repo.ActiveMembers(ctx, now.AddDate(0, 0, -14))
	require.NoError(t, err)

	assert.Equal(t, []progress.MemberKey{
		{CommunityID: "g1", UserID: "u1", UTCOffsetMinutes: -600},
		{CommunityID: "g2", UserID: "u9", UTCOffsetMinutes: 330},
	}, members)
}

func TestSessionRepository_CommunityStats(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	reference := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	for _, rec := range []progress.SessionRecord{
		{ID: "a", CommunityID: "g1", UserID: "u1", OccurredAt: reference.AddDate(0, 0, -40), Minutes: 30, Seconds: 40},
		{ID: "b", CommunityID: "g1", UserID: "u2", OccurredAt: reference.AddDate(0, 0, -2), Minutes: 10, Seconds: 30},
		{ID: "c", CommunityID: "g1", UserID: "u1", OccurredAt: reference, Minutes: 5},
		{ID: "d", CommunityID: "g1", UserID: "u3", OccurredAt: reference.Add(time.Hour), Minutes: 99},
		{ID: "e", CommunityID: "g2", UserID: "u1", OccurredAt: reference, Minutes: 7},
	} {
		require.NoError(t, repo.Append(ctx, rec))
	}

	totals, err := repo.CommunityTotals(ctx, "g1", reference)
	require.NoError(t, err)
	assert.Equal(t, progress.SessionTotals{Minutes: 45, Seconds: 70, Count: 3}, totals)
	assert.Equal(t, int64(46), totals.TotalMinutes())

	recent, err := repo.CommunitySessions(ctx, "g1", reference.AddDate(0, 0, -12), reference)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].ID)
	assert.Equal(t, "c", recent[1].ID)

	empty, err := repo.CommunityTotals(ctx, "nobody", reference)
	require.NoError(t, err)
	assert.Equal(t, progress.SessionTotals{}, empty)
}

func TestOpen_AddsOffsetColumnToExistingDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
CREATE TABLE meditation (
  record_id TEXT PRIMARY KEY,
  guild_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  meditation_minutes INTEGER NOT NULL,
  meditation_seconds INTEGER NOT NULL DEFAULT 0,
  occurred_at INTEGER NOT NULL
);
INSERT INTO meditation VALUES ('old', 'g1', 'u1', 15, 0, 0);
`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	got, err := repo.SessionsUpTo(ctx, "g1", "u1", time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].UTCOffsetMinutes)

	// Opening again leaves the upgraded schema alone.
	again, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestSessionRepository_RejectsInvalidRows(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	rec := progress.SessionRecord{ID: "x", CommunityID: "g1", UserID: "u1", OccurredAt: time.Now(), Minutes: 1}
	require.NoError(t, repo.Append(ctx, rec))

	err := repo.Append(ctx, rec)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	rec.ID = "y"
	rec.Seconds = 75
	err = repo.Append(ctx, rec)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestSessionRepository_ClosedStoreIsUnavailable(t *testing.T) {
	repo := openTestRepo(t)
	require.NoError(t, repo.Close())

	_, err := repo.SessionsUpTo(context.Background(), "g1", "u1", time.Now())
	assert.True(t, errors.Is(err, shared.ErrStoreUnavailable))
	assert.True(t, shared.IsRetryable(err))
}
