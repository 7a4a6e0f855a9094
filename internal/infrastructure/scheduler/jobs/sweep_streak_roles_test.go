package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloom-hub/bloom-progress/internal/application/command"
	"github.com/bloom-hub/bloom-progress/internal/application/query"
	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/persistence/memory"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/persistence/sqlite"
	"github.com/bloom-hub/bloom-progress/pkg/logger"
)

type memberStore struct {
	members []progress.MemberKey
	since   time.Time
	err     error
}

func (s *memberStore) SessionsUpTo(context.Context, string, string, time.Time) ([]progress.SessionRecord, error) {
	return nil, nil
}

func (s *memberStore) Append(context.Context, progress.SessionRecord) error { return nil }

func (s *memberStore) ActiveMembers(_ context.Context, since time.Time) ([]progress.MemberKey, error) {
	s.since = since
	return s.members, s.err
}

type scriptedSyncer struct {
	mu      sync.Mutex
	seen    []string
	cmds    map[string]command.SyncRolesCommand
	outcome map[string]error
	changed map[string]bool
}

func (s *scriptedSyncer) Handle(_ context.Context, cmd command.SyncRolesCommand) (*command.SyncRolesResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, cmd.UserID)
	if s.cmds == nil {
		s.cmds = map[string]command.SyncRolesCommand{}
	}
	s.cmds[cmd.UserID] = cmd
	if err := s.outcome[cmd.UserID]; err != nil {
		return nil, err
	}
	res := &command.SyncRolesResult{}
	if s.changed[cmd.UserID] {
		res.Revoked = []string{"r-week"}
	}
	return res, nil
}

func members(ids ...string) []progress.MemberKey {
	out := make([]progress.MemberKey, len(ids))
	for i, id := range ids {
		out[i] = progress.MemberKey{CommunityID: "g1", UserID: id}
	}
	return out
}

func TestSweep_SyncsEveryActiveMember(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &memberStore{members: members("a", "b", "c", "d")}
	syncer := &scriptedSyncer{
		outcome: map[string]error{
			"b": shared.NewDomainError("roles", "Acquire", shared.ErrLocked, "busy"),
			"c": errors.New("platform down"),
		},
		changed: map[string]bool{"d": true},
	}
	job := NewSweepStreakRolesJob(store, syncer, DefaultSweepStreakRolesConfig(12), logger.Discard())
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, now.AddDate(0, 0, -14), store.since)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, syncer.seen)
	assert.Equal(t, SweepStats{Members: 4, Changed: 1, Skipped: 1, Failed: 1}, job.LastStats())
}

func TestSweep_PassesMemberOffsetAndSharedReference(t *testing.T) {
	now := time.Date(2024, 3, 11, 2, 0, 0, 0, time.UTC)
	store := &memberStore{members: []progress.MemberKey{
		{CommunityID: "g1", UserID: "west", UTCOffsetMinutes: -600},
		{CommunityID: "g1", UserID: "east", UTCOffsetMinutes: 330},
	}}
	syncer := &scriptedSyncer{}
	job := NewSweepStreakRolesJob(store, syncer, SweepStreakRolesConfig{Concurrency: 2}, logger.Discard())
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, -600, syncer.cmds["west"].UTCOffsetMinutes)
	assert.Equal(t, 330, syncer.cmds["east"].UTCOffsetMinutes)
	assert.Equal(t, now, syncer.cmds["west"].Reference)
	assert.Equal(t, now, syncer.cmds["east"].Reference)
}

func TestSweep_GraceDayFollowsMemberClock(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "bloom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// Both members practised at 20:00 on their own clock on Mar 8 and Mar 9.
	// At 02:00 UTC on Mar 11 it is still Mar 10 for the UTC-10 member, whose
	// grace day keeps the streak; the UTC member has missed Mar 10.
	for _, m := range []struct {
		user   string
		offset int
	}{{"west", -600}, {"utc", 0}} {
		for i, d := range []int{8, 9} {
			require.NoError(t, store.Append(ctx, progress.SessionRecord{
				ID:               m.user + string(rune('a'+i)),
				CommunityID:      "g1",
				UserID:           m.user,
				OccurredAt:       time.Date(2024, 3, d, 20, 0, 0, 0, time.UTC),
				Minutes:          20,
				UTCOffsetMinutes: m.offset,
			}))
		}
	}

	ladder := progress.Ladder{
		Tiers:       progress.ThresholdTable{{Minimum: 10000, Identifier: "elder"}},
		Streaks:     progress.ThresholdTable{{Minimum: 2, Identifier: "two-days"}},
		TierRoles:   progress.RoleMap{"elder": "r-elder"},
		StreakRoles: progress.RoleMap{"two-days": "r-two"},
	}
	roles := memory.NewRoleGateway(logger.Discard())
	for _, user := range []string{"west", "utc"} {
		require.NoError(t, roles.GrantRole(ctx, "g1", user, "r-two"))
	}
	get := query.NewGetUserProgressHandler(store, nil, ladder, nil, logger.Discard())
	syncer := command.NewSyncRolesHandler(get, roles, memory.NewLocker(), time.Minute, nil, logger.Discard())

	job := NewSweepStreakRolesJob(store, syncer, DefaultSweepStreakRolesConfig(ladder.Horizon()), logger.Discard())
	job.now = func() time.Time { return time.Date(2024, 3, 11, 2, 0, 0, 0, time.UTC) }

	require.NoError(t, job.Run(ctx))

	west, err := roles.MemberRoles(ctx, "g1", "west")
	require.NoError(t, err)
	assert.True(t, west.Has("r-two"), "streak role kept within the grace day")

	utc, err := roles.MemberRoles(ctx, "g1", "utc")
	require.NoError(t, err)
	assert.False(t, utc.Has("r-two"), "streak role revoked after a missed day")

	assert.Equal(t, SweepStats{Members: 2, Changed: 1}, job.LastStats())
}

func TestSweep_MostlyFailingIsAnError(t *testing.T) {
	store := &memberStore{members: members("a", "b", "c")}
	down := errors.New("platform down")
	syncer := &scriptedSyncer{outcome: map[string]error{"a": down, "b": down}}
	job := NewSweepStreakRolesJob(store, syncer, SweepStreakRolesConfig{Concurrency: 2}, logger.Discard())

	err := job.Run(context.Background())

	assert.ErrorContains(t, err, "more than half")
}

func TestSweep_StoreError(t *testing.T) {
	store := &memberStore{err: shared.StoreUnavailable("ActiveMembers", errors.New("timeout"))}
	job := NewSweepStreakRolesJob(store, &scriptedSyncer{}, SweepStreakRolesConfig{}, logger.Discard())

	err := job.Run(context.Background())

	assert.True(t, errors.Is(err, shared.ErrStoreUnavailable))
}

func TestSweep_NoMembers(t *testing.T) {
	job := NewSweepStreakRolesJob(&memberStore{}, &scriptedSyncer{}, SweepStreakRolesConfig{}, logger.Discard())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, SweepStats{}, job.LastStats())
}
