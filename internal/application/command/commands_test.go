package command

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloom-hub/bloom-progress/internal/application/query"
	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/persistence/memory"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/persistence/sqlite"
	"github.com/bloom-hub/bloom-progress/pkg/logger"
)

var now = time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC)

func testLadder() progress.Ladder {
	return progress.Ladder{
		Tiers: progress.ThresholdTable{
			{Minimum: 60, Identifier: "seedling"},
			{Minimum: 600, Identifier: "sprout"},
		},
		Streaks: progress.ThresholdTable{
			{Minimum: 2, Identifier: "two-days"},
			{Minimum: 7, Identifier: "week"},
		},
		TierRoles:   progress.RoleMap{"seedling": "r-seedling", "sprout": "r-sprout"},
		StreakRoles: progress.RoleMap{"two-days": "r-two", "week": "r-week"},
	}
}

// flakyGateway fails every call after the first n.
type flakyGateway struct {
	*memory.RoleGateway
	allowed int
}

func (g *flakyGateway) GrantRole(ctx context.Context, c, u, r string) error {
	if g.allowed <= 0 {
		return shared.NewDomainError("roles", "GrantRole", shared.ErrExternalService, "platform down")
	}
	g.allowed--
	return g.RoleGateway.GrantRole(ctx, c, u, r)
}

type fixture struct {
	store   *sqlite.SessionRepository
	gateway progress.RoleGateway
	roles   *memory.RoleGateway
	locker  *memory.Locker
	sync    *SyncRolesHandler
	record  *RecordSessionHandler
}

func newFixture(t *testing.T, gateway progress.RoleGateway) *fixture {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "bloom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, locker: memory.NewLocker()}
	f.roles = memory.NewRoleGateway(logger.Discard())
	f.gateway = gateway
	if f.gateway == nil {
		f.gateway = f.roles
	}

	q := query.NewGetUserProgressHandler(store, nil, testLadder(), nil, logger.Discard())
	f.sync = NewSyncRolesHandler(q, f.gateway, f.locker, time.Minute, nil, logger.Discard())
	f.record = NewRecordSessionHandler(store, nil, f.sync, nil, logger.Discard())
	f.record.now = func() time.Time { return now }
	return f
}

func (f *fixture) seed(t *testing.T, daysAgo int, minutes int64) {
	t.Helper()
	require.NoError(t, f.store.Append(context.Background(), progress.SessionRecord{
		ID:          time.Now().String() + string(rune('a'+daysAgo)),
		CommunityID: "g1",
		UserID:      "u1",
		OccurredAt:  time.Now().UTC().AddDate(0, 0, -daysAgo),
		Minutes:     minutes,
	}))
}

func TestRecordSessionCommand_Validate(t *testing.T) {
	base := RecordSessionCommand{CommunityID: "g1", UserID: "u1", Minutes: 10}
	require.NoError(t, base.Validate())

	cases := map[string]func(c *RecordSessionCommand){
		"missing user":     func(c *RecordSessionCommand) { c.UserID = "" },
		"negative minutes": func(c *RecordSessionCommand) { c.Minutes = -1 },
		"seconds overflow": func(c *RecordSessionCommand) { c.Seconds = 60 },
		"zero length":      func(c *RecordSessionCommand) { c.Minutes = 0 },
		"odd offset":       func(c *RecordSessionCommand) { c.UTCOffsetMinutes = 7 },
		"unconfirmed large": func(c *RecordSessionCommand) {
			c.Minutes = LargeSessionMinutes + 1
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.True(t, shared.IsValidation(c.Validate()))
		})
	}

	large := base
	large.Minutes = LargeSessionMinutes + 1
	large.Confirmed = true
	assert.NoError(t, large.Validate())

	short := base
	short.Minutes, short.Seconds = 0, 30
	assert.NoError(t, short.Validate())
}

func TestRecordSession_StampsLocalWallClockAndSyncsRoles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.record.Handle(ctx, RecordSessionCommand{
		CommunityID:      "g1",
		UserID:           "u1",
		Minutes:          75,
		Seconds:          30,
		UTCOffsetMinutes: -300,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.Session.ID)
	assert.Equal(t, now.Add(-5*time.Hour), res.Session.OccurredAt)
	assert.Empty(t, res.RolesError)
	require.NotNil(t, res.Roles)
	assert.Equal(t, []string{"r-seedling"}, res.Roles.Granted)

	records, err := f.store.SessionsUpTo(ctx, "g1", "u1", now)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(75), records[0].Minutes)
	assert.Equal(t, int64(30), records[0].Seconds)
}

func TestRecordSession_RoleFailureKeepsSession(t *testing.T) {
	gw := &flakyGateway{RoleGateway: memory.NewRoleGateway(logger.Discard())}
	f := newFixture(t, gw)

	res, err := f.record.Handle(context.Background(), RecordSessionCommand{
		CommunityID: "g1", UserID: "u1", Minutes: 90,
	})

	require.NoError(t, err)
	assert.Nil(t, res.Roles)
	assert.Contains(t, res.RolesError, "platform down")

	records, err := f.store.SessionsUpTo(context.Background(), "g1", "u1", now)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSyncRoles_ReplacesRoleWithinFamily(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.roles.GrantRole(ctx, "g1", "u1", "r-seedling"))
	require.NoError(t, f.roles.GrantRole(ctx, "g1", "u1", "r-week"))
	require.NoError(t, f.roles.GrantRole(ctx, "g1", "u1", "moderator"))
	f.seed(t, 0, 400)
	f.seed(t, 1, 300)

	res, err := f.sync.Handle(ctx, SyncRolesCommand{CommunityID: "g1", UserID: "u1"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"r-sprout", "r-two"}, res.Granted)
	assert.ElementsMatch(t, []string{"r-seedling", "r-week"}, res.Revoked)
	assert.Equal(t, []string{"moderator", "r-sprout", "r-two"}, res.Held)

	held, err := f.roles.MemberRoles(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, res.Held, held.Slice())

	again, err := f.sync.Handle(ctx, SyncRolesCommand{CommunityID: "g1", UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, again.Granted)
	assert.Empty(t, again.Revoked)
}

func TestSyncRoles_StreakDecayRevokes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.roles.GrantRole(ctx, "g1", "u1", "r-two"))
	f.seed(t, 5, 30)
	f.seed(t, 6, 30)

	res, err := f.sync.Handle(ctx, SyncRolesCommand{CommunityID: "g1", UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Progress.CurrentStreakDays)
	assert.Equal(t, []string{"r-two"}, res.Revoked)
	assert.Equal(t, []string{"r-seedling"}, res.Granted)
}

func TestSyncRoles_LockedMember(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	release, err := f.locker.Acquire(ctx, progress.RoleLockKey("g1", "u1"), time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = f.sync.Handle(ctx, SyncRolesCommand{CommunityID: "g1", UserID: "u1"})
	assert.True(t, errors.Is(err, shared.ErrLocked))

	_, err = f.sync.Handle(ctx, SyncRolesCommand{CommunityID: "g1", UserID: "u2"})
	assert.NoError(t, err)
}

func TestSyncRoles_Validation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.sync.Handle(context.Background(), SyncRolesCommand{CommunityID: "g1"})

	assert.True(t, shared.IsValidation(err))
}
