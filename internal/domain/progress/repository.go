package progress

import (
	"context"
	"time"
)

// SessionStore defines the interface for session persistence.
// Implementations wrap their failures with shared.ErrStoreUnavailable.
type SessionStore interface {
	// SessionsUpTo returns every session of the user with occurred_at <= reference.
	SessionsUpTo(ctx context.Context, communityID, userID string, reference time.Time) ([]SessionRecord, error)

	// Append stores a new session. Rows are never updated afterwards.
	Append(ctx context.Context, record SessionRecord) error

	// ActiveMembers returns the community/user pairs with at least one session since the
	// given instant, each with the offset of the member's latest session.
	ActiveMembers(ctx context.Context, since time.Time) ([]MemberKey, error)
}

// MemberKey identifies a user within a community.
type MemberKey struct {
	CommunityID string
	UserID      string

	// UTCOffsetMinutes is the offset of the member's most recent session.
	UTCOffsetMinutes int
}

// CommunityStatsStore provides community-wide aggregates.
type CommunityStatsStore interface {
	// CommunityTotals sums every session of the community with occurred_at <= reference.
	CommunityTotals(ctx context.Context, communityID string, reference time.Time) (SessionTotals, error)

	// CommunitySessions returns the community's sessions with from <= occurred_at <= reference.
	CommunitySessions(ctx context.Context, communityID string, from, reference time.Time) ([]SessionRecord, error)
}

// RoleGateway is the chat platform's role API.
type RoleGateway interface {
	// MemberRoles returns the roles currently held by the member.
	MemberRoles(ctx context.Context, communityID, userID string) (RoleSet, error)

	// GrantRole adds a role to the member.
	GrantRole(ctx context.Context, communityID, userID, roleID string) error

	// RevokeRole removes a role from the member.
	RevokeRole(ctx context.Context, communityID, userID, roleID string) error
}

// ProgressCache caches computed progress. A miss is reported as found == false.
type ProgressCache interface {
	Get(ctx context.Context, communityID, userID string) (p *UserProgress, found bool, err error)
	Set(ctx context.Context, p *UserProgress) error
	Invalidate(ctx context.Context, communityID, userID string) error
}

// Locker provides per-key mutual exclusion across processes.
type Locker interface {
	// Acquire takes the lock or fails with shared.ErrLocked if it is held.
	// The lock expires after ttl if release is never called.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RoleLockKey is the lock key for role syncs of one member.
func RoleLockKey(communityID, userID string) string {
	return "roles:" + communityID + ":" + userID
}
