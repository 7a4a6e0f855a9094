package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
)

// RoleGateway keeps member roles in process memory and logs every change.
// It stands in for the chat platform when role sync runs as a dry run.
type RoleGateway struct {
	mu     sync.RWMutex
	roles  map[progress.MemberKey]progress.RoleSet
	logger *slog.Logger
}

var _ progress.RoleGateway = (*RoleGateway)(nil)

// NewRoleGateway creates an empty gateway.
func NewRoleGateway(logger *slog.Logger) *RoleGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleGateway{
		roles:  make(map[progress.MemberKey]progress.RoleSet),
		logger: logger.With("component", "dry_run_roles"),
	}
}

// MemberRoles returns a copy of the member's roles.
func (g *RoleGateway) MemberRoles(_ context.Context, communityID, userID string) (progress.RoleSet, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return progress.NewRoleSet(g.roles[progress.MemberKey{CommunityID: communityID, UserID: userID}].Slice()...), nil
}

// GrantRole records the role as held.
func (g *RoleGateway) GrantRole(_ context.Context, communityID, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := progress.MemberKey{CommunityID: communityID, UserID: userID}
	if g.roles[key] == nil {
		g.roles[key] = progress.NewRoleSet()
	}
	g.roles[key][roleID] = struct{}{}

	g.logger.Info("role granted", "community_id", communityID, "user_id", userID, "role", roleID)
	return nil
}

// RevokeRole drops the role.
func (g *RoleGateway) RevokeRole(_ context.Context, communityID, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.roles[progress.MemberKey{CommunityID: communityID, UserID: userID}], roleID)

	g.logger.Info("role revoked", "community_id", communityID, "user_id", userID, "role", roleID)
	return nil
}
