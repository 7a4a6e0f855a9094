// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bloom-hub/bloom-progress/internal/application/query"
	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/metrics"
	"github.com/bloom-hub/bloom-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC ROLES COMMAND
// Brings a member's tier and streak roles in line with their computed progress.
// Runs after every recorded session and from the periodic streak sweep.
// ══════════════════════════════════════════════════════════════════════════════

// SyncRolesCommand holds the parameters of a role sync.
type SyncRolesCommand struct {
	CommunityID      string
	UserID           string
	UTCOffsetMinutes int

	// Reference is the instant roles are evaluated at. Zero means now.
	Reference time.Time
}

// Validate checks the command parameters.
func (c SyncRolesCommand) Validate() error {
	if c.CommunityID == "" || c.UserID == "" {
		return shared.NewDomainError("command", "SyncRoles", shared.ErrInvalidID,
			"community_id and user_id are required")
	}
	return nil
}

// SyncRolesResult holds the outcome of a sync.
type SyncRolesResult struct {
	Progress query.UserProgressDTO `json:"progress"`
	Granted  []string              `json:"granted"`
	Revoked  []string              `json:"revoked"`

	// Held is the member's role set after the sync.
	Held []string `json:"held"`
}

// SyncRolesHandler handles role syncs.
type SyncRolesHandler struct {
	progress *query.GetUserProgressHandler
	gateway  progress.RoleGateway
	locker   progress.Locker
	lockTTL  time.Duration
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// NewSyncRolesHandler creates a new handler.
func NewSyncRolesHandler(
	progressHandler *query.GetUserProgressHandler,
	gateway progress.RoleGateway,
	locker progress.Locker,
	lockTTL time.Duration,
	recorder metrics.Recorder,
	log *slog.Logger,
) *SyncRolesHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &SyncRolesHandler{
		progress: progressHandler,
		gateway:  gateway,
		locker:   locker,
		lockTTL:  lockTTL,
		metrics:  recorder,
		logger:   log,
	}
}

// Handle runs the sync. Only one sync per member is in flight at a time;
// a concurrent call fails with shared.ErrLocked.
func (h *SyncRolesHandler) Handle(ctx context.Context, cmd SyncRolesCommand) (*SyncRolesResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	log := h.logger.With(logger.CommunityID(cmd.CommunityID), logger.UserID(cmd.UserID))

	release, err := h.locker.Acquire(ctx, progress.RoleLockKey(cmd.CommunityID, cmd.UserID), h.lockTTL)
	if err != nil {
		h.fail("locked", err)
		return nil, err
	}
	defer release()

	computed, err := h.progress.Handle(ctx, query.GetUserProgressQuery{
		CommunityID:      cmd.CommunityID,
		UserID:           cmd.UserID,
		Reference:        cmd.Reference,
		UTCOffsetMinutes: cmd.UTCOffsetMinutes,
		SkipCache:        true,
	})
	if err != nil {
		h.fail("compute", err)
		return nil, err
	}

	held, err := h.gateway.MemberRoles(ctx, cmd.CommunityID, cmd.UserID)
	if err != nil {
		h.fail("gateway", err)
		return nil, err
	}

	ladder := h.progress.Ladder()
	p := computed.Progress
	diff := progress.Reconcile(held, p.Tier, p.StreakTier, ladder.TierRoles, ladder.StreakRoles)

	result := &SyncRolesResult{
		Progress: computed.DTO,
		Granted:  []string{},
		Revoked:  []string{},
	}

	// Revokes go first so a member never shows two roles of one family.
	for _, role := range diff.Revokes.Slice() {
		if err := h.gateway.RevokeRole(ctx, cmd.CommunityID, cmd.UserID, role); err != nil {
			h.fail("gateway", err)
			return nil, fmt.Errorf("revoke role %s: %w", role, err)
		}
		result.Revoked = append(result.Revoked, role)
		h.metrics.RecordRoleChange(family(ladder, role), metrics.ActionRevoke)
	}
	for _, role := range diff.Grants.Slice() {
		if err := h.gateway.GrantRole(ctx, cmd.CommunityID, cmd.UserID, role); err != nil {
			h.fail("gateway", err)
			return nil, fmt.Errorf("grant role %s: %w", role, err)
		}
		result.Granted = append(result.Granted, role)
		h.metrics.RecordRoleChange(family(ladder, role), metrics.ActionGrant)
	}
	result.Held = diff.ApplyTo(held).Slice()

	if !diff.Empty() {
		log.Info("roles synced",
			"tier", p.Tier.Identifier,
			"streak_tier", p.StreakTier.Identifier,
			"granted", result.Granted,
			"revoked", result.Revoked,
		)
	}
	return result, nil
}

func (h *SyncRolesHandler) fail(reason string, err error) {
	if errors.Is(err, shared.ErrLocked) {
		reason = "locked"
	}
	h.metrics.RecordRoleSyncFailure(reason)
}

func family(ladder progress.Ladder, role string) string {
	if ladder.TierRoles.Roles().Has(role) {
		return metrics.FamilyTier
	}
	return metrics.FamilyStreak
}
