// Package jobs contains the scheduled jobs of the progress service.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bloom-hub/bloom-progress/internal/application/command"
	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
	"github.com/bloom-hub/bloom-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP STREAK ROLES JOB
// ══════════════════════════════════════════════════════════════════════════════

// RoleSyncer runs one member's role sync.
type RoleSyncer interface {
	Handle(ctx context.Context, cmd command.SyncRolesCommand) (*command.SyncRolesResult, error)
}

// SweepStreakRolesConfig contains configuration for the sweep.
type SweepStreakRolesConfig struct {
	// LookbackDays selects members with a session in this many recent days.
	// Members idle for longer hold no streak role after their last sweep.
	// Each member is synced at the offset of their latest session.
	LookbackDays int

	// Concurrency is the number of members synced in parallel.
	Concurrency int
}

// DefaultSweepStreakRolesConfig returns defaults for the given bucket horizon.
func DefaultSweepStreakRolesConfig(horizonDays int) SweepStreakRolesConfig {
	return SweepStreakRolesConfig{
		LookbackDays: horizonDays + 2,
		Concurrency:  4,
	}
}

// SweepStats contains statistics from a sweep.
type SweepStats struct {
	Members int
	Changed int
	Skipped int
	Failed  int
}

// SweepStreakRolesJob re-syncs the roles of recently active members so streak
// roles are revoked once practice stops, even without a new session.
type SweepStreakRolesJob struct {
	store  progress.SessionStore
	syncer RoleSyncer
	config SweepStreakRolesConfig
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last SweepStats
}

// NewSweepStreakRolesJob creates a new sweep job.
func NewSweepStreakRolesJob(store progress.SessionStore, syncer RoleSyncer, config SweepStreakRolesConfig, log *slog.Logger) *SweepStreakRolesJob {
	if log == nil {
		log = slog.Default()
	}
	if config.LookbackDays <= 0 {
		config.LookbackDays = progress.DefaultHorizonDays + 2
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &SweepStreakRolesJob{
		store:  store,
		syncer: syncer,
		config: config,
		logger: log.With("job", "sweep_streak_roles"),
		now:    time.Now,
	}
}

// Name returns the job name.
func (j *SweepStreakRolesJob) Name() string {
	return "sweep_streak_roles"
}

// Description returns a human-readable description.
func (j *SweepStreakRolesJob) Description() string {
	return "Re-syncs tier and streak roles of recently active members"
}

// LastStats returns the statistics of the most recent run.
func (j *SweepStreakRolesJob) LastStats() SweepStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// Run executes the sweep.
func (j *SweepStreakRolesJob) Run(ctx context.Context) error {
	now := j.now()
	since := now.UTC().AddDate(0, 0, -j.config.LookbackDays)
	members, err := j.store.ActiveMembers(ctx, since)
	if err != nil {
		return fmt.Errorf("list active members: %w", err)
	}

	stats := SweepStats{Members: len(members)}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, j.config.Concurrency)
	)

loop:
	for _, m := range members {
		select {
		case <-ctx.Done():
			break loop
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(m progress.MemberKey) {
			defer wg.Done()
			defer func() { <-semaphore }()

			res, err := j.syncer.Handle(ctx, command.SyncRolesCommand{
				CommunityID:      m.CommunityID,
				UserID:           m.UserID,
				UTCOffsetMinutes: m.UTCOffsetMinutes,
				Reference:        now,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, shared.ErrLocked):
				stats.Skipped++
			case err != nil:
				stats.Failed++
				j.logger.Warn("role sync failed",
					logger.CommunityID(m.CommunityID), logger.UserID(m.UserID), logger.Err(err))
			case len(res.Granted)+len(res.Revoked) > 0:
				stats.Changed++
			}
		}(m)
	}
	wg.Wait()

	j.mu.Lock()
	j.last = stats
	j.mu.Unlock()

	j.logger.Info("sweep finished",
		"members", stats.Members,
		"changed", stats.Changed,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)

	if err := ctx.Err(); err != nil {
		return err
	}
	if stats.Members > 0 && stats.Failed*2 > stats.Members {
		return fmt.Errorf("role sync failed for more than half of members (%d/%d)", stats.Failed, stats.Members)
	}
	return nil
}
