package progress

import (
	"fmt"
	"time"

	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
)

// Ladder is the deployment-specific configuration of the engine: the two threshold
// tables and the roles that represent each of their levels.
type Ladder struct {
	Tiers       ThresholdTable
	Streaks     ThresholdTable
	TierRoles   RoleMap
	StreakRoles RoleMap
	HorizonDays int
	Streak      StreakPolicy
}

// Validate checks both tables, that every level has a role, and that no role
// belongs to both families.
func (l Ladder) Validate() error {
	if err := l.Tiers.Validate(); err != nil {
		return err
	}
	if err := l.Streaks.Validate(); err != nil {
		return err
	}
	if err := checkRoles("tier", l.Tiers, l.TierRoles); err != nil {
		return err
	}
	if err := checkRoles("streak", l.Streaks, l.StreakRoles); err != nil {
		return err
	}
	tierRoles := l.TierRoles.Roles()
	for level, role := range l.StreakRoles {
		if tierRoles.Has(role) {
			return shared.NewDomainError("progress", "Validate", shared.ErrInvalidThresholdTable,
				fmt.Sprintf("role %q of streak level %q is also a tier role", role, level))
		}
	}
	return nil
}

func checkRoles(family string, table ThresholdTable, roles RoleMap) error {
	for _, th := range table {
		if roles[th.Identifier] == "" {
			return shared.NewDomainError("progress", "Validate", shared.ErrInvalidThresholdTable,
				fmt.Sprintf("%s level %q has no role", family, th.Identifier))
		}
	}
	return nil
}

// Horizon returns the bucket horizon in days, defaulting to DefaultHorizonDays.
func (l Ladder) Horizon() int {
	if l.HorizonDays == 0 {
		return DefaultHorizonDays
	}
	return l.HorizonDays
}

func (l Ladder) streakPolicy() StreakPolicy {
	if l.Streak.MinimumRun == 0 {
		return DefaultStreakPolicy
	}
	return l.Streak
}

// Compute runs the full pipeline over one user's records with a daily chart.
// Records are expected to be pre-filtered to occurred_at <= reference by the store.
func Compute(records []SessionRecord, reference time.Time, ladder Ladder) (UserProgress, error) {
	return ComputeTimeframe(records, reference, ladder, Daily)
}

// ComputeTimeframe is Compute with the chart bucketed by tf.
// Streaks and levels do not depend on tf.
func ComputeTimeframe(records []SessionRecord, reference time.Time, ladder Ladder, tf Timeframe) (UserProgress, error) {
	buckets, err := Aggregate(records, reference, ladder.Horizon())
	if err != nil {
		return UserProgress{}, err
	}
	periods, err := AggregatePeriods(records, reference, tf, ladder.Horizon())
	if err != nil {
		return UserProgress{}, err
	}

	lifetime := LifetimeMinutes(records)
	tier, err := ClassifyTier(lifetime, ladder.Tiers)
	if err != nil {
		return UserProgress{}, err
	}

	policy := ladder.streakPolicy()
	days := PracticeDays(records, reference.Location())
	current, streakTier, err := policy.Classify(days, DayOf(reference), ladder.Streaks)
	if err != nil {
		return UserProgress{}, err
	}

	p := UserProgress{
		LifetimeMinutes:   lifetime,
		SessionCount:      int64(len(records)),
		CurrentStreakDays: current,
		LongestStreakDays: policy.LongestStreak(days),
		Tier:              tier,
		StreakTier:        streakTier,
		RecentBuckets:     buckets,
		Reference:         reference,
		Periods:           periods,
	}
	if len(records) > 0 {
		p.CommunityID = records[0].CommunityID
		p.UserID = records[0].UserID
	}
	return p, nil
}
