// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/metrics"
	"github.com/bloom-hub/bloom-progress/pkg/logger"
	"github.com/bloom-hub/bloom-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER PROGRESS QUERY
// Computes a member's lifetime total, streak, levels and the recent daily series.
// Backs the progress endpoint, the CLI and role synchronisation.
// ══════════════════════════════════════════════════════════════════════════════

// GetUserProgressQuery holds the parameters of a progress read.
type GetUserProgressQuery struct {
	CommunityID string
	UserID      string

	// Reference is the instant progress is computed at. Zero means now.
	Reference time.Time

	// UTCOffsetMinutes shifts the reference onto the member's wall clock,
	// the same way sessions are stamped when recorded.
	UTCOffsetMinutes int

	// Timeframe selects the chart buckets. Empty means daily.
	Timeframe progress.Timeframe

	// SkipCache forces a fresh computation.
	SkipCache bool
}

// Validate checks the query parameters.
func (q *GetUserProgressQuery) Validate() error {
	if q.CommunityID == "" {
		return shared.NewDomainError("query", "GetUserProgress", shared.ErrInvalidID, "community_id is required")
	}
	if q.UserID == "" {
		return shared.NewDomainError("query", "GetUserProgress", shared.ErrInvalidID, "user_id is required")
	}
	if !timeutil.ValidOffset(q.UTCOffsetMinutes) {
		return shared.NewDomainError("query", "GetUserProgress", shared.ErrValueOutOfRange,
			fmt.Sprintf("unsupported utc offset %d minutes", q.UTCOffsetMinutes))
	}
	if !q.Timeframe.OrDaily().Valid() {
		return shared.NewDomainError("query", "GetUserProgress", shared.ErrInvalidInput,
			fmt.Sprintf("unknown timeframe %q", q.Timeframe))
	}
	return nil
}

// LevelDTO is a reached level, or null when untiered.
type LevelDTO struct {
	Identifier string `json:"identifier"`
	Minimum    int64  `json:"minimum"`
}

func levelDTO(l progress.Level) *LevelDTO {
	if !l.IsTiered() {
		return nil
	}
	return &LevelDTO{Identifier: l.Identifier, Minimum: l.Minimum}
}

// PointDTO is one period of a chart. Date is the first day of the period.
type PointDTO struct {
	Date         string `json:"date"`
	PeriodsAgo   int    `json:"periods_ago"`
	TotalMinutes int64  `json:"total_minutes"`
	SessionCount int64  `json:"session_count"`
}

// chartPoints renders a dense chart oldest first.
func chartPoints(series progress.PeriodSeries, reference time.Time, horizon int) []PointDTO {
	tf := series.Timeframe.OrDaily()
	dense := series.Dense(horizon)
	refDay := progress.DayOf(reference)

	points := make([]PointDTO, 0, len(dense))
	for i := len(dense) - 1; i >= 0; i-- {
		b := dense[i]
		points = append(points, PointDTO{
			Date:         tf.PeriodStart(refDay, b.PeriodsAgo).String(),
			PeriodsAgo:   b.PeriodsAgo,
			TotalMinutes: b.TotalMinutes,
			SessionCount: b.SessionCount,
		})
	}
	return points
}

// UserProgressDTO is the display form of progress.UserProgress.
type UserProgressDTO struct {
	CommunityID string `json:"community_id"`
	UserID      string `json:"user_id"`

	LifetimeMinutes int64 `json:"lifetime_minutes"`
	LifetimeHours   int64 `json:"lifetime_hours"`
	SessionCount    int64 `json:"session_count"`

	CurrentStreakDays int `json:"current_streak_days"`
	LongestStreakDays int `json:"longest_streak_days"`

	Tier       *LevelDTO `json:"tier"`
	StreakTier *LevelDTO `json:"streak_tier"`

	// Series has one entry per period from horizon periods ago up to the current
	// one, oldest first. Window totals cover the whole series.
	Timeframe      progress.Timeframe `json:"timeframe"`
	Series         []PointDTO         `json:"series"`
	WindowMinutes  int64              `json:"window_minutes"`
	WindowSessions int64              `json:"window_sessions"`

	Reference   time.Time `json:"reference"`
	UTCOffset   string    `json:"utc_offset"`
	GeneratedAt time.Time `json:"generated_at"`
	Cached      bool      `json:"cached"`
}

// GetUserProgressResult holds the computed progress in both forms.
type GetUserProgressResult struct {
	Progress progress.UserProgress
	DTO      UserProgressDTO
}

// GetUserProgressHandler handles progress reads.
type GetUserProgressHandler struct {
	store   progress.SessionStore
	cache   progress.ProgressCache
	ladder  progress.Ladder
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewGetUserProgressHandler creates a new handler. cache may be nil.
func NewGetUserProgressHandler(
	store progress.SessionStore,
	cache progress.ProgressCache,
	ladder progress.Ladder,
	recorder metrics.Recorder,
	log *slog.Logger,
) *GetUserProgressHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &GetUserProgressHandler{
		store:   store,
		cache:   cache,
		ladder:  ladder,
		metrics: recorder,
		logger:  log,
		now:     time.Now,
	}
}

// Ladder returns the configured ladder.
func (h *GetUserProgressHandler) Ladder() progress.Ladder {
	return h.ladder
}

// Handle computes the member's progress.
func (h *GetUserProgressHandler) Handle(ctx context.Context, q GetUserProgressQuery) (*GetUserProgressResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	instant := q.Reference
	if instant.IsZero() {
		instant = h.now()
	}
	reference := timeutil.LocalWallClock(instant, q.UTCOffsetMinutes)
	log := h.logger.With(logger.CommunityID(q.CommunityID), logger.UserID(q.UserID))

	if p, ok := h.fromCache(ctx, q, reference, log); ok {
		h.metrics.RecordComputation(0, true)
		return h.result(p, q.UTCOffsetMinutes, true), nil
	}

	start := time.Now()
	records, err := h.store.SessionsUpTo(ctx, q.CommunityID, q.UserID, reference)
	if err != nil {
		return nil, err
	}

	p, err := progress.ComputeTimeframe(records, reference, h.ladder, q.Timeframe.OrDaily())
	if err != nil {
		return nil, err
	}
	p.CommunityID = q.CommunityID
	p.UserID = q.UserID
	p.UTCOffsetMinutes = q.UTCOffsetMinutes
	h.metrics.RecordComputation(time.Since(start), false)

	if h.cache != nil {
		if err := h.cache.Set(ctx, &p); err != nil {
			log.Warn("failed to cache progress", logger.Err(err))
		}
	}

	return h.result(p, q.UTCOffsetMinutes, false), nil
}

// fromCache returns a cached computation made on the same calendar day, at the same
// offset and for the same timeframe. Sessions recorded since then invalidate the entry.
func (h *GetUserProgressHandler) fromCache(ctx context.Context, q GetUserProgressQuery, reference time.Time, log *slog.Logger) (progress.UserProgress, bool) {
	if h.cache == nil || q.SkipCache {
		return progress.UserProgress{}, false
	}

	cached, found, err := h.cache.Get(ctx, q.CommunityID, q.UserID)
	if err != nil {
		log.Warn("progress cache unavailable", logger.Err(err))
		return progress.UserProgress{}, false
	}
	if !found ||
		cached.UTCOffsetMinutes != q.UTCOffsetMinutes ||
		cached.Periods.Timeframe != q.Timeframe.OrDaily() ||
		cached.Reference.After(reference) ||
		progress.DayOf(cached.Reference) != progress.DayOf(reference) {
		return progress.UserProgress{}, false
	}
	return *cached, true
}

func (h *GetUserProgressHandler) result(p progress.UserProgress, offset int, cached bool) *GetUserProgressResult {
	return &GetUserProgressResult{
		Progress: p,
		DTO: UserProgressDTO{
			CommunityID:       p.CommunityID,
			UserID:            p.UserID,
			LifetimeMinutes:   p.LifetimeMinutes,
			LifetimeHours:     p.LifetimeMinutes / 60,
			SessionCount:      p.SessionCount,
			CurrentStreakDays: p.CurrentStreakDays,
			LongestStreakDays: p.LongestStreakDays,
			Tier:              levelDTO(p.Tier),
			StreakTier:        levelDTO(p.StreakTier),
			Timeframe:         p.Periods.Timeframe.OrDaily(),
			Series:            chartPoints(p.Periods, p.Reference, h.ladder.Horizon()),
			WindowMinutes:     p.Periods.WindowMinutes,
			WindowSessions:    p.Periods.WindowSessions,
			Reference:         p.Reference,
			UTCOffset:         timeutil.FormatOffset(offset),
			GeneratedAt:       h.now().UTC(),
			Cached:            cached,
		},
	}
}
