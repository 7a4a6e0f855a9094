package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
	"github.com/bloom-hub/bloom-progress/pkg/logger"
	"github.com/bloom-hub/bloom-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET COMMUNITY STATS QUERY
// Community-wide totals and chart over every member's sessions.
// ══════════════════════════════════════════════════════════════════════════════

// GetCommunityStatsQuery holds the parameters of a community stats read.
type GetCommunityStatsQuery struct {
	CommunityID string

	// Reference is the instant stats are computed at. Zero means now.
	Reference time.Time

	// UTCOffsetMinutes is the viewer's offset. Sessions stamped later than the
	// viewer's wall clock are not counted yet.
	UTCOffsetMinutes int

	// Timeframe selects the chart buckets. Empty means daily.
	Timeframe progress.Timeframe
}

// Validate checks the query parameters.
func (q *GetCommunityStatsQuery) Validate() error {
	if q.CommunityID == "" {
		return shared.NewDomainError("query", "GetCommunityStats", shared.ErrInvalidID, "community_id is required")
	}
	if !timeutil.ValidOffset(q.UTCOffsetMinutes) {
		return shared.NewDomainError("query", "GetCommunityStats", shared.ErrValueOutOfRange,
			fmt.Sprintf("unsupported utc offset %d minutes", q.UTCOffsetMinutes))
	}
	if !q.Timeframe.OrDaily().Valid() {
		return shared.NewDomainError("query", "GetCommunityStats", shared.ErrInvalidInput,
			fmt.Sprintf("unknown timeframe %q", q.Timeframe))
	}
	return nil
}

// CommunityStatsDTO is the display form of community stats.
type CommunityStatsDTO struct {
	CommunityID string `json:"community_id"`

	LifetimeMinutes int64 `json:"lifetime_minutes"`
	LifetimeHours   int64 `json:"lifetime_hours"`
	SessionCount    int64 `json:"session_count"`

	Timeframe      progress.Timeframe `json:"timeframe"`
	Series         []PointDTO         `json:"series"`
	WindowMinutes  int64              `json:"window_minutes"`
	WindowSessions int64              `json:"window_sessions"`

	Reference   time.Time `json:"reference"`
	UTCOffset   string    `json:"utc_offset"`
	GeneratedAt time.Time `json:"generated_at"`
}

// GetCommunityStatsHandler handles community stats reads.
type GetCommunityStatsHandler struct {
	store   progress.CommunityStatsStore
	horizon int
	logger  *slog.Logger
	now     func() time.Time
}

// NewGetCommunityStatsHandler creates a new handler. A horizon of zero uses the default.
func NewGetCommunityStatsHandler(store progress.CommunityStatsStore, horizon int, log *slog.Logger) *GetCommunityStatsHandler {
	if horizon <= 0 {
		horizon = progress.DefaultHorizonDays
	}
	if log == nil {
		log = slog.Default()
	}
	return &GetCommunityStatsHandler{
		store:   store,
		horizon: horizon,
		logger:  log,
		now:     time.Now,
	}
}

// Handle computes the community's stats.
func (h *GetCommunityStatsHandler) Handle(ctx context.Context, q GetCommunityStatsQuery) (*CommunityStatsDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	tf := q.Timeframe.OrDaily()

	instant := q.Reference
	if instant.IsZero() {
		instant = h.now()
	}
	reference := timeutil.LocalWallClock(instant, q.UTCOffsetMinutes)

	totals, err := h.store.CommunityTotals(ctx, q.CommunityID, reference)
	if err != nil {
		return nil, err
	}

	from := tf.PeriodStart(progress.DayOf(reference), h.horizon).Time(reference.Location())
	records, err := h.store.CommunitySessions(ctx, q.CommunityID, from, reference)
	if err != nil {
		return nil, err
	}

	series, err := progress.AggregatePeriods(records, reference, tf, h.horizon)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("community stats computed",
		logger.CommunityID(q.CommunityID),
		"timeframe", tf,
		"window_sessions", series.WindowSessions,
	)

	return &CommunityStatsDTO{
		CommunityID:     q.CommunityID,
		LifetimeMinutes: totals.TotalMinutes(),
		LifetimeHours:   totals.TotalMinutes() / 60,
		SessionCount:    totals.Count,
		Timeframe:       tf,
		Series:          chartPoints(series, reference, h.horizon),
		WindowMinutes:   series.WindowMinutes,
		WindowSessions:  series.WindowSessions,
		Reference:       reference,
		UTCOffset:       timeutil.FormatOffset(q.UTCOffsetMinutes),
		GeneratedAt:     h.now().UTC(),
	}, nil
}
