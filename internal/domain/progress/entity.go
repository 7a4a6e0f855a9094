package progress

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION RECORD
// ══════════════════════════════════════════════════════════════════════════════

// SessionRecord is a single logged meditation session.
// Records are immutable once written and owned by the SessionStore.
type SessionRecord struct {
	ID          string
	CommunityID string
	UserID      string
	OccurredAt  time.Time
	Minutes     int64
	Seconds     int64 // 0..59

	// UTCOffsetMinutes is the member's offset when the session was logged.
	// OccurredAt is already shifted by it.
	UTCOffsetMinutes int
}

// DurationSeconds returns the total length of the session in seconds.
func (r SessionRecord) DurationSeconds() int64 {
	return r.Minutes*60 + r.Seconds
}

// ══════════════════════════════════════════════════════════════════════════════
// DAY
// ══════════════════════════════════════════════════════════════════════════════

// Day is a civil calendar day, counted in days since 1970-01-01.
type Day int64

const secondsPerDay = 24 * 60 * 60

// DayOf truncates t to its calendar day in t's own location.
// The result is independent of DST transitions in that location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay)
}

// Time returns midnight of the day in loc.
func (d Day) Time(loc *time.Location) time.Time {
	u := time.Unix(int64(d)*secondsPerDay, 0).UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, loc)
}

// String formats the day as YYYY-MM-DD.
func (d Day) String() string {
	return d.Time(time.UTC).Format("2006-01-02")
}

// DaySet is a set of distinct practice days.
type DaySet map[Day]struct{}

// NewDaySet builds a set from the given days.
func NewDaySet(days ...Day) DaySet {
	s := make(DaySet, len(days))
	for _, d := range days {
		s[d] = struct{}{}
	}
	return s
}

// Has reports whether d is in the set.
func (s DaySet) Has(d Day) bool {
	_, ok := s[d]
	return ok
}

// ══════════════════════════════════════════════════════════════════════════════
// DAY BUCKET
// ══════════════════════════════════════════════════════════════════════════════

// DayBucket aggregates the sessions that share a day offset from a reference instant.
type DayBucket struct {
	DaysAgo      int   `json:"days_ago"`
	TotalMinutes int64 `json:"total_minutes"`
	SessionCount int64 `json:"session_count"`
}

// PeriodBucket aggregates the sessions of one calendar period of a timeframe.
type PeriodBucket struct {
	PeriodsAgo   int   `json:"periods_ago"`
	TotalMinutes int64 `json:"total_minutes"`
	SessionCount int64 `json:"session_count"`
}

// PeriodSeries is a chart over one timeframe with the totals of its whole window.
type PeriodSeries struct {
	Timeframe      Timeframe      `json:"timeframe"`
	Buckets        []PeriodBucket `json:"buckets"`
	WindowMinutes  int64          `json:"window_minutes"`
	WindowSessions int64          `json:"window_sessions"`
}

// SessionTotals is the raw sum of a set of sessions.
type SessionTotals struct {
	Minutes int64
	Seconds int64
	Count   int64
}

// TotalMinutes applies the bucket truncation to the totals.
func (t SessionTotals) TotalMinutes() int64 {
	return t.Minutes + t.Seconds/60
}

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL
// ══════════════════════════════════════════════════════════════════════════════

// Level is a named threshold reached by a user. TierLevel and StreakLevel share it.
type Level struct {
	Identifier string `json:"identifier"`
	Minimum    int64  `json:"minimum"`
}

// Untiered is the sentinel level for values below the lowest threshold.
// It maps to no role.
var Untiered = Level{}

// IsTiered reports whether the level is a real threshold and not the sentinel.
func (l Level) IsTiered() bool {
	return l.Identifier != ""
}

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// UserProgress is computed per query and never persisted.
type UserProgress struct {
	UserID            string      `json:"user_id"`
	CommunityID       string      `json:"community_id"`
	LifetimeMinutes   int64       `json:"lifetime_minutes"`
	SessionCount      int64       `json:"session_count"`
	CurrentStreakDays int         `json:"current_streak_days"`
	LongestStreakDays int         `json:"longest_streak_days"`
	Tier              Level       `json:"tier"`
	StreakTier        Level       `json:"streak_tier"`
	RecentBuckets     []DayBucket `json:"recent_buckets"`
	Reference         time.Time   `json:"reference"`

	// Periods is the chart of the requested timeframe.
	Periods PeriodSeries `json:"periods"`

	// UTCOffsetMinutes is the offset the reference was shifted by.
	UTCOffsetMinutes int `json:"utc_offset_minutes"`
}
