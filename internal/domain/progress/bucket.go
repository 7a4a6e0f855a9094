package progress

import (
	"fmt"
	"sort"
	"time"

	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
)

// DefaultHorizonDays is the display window of the trend view: buckets 0..12 days ago.
const DefaultHorizonDays = 12

type bucketAcc struct {
	minutes int64
	seconds int64
	count   int64
}

func (a *bucketAcc) add(r SessionRecord) {
	a.minutes += r.Minutes
	a.seconds += r.Seconds
	a.count++
}

func (a bucketAcc) totalMinutes() int64 {
	return a.minutes + a.seconds/60
}

// Aggregate groups records by whole days before reference.
//
// Both instants are truncated to calendar days in reference's location. Records
// after reference, and records more than horizonDays days old, are dropped. Within a
// group total minutes is sum(minutes) + sum(seconds)/60, so residual seconds under a
// minute are lost. Buckets are ordered by DaysAgo ascending and days without sessions
// are absent.
func Aggregate(records []SessionRecord, reference time.Time, horizonDays int) ([]DayBucket, error) {
	if horizonDays < 0 {
		return nil, shared.NewDomainError("progress", "Aggregate", shared.ErrInvalidReference,
			"horizon must not be negative")
	}

	groups, _ := group(records, reference, Daily, horizonDays)
	buckets := make([]DayBucket, 0, len(groups))
	for daysAgo, acc := range groups {
		buckets = append(buckets, DayBucket{
			DaysAgo:      daysAgo,
			TotalMinutes: acc.totalMinutes(),
			SessionCount: acc.count,
		})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].DaysAgo < buckets[j].DaysAgo
	})
	return buckets, nil
}

// AggregatePeriods groups records by calendar period of the given timeframe, with the
// same truncation and filtering rules as Aggregate. The window totals cover every
// record in periods 0..horizon and are summed over the raw records, so they can exceed
// the sum of the bucket totals by the seconds each bucket drops.
func AggregatePeriods(records []SessionRecord, reference time.Time, tf Timeframe, horizon int) (PeriodSeries, error) {
	tf = tf.OrDaily()
	if !tf.Valid() {
		return PeriodSeries{}, shared.NewDomainError("progress", "AggregatePeriods", shared.ErrInvalidInput,
			fmt.Sprintf("unknown timeframe %q", tf))
	}
	if horizon < 0 {
		return PeriodSeries{}, shared.NewDomainError("progress", "AggregatePeriods", shared.ErrInvalidReference,
			"horizon must not be negative")
	}

	groups, window := group(records, reference, tf, horizon)
	series := PeriodSeries{
		Timeframe:      tf,
		Buckets:        make([]PeriodBucket, 0, len(groups)),
		WindowMinutes:  window.totalMinutes(),
		WindowSessions: window.count,
	}
	for ago, acc := range groups {
		series.Buckets = append(series.Buckets, PeriodBucket{
			PeriodsAgo:   ago,
			TotalMinutes: acc.totalMinutes(),
			SessionCount: acc.count,
		})
	}
	sort.Slice(series.Buckets, func(i, j int) bool {
		return series.Buckets[i].PeriodsAgo < series.Buckets[j].PeriodsAgo
	})
	return series, nil
}

func group(records []SessionRecord, reference time.Time, tf Timeframe, horizon int) (map[int]*bucketAcc, bucketAcc) {
	loc := reference.Location()
	refDay := DayOf(reference)

	var window bucketAcc
	groups := make(map[int]*bucketAcc)
	for _, r := range records {
		if r.OccurredAt.After(reference) {
			continue
		}
		ago := tf.PeriodsAgo(refDay, DayOf(r.OccurredAt.In(loc)))
		if ago < 0 || ago > horizon {
			continue
		}
		acc, ok := groups[ago]
		if !ok {
			acc = &bucketAcc{}
			groups[ago] = acc
		}
		acc.add(r)
		window.add(r)
	}
	return groups, window
}

// DenseSeries expands sparse buckets into one entry per day in 0..horizonDays.
// Missing days are zero. Buckets outside the window are ignored.
func DenseSeries(buckets []DayBucket, horizonDays int) []DayBucket {
	if horizonDays < 0 {
		return nil
	}
	series := make([]DayBucket, horizonDays+1)
	for i := range series {
		series[i].DaysAgo = i
	}
	for _, b := range buckets {
		if b.DaysAgo < 0 || b.DaysAgo > horizonDays {
			continue
		}
		series[b.DaysAgo].TotalMinutes += b.TotalMinutes
		series[b.DaysAgo].SessionCount += b.SessionCount
	}
	return series
}

// LifetimeMinutes sums all records with the same truncation as a bucket.
func LifetimeMinutes(records []SessionRecord) int64 {
	var acc bucketAcc
	for _, r := range records {
		acc.add(r)
	}
	return acc.totalMinutes()
}

// Dense expands the sparse buckets into one entry per period in 0..horizon.
// Missing periods are zero.
func (s PeriodSeries) Dense(horizon int) []PeriodBucket {
	if horizon < 0 {
		return nil
	}
	dense := make([]PeriodBucket, horizon+1)
	for i := range dense {
		dense[i].PeriodsAgo = i
	}
	for _, b := range s.Buckets {
		if b.PeriodsAgo < 0 || b.PeriodsAgo > horizon {
			continue
		}
		dense[b.PeriodsAgo].TotalMinutes += b.TotalMinutes
		dense[b.PeriodsAgo].SessionCount += b.SessionCount
	}
	return dense
}
