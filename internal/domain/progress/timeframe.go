package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
)

// Timeframe is the calendar period a chart is bucketed by.
type Timeframe string

const (
	Daily   Timeframe = "daily"
	Weekly  Timeframe = "weekly"
	Monthly Timeframe = "monthly"
	Yearly  Timeframe = "yearly"
)

// ParseTimeframe parses a timeframe name. An empty string is Daily.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if tf == "" {
		return Daily, nil
	}
	if !tf.Valid() {
		return "", shared.NewDomainError("progress", "ParseTimeframe", shared.ErrInvalidInput,
			fmt.Sprintf("unknown timeframe %q", s))
	}
	return tf, nil
}

// Valid reports whether tf is one of the known timeframes.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// OrDaily returns tf, or Daily when tf is empty.
func (tf Timeframe) OrDaily() Timeframe {
	if tf == "" {
		return Daily
	}
	return tf
}

// index numbers the period containing d. Consecutive periods have consecutive indexes.
// Weeks start on Monday.
func (tf Timeframe) index(d Day) int64 {
	switch tf {
	case Weekly:
		// 1970-01-01 was a Thursday, so day -3 is the first Monday.
		return floorDiv(int64(d)+3, 7)
	case Monthly:
		t := d.Time(time.UTC)
		return int64(t.Year())*12 + int64(t.Month()) - 1
	case Yearly:
		return int64(d.Time(time.UTC).Year())
	default:
		return int64(d)
	}
}

// PeriodsAgo returns how many whole periods day lies before ref.
func (tf Timeframe) PeriodsAgo(ref, day Day) int {
	return int(tf.index(ref) - tf.index(day))
}

// PeriodStart returns the first day of the period periodsAgo periods before ref's.
func (tf Timeframe) PeriodStart(ref Day, periodsAgo int) Day {
	idx := tf.index(ref) - int64(periodsAgo)
	switch tf {
	case Weekly:
		return Day(idx*7 - 3)
	case Monthly:
		year := floorDiv(idx, 12)
		month := time.Month(idx-year*12) + 1
		return DayOf(time.Date(int(year), month, 1, 0, 0, 0, 0, time.UTC))
	case Yearly:
		return DayOf(time.Date(int(idx), time.January, 1, 0, 0, 0, 0, time.UTC))
	default:
		return Day(idx)
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
