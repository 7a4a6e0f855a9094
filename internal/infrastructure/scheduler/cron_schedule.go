package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a five-field cron expression evaluated in a fixed location:
// minute hour day-of-month month day-of-week.
//
// Fields accept *, n, n-m, */s, n-m/s and comma lists of those.
// Examples:
//   - "5 0 * * *"    every day at 00:05
//   - "*/30 * * * *" every half hour
//   - "0 6 * * 1-5"  weekdays at 06:00
type CronSchedule struct {
	raw      string
	loc      *time.Location
	minutes  uint64
	hours    uint64
	days     uint64
	months   uint64
	weekdays uint64
}

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// ParseCronSchedule parses expr. A nil location means UTC.
func ParseCronSchedule(expr string, loc *time.Location) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != len(cronFields) {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}
	if loc == nil {
		loc = time.UTC
	}

	var sets [5]uint64
	for i, f := range cronFields {
		set, err := parseCronField(fields[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %s field: %w", expr, f.name, err)
		}
		sets[i] = set
	}

	return &CronSchedule{
		raw:      expr,
		loc:      loc,
		minutes:  sets[0],
		hours:    sets[1],
		days:     sets[2],
		months:   sets[3],
		weekdays: sets[4],
	}, nil
}

// parseCronField returns the allowed values as a bit set.
func parseCronField(field string, min, max int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		rng, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			s, err := strconv.Atoi(stepStr)
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("invalid step %q", stepStr)
			}
			step = s
		}

		lo, hi := min, max
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("invalid range start %q", a)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return 0, fmt.Errorf("invalid range end %q", b)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", rng)
			}
			lo = v
			if !hasStep {
				hi = v
			}
		}

		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("%q is outside [%d-%d]", part, min, max)
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

// Next returns the first matching minute strictly after t, or the zero time
// if nothing matches within a year (e.g. "0 0 31 2 *").
func (s *CronSchedule) Next(t time.Time) time.Time {
	c := t.In(s.loc).Truncate(time.Minute).Add(time.Minute)

	const maxIterations = 366 * 24 * 60
	for i := 0; i < maxIterations; i++ {
		if s.matches(c) {
			return c
		}
		c = c.Add(time.Minute)
	}
	return time.Time{}
}

func (s *CronSchedule) matches(t time.Time) bool {
	return has(s.minutes, t.Minute()) &&
		has(s.hours, t.Hour()) &&
		has(s.days, t.Day()) &&
		has(s.months, int(t.Month())) &&
		has(s.weekdays, int(t.Weekday()))
}

func has(set uint64, v int) bool {
	return set&(1<<uint(v)) != 0
}

// String returns the expression as parsed.
func (s *CronSchedule) String() string {
	return s.raw
}
