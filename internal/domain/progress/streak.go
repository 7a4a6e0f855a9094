package progress

import (
	"sort"
	"time"
)

// StreakPolicy controls how consecutive practice days are counted.
type StreakPolicy struct {
	// MinimumRun is the shortest run that counts as a streak. Shorter runs report 0.
	MinimumRun int
}

// DefaultStreakPolicy matches the community's rules: a single isolated day is not a streak.
var DefaultStreakPolicy = StreakPolicy{MinimumRun: 2}

func (p StreakPolicy) apply(run int) int {
	if run < p.MinimumRun {
		return 0
	}
	return run
}

// CurrentStreak counts consecutive practice days ending at ref, or at ref-1 when
// ref itself has no practice yet. A gap of two or more days resets it.
func (p StreakPolicy) CurrentStreak(days DaySet, ref Day) int {
	anchor := ref
	if !days.Has(anchor) {
		anchor = ref - 1
		if !days.Has(anchor) {
			return 0
		}
	}

	run := 0
	for d := anchor; days.Has(d); d-- {
		run++
	}
	return p.apply(run)
}

// LongestStreak returns the longest run of consecutive practice days in the set.
func (p StreakPolicy) LongestStreak(days DaySet) int {
	sorted := days.Sorted()
	longest, run := 0, 0
	for i, d := range sorted {
		if i > 0 && d == sorted[i-1]+1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return p.apply(longest)
}

// Sorted returns the days in ascending order.
func (s DaySet) Sorted() []Day {
	out := make([]Day, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PracticeDays collects the distinct calendar days in loc with at least one session,
// regardless of its duration.
func PracticeDays(records []SessionRecord, loc *time.Location) DaySet {
	if loc == nil {
		loc = time.UTC
	}
	days := make(DaySet, len(records))
	for _, r := range records {
		days[DayOf(r.OccurredAt.In(loc))] = struct{}{}
	}
	return days
}

// ClassifyStreak computes the current streak with DefaultStreakPolicy and maps it
// through the streak table.
func ClassifyStreak(days DaySet, referenceDay Day, table ThresholdTable) (int, Level, error) {
	return DefaultStreakPolicy.Classify(days, referenceDay, table)
}

// Classify is ClassifyStreak under this policy.
func (p StreakPolicy) Classify(days DaySet, referenceDay Day, table ThresholdTable) (int, Level, error) {
	streak := p.CurrentStreak(days, referenceDay)
	level, err := table.classify("ClassifyStreak", int64(streak))
	if err != nil {
		return 0, Untiered, err
	}
	return streak, level, nil
}
