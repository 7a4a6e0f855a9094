// Package timeutil provides UTC-offset helpers for session timestamps.
//
// Members report their local offset from UTC when logging a session. Sessions are
// stored with their local wall-clock time expressed as a UTC instant, so that day
// boundaries line up with the member's own calendar without storing a zone.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Offset bounds in minutes, UTC-12:00 to UTC+14:00.
const (
	MinOffsetMinutes = -12 * 60
	MaxOffsetMinutes = 14 * 60
)

// allowedOffsets lists the offsets in use worldwide, in minutes.
var allowedOffsets = map[int]struct{}{
	-720: {}, -660: {}, -600: {}, -570: {}, -540: {}, -480: {}, -420: {}, -360: {},
	-300: {}, -270: {}, -240: {}, -210: {}, -180: {}, -150: {}, -120: {}, -60: {},
	0: {}, 60: {}, 120: {}, 180: {}, 210: {}, 240: {}, 270: {}, 300: {}, 330: {},
	345: {}, 360: {}, 390: {}, 420: {}, 480: {}, 525: {}, 540: {}, 570: {}, 600: {},
	630: {}, 660: {}, 720: {}, 765: {}, 780: {}, 825: {}, 840: {},
}

// ValidOffset reports whether minutes is a real-world UTC offset.
func ValidOffset(minutes int) bool {
	_, ok := allowedOffsets[minutes]
	return ok
}

// LocalWallClock returns t shifted by the offset and expressed in UTC, i.e. the
// member's wall-clock reading stored as if it were UTC.
func LocalWallClock(t time.Time, offsetMinutes int) time.Time {
	return t.UTC().Add(time.Duration(offsetMinutes) * time.Minute)
}

// ParseOffset parses an offset given either as minutes ("-480", "330") or as
// "±HH:MM" with an optional "UTC" prefix ("UTC+05:30").
func ParseOffset(s string) (int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "UTC"), "utc")
	if s == "" {
		return 0, nil
	}

	if !strings.Contains(s, ":") {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid offset %q", s)
		}
		return checkOffset(n)
	}

	sign := 1
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	}

	hh, mm, _ := strings.Cut(s, ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return checkOffset(sign * (h*60 + m))
}

func checkOffset(minutes int) (int, error) {
	if minutes < MinOffsetMinutes || minutes > MaxOffsetMinutes {
		return 0, fmt.Errorf("offset %d minutes is out of range", minutes)
	}
	return minutes, nil
}

// FormatOffset formats minutes as "UTC+05:30".
func FormatOffset(minutes int) string {
	sign := '+'
	if minutes < 0 {
		sign = '-'
		minutes = -minutes
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, minutes/60, minutes%60)
}
