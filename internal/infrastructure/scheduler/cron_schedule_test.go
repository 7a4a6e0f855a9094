package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronSchedule_Next(t *testing.T) {
	base := time.Date(2024, 3, 10, 23, 59, 30, 0, time.UTC) // Sunday

	cases := []struct {
		expr string
		want time.Time
	}{
		{"5 0 * * *", time.Date(2024, 3, 11, 0, 5, 0, 0, time.UTC)},
		{"*/30 * * * *", time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)},
		{"0 6 * * 1-5", time.Date(2024, 3, 11, 6, 0, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)},
		{"15,45 12 1 4 *", time.Date(2024, 4, 1, 12, 15, 0, 0, time.UTC)},
		{"10-20/5 1 * * *", time.Date(2024, 3, 11, 1, 10, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			s, err := ParseCronSchedule(tc.expr, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, s.Next(base))
			assert.Equal(t, tc.expr, s.String())
		})
	}
}

func TestCronSchedule_NextIsStrictlyAfter(t *testing.T) {
	s, err := ParseCronSchedule("0 0 * * *", nil)
	require.NoError(t, err)

	midnight := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, midnight.AddDate(0, 0, 1), s.Next(midnight))
}

func TestCronSchedule_Location(t *testing.T) {
	almaty := time.FixedZone("UTC+5", 5*3600)
	s, err := ParseCronSchedule("0 0 * * *", almaty)
	require.NoError(t, err)

	next := s.Next(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 10, 19, 0, 0, 0, time.UTC), next.UTC())
}

func TestCronSchedule_Impossible(t *testing.T) {
	s, err := ParseCronSchedule("0 0 31 2 *", nil)
	require.NoError(t, err)
	assert.True(t, s.Next(time.Now()).IsZero())
}

func TestParseCronSchedule_Invalid(t *testing.T) {
	for _, expr := range []string{
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseCronSchedule(expr, nil)
			assert.Error(t, err)
		})
	}
}
