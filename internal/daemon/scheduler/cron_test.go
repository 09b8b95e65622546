package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 4, 15, hour, minute, 30, 0, time.UTC) // a Wednesday
}

func TestMatchesStepMinutes(t *testing.T) {
	var hits []int
	for m := 0; m < 60; m++ {
		ok, err := Matches("*/15 * * * *", at(10, m))
		require.NoError(t, err)
		if ok {
			hits = append(hits, m)
		}
	}
	assert.Equal(t, []int{0, 15, 30, 45}, hits)
}

func TestMatchesCommaList(t *testing.T) {
	var hits []int
	for m := 0; m < 60; m++ {
		ok, err := Matches("5,10 * * * *", at(3, m))
		require.NoError(t, err)
		if ok {
			hits = append(hits, m)
		}
	}
	assert.Equal(t, []int{5, 10}, hits)
}

func TestMatchesStarEverything(t *testing.T) {
	for _, tm := range []time.Time{at(0, 0), at(12, 34), at(23, 59)} {
		ok, err := Matches("* * * * *", tm)
		require.NoError(t, err)
		assert.True(t, ok, tm.String())
	}
}

func TestMatchesFields(t *testing.T) {
	tests := []struct {
		name string
		expr string
		t    time.Time
		want bool
	}{
		{"hour and minute", "30 9 * * *", at(9, 30), true},
		{"wrong hour", "30 9 * * *", at(10, 30), false},
		{"weekday", "0 8 * * 3", at(8, 0), true},
		{"other weekday", "0 8 * * 1", at(8, 0), false},
		{"day of month", "0 8 15 * *", at(8, 0), true},
		{"month", "0 8 * 5 *", at(8, 0), false},
		{"descriptor", "@hourly", at(7, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Matches(tt.expr, tt.t)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCronRejectsInvalid(t *testing.T) {
	for _, expr := range []string{"", "* * *", "61 * * * *", "not a cron"} {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestUntilNextMinute(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 45, 0, time.UTC)
	assert.Equal(t, 15*time.Second, untilNextMinute(now))
}
