package recurrence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum/internal/recurrence"
)

var start = time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)

func TestExpandDefaultLimit(t *testing.T) {
	rule, err := recurrence.Parse("daily")
	require.NoError(t, err)
	got := recurrence.Collect(rule, start, 0, nil)
	require.Len(t, got, recurrence.DefaultLimit)
	assert.Equal(t, start.AddDate(0, 0, 1), got[0])
	assert.Equal(t, start.AddDate(0, 0, 10), got[9])
}

func TestExpandStopsAtEndBound(t *testing.T) {
	rule, err := recurrence.Parse("weekly")
	require.NoError(t, err)
	end := start.AddDate(0, 0, 7*4)
	got := recurrence.Collect(rule, start, 10, &end)
	assert.Len(t, got, 4)
	for _, occ := range got {
		assert.False(t, occ.After(end))
	}
}

func TestExpandIsLazy(t *testing.T) {
	rule, err := recurrence.Parse("daily")
	require.NoError(t, err)
	n := 0
	for range recurrence.Expand(rule, start, 1000, nil) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestMonthlyClampsToMonthEnd(t *testing.T) {
	rule, err := recurrence.Parse("monthly")
	require.NoError(t, err)
	got := recurrence.Collect(rule, start, 3, nil)
	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, time.Date(2024, 3, 31, 9, 0, 0, 0, time.UTC), got[1])
	assert.Equal(t, time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC), got[2])
}

func TestWeekdaysSkipWeekend(t *testing.T) {
	rule, err := recurrence.Parse("weekdays")
	require.NoError(t, err)
	friday := time.Date(2024, 5, 17, 8, 0, 0, 0, time.UTC)
	got := recurrence.Collect(rule, friday, 2, nil)
	require.Len(t, got, 2)
	assert.Equal(t, time.Monday, got[0].Weekday())
	assert.Equal(t, time.Tuesday, got[1].Weekday())
}

func TestParse(t *testing.T) {
	for in, want := range map[string]recurrence.Rule{
		"biweekly":       {Frequency: recurrence.Weekly, Interval: 2},
		"every 3 days":   {Frequency: recurrence.Daily, Interval: 3},
		"Every 2 Months": {Frequency: recurrence.Monthly, Interval: 2},
		"annually":       {Frequency: recurrence.Yearly, Interval: 1},
	} {
		got, err := recurrence.Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := recurrence.Parse("every blue moon")
	assert.Error(t, err)
	_, err = recurrence.Parse("every 0 days")
	assert.Error(t, err)
}
