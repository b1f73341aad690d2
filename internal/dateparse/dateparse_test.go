package dateparse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum/internal/dateparse"
)

// Wednesday.
var now = time.Date(2024, 5, 15, 10, 30, 0, 0, time.UTC)

func newParser() dateparse.Parser {
	return dateparse.New(now, time.UTC)
}

func TestDateTimeFormats(t *testing.T) {
	p := newParser()
	cases := map[string]time.Time{
		"2024-05-20T09:00:00Z": time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC),
		"2024-05-20T09:00":     time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC),
		"2024-05-20 14:15":     time.Date(2024, 5, 20, 14, 15, 0, 0, time.UTC),
		"2024-05-20":           time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
		"05/20/2024":           time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
		"May 20, 2024 3:00 PM": time.Date(2024, 5, 20, 15, 0, 0, 0, time.UTC),
		"tomorrow":             time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC),
		"tomorrow at 3pm":      time.Date(2024, 5, 16, 15, 0, 0, 0, time.UTC),
		"tomorrow 3 pm":        time.Date(2024, 5, 16, 15, 0, 0, 0, time.UTC),
		"next monday 9:30 am":  time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC),
		"next monday at 9:00":  time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC),
		"friday":               time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC),
		"in 2 hours":           time.Date(2024, 5, 15, 12, 30, 0, 0, time.UTC),
		"in 3 days":            time.Date(2024, 5, 18, 0, 0, 0, 0, time.UTC),
		"14:00":                time.Date(2024, 5, 15, 14, 0, 0, 0, time.UTC),
		"now":                  now,
	}
	for in, want := range cases {
		got, ok := p.DateTime(in)
		require.True(t, ok, "parse %q", in)
		assert.True(t, want.Equal(got), "parse %q: want %s got %s", in, want, got)
	}
}

func TestDateTimeNeverPanicsOnGarbage(t *testing.T) {
	p := newParser()
	for _, in := range []string{"", "   ", "soonish", "32/13/2024", "at", "next", "in forever"} {
		_, ok := p.DateTime(in)
		assert.False(t, ok, in)
	}
}

func TestMonthDayWithoutYearRollsForward(t *testing.T) {
	p := newParser()
	got, ok := p.Date("Jan 3")
	require.True(t, ok)
	assert.Equal(t, 2025, got.Year())

	got, ok = p.Date("June 1")
	require.True(t, ok)
	assert.Equal(t, 2024, got.Year())
}

func TestRange(t *testing.T) {
	p := newParser()

	r, ok := p.Range("today")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC), r.End)

	r, ok = p.Range("2024-05-20 to 2024-05-22")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2024, 5, 23, 0, 0, 0, 0, time.UTC), r.End)

	r, ok = p.Range("this week")
	require.True(t, ok)
	assert.Equal(t, time.Sunday, r.Start.Weekday())
	assert.Equal(t, 7*24*time.Hour, r.End.Sub(r.Start))

	r, ok = p.Range("next 3 days")
	require.True(t, ok)
	assert.Equal(t, 3*24*time.Hour, r.End.Sub(r.Start))

	_, ok = p.Range("whenever")
	assert.False(t, ok)
}

func TestDuration(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"90m":        90 * time.Minute,
		"1h30m":      90 * time.Minute,
		"2 hours":    2 * time.Hour,
		"45 minutes": 45 * time.Minute,
	} {
		got, ok := dateparse.Duration(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
}
