// Package dateparse does best-effort parsing of the date, time and range
// strings an assistant emits. Nothing here returns an error; failure is ok=false.
package dateparse

import (
	"strconv"
	"strings"
	"time"

	"momentum/internal/domain"
)

// Parser resolves relative expressions against Now in Location.
type Parser struct {
	Now      time.Time
	Location *time.Location
}

func New(now time.Time, loc *time.Location) Parser {
	if loc == nil {
		loc = time.Local
	}
	return Parser{Now: now.In(loc), Location: loc}
}

// Formats carrying a zone are tried first, then local wall-clock formats.
var zonedFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
}

var dateTimeFormats = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 3:04 PM",
	"2006-01-02 3:04PM",
	"2006-01-02 3PM",
	"01/02/2006 15:04",
	"01/02/2006 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 15:04",
	"January 2, 2006 3:04 PM",
	"January 2, 2006 15:04",
	"Monday, January 2, 2006 3:04 PM",
}

var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"2 January 2006",
	"Monday, January 2, 2006",
	"Jan 2",
	"January 2",
}

var clockFormats = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
	"3:04 pm",
	"3:04pm",
	"3 PM",
	"3PM",
	"3 pm",
	"3pm",
}

// DateTime parses an instant. Date-only inputs resolve to midnight.
func (p Parser) DateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if strings.EqualFold(s, "now") {
		return p.Now, true
	}
	for _, f := range zonedFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t.In(p.Location), true
		}
	}
	for _, f := range dateTimeFormats {
		if t, err := time.ParseInLocation(f, s, p.Location); err == nil {
			return t, true
		}
	}
	if d, ok := p.Date(s); ok {
		return d, true
	}
	if t, ok := p.relativeDateTime(s); ok {
		return t, true
	}
	if c, ok := p.Clock(s); ok {
		return c, true
	}
	return time.Time{}, false
}

// Date parses a calendar day and returns its local midnight.
func (p Parser) Date(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, f := range dateFormats {
		t, err := time.ParseInLocation(f, s, p.Location)
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			t = time.Date(p.Now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, p.Location)
			if t.Before(p.startOfDay(p.Now)) {
				t = t.AddDate(1, 0, 0)
			}
		}
		return t, true
	}
	return p.relativeDay(strings.ToLower(s))
}

// Clock parses a time of day on the current date.
func (p Parser) Clock(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, f := range clockFormats {
		t, err := time.ParseInLocation(f, strings.ToUpper(s), p.Location)
		if err != nil {
			t, err = time.ParseInLocation(f, s, p.Location)
		}
		if err != nil {
			continue
		}
		y, m, d := p.Now.Date()
		return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, p.Location), true
	}
	switch strings.ToLower(s) {
	case "noon":
		return p.at(p.Now, 12, 0), true
	case "midnight":
		return p.startOfDay(p.Now), true
	}
	return time.Time{}, false
}

// Range parses a date range. Single days expand to [midnight, next midnight).
func (p Parser) Range(s string) (domain.Range, bool) {
	raw := strings.TrimSpace(s)
	s = strings.ToLower(raw)
	if s == "" {
		return domain.Range{}, false
	}
	for _, sep := range []string{" to ", " until ", " through ", " - ", "..", "/"} {
		idx := strings.Index(s, sep)
		if idx < 0 || len(s) != len(raw) {
			continue
		}
		a, okA := p.DateTime(raw[:idx])
		b, okB := p.DateTime(raw[idx+len(sep):])
		if !okA || !okB {
			continue
		}
		if isMidnight(b) {
			b = b.AddDate(0, 0, 1)
		}
		if b.Before(a) {
			a, b = b, a
		}
		return domain.Range{Start: a, End: b}, true
	}
	today := p.startOfDay(p.Now)
	switch s {
	case "this week", "week":
		start := today.AddDate(0, 0, -int(today.Weekday()))
		return domain.Range{Start: start, End: start.AddDate(0, 0, 7)}, true
	case "next week":
		start := today.AddDate(0, 0, 7-int(today.Weekday()))
		return domain.Range{Start: start, End: start.AddDate(0, 0, 7)}, true
	case "last week":
		start := today.AddDate(0, 0, -int(today.Weekday())-7)
		return domain.Range{Start: start, End: start.AddDate(0, 0, 7)}, true
	case "this month", "month":
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, p.Location)
		return domain.Range{Start: start, End: start.AddDate(0, 1, 0)}, true
	case "next month":
		start := time.Date(today.Year(), today.Month()+1, 1, 0, 0, 0, 0, p.Location)
		return domain.Range{Start: start, End: start.AddDate(0, 1, 0)}, true
	case "weekend", "this weekend":
		offset := (int(time.Saturday) - int(today.Weekday()) + 7) % 7
		start := today.AddDate(0, 0, offset)
		return domain.Range{Start: start, End: start.AddDate(0, 0, 2)}, true
	}
	if n, unit, ok := nextN(s); ok {
		switch unit {
		case "day":
			return domain.Range{Start: today, End: today.AddDate(0, 0, n)}, true
		case "week":
			return domain.Range{Start: today, End: today.AddDate(0, 0, 7*n)}, true
		case "month":
			return domain.Range{Start: today, End: today.AddDate(0, n, 0)}, true
		}
	}
	if d, ok := p.DateTime(raw); ok {
		start := p.startOfDay(d)
		return domain.Range{Start: start, End: start.AddDate(0, 0, 1)}, true
	}
	return domain.Range{}, false
}

// Duration parses "90m", "1h30m", "2 hours" or "45 minutes".
func Duration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if d, err := time.ParseDuration(s); err == nil {
		return d, true
	}
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, false
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	switch strings.TrimSuffix(fields[1], "s") {
	case "minute", "min":
		return time.Duration(n * float64(time.Minute)), true
	case "hour", "hr", "h":
		return time.Duration(n * float64(time.Hour)), true
	case "day":
		return time.Duration(n * 24 * float64(time.Hour)), true
	}
	return 0, false
}

func (p Parser) relativeDay(s string) (time.Time, bool) {
	today := p.startOfDay(p.Now)
	switch s {
	case "today", "tonight":
		return today, true
	case "tomorrow":
		return today.AddDate(0, 0, 1), true
	case "yesterday":
		return today.AddDate(0, 0, -1), true
	case "day after tomorrow":
		return today.AddDate(0, 0, 2), true
	}
	next := false
	if rest, ok := strings.CutPrefix(s, "next "); ok {
		s, next = rest, true
	} else if rest, ok := strings.CutPrefix(s, "this "); ok {
		s = rest
	} else if rest, ok := strings.CutPrefix(s, "on "); ok {
		s = rest
	}
	if wd, ok := weekday(s); ok {
		offset := (int(wd) - int(today.Weekday()) + 7) % 7
		if next && offset == 0 {
			offset = 7
		}
		return today.AddDate(0, 0, offset), true
	}
	if rest, ok := strings.CutPrefix(s, "in "); ok {
		if n, unit, ok := count(rest); ok {
			switch unit {
			case "day":
				return today.AddDate(0, 0, n), true
			case "week":
				return today.AddDate(0, 0, 7*n), true
			case "month":
				return today.AddDate(0, n, 0), true
			}
		}
	}
	return time.Time{}, false
}

// relativeDateTime handles "<day> at <clock>" and "<day> <clock>".
func (p Parser) relativeDateTime(s string) (time.Time, bool) {
	lower := strings.ToLower(strings.TrimSpace(s))
	if rest, ok := strings.CutPrefix(lower, "in "); ok {
		if d, ok := Duration(rest); ok {
			return p.Now.Add(d), true
		}
	}
	if day, clock, found := strings.Cut(lower, " at "); found {
		return p.dayAt(day, clock)
	}
	// the clock may itself contain a space, as in "3 pm"
	for idx := strings.LastIndex(lower, " "); idx > 0; idx = strings.LastIndex(lower[:idx], " ") {
		if t, ok := p.dayAt(lower[:idx], lower[idx+1:]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func (p Parser) dayAt(day, clock string) (time.Time, bool) {
	d, ok := p.Date(day)
	if !ok {
		return time.Time{}, false
	}
	c, ok := p.Clock(clock)
	if !ok {
		return time.Time{}, false
	}
	return p.at(d, c.Hour(), c.Minute()), true
}

func (p Parser) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(p.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, p.Location)
}

func (p Parser) at(day time.Time, hour, minute int) time.Time {
	y, m, d := day.In(p.Location).Date()
	return time.Date(y, m, d, hour, minute, 0, 0, p.Location)
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

func weekday(s string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}

// count parses "3 days", "a week", "2 months".
func count(s string) (int, string, bool) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, "", false
	}
	n := 1
	if fields[0] != "a" && fields[0] != "one" {
		v, err := strconv.Atoi(fields[0])
		if err != nil || v < 0 {
			return 0, "", false
		}
		n = v
	}
	return n, strings.TrimSuffix(fields[1], "s"), true
}

func nextN(s string) (int, string, bool) {
	rest, ok := strings.CutPrefix(s, "next ")
	if !ok {
		return 0, "", false
	}
	return count(rest)
}
