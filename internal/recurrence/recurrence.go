// Package recurrence expands a recurrence rule into future occurrences.
package recurrence

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"
)

// DefaultLimit bounds expansion when the caller gives no limit.
const DefaultLimit = 10

type Frequency string

const (
	Daily    Frequency = "daily"
	Weekdays Frequency = "weekdays"
	Weekly   Frequency = "weekly"
	Monthly  Frequency = "monthly"
	Yearly   Frequency = "yearly"
)

// Rule is a parsed recurrence rule. Interval is at least 1.
type Rule struct {
	Frequency Frequency
	Interval  int
}

func (r Rule) String() string {
	if r.Interval <= 1 {
		return string(r.Frequency)
	}
	unit := map[Frequency]string{Daily: "days", Weekly: "weeks", Monthly: "months", Yearly: "years"}[r.Frequency]
	return fmt.Sprintf("every %d %s", r.Interval, unit)
}

// Parse accepts daily, weekdays, weekly, biweekly, monthly, yearly/annually
// and "every N days|weeks|months|years".
func Parse(s string) (Rule, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "daily", "every day":
		return Rule{Frequency: Daily, Interval: 1}, nil
	case "weekdays", "every weekday", "weekday":
		return Rule{Frequency: Weekdays, Interval: 1}, nil
	case "weekly", "every week":
		return Rule{Frequency: Weekly, Interval: 1}, nil
	case "biweekly", "fortnightly", "every other week":
		return Rule{Frequency: Weekly, Interval: 2}, nil
	case "monthly", "every month":
		return Rule{Frequency: Monthly, Interval: 1}, nil
	case "yearly", "annually", "every year":
		return Rule{Frequency: Yearly, Interval: 1}, nil
	}
	fields := strings.Fields(s)
	if len(fields) == 3 && fields[0] == "every" {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return Rule{}, fmt.Errorf("invalid recurrence interval %q", fields[1])
		}
		switch strings.TrimSuffix(fields[2], "s") {
		case "day":
			return Rule{Frequency: Daily, Interval: n}, nil
		case "week":
			return Rule{Frequency: Weekly, Interval: n}, nil
		case "month":
			return Rule{Frequency: Monthly, Interval: n}, nil
		case "year":
			return Rule{Frequency: Yearly, Interval: n}, nil
		}
	}
	return Rule{}, fmt.Errorf("unsupported recurrence %q", s)
}

// Expand yields occurrences strictly after start, at most limit of them
// (DefaultLimit when limit <= 0), stopping early at end when end is non-nil.
// The sequence is lazy.
func Expand(rule Rule, start time.Time, limit int, end *time.Time) iter.Seq[time.Time] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	interval := max(rule.Interval, 1)
	return func(yield func(time.Time) bool) {
		produced := 0
		cur := start
		for step := 1; produced < limit; step++ {
			next, ok := rule.advance(start, cur, step, interval)
			if !ok {
				return
			}
			cur = next
			if end != nil && next.After(*end) {
				return
			}
			produced++
			if !yield(next) {
				return
			}
		}
	}
}

// Collect drains Expand into a slice.
func Collect(rule Rule, start time.Time, limit int, end *time.Time) []time.Time {
	var out []time.Time
	for t := range Expand(rule, start, limit, end) {
		out = append(out, t)
	}
	return out
}

// advance returns occurrence number step. Month-based rules are computed
// from the original start so day-of-month clamping does not drift.
func (r Rule) advance(origin, prev time.Time, step, interval int) (time.Time, bool) {
	switch r.Frequency {
	case Daily:
		return origin.AddDate(0, 0, step*interval), true
	case Weekly:
		return origin.AddDate(0, 0, 7*step*interval), true
	case Weekdays:
		next := prev.AddDate(0, 0, 1)
		for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
			next = next.AddDate(0, 0, 1)
		}
		return next, true
	case Monthly:
		return addMonthsClamped(origin, step*interval), true
	case Yearly:
		return addMonthsClamped(origin, 12*step*interval), true
	}
	return time.Time{}, false
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(d, last), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
