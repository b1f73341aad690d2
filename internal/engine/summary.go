package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"momentum/internal/domain"
)

const (
	summaryHorizon = 7 * 24 * time.Hour
	summaryLimit   = 15
)

// Summary builds the context block sent with every assistant turn. It lists
// the records the assistant is most likely to reference, with their ids.
type Summary struct {
	Stores   domain.Stores
	Location *time.Location
}

// BuildContext implements domain.ContextBuilder.
func (s Summary) BuildContext(ctx context.Context, now time.Time) (string, error) {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s (%s)\n", now.Format("Monday, January 2, 2006 3:04 PM"), loc)

	events, err := s.Stores.Events.ListFor(ctx, domain.Range{Start: now, End: now.Add(summaryHorizon)})
	if err != nil {
		return "", domain.StoreError{Op: "list events", Err: err}
	}
	slices.SortFunc(events, func(a, b domain.Event) int { return a.Start.Compare(b.Start) })
	section(&b, "Upcoming events (next 7 days)", events, func(ev domain.Event) string {
		return fmt.Sprintf("%s at %s", ev.Title, formatTime(ev.Start, loc))
	})

	tasks, err := s.Stores.Tasks.List(ctx)
	if err != nil {
		return "", domain.StoreError{Op: "list tasks", Err: err}
	}
	tasks = slices.DeleteFunc(tasks, func(t domain.Task) bool { return t.Completed })
	sortTasks(tasks)
	section(&b, "Open tasks", tasks, func(t domain.Task) string {
		line := t.Title + " [" + string(t.Priority) + "]"
		if t.DueDate != nil {
			line += " due " + formatDay(*t.DueDate, loc)
			if t.Overdue(now) {
				line += " (overdue)"
			}
		}
		return line
	})

	goals, err := s.Stores.Goals.List(ctx)
	if err != nil {
		return "", domain.StoreError{Op: "list goals", Err: err}
	}
	goals = slices.DeleteFunc(goals, func(g domain.Goal) bool { return g.Completed })
	section(&b, "Active goals", goals, func(g domain.Goal) string {
		return fmt.Sprintf("%s (%s, %s)", g.Title, g.Type, progressLabel(g))
	})

	habits, err := s.Stores.Habits.List(ctx)
	if err != nil {
		return "", domain.StoreError{Op: "list habits", Err: err}
	}
	habits = slices.DeleteFunc(habits, func(h domain.Habit) bool { return h.Paused })
	section(&b, "Active habits", habits, func(h domain.Habit) string {
		line := fmt.Sprintf("%s (%s, streak %d)", h.Name, h.Frequency, h.Streak)
		if loggedOn(h, now, loc) {
			line += " done today"
		}
		return line
	})

	cats, err := s.Stores.Categories.List(ctx)
	if err != nil {
		return "", domain.StoreError{Op: "list categories", Err: err}
	}
	section(&b, "Categories", cats, domain.Category.DisplayTitle)

	return strings.TrimRight(b.String(), "\n"), nil
}

func section[T domain.Entity](b *strings.Builder, heading string, items []T, line func(T) string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", heading)
	for i, it := range items {
		if i == summaryLimit {
			fmt.Fprintf(b, "- ... and %d more\n", len(items)-summaryLimit)
			break
		}
		fmt.Fprintf(b, "- %s (id %s)\n", line(it), it.EntityID())
	}
}
