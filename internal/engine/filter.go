package engine

import (
	"context"
	"slices"
	"time"

	"momentum/internal/domain"
	"momentum/internal/resolve"
)

// facets is the searchable and filterable view of any entity.
type facets struct {
	title      string
	notes      string
	location   string
	tags       []string
	priority   domain.Priority
	categoryID string
	when       *time.Time
	completed  bool
	overdue    bool
}

func facetsOf(ent domain.Entity, now time.Time) facets {
	f := facets{title: ent.DisplayTitle(), completed: ent.IsCompleted()}
	if at, ok := ent.Anchor(); ok {
		f.when = &at
	}
	switch v := ent.(type) {
	case domain.Event:
		f.notes, f.location, f.tags, f.categoryID = v.Notes, v.Location, v.Tags, v.CategoryID
		f.overdue = !v.Completed && v.End.Before(now)
	case domain.Task:
		f.notes, f.tags, f.priority, f.categoryID = v.Notes, v.Tags, v.Priority, v.CategoryID
		f.overdue = v.Overdue(now)
	case domain.Habit:
		f.notes, f.categoryID = v.Notes, v.CategoryID
	case domain.Goal:
		f.notes, f.categoryID = v.Description, v.CategoryID
		f.overdue = !v.Completed && v.TargetDate != nil && v.TargetDate.Before(now)
	case domain.Milestone:
		f.overdue = !v.Completed && v.DueDate != nil && v.DueDate.Before(now)
	}
	return f
}

// matchesText is a case-insensitive substring test over title, notes,
// location and tags.
func (f facets) matchesText(q string) bool {
	if resolve.Contains(f.title, q) || resolve.Contains(f.notes, q) || resolve.Contains(f.location, q) {
		return true
	}
	return slices.ContainsFunc(f.tags, func(t string) bool { return resolve.Contains(t, q) })
}

// Filter selects bulk targets. Zero fields match everything.
type Filter struct {
	Range      *domain.Range
	Priority   domain.Priority
	CategoryID string
	Tag        string
	Query      string
	Overdue    *bool
	Completed  *bool
	// unknownCategory makes the filter match nothing.
	unknownCategory bool
}

func (f Filter) match(ent domain.Entity, now time.Time) bool {
	if f.unknownCategory {
		return false
	}
	v := facetsOf(ent, now)
	if f.Range != nil && (v.when == nil || !f.Range.Contains(*v.when)) {
		return false
	}
	if f.Priority != "" && v.priority != f.Priority {
		return false
	}
	if f.CategoryID != "" && v.categoryID != f.CategoryID {
		return false
	}
	if f.Tag != "" && !slices.ContainsFunc(v.tags, func(t string) bool { return resolve.Equal(t, f.Tag) }) {
		return false
	}
	if f.Query != "" && !v.matchesText(f.Query) {
		return false
	}
	if f.Overdue != nil && v.overdue != *f.Overdue {
		return false
	}
	if f.Completed != nil && v.completed != *f.Completed {
		return false
	}
	return true
}

// listParams lifts a nested filter object to the top level; its keys win
// over top-level ones.
func listParams(raw map[string]any) params {
	p := params(raw)
	if fp, ok := p.object("filter"); ok {
		return fp.merged(base(p))
	}
	return p
}

// parseFilter reads a filter object. Warnings report parts that were ignored.
func (e *Engine) parseFilter(ctx context.Context, c domain.Caller, p params) (Filter, []string, error) {
	var f Filter
	var warnings []string
	dp := e.parser(c)
	if s, ok := p.str("date", "range", "date_range", "when"); ok {
		r, parsed := dp.Range(s)
		if !parsed {
			return f, nil, domain.Invalid("date", "could not understand %q as a date or range", s)
		}
		f.Range = &r
	} else if start, ok, err := p.instant(dp, "start", "from", "start_date"); err != nil {
		return f, nil, err
	} else if ok {
		end, endOK, err := p.instant(dp, "end", "to", "end_date")
		if err != nil {
			return f, nil, err
		}
		if !endOK {
			end = start.AddDate(0, 0, 1)
		}
		f.Range = &domain.Range{Start: start, End: end}
	}
	pr, _, err := p.priority("priority")
	if err != nil {
		return f, nil, err
	}
	f.Priority = pr
	if ref, ok := p.str("category"); ok {
		id, warn, err := e.categoryID(ctx, ref)
		if err != nil {
			return f, nil, err
		}
		if warn != "" {
			f.unknownCategory = true
			warnings = append(warnings, warn)
		}
		f.CategoryID = id
	}
	f.Tag, _ = p.str("tag")
	f.Query, _ = p.str("query", "text", "search", "title")
	if b, ok := p.boolean("overdue"); ok {
		f.Overdue = &b
	}
	if b, ok := p.boolean("completed", "done"); ok {
		f.Completed = &b
	}
	return f, warnings, nil
}
