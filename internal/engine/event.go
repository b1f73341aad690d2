package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"momentum/internal/bulk"
	"momentum/internal/dateparse"
	"momentum/internal/domain"
	"momentum/internal/recurrence"
	"momentum/internal/resolve"
	"momentum/internal/router"
)

// eventDraft validates creation arguments without touching the store.
func (e *Engine) eventDraft(ctx context.Context, c domain.Caller, p params) (domain.EventDraft, []string, error) {
	var d domain.EventDraft
	var warnings []string
	dp := e.parser(c)
	loc := location(c)

	title, ok := p.str("title", "name", "summary")
	if !ok {
		return d, nil, domain.Invalid("title", "an event needs a title")
	}
	d.Title = title
	d.AllDay, _ = p.boolean("all_day", "allDay")

	start, ok, err := p.instant(dp, "start", "start_time", "startTime", "date", "when")
	if err != nil {
		return d, nil, err
	}
	if !ok {
		return d, nil, domain.Invalid("start", "an event needs a start time")
	}
	end, hasEnd, err := p.instant(dp, "end", "end_time", "endTime")
	if err != nil {
		return d, nil, err
	}
	if d.AllDay {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		if !hasEnd || !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
	} else if !hasEnd {
		end = start.Add(time.Hour)
		if s, ok := p.str("duration"); ok {
			dur, parsed := parseDuration(s)
			if !parsed || dur <= 0 {
				return d, nil, domain.Invalid("duration", "could not understand %q as a duration", s)
			}
			end = start.Add(dur)
		}
	} else if !end.After(start) {
		// a bare clock time for the end belongs to the start's day
		sameDay := time.Date(start.Year(), start.Month(), start.Day(), end.Hour(), end.Minute(), 0, 0, start.Location())
		if !sameDay.After(start) {
			return d, nil, domain.Invalid("end", "end must be after start")
		}
		end = sameDay
	}
	d.Start, d.End = start, end

	d.Location, _ = p.str("location", "place")
	d.Notes, _ = p.str("notes", "description")
	d.Tags, _ = p.list("tags")
	if ref, ok := p.str("category"); ok {
		id, warn, err := e.categoryID(ctx, ref)
		if err != nil {
			return d, nil, err
		}
		if warn != "" {
			warnings = append(warnings, warn)
		}
		d.CategoryID = id
	}
	if s, ok := p.str("recurrence", "repeat", "repeats"); ok && !strings.EqualFold(s, "none") {
		rule, err := recurrence.Parse(s)
		if err != nil {
			return d, nil, domain.Invalid("recurrence", "%v", err)
		}
		d.Recurrence = rule.String()
		until, ok, err := p.instant(dp, "recurrence_end", "until", "repeat_until")
		if err != nil {
			return d, nil, err
		}
		if ok {
			d.RecurrenceEnd = &until
		}
		if n, ok := p.integer("recurrence_count", "occurrences", "count"); ok && n > 0 {
			d.RecurrenceLimit = n
		}
	}
	return d, warnings, nil
}

func parseDuration(s string) (time.Duration, bool) {
	if mins, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return time.Duration(mins) * time.Minute, true
	}
	return dateparse.Duration(s)
}

// conflicts lists open events overlapping [start, end).
func (e *Engine) conflicts(ctx context.Context, start, end time.Time, exclude string) ([]domain.Event, error) {
	all, err := e.Stores.Events.List(ctx)
	if err != nil {
		return nil, domain.StoreError{Op: "list events", Err: err}
	}
	slot := domain.Event{Start: start, End: end}
	var out []domain.Event
	for _, ev := range all {
		if ev.ID != exclude && !ev.Completed && ev.Overlaps(slot) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (e *Engine) createEvent(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	d, warnings, err := e.eventDraft(ctx, call.Caller, p)
	if err != nil {
		return failure(err)
	}
	clash, err := e.conflicts(ctx, d.Start, d.End, "")
	if err != nil {
		return failure(err)
	}
	loc := location(call.Caller)
	msg := fmt.Sprintf("Ready to add %q on %s until %s", d.Title, formatTime(d.Start, loc), d.End.In(loc).Format("3:04 PM"))
	if d.Recurrence != "" {
		msg += fmt.Sprintf(", repeating %s", d.Recurrence)
	}
	msg += ". Confirm to save it."
	details := draftDetails(d)
	if len(clash) > 0 {
		titles := make([]string, 0, len(clash))
		for _, ev := range clash {
			titles = append(titles, ev.Title)
		}
		details["conflicts"] = strings.Join(titles, ", ")
		msg += fmt.Sprintf(" Note: it overlaps %s.", strings.Join(quoteAll(titles), ", "))
	}
	return succeed(withWarnings(msg, warnings), details, domain.Pending{Drafts: []domain.EventDraft{d}})
}

func (e *Engine) createEvents(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	items := p.items()
	if len(items) == 0 {
		return failure(domain.Invalid("items", "no events to add"))
	}
	if limit := bulkMax(call.Caller); len(items) > limit {
		return failure(domain.Invalid("items", "%d events requested; at most %d can be added at once", len(items), limit))
	}
	var (
		drafts   []domain.EventDraft
		failed   []error
		warnings []string
		lines    []string
	)
	loc := location(call.Caller)
	for i, it := range items {
		d, warns, err := e.eventDraft(ctx, call.Caller, it.merged(base(p)))
		if err != nil {
			failed = append(failed, fmt.Errorf("item %d: %w", i+1, err))
			continue
		}
		warnings = append(warnings, warns...)
		drafts = append(drafts, d)
		lines = append(lines, fmt.Sprintf("- %s, %s", d.Title, formatTime(d.Start, loc)))
	}
	if len(drafts) == 0 {
		return failure(fmt.Errorf("none of the events could be prepared: %s", summarize(failed, 3)))
	}
	msg := fmt.Sprintf("Ready to add %d %s:\n%s\nConfirm to save them.", len(drafts), noun(domain.KindEvent, len(drafts)), strings.Join(lines, "\n"))
	if len(failed) > 0 {
		msg += fmt.Sprintf(" %d could not be prepared (%s).", len(failed), summarize(failed, 3))
	}
	details := map[string]string{
		"status":    "pending",
		"succeeded": strconv.Itoa(len(drafts)),
		"failed":    strconv.Itoa(len(failed)),
	}
	return succeed(withWarnings(msg, warnings), details, domain.Pending{Drafts: drafts})
}

// Materialize persists confirmed drafts, expanding recurring ones into a
// series that shares one SeriesID.
func (e *Engine) Materialize(ctx context.Context, c domain.Caller, pending domain.Pending) domain.FunctionCallResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c.UserID != "" {
		ctx = domain.WithActor(ctx, c.UserID)
	}
	if len(pending.Drafts) == 0 {
		return failure(domain.Invalid("drafts", "nothing to confirm"))
	}
	now := e.now()
	loc := location(c)
	var (
		created []string
		failed  []error
		lines   []string
	)
	for _, d := range pending.Drafts {
		ev := domain.Event{
			ID:         e.newID(),
			Title:      d.Title,
			Start:      d.Start,
			End:        d.End,
			AllDay:     d.AllDay,
			Location:   d.Location,
			Notes:      d.Notes,
			Tags:       d.Tags,
			CategoryID: d.CategoryID,
			Recurrence: d.Recurrence,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		var occurrences []time.Time
		if d.Recurrence != "" {
			rule, err := recurrence.Parse(d.Recurrence)
			if err != nil {
				failed = append(failed, domain.Invalid("recurrence", "%v", err))
				continue
			}
			limit := d.RecurrenceLimit
			if limit <= 0 {
				limit = recurrenceLimit(c)
			}
			ev.SeriesID = e.newID()
			occurrences = recurrence.Collect(rule, d.Start, limit, d.RecurrenceEnd)
		}
		if _, err := e.Stores.Events.Create(ctx, ev); err != nil {
			failed = append(failed, storeErr("create event", domain.KindEvent, ev.ID, err))
			continue
		}
		created = append(created, ev.ID)
		dur := d.End.Sub(d.Start)
		extra := 0
		for _, at := range occurrences {
			sib := ev
			sib.ID = e.newID()
			sib.Start, sib.End = at, at.Add(dur)
			if _, err := e.Stores.Events.Create(ctx, sib); err != nil {
				failed = append(failed, storeErr("create event", domain.KindEvent, sib.ID, err))
				continue
			}
			created = append(created, sib.ID)
			extra++
		}
		line := fmt.Sprintf("%q on %s (id %s)", ev.Title, formatTime(ev.Start, loc), ev.ID)
		if extra > 0 {
			line += fmt.Sprintf(" plus %d more %s occurrences", extra, d.Recurrence)
		}
		lines = append(lines, line)
	}
	res := batchResult(domain.KindEvent, "Added", created, failed, nil, -1)
	res.FunctionName = "create_event"
	if res.Success {
		res.Message = "Added " + strings.Join(lines, "; ") + "."
		if len(failed) > 0 {
			res.Message += fmt.Sprintf(" %d failed (%s).", len(failed), summarize(failed, 3))
		}
	}
	return res
}

// applyEventUpdate applies a partial update; absent fields are left alone.
func (e *Engine) applyEventUpdate(ctx context.Context, c domain.Caller, ev domain.Event, p params, names map[string]string, index, total int) (domain.Event, []string, error) {
	var warnings []string
	dp := e.parser(c)
	if s, ok := p.str("title", "new_title", "name"); ok {
		ev.Title = s
	}
	if s, ok := p.text("location"); ok {
		ev.Location = s
	}
	if s, ok := p.text("notes", "description"); ok {
		ev.Notes = bulk.Expand(s, bulk.Subject{Title: ev.Title, Category: names[ev.CategoryID], Day: ev.Start}, index, total)
	}
	if tags, ok := p.list("tags"); ok {
		ev.Tags = tags
	}
	if b, ok := p.boolean("all_day"); ok {
		ev.AllDay = b
	}
	if b, ok := p.boolean("completed"); ok {
		ev.Completed = b
	}
	if ref, ok := p.str("category"); ok {
		id, warn, err := e.categoryID(ctx, ref)
		if err != nil {
			return ev, nil, err
		}
		if warn != "" {
			warnings = append(warnings, warn)
		} else {
			ev.CategoryID = id
		}
	}
	dur := ev.End.Sub(ev.Start)
	start, hasStart, err := p.instant(dp, "start", "start_time", "date")
	if err != nil {
		return ev, nil, err
	}
	end, hasEnd, err := p.instant(dp, "end", "end_time")
	if err != nil {
		return ev, nil, err
	}
	if hasStart {
		ev.Start = start
		ev.End = start.Add(dur)
	}
	if hasEnd {
		ev.End = end
	}
	if !hasEnd {
		if s, ok := p.str("duration"); ok {
			d, parsed := parseDuration(s)
			if !parsed || d <= 0 {
				return ev, nil, domain.Invalid("duration", "could not understand %q as a duration", s)
			}
			ev.End = ev.Start.Add(d)
		}
	}
	if !ev.End.After(ev.Start) {
		return ev, nil, domain.Invalid("end", "end must be after start")
	}
	ev.UpdatedAt = e.now()
	return ev, warnings, nil
}

func wantsSeries(p params) bool {
	if s, ok := p.str("scope"); ok {
		switch strings.ToLower(s) {
		case "all", "series", "all_occurrences":
			return true
		}
	}
	b, _ := p.boolean("all_occurrences", "series")
	return b
}

// seriesMembers re-queries the store for every event in series.
func (e *Engine) seriesMembers(ctx context.Context, series string) ([]domain.Event, error) {
	all, err := e.Stores.Events.List(ctx)
	if err != nil {
		return nil, domain.StoreError{Op: "list events", Err: err}
	}
	var out []domain.Event
	for _, ev := range all {
		if ev.SeriesID == series {
			out = append(out, ev)
		}
	}
	slices.SortFunc(out, func(a, b domain.Event) int { return a.Start.Compare(b.Start) })
	return out, nil
}

func (e *Engine) updateEvent(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	ev, err := lookup(ctx, e.Stores.Events, domain.KindEvent, call.Envelope.ID, resolve.Options[domain.Event]{})
	if err != nil {
		return failure(err)
	}
	names := e.categoryNames(ctx)
	if wantsSeries(p) && ev.SeriesID != "" {
		return e.updateSeries(ctx, call, ev, p, names)
	}
	updated, warnings, err := e.applyEventUpdate(ctx, call.Caller, ev, p, names, 0, 1)
	if err != nil {
		return failure(err)
	}
	if err := e.Stores.Events.Update(ctx, updated); err != nil {
		return failure(storeErr("update event", domain.KindEvent, ev.ID, err))
	}
	msg := fmt.Sprintf("Updated %q (%s)", updated.Title, formatTime(updated.Start, location(call.Caller)))
	if clash, err := e.conflicts(ctx, updated.Start, updated.End, updated.ID); err == nil && len(clash) > 0 {
		msg += fmt.Sprintf("; it now overlaps %s", strings.Join(quoteAll(eventTitles(clash)), ", "))
	}
	return succeed(withWarnings(msg, warnings), eventDetails(updated), domain.Committed{Kind: domain.KindEvent, IDs: []string{updated.ID}})
}

// updateSeries shifts every member by the same offset as the anchor event
// and applies the remaining fields to each one.
func (e *Engine) updateSeries(ctx context.Context, call router.Call, anchor domain.Event, p params, names map[string]string) domain.FunctionCallResult {
	members, err := e.seriesMembers(ctx, anchor.SeriesID)
	if err != nil {
		return failure(err)
	}
	shifted, warnings, err := e.applyEventUpdate(ctx, call.Caller, anchor, p, names, 0, 1)
	if err != nil {
		return failure(err)
	}
	offset := shifted.Start.Sub(anchor.Start)
	length := shifted.End.Sub(shifted.Start)
	rest := base(p)
	for _, k := range []string{"start", "start_time", "date", "end", "end_time", "duration"} {
		delete(rest, k)
	}
	var done []string
	var failed []error
	for i, m := range members {
		cur, err := e.Stores.Events.Get(ctx, m.ID)
		if err != nil {
			failed = append(failed, storeErr("get event", domain.KindEvent, m.ID, err))
			continue
		}
		upd, warns, err := e.applyEventUpdate(ctx, call.Caller, cur, rest, names, i, len(members))
		if err != nil {
			failed = append(failed, err)
			continue
		}
		upd.Start = cur.Start.Add(offset)
		upd.End = upd.Start.Add(length)
		if err := e.Stores.Events.Update(ctx, upd); err != nil {
			failed = append(failed, storeErr("update event", domain.KindEvent, m.ID, err))
			continue
		}
		warnings = append(warnings, warns...)
		done = append(done, m.ID)
	}
	if after, err := e.seriesMembers(ctx, anchor.SeriesID); err == nil {
		before := make(map[string]bool, len(members))
		for _, m := range members {
			before[m.ID] = true
		}
		still := make(map[string]bool, len(after))
		added := 0
		for _, m := range after {
			still[m.ID] = true
			if !before[m.ID] {
				added++
			}
		}
		gone := 0
		for _, id := range done {
			if !still[id] {
				gone++
			}
		}
		if added > 0 {
			failed = append(failed, fmt.Errorf("%d events were added to the series meanwhile and were not updated", added))
		}
		if gone > 0 {
			warnings = append(warnings, fmt.Sprintf("%d updated events have since left the series", gone))
		}
	}
	res := batchResult(domain.KindEvent, "Updated", done, failed, warnings, -1)
	if res.Success {
		head := fmt.Sprintf("Updated %d %s", len(done), noun(domain.KindEvent, len(done)))
		res.Message = head + fmt.Sprintf(" in the %q series", anchor.Title) + strings.TrimPrefix(res.Message, head)
	}
	return res
}

func (e *Engine) updateEvents(ctx context.Context, call router.Call) domain.FunctionCallResult {
	names := e.categoryNames(ctx)
	return runBatch(ctx, e, call, batch[domain.Event]{
		kind:  domain.KindEvent,
		store: e.Stores.Events,
		verb:  "Updated",
		apply: func(ctx context.Context, ev domain.Event, p params, i, n int) ([]string, error) {
			upd, warns, err := e.applyEventUpdate(ctx, call.Caller, ev, p, names, i, n)
			if err != nil {
				return nil, err
			}
			if err := e.Stores.Events.Update(ctx, upd); err != nil {
				return nil, storeErr("update event", domain.KindEvent, ev.ID, err)
			}
			return warns, nil
		},
	})
}

func (e *Engine) deleteEvent(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	ev, err := lookup(ctx, e.Stores.Events, domain.KindEvent, call.Envelope.ID, resolve.Options[domain.Event]{})
	if err != nil {
		return failure(err)
	}
	if wantsSeries(p) && ev.SeriesID != "" {
		members, err := e.seriesMembers(ctx, ev.SeriesID)
		if err != nil {
			return failure(err)
		}
		var done []string
		var failed []error
		for _, m := range members {
			if err := e.Stores.Events.Delete(ctx, m.ID); err != nil {
				failed = append(failed, storeErr("delete event", domain.KindEvent, m.ID, err))
				continue
			}
			done = append(done, m.ID)
		}
		left, err := e.seriesMembers(ctx, ev.SeriesID)
		if err == nil && len(left) > 0 {
			failed = append(failed, fmt.Errorf("%d events were added to the series meanwhile", len(left)))
		}
		res := batchResult(domain.KindEvent, "Deleted", done, failed, nil, -1)
		if res.Success {
			res.Message = fmt.Sprintf("Deleted the %q series (%d events)", ev.Title, len(done))
		}
		return res
	}
	if err := e.Stores.Events.Delete(ctx, ev.ID); err != nil {
		return failure(storeErr("delete event", domain.KindEvent, ev.ID, err))
	}
	return succeed(fmt.Sprintf("Deleted %q", ev.Title), map[string]string{"id": ev.ID}, domain.Committed{Kind: domain.KindEvent, IDs: []string{ev.ID}})
}

func (e *Engine) deleteEvents(ctx context.Context, call router.Call) domain.FunctionCallResult {
	return runBatch(ctx, e, call, batch[domain.Event]{
		kind:  domain.KindEvent,
		store: e.Stores.Events,
		verb:  "Deleted",
		apply: func(ctx context.Context, ev domain.Event, _ params, _, _ int) ([]string, error) {
			if err := e.Stores.Events.Delete(ctx, ev.ID); err != nil {
				return nil, storeErr("delete event", domain.KindEvent, ev.ID, err)
			}
			return nil, nil
		},
	})
}

func (e *Engine) completeEvent(ctx context.Context, call router.Call) domain.FunctionCallResult {
	ev, err := lookup(ctx, e.Stores.Events, domain.KindEvent, call.Envelope.ID, resolve.Options[domain.Event]{})
	if err != nil {
		return failure(err)
	}
	if err := e.markEvent(ctx, ev); err != nil {
		return failure(err)
	}
	return succeed(fmt.Sprintf("Marked %q as done", ev.Title), map[string]string{"id": ev.ID}, domain.Committed{Kind: domain.KindEvent, IDs: []string{ev.ID}})
}

func (e *Engine) markEvent(ctx context.Context, ev domain.Event) error {
	ev.Completed = true
	ev.UpdatedAt = e.now()
	if err := e.Stores.Events.Update(ctx, ev); err != nil {
		return storeErr("update event", domain.KindEvent, ev.ID, err)
	}
	return nil
}

func (e *Engine) completeEvents(ctx context.Context, call router.Call) domain.FunctionCallResult {
	return runBatch(ctx, e, call, batch[domain.Event]{
		kind:  domain.KindEvent,
		store: e.Stores.Events,
		verb:  "Completed",
		apply: func(ctx context.Context, ev domain.Event, _ params, _, _ int) ([]string, error) {
			return nil, e.markEvent(ctx, ev)
		},
	})
}

func (e *Engine) listEvents(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := listParams(call.Envelope.Parameters)
	f, warnings, err := e.parseFilter(ctx, call.Caller, p)
	if err != nil {
		return failure(err)
	}
	now := e.clock(call.Caller)
	var events []domain.Event
	if f.Range != nil {
		events, err = e.Stores.Events.ListFor(ctx, *f.Range)
	} else {
		events, err = e.Stores.Events.List(ctx)
	}
	if err != nil {
		return failure(domain.StoreError{Op: "list events", Err: err})
	}
	var out []domain.Event
	for _, ev := range events {
		if !f.match(ev, now) {
			continue
		}
		// without a date, show what is still ahead
		if f.Range == nil && f.Completed == nil && !ev.End.After(now) {
			continue
		}
		out = append(out, ev)
	}
	slices.SortFunc(out, func(a, b domain.Event) int { return a.Start.Compare(b.Start) })
	return e.eventListing(call, out, p, warnings, "events")
}

func (e *Engine) searchEvents(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	q, ok := p.str("query", "text", "q", "title", "keyword")
	if !ok {
		return failure(domain.Invalid("query", "what should I search for?"))
	}
	events, err := e.Stores.Events.List(ctx)
	if err != nil {
		return failure(domain.StoreError{Op: "list events", Err: err})
	}
	now := e.clock(call.Caller)
	var out []domain.Event
	for _, ev := range events {
		if facetsOf(ev, now).matchesText(q) {
			out = append(out, ev)
		}
	}
	slices.SortFunc(out, func(a, b domain.Event) int { return a.Start.Compare(b.Start) })
	return e.eventListing(call, out, p, nil, fmt.Sprintf("events matching %q", q))
}

func (e *Engine) eventListing(call router.Call, events []domain.Event, p params, warnings []string, what string) domain.FunctionCallResult {
	total := len(events)
	limit := listLimit(call.Caller)
	if n, ok := p.integer("limit"); ok && n > 0 {
		limit = n
	}
	if len(events) > limit {
		events = events[:limit]
	}
	details := map[string]string{"count": strconv.Itoa(len(events)), "total": strconv.Itoa(total)}
	if len(events) == 0 {
		return succeed(withWarnings("No "+what+" found.", warnings), details, nil)
	}
	loc := location(call.Caller)
	lines := make([]string, 0, len(events))
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		line := fmt.Sprintf("- %s, %s", ev.Title, formatTime(ev.Start, loc))
		if ev.AllDay {
			line = fmt.Sprintf("- %s, %s (all day)", ev.Title, formatDay(ev.Start, loc))
		}
		if ev.Location != "" {
			line += " @ " + ev.Location
		}
		if ev.Completed {
			line += " [done]"
		}
		lines = append(lines, line+" (id "+ev.ID+")")
		ids = append(ids, ev.ID)
	}
	details["ids"] = strings.Join(ids, ",")
	msg := fmt.Sprintf("Found %d %s:\n%s", total, what, strings.Join(lines, "\n"))
	if total > len(events) {
		msg += fmt.Sprintf("\n(showing the first %d)", len(events))
	}
	return succeed(withWarnings(msg, warnings), details, nil)
}

func draftDetails(d domain.EventDraft) map[string]string {
	out := map[string]string{
		"status": "pending",
		"title":  d.Title,
		"start":  d.Start.Format(time.RFC3339),
		"end":    d.End.Format(time.RFC3339),
	}
	if d.Location != "" {
		out["location"] = d.Location
	}
	if d.Recurrence != "" {
		out["recurrence"] = d.Recurrence
	}
	return out
}

func eventDetails(ev domain.Event) map[string]string {
	out := map[string]string{
		"id":    ev.ID,
		"title": ev.Title,
		"start": ev.Start.Format(time.RFC3339),
		"end":   ev.End.Format(time.RFC3339),
	}
	if ev.SeriesID != "" {
		out["series_id"] = ev.SeriesID
	}
	return out
}

func eventTitles(evs []domain.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Title)
	}
	return out
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strconv.Quote(s)
	}
	return out
}

// byTitle orders entities by display title, then id.
func byTitle[T domain.Entity](a, b T) int {
	if c := cmp.Compare(strings.ToLower(a.DisplayTitle()), strings.ToLower(b.DisplayTitle())); c != 0 {
		return c
	}
	return cmp.Compare(a.EntityID(), b.EntityID())
}
