package engine

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"momentum/internal/domain"
	"momentum/internal/resolve"
	"momentum/internal/router"
)

const statsWindowDays = 30

func habitFrequency(p params) (string, bool, error) {
	s, ok := p.str("frequency")
	if !ok {
		return "", false, nil
	}
	switch strings.ToLower(s) {
	case "daily", "day", "every day":
		return "daily", true, nil
	case "weekly", "week", "every week":
		return "weekly", true, nil
	}
	return "", true, domain.Invalid("frequency", "habits repeat daily or weekly, got %q", s)
}

func (e *Engine) applyHabitUpdate(ctx context.Context, h domain.Habit, p params) (domain.Habit, []string, error) {
	var warnings []string
	if s, ok := p.str("new_name", "name", "title"); ok {
		h.Name = s
	}
	if s, ok := p.text("notes", "description"); ok {
		h.Notes = s
	}
	freq, ok, err := habitFrequency(p)
	if err != nil {
		return h, nil, err
	}
	if ok {
		h.Frequency = freq
	}
	if ref, ok := p.str("category"); ok {
		id, warn, err := e.categoryID(ctx, ref)
		if err != nil {
			return h, nil, err
		}
		if warn != "" {
			warnings = append(warnings, warn)
		} else {
			h.CategoryID = id
		}
	}
	h.UpdatedAt = e.now()
	return h, warnings, nil
}

func (e *Engine) createHabit(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	name, ok := p.str("name", "title")
	if !ok {
		return failure(domain.Invalid("name", "a habit needs a name"))
	}
	now := e.now()
	h, warnings, err := e.applyHabitUpdate(ctx, domain.Habit{
		ID:        e.newID(),
		Name:      name,
		Frequency: "daily",
		CreatedAt: now,
	}, p)
	if err != nil {
		return failure(err)
	}
	if _, err := e.Stores.Habits.Create(ctx, h); err != nil {
		return failure(storeErr("create habit", domain.KindHabit, h.ID, err))
	}
	return succeed(withWarnings(fmt.Sprintf("Started tracking %q (%s)", h.Name, h.Frequency), warnings),
		habitDetails(h), domain.Committed{Kind: domain.KindHabit, IDs: []string{h.ID}})
}

func (e *Engine) updateHabit(ctx context.Context, call router.Call) domain.FunctionCallResult {
	h, err := lookup(ctx, e.Stores.Habits, domain.KindHabit, call.Envelope.ID, resolve.Options[domain.Habit]{})
	if err != nil {
		return failure(err)
	}
	upd, warnings, err := e.applyHabitUpdate(ctx, h, params(call.Envelope.Parameters))
	if err != nil {
		return failure(err)
	}
	if err := e.Stores.Habits.Update(ctx, upd); err != nil {
		return failure(storeErr("update habit", domain.KindHabit, h.ID, err))
	}
	return succeed(withWarnings(fmt.Sprintf("Updated habit %q", upd.Name), warnings), habitDetails(upd),
		domain.Committed{Kind: domain.KindHabit, IDs: []string{upd.ID}})
}

func (e *Engine) deleteHabit(ctx context.Context, call router.Call) domain.FunctionCallResult {
	h, err := lookup(ctx, e.Stores.Habits, domain.KindHabit, call.Envelope.ID, resolve.Options[domain.Habit]{})
	if err != nil {
		return failure(err)
	}
	if err := e.Stores.Habits.Delete(ctx, h.ID); err != nil {
		return failure(storeErr("delete habit", domain.KindHabit, h.ID, err))
	}
	return succeed(fmt.Sprintf("Deleted habit %q", h.Name), map[string]string{"id": h.ID}, domain.Committed{Kind: domain.KindHabit, IDs: []string{h.ID}})
}

func (e *Engine) deleteHabits(ctx context.Context, call router.Call) domain.FunctionCallResult {
	return runBatch(ctx, e, call, batch[domain.Habit]{
		kind:  domain.KindHabit,
		store: e.Stores.Habits,
		verb:  "Deleted",
		apply: func(ctx context.Context, h domain.Habit, _ params, _, _ int) ([]string, error) {
			if err := e.Stores.Habits.Delete(ctx, h.ID); err != nil {
				return nil, storeErr("delete habit", domain.KindHabit, h.ID, err)
			}
			return nil, nil
		},
	})
}

func (e *Engine) listHabits(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	habits, err := e.Stores.Habits.List(ctx)
	if err != nil {
		return failure(domain.StoreError{Op: "list habits", Err: err})
	}
	includePaused, _ := p.boolean("include_paused", "all")
	if !includePaused {
		habits = slices.DeleteFunc(habits, func(h domain.Habit) bool { return h.Paused })
	}
	slices.SortFunc(habits, byTitle[domain.Habit])
	details := map[string]string{"count": strconv.Itoa(len(habits))}
	if len(habits) == 0 {
		return succeed("No habits found.", details, nil)
	}
	loc := location(call.Caller)
	now := e.clock(call.Caller)
	lines := make([]string, 0, len(habits))
	for _, h := range habits {
		cur, _ := streaks(h, now, loc)
		line := fmt.Sprintf("- %s (%s), streak %d", h.Name, h.Frequency, cur)
		if loggedOn(h, now, loc) {
			line += ", done today"
		}
		if h.Paused {
			line += " [paused]"
		}
		lines = append(lines, line+" (id "+h.ID+")")
	}
	return succeed(fmt.Sprintf("Found %d habits:\n%s", len(habits), strings.Join(lines, "\n")), details, nil)
}

// logHabitOn records one completion; a second one for the same day is rejected.
func (e *Engine) logHabitOn(ctx context.Context, h domain.Habit, day time.Time, loc *time.Location) (domain.Habit, error) {
	if h.Paused {
		return h, domain.Invalid("habit", "%q is paused; resume it before logging", h.Name)
	}
	if loggedOn(h, day, loc) {
		return h, domain.Invalid("date", "%q is already logged for %s", h.Name, formatDay(day, loc))
	}
	h.Completions = append(h.Completions, day)
	slices.SortFunc(h.Completions, func(a, b time.Time) int { return a.Compare(b) })
	h.Streak, h.BestStreak = streaks(h, day, loc)
	h.UpdatedAt = e.now()
	if err := e.Stores.Habits.Update(ctx, h); err != nil {
		return h, storeErr("update habit", domain.KindHabit, h.ID, err)
	}
	return h, nil
}

func (e *Engine) logDay(c domain.Caller, p params) (time.Time, error) {
	day, ok, err := p.instant(e.parser(c), "date", "day", "when")
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		day = e.clock(c)
	}
	return day, nil
}

func (e *Engine) logHabit(ctx context.Context, call router.Call) domain.FunctionCallResult {
	h, err := lookup(ctx, e.Stores.Habits, domain.KindHabit, call.Envelope.ID, resolve.Options[domain.Habit]{})
	if err != nil {
		return failure(err)
	}
	loc := location(call.Caller)
	day, err := e.logDay(call.Caller, params(call.Envelope.Parameters))
	if err != nil {
		return failure(err)
	}
	h, err = e.logHabitOn(ctx, h, day, loc)
	if err != nil {
		return failure(err)
	}
	msg := fmt.Sprintf("Logged %q for %s. Streak: %d", h.Name, formatDay(day, loc), h.Streak)
	if h.Streak > 1 && h.Streak == h.BestStreak {
		msg += " (personal best)"
	}
	return succeed(msg, habitDetails(h), domain.Committed{Kind: domain.KindHabit, IDs: []string{h.ID}})
}

func (e *Engine) logHabits(ctx context.Context, call router.Call) domain.FunctionCallResult {
	loc := location(call.Caller)
	return runBatch(ctx, e, call, batch[domain.Habit]{
		kind:  domain.KindHabit,
		store: e.Stores.Habits,
		verb:  "Logged",
		apply: func(ctx context.Context, h domain.Habit, p params, _, _ int) ([]string, error) {
			day, err := e.logDay(call.Caller, p)
			if err != nil {
				return nil, err
			}
			_, err = e.logHabitOn(ctx, h, day, loc)
			return nil, err
		},
	})
}

func (e *Engine) pauseHabit(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	h, err := lookup(ctx, e.Stores.Habits, domain.KindHabit, call.Envelope.ID, resolve.Options[domain.Habit]{})
	if err != nil {
		return failure(err)
	}
	pause := true
	if b, ok := p.boolean("resume"); ok && b {
		pause = false
	}
	if b, ok := p.boolean("paused", "pause"); ok {
		pause = b
	}
	verb := "Paused"
	if !pause {
		verb = "Resumed"
	}
	if h.Paused == pause {
		return succeed(fmt.Sprintf("%q is already %s", h.Name, strings.ToLower(verb)), habitDetails(h), domain.Committed{Kind: domain.KindHabit})
	}
	h.Paused = pause
	h.UpdatedAt = e.now()
	if err := e.Stores.Habits.Update(ctx, h); err != nil {
		return failure(storeErr("update habit", domain.KindHabit, h.ID, err))
	}
	return succeed(fmt.Sprintf("%s %q", verb, h.Name), habitDetails(h), domain.Committed{Kind: domain.KindHabit, IDs: []string{h.ID}})
}

func (e *Engine) habitStats(ctx context.Context, call router.Call) domain.FunctionCallResult {
	loc := location(call.Caller)
	now := e.clock(call.Caller)
	var habits []domain.Habit
	if call.Envelope.ID != "" {
		h, err := lookup(ctx, e.Stores.Habits, domain.KindHabit, call.Envelope.ID, resolve.Options[domain.Habit]{})
		if err != nil {
			return failure(err)
		}
		habits = []domain.Habit{h}
	} else {
		all, err := e.Stores.Habits.List(ctx)
		if err != nil {
			return failure(domain.StoreError{Op: "list habits", Err: err})
		}
		habits = all
	}
	if len(habits) == 0 {
		return succeed("No habits tracked yet.", map[string]string{"count": "0"}, nil)
	}
	details := map[string]string{"count": strconv.Itoa(len(habits))}
	lines := make([]string, 0, len(habits))
	for _, h := range habits {
		cur, best := streaks(h, now, loc)
		rate := completionRate(h, now, loc)
		lines = append(lines, fmt.Sprintf("- %s: streak %d, best %d, %d%% over the last %d days",
			h.Name, cur, best, int(math.Round(rate*100)), statsWindowDays))
		if len(habits) == 1 {
			details["id"] = h.ID
			details["streak"] = strconv.Itoa(cur)
			details["best_streak"] = strconv.Itoa(best)
			details["completion_rate"] = strconv.FormatFloat(rate, 'f', 2, 64)
			details["total_completions"] = strconv.Itoa(len(h.Completions))
		}
	}
	return succeed("Habit stats:\n"+strings.Join(lines, "\n"), details, nil)
}

// period maps t to a day or week index in loc.
func period(t time.Time, freq string, loc *time.Location) int {
	y, m, d := t.In(loc).Date()
	day := int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
	if freq == "weekly" {
		// 1970-01-01 was a Thursday; shift so weeks start on Monday
		return (day + 3) / 7
	}
	return day
}

func periods(h domain.Habit, loc *time.Location) []int {
	out := make([]int, 0, len(h.Completions))
	for _, c := range h.Completions {
		out = append(out, period(c, h.Frequency, loc))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// streaks returns the run ending at now (or the period before it, which is
// still alive) and the longest run ever.
func streaks(h domain.Habit, now time.Time, loc *time.Location) (current, best int) {
	ps := periods(h, loc)
	run := 0
	for i, p := range ps {
		if i > 0 && p == ps[i-1]+1 {
			run++
		} else {
			run = 1
		}
		best = max(best, run)
	}
	if len(ps) == 0 {
		return 0, 0
	}
	last := ps[len(ps)-1]
	if cur := period(now, h.Frequency, loc); last == cur || last == cur-1 {
		current = run
	}
	return current, best
}

func loggedOn(h domain.Habit, day time.Time, loc *time.Location) bool {
	y, m, d := day.In(loc).Date()
	for _, c := range h.Completions {
		cy, cm, cd := c.In(loc).Date()
		if cy == y && cm == m && cd == d {
			return true
		}
	}
	return false
}

// completionRate is the share of periods in the last statsWindowDays with a completion.
func completionRate(h domain.Habit, now time.Time, loc *time.Location) float64 {
	end := period(now, "daily", loc)
	start := end - statsWindowDays + 1
	hit := map[int]bool{}
	for _, c := range h.Completions {
		d := period(c, "daily", loc)
		if d < start || d > end {
			continue
		}
		if h.Frequency == "weekly" {
			hit[(d+3)/7] = true
		} else {
			hit[d] = true
		}
	}
	slots := statsWindowDays
	if h.Frequency == "weekly" {
		slots = (end+3)/7 - (start+3)/7 + 1
	}
	return math.Min(1, float64(len(hit))/float64(slots))
}

func habitDetails(h domain.Habit) map[string]string {
	return map[string]string{
		"id":          h.ID,
		"name":        h.Name,
		"frequency":   h.Frequency,
		"streak":      strconv.Itoa(h.Streak),
		"best_streak": strconv.Itoa(h.BestStreak),
		"paused":      strconv.FormatBool(h.Paused),
	}
}
