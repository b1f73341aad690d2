package engine

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"momentum/internal/domain"
	"momentum/internal/resolve"
	"momentum/internal/router"
)

func goalType(p params) (domain.GoalType, bool, error) {
	s, ok := p.str("type", "goal_type")
	if !ok {
		return "", false, nil
	}
	switch t := domain.GoalType(strings.ToLower(s)); t {
	case domain.GoalTypeMilestone, domain.GoalTypeProject, domain.GoalTypeNumeric, domain.GoalTypeHabit:
		return t, true, nil
	}
	return "", true, domain.Invalid("type", "goal type must be milestone, project, numeric or habit, got %q", s)
}

func (e *Engine) applyGoalUpdate(ctx context.Context, c domain.Caller, g domain.Goal, p params) (domain.Goal, []string, error) {
	var warnings []string
	if s, ok := p.str("new_title", "title"); ok {
		g.Title = s
	}
	if s, ok := p.text("description", "notes"); ok {
		g.Description = s
	}
	t, ok, err := goalType(p)
	if err != nil {
		return g, nil, err
	}
	if ok {
		g.Type = t
	}
	if v, ok := p.number("target_value", "target"); ok {
		if v <= 0 {
			return g, nil, domain.Invalid("target_value", "target must be positive")
		}
		g.TargetValue = v
	}
	if s, ok := p.text("unit"); ok {
		g.Unit = s
	}
	if s, ok := p.text("target_date", "deadline", "due_date"); ok {
		if s == "" {
			g.TargetDate = nil
		} else {
			at, _, err := p.instant(e.parser(c), "target_date", "deadline", "due_date")
			if err != nil {
				return g, nil, err
			}
			g.TargetDate = &at
		}
	}
	if ref, ok := p.str("category"); ok {
		id, warn, err := e.categoryID(ctx, ref)
		if err != nil {
			return g, nil, err
		}
		if warn != "" {
			warnings = append(warnings, warn)
		} else {
			g.CategoryID = id
		}
	}
	g.UpdatedAt = e.now()
	return g, warnings, nil
}

func (e *Engine) createGoal(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	title, ok := p.str("title", "name")
	if !ok {
		return failure(domain.Invalid("title", "a goal needs a title"))
	}
	now := e.now()
	g := domain.Goal{ID: e.newID(), Title: title, Type: domain.GoalTypeMilestone, CreatedAt: now}
	if _, ok := p.number("target_value", "target"); ok {
		g.Type = domain.GoalTypeNumeric
	}
	g, warnings, err := e.applyGoalUpdate(ctx, call.Caller, g, p)
	if err != nil {
		return failure(err)
	}
	if g.Type == domain.GoalTypeNumeric && g.TargetValue <= 0 {
		return failure(domain.Invalid("target_value", "a numeric goal needs a target value"))
	}
	if _, err := e.Stores.Goals.Create(ctx, g); err != nil {
		return failure(storeErr("create goal", domain.KindGoal, g.ID, err))
	}
	ids := []string{g.ID}
	titles, _ := p.list("milestones")
	for i, mt := range titles {
		m := domain.Milestone{ID: e.newID(), GoalID: g.ID, Title: mt, Order: i + 1, CreatedAt: now, UpdatedAt: now}
		if _, err := e.Stores.Milestones.Create(ctx, m); err != nil {
			warnings = append(warnings, fmt.Sprintf("milestone %q not saved: %s", mt, errorMessage(err)))
			continue
		}
		ids = append(ids, m.ID)
	}
	msg := fmt.Sprintf("Created goal %q", g.Title)
	if n := len(ids) - 1; n > 0 {
		msg += fmt.Sprintf(" with %d milestones", n)
	}
	return succeed(withWarnings(msg, warnings), goalDetails(g), domain.Committed{Kind: domain.KindGoal, IDs: []string{g.ID}})
}

func (e *Engine) updateGoal(ctx context.Context, call router.Call) domain.FunctionCallResult {
	g, err := lookup(ctx, e.Stores.Goals, domain.KindGoal, call.Envelope.ID, resolve.Options[domain.Goal]{})
	if err != nil {
		return failure(err)
	}
	upd, warnings, err := e.applyGoalUpdate(ctx, call.Caller, g, params(call.Envelope.Parameters))
	if err != nil {
		return failure(err)
	}
	if err := e.Stores.Goals.Update(ctx, upd); err != nil {
		return failure(storeErr("update goal", domain.KindGoal, g.ID, err))
	}
	return succeed(withWarnings(fmt.Sprintf("Updated goal %q", upd.Title), warnings), goalDetails(upd),
		domain.Committed{Kind: domain.KindGoal, IDs: []string{upd.ID}})
}

// removeGoal deletes the goal's milestones first; the goal owns them.
func (e *Engine) removeGoal(ctx context.Context, g domain.Goal) (int, error) {
	ms, err := e.milestonesOf(ctx, g.ID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range ms {
		if err := e.Stores.Milestones.Delete(ctx, m.ID); err != nil {
			return removed, storeErr("delete milestone", domain.KindMilestone, m.ID, err)
		}
		removed++
	}
	if err := e.Stores.Goals.Delete(ctx, g.ID); err != nil {
		return removed, storeErr("delete goal", domain.KindGoal, g.ID, err)
	}
	return removed, nil
}

func (e *Engine) deleteGoal(ctx context.Context, call router.Call) domain.FunctionCallResult {
	g, err := lookup(ctx, e.Stores.Goals, domain.KindGoal, call.Envelope.ID, resolve.Options[domain.Goal]{})
	if err != nil {
		return failure(err)
	}
	n, err := e.removeGoal(ctx, g)
	if err != nil {
		return failure(err)
	}
	msg := fmt.Sprintf("Deleted goal %q", g.Title)
	if n > 0 {
		msg += fmt.Sprintf(" and its %d milestones", n)
	}
	return succeed(msg, map[string]string{"id": g.ID, "milestones_deleted": strconv.Itoa(n)},
		domain.Committed{Kind: domain.KindGoal, IDs: []string{g.ID}})
}

func (e *Engine) deleteGoals(ctx context.Context, call router.Call) domain.FunctionCallResult {
	return runBatch(ctx, e, call, batch[domain.Goal]{
		kind:  domain.KindGoal,
		store: e.Stores.Goals,
		verb:  "Deleted",
		apply: func(ctx context.Context, g domain.Goal, _ params, _, _ int) ([]string, error) {
			_, err := e.removeGoal(ctx, g)
			return nil, err
		},
	})
}

func (e *Engine) finishGoal(ctx context.Context, g domain.Goal) (domain.Goal, error) {
	g.Completed = true
	if g.Type == domain.GoalTypeNumeric {
		g.Progress = math.Max(g.Progress, g.TargetValue)
	} else {
		g.Progress = 100
	}
	g.UpdatedAt = e.now()
	if err := e.Stores.Goals.Update(ctx, g); err != nil {
		return g, storeErr("update goal", domain.KindGoal, g.ID, err)
	}
	return g, nil
}

func (e *Engine) completeGoal(ctx context.Context, call router.Call) domain.FunctionCallResult {
	g, err := lookup(ctx, e.Stores.Goals, domain.KindGoal, call.Envelope.ID, resolve.Options[domain.Goal]{})
	if err != nil {
		return failure(err)
	}
	g, err = e.finishGoal(ctx, g)
	if err != nil {
		return failure(err)
	}
	return succeed(fmt.Sprintf("Goal %q achieved", g.Title), goalDetails(g), domain.Committed{Kind: domain.KindGoal, IDs: []string{g.ID}})
}

func (e *Engine) completeGoals(ctx context.Context, call router.Call) domain.FunctionCallResult {
	return runBatch(ctx, e, call, batch[domain.Goal]{
		kind:  domain.KindGoal,
		store: e.Stores.Goals,
		verb:  "Completed",
		apply: func(ctx context.Context, g domain.Goal, _ params, _, _ int) ([]string, error) {
			_, err := e.finishGoal(ctx, g)
			return nil, err
		},
	})
}

// goalProgress sets progress from an explicit value or increment, or
// recomputes it from the goal's milestones.
func (e *Engine) goalProgress(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	g, err := lookup(ctx, e.Stores.Goals, domain.KindGoal, call.Envelope.ID, resolve.Options[domain.Goal]{})
	if err != nil {
		return failure(err)
	}
	switch {
	case p.has("value", "progress", "current"):
		v, ok := p.number("value", "progress", "current")
		if !ok || v < 0 {
			return failure(domain.Invalid("value", "progress must be a non-negative number"))
		}
		g.Progress = v
	case p.has("increment", "add", "amount"):
		v, ok := p.number("increment", "add", "amount")
		if !ok {
			return failure(domain.Invalid("increment", "increment must be a number"))
		}
		g.Progress = math.Max(0, g.Progress+v)
	default:
		g, err = e.recomputeGoal(ctx, g.ID)
		if err != nil {
			return failure(err)
		}
		return succeed(fmt.Sprintf("%q is at %s", g.Title, progressLabel(g)), goalDetails(g),
			domain.Committed{Kind: domain.KindGoal, IDs: []string{g.ID}})
	}
	if g.Type != domain.GoalTypeNumeric {
		g.Progress = math.Min(g.Progress, 100)
	}
	g.Completed = reached(g)
	g.UpdatedAt = e.now()
	if err := e.Stores.Goals.Update(ctx, g); err != nil {
		return failure(storeErr("update goal", domain.KindGoal, g.ID, err))
	}
	msg := fmt.Sprintf("%q is now at %s", g.Title, progressLabel(g))
	if g.Completed {
		msg += ". Goal achieved!"
	}
	return succeed(msg, goalDetails(g), domain.Committed{Kind: domain.KindGoal, IDs: []string{g.ID}})
}

func reached(g domain.Goal) bool {
	if g.Type == domain.GoalTypeNumeric {
		return g.TargetValue > 0 && g.Progress >= g.TargetValue
	}
	return g.Progress >= 100
}

// recomputeGoal derives progress from milestone completion for goals that
// are not numeric.
func (e *Engine) recomputeGoal(ctx context.Context, goalID string) (domain.Goal, error) {
	g, err := e.Stores.Goals.Get(ctx, goalID)
	if err != nil {
		return g, storeErr("get goal", domain.KindGoal, goalID, err)
	}
	if g.Type == domain.GoalTypeNumeric {
		return g, nil
	}
	ms, err := e.milestonesOf(ctx, goalID)
	if err != nil {
		return g, err
	}
	done := 0
	for _, m := range ms {
		if m.Completed {
			done++
		}
	}
	g.Progress = 0
	if len(ms) > 0 {
		g.Progress = math.Round(float64(done) / float64(len(ms)) * 100)
	}
	g.Completed = len(ms) > 0 && done == len(ms)
	g.UpdatedAt = e.now()
	if err := e.Stores.Goals.Update(ctx, g); err != nil {
		return g, storeErr("update goal", domain.KindGoal, g.ID, err)
	}
	return g, nil
}

func (e *Engine) milestonesOf(ctx context.Context, goalID string) ([]domain.Milestone, error) {
	all, err := e.Stores.Milestones.List(ctx)
	if err != nil {
		return nil, domain.StoreError{Op: "list milestones", Err: err}
	}
	var out []domain.Milestone
	for _, m := range all {
		if m.GoalID == goalID {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Milestone) int { return a.Order - b.Order })
	return out, nil
}

func (e *Engine) listGoals(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	goals, err := e.Stores.Goals.List(ctx)
	if err != nil {
		return failure(domain.StoreError{Op: "list goals", Err: err})
	}
	if all, _ := p.boolean("include_completed", "all"); !all {
		goals = slices.DeleteFunc(goals, func(g domain.Goal) bool { return g.Completed })
	}
	slices.SortFunc(goals, byTitle[domain.Goal])
	details := map[string]string{"count": strconv.Itoa(len(goals))}
	if len(goals) == 0 {
		return succeed("No goals found.", details, nil)
	}
	loc := location(call.Caller)
	lines := make([]string, 0, len(goals))
	for _, g := range goals {
		line := fmt.Sprintf("- %s (%s): %s", g.Title, g.Type, progressLabel(g))
		if g.TargetDate != nil {
			line += ", by " + formatDay(*g.TargetDate, loc)
		}
		if ms, err := e.milestonesOf(ctx, g.ID); err == nil && len(ms) > 0 {
			done := 0
			for _, m := range ms {
				if m.Completed {
					done++
				}
			}
			line += fmt.Sprintf(", %d/%d milestones", done, len(ms))
		}
		lines = append(lines, line+" (id "+g.ID+")")
	}
	return succeed(fmt.Sprintf("Found %d goals:\n%s", len(goals), strings.Join(lines, "\n")), details, nil)
}

func progressLabel(g domain.Goal) string {
	if g.Type == domain.GoalTypeNumeric {
		unit := ""
		if g.Unit != "" {
			unit = " " + g.Unit
		}
		return fmt.Sprintf("%s/%s%s", trimFloat(g.Progress), trimFloat(g.TargetValue), unit)
	}
	return trimFloat(g.Progress) + "%"
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func goalDetails(g domain.Goal) map[string]string {
	return map[string]string{
		"id":        g.ID,
		"title":     g.Title,
		"type":      string(g.Type),
		"progress":  trimFloat(g.Progress),
		"completed": strconv.FormatBool(g.Completed),
	}
}
