package engine

import (
	"context"
	"fmt"
	"strconv"

	"momentum/internal/domain"
	"momentum/internal/resolve"
	"momentum/internal/router"
)

// preferStructured favours goals that are tracked through milestones when
// the target goal is inferred.
var preferStructured = resolve.Options[domain.Goal]{
	Prefer: func(g domain.Goal) bool {
		return g.Type == domain.GoalTypeMilestone || g.Type == domain.GoalTypeProject
	},
}

func (e *Engine) milestoneGoal(ctx context.Context, p params) (domain.Goal, error) {
	ref, _ := p.str("goal", "goal_id", "goal_title")
	return lookup(ctx, e.Stores.Goals, domain.KindGoal, ref, preferStructured)
}

func (e *Engine) newMilestone(ctx context.Context, c domain.Caller, g domain.Goal, p params, order int) (domain.Milestone, error) {
	title, ok := p.str("title", "name")
	if !ok {
		return domain.Milestone{}, domain.Invalid("title", "a milestone needs a title")
	}
	now := e.now()
	m := domain.Milestone{ID: e.newID(), GoalID: g.ID, Title: title, Order: order, CreatedAt: now, UpdatedAt: now}
	if _, ok := p.str("due_date", "due", "deadline"); ok {
		due, _, err := p.instant(e.parser(c), "due_date", "due", "deadline")
		if err != nil {
			return m, err
		}
		m.DueDate = &due
	}
	return m, nil
}

func (e *Engine) createMilestone(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	g, err := e.milestoneGoal(ctx, p)
	if err != nil {
		return failure(fmt.Errorf("which goal should this milestone belong to? %w", err))
	}
	existing, err := e.milestonesOf(ctx, g.ID)
	if err != nil {
		return failure(err)
	}
	m, err := e.newMilestone(ctx, call.Caller, g, p, len(existing)+1)
	if err != nil {
		return failure(err)
	}
	if _, err := e.Stores.Milestones.Create(ctx, m); err != nil {
		return failure(storeErr("create milestone", domain.KindMilestone, m.ID, err))
	}
	g, err = e.recomputeGoal(ctx, g.ID)
	if err != nil {
		return failure(err)
	}
	return succeed(fmt.Sprintf("Added milestone %q to %q (now %s)", m.Title, g.Title, progressLabel(g)),
		milestoneDetails(m), domain.Committed{Kind: domain.KindMilestone, IDs: []string{m.ID}})
}

func (e *Engine) createMilestones(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	items := p.items()
	if len(items) == 0 {
		return failure(domain.Invalid("items", "no milestones to add"))
	}
	if limit := bulkMax(call.Caller); len(items) > limit {
		return failure(domain.Invalid("items", "%d milestones requested; at most %d can be added at once", len(items), limit))
	}
	var (
		done    []string
		failed  []error
		touched = map[string]bool{}
	)
	for i, it := range items {
		ip := it.merged(base(p))
		g, err := e.milestoneGoal(ctx, ip)
		if err != nil {
			failed = append(failed, fmt.Errorf("item %d: %w", i+1, err))
			continue
		}
		existing, err := e.milestonesOf(ctx, g.ID)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		m, err := e.newMilestone(ctx, call.Caller, g, ip, len(existing)+1)
		if err != nil {
			failed = append(failed, fmt.Errorf("item %d: %w", i+1, err))
			continue
		}
		if _, err := e.Stores.Milestones.Create(ctx, m); err != nil {
			failed = append(failed, storeErr("create milestone", domain.KindMilestone, m.ID, err))
			continue
		}
		touched[g.ID] = true
		done = append(done, m.ID)
	}
	var warnings []string
	for id := range touched {
		if _, err := e.recomputeGoal(ctx, id); err != nil {
			warnings = append(warnings, "goal progress not refreshed: "+errorMessage(err))
		}
	}
	return batchResult(domain.KindMilestone, "Added", done, failed, warnings, -1)
}

func (e *Engine) updateMilestone(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	m, err := lookup(ctx, e.Stores.Milestones, domain.KindMilestone, call.Envelope.ID, resolve.Options[domain.Milestone]{})
	if err != nil {
		return failure(err)
	}
	if s, ok := p.str("new_title", "title"); ok {
		m.Title = s
	}
	if n, ok := p.integer("order"); ok && n > 0 {
		m.Order = n
	}
	if s, ok := p.text("due_date", "due", "deadline"); ok {
		if s == "" {
			m.DueDate = nil
		} else {
			due, _, err := p.instant(e.parser(call.Caller), "due_date", "due", "deadline")
			if err != nil {
				return failure(err)
			}
			m.DueDate = &due
		}
	}
	m.UpdatedAt = e.now()
	if err := e.Stores.Milestones.Update(ctx, m); err != nil {
		return failure(storeErr("update milestone", domain.KindMilestone, m.ID, err))
	}
	return succeed(fmt.Sprintf("Updated milestone %q", m.Title), milestoneDetails(m),
		domain.Committed{Kind: domain.KindMilestone, IDs: []string{m.ID}})
}

func (e *Engine) deleteMilestone(ctx context.Context, call router.Call) domain.FunctionCallResult {
	m, err := lookup(ctx, e.Stores.Milestones, domain.KindMilestone, call.Envelope.ID, resolve.Options[domain.Milestone]{})
	if err != nil {
		return failure(err)
	}
	if err := e.Stores.Milestones.Delete(ctx, m.ID); err != nil {
		return failure(storeErr("delete milestone", domain.KindMilestone, m.ID, err))
	}
	msg := fmt.Sprintf("Deleted milestone %q", m.Title)
	if g, err := e.recomputeGoal(ctx, m.GoalID); err == nil {
		msg += fmt.Sprintf("; %q is now at %s", g.Title, progressLabel(g))
	}
	return succeed(msg, map[string]string{"id": m.ID}, domain.Committed{Kind: domain.KindMilestone, IDs: []string{m.ID}})
}

func (e *Engine) finishMilestone(ctx context.Context, m domain.Milestone) error {
	m.Completed = true
	m.UpdatedAt = e.now()
	if err := e.Stores.Milestones.Update(ctx, m); err != nil {
		return storeErr("update milestone", domain.KindMilestone, m.ID, err)
	}
	return nil
}

func (e *Engine) completeMilestone(ctx context.Context, call router.Call) domain.FunctionCallResult {
	m, err := lookup(ctx, e.Stores.Milestones, domain.KindMilestone, call.Envelope.ID, resolve.Options[domain.Milestone]{})
	if err != nil {
		return failure(err)
	}
	if err := e.finishMilestone(ctx, m); err != nil {
		return failure(err)
	}
	msg := fmt.Sprintf("Completed milestone %q", m.Title)
	details := milestoneDetails(m)
	details["completed"] = "true"
	if g, err := e.recomputeGoal(ctx, m.GoalID); err == nil {
		msg += fmt.Sprintf("; %q is now at %s", g.Title, progressLabel(g))
		details["goal_progress"] = trimFloat(g.Progress)
		if g.Completed {
			msg += ". Goal achieved!"
		}
	}
	return succeed(msg, details, domain.Committed{Kind: domain.KindMilestone, IDs: []string{m.ID}})
}

func (e *Engine) completeMilestones(ctx context.Context, call router.Call) domain.FunctionCallResult {
	touched := map[string]bool{}
	res := runBatch(ctx, e, call, batch[domain.Milestone]{
		kind:  domain.KindMilestone,
		store: e.Stores.Milestones,
		verb:  "Completed",
		apply: func(ctx context.Context, m domain.Milestone, _ params, _, _ int) ([]string, error) {
			if err := e.finishMilestone(ctx, m); err != nil {
				return nil, err
			}
			touched[m.GoalID] = true
			return nil, nil
		},
	})
	for id := range touched {
		_, _ = e.recomputeGoal(ctx, id)
	}
	return res
}

func milestoneDetails(m domain.Milestone) map[string]string {
	return map[string]string{
		"id":      m.ID,
		"goal_id": m.GoalID,
		"title":   m.Title,
		"order":   strconv.Itoa(m.Order),
	}
}
