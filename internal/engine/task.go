package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"momentum/internal/bulk"
	"momentum/internal/domain"
	"momentum/internal/resolve"
	"momentum/internal/router"
)

func (e *Engine) newTask(ctx context.Context, c domain.Caller, p params) (domain.Task, []string, error) {
	var warnings []string
	title, ok := p.str("title", "name")
	if !ok {
		return domain.Task{}, nil, domain.Invalid("title", "a task needs a title")
	}
	now := e.now()
	t := domain.Task{
		ID:        e.newID(),
		Title:     title,
		Priority:  domain.PriorityMedium,
		CreatedAt: now,
		UpdatedAt: now,
	}
	upd, warns, err := e.applyTaskUpdate(ctx, c, t, p, nil, 0, 1)
	if err != nil {
		return domain.Task{}, nil, err
	}
	upd.Title = title
	return upd, append(warnings, warns...), nil
}

// applyTaskUpdate applies a partial update; absent fields are left alone.
func (e *Engine) applyTaskUpdate(ctx context.Context, c domain.Caller, t domain.Task, p params, names map[string]string, index, total int) (domain.Task, []string, error) {
	var warnings []string
	if s, ok := p.str("new_title", "title"); ok {
		t.Title = s
	}
	pr, ok, err := p.priority("priority")
	if err != nil {
		return t, nil, err
	}
	if ok {
		t.Priority = pr
	}
	if s, ok := p.text("notes", "description"); ok {
		cat := ""
		if names != nil {
			cat = names[t.CategoryID]
		}
		subj := bulk.Subject{Title: t.Title, Category: cat, Priority: string(t.Priority)}
		if t.DueDate != nil {
			subj.Day = *t.DueDate
		}
		t.Notes = bulk.Expand(s, subj, index, total)
	}
	if tags, ok := p.list("tags"); ok {
		t.Tags = tags
	}
	if s, ok := p.text("due_date", "due", "deadline"); ok {
		if s == "" || strings.EqualFold(s, "none") {
			t.DueDate = nil
		} else {
			due, _, err := p.instant(e.parser(c), "due_date", "due", "deadline")
			if err != nil {
				return t, nil, err
			}
			t.DueDate = &due
		}
	}
	if ref, ok := p.str("category"); ok {
		id, warn, err := e.categoryID(ctx, ref)
		if err != nil {
			return t, nil, err
		}
		if warn != "" {
			warnings = append(warnings, warn)
		} else {
			t.CategoryID = id
		}
	}
	if ref, ok := p.str("linked_event", "event", "linked_event_id"); ok {
		ev, err := lookup(ctx, e.Stores.Events, domain.KindEvent, ref, resolve.Options[domain.Event]{})
		switch {
		case err == nil:
			t.LinkedEventID = ev.ID
		case domain.IsNotFound(err):
			warnings = append(warnings, fmt.Sprintf("event %q not found; task not linked", ref))
		default:
			return t, nil, err
		}
	}
	t.UpdatedAt = e.now()
	return t, warnings, nil
}

func (e *Engine) createTask(ctx context.Context, call router.Call) domain.FunctionCallResult {
	t, warnings, err := e.newTask(ctx, call.Caller, params(call.Envelope.Parameters))
	if err != nil {
		return failure(err)
	}
	if _, err := e.Stores.Tasks.Create(ctx, t); err != nil {
		return failure(storeErr("create task", domain.KindTask, t.ID, err))
	}
	msg := fmt.Sprintf("Added task %q", t.Title)
	if t.DueDate != nil {
		msg += ", due " + formatTime(*t.DueDate, location(call.Caller))
	}
	return succeed(withWarnings(msg, warnings), taskDetails(t), domain.Committed{Kind: domain.KindTask, IDs: []string{t.ID}})
}

func (e *Engine) createTasks(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	items := p.items()
	if len(items) == 0 {
		return failure(domain.Invalid("items", "no tasks to add"))
	}
	if limit := bulkMax(call.Caller); len(items) > limit {
		return failure(domain.Invalid("items", "%d tasks requested; at most %d can be added at once", len(items), limit))
	}
	var (
		done     []string
		failed   []error
		warnings []string
	)
	for i, it := range items {
		t, warns, err := e.newTask(ctx, call.Caller, it.merged(base(p)))
		if err != nil {
			failed = append(failed, fmt.Errorf("item %d: %w", i+1, err))
			continue
		}
		if _, err := e.Stores.Tasks.Create(ctx, t); err != nil {
			failed = append(failed, storeErr("create task", domain.KindTask, t.ID, err))
			continue
		}
		warnings = append(warnings, warns...)
		done = append(done, t.ID)
	}
	return batchResult(domain.KindTask, "Added", done, failed, warnings, -1)
}

func (e *Engine) updateTask(ctx context.Context, call router.Call) domain.FunctionCallResult {
	t, err := lookup(ctx, e.Stores.Tasks, domain.KindTask, call.Envelope.ID, resolve.Options[domain.Task]{})
	if err != nil {
		return failure(err)
	}
	upd, warnings, err := e.applyTaskUpdate(ctx, call.Caller, t, params(call.Envelope.Parameters), e.categoryNames(ctx), 0, 1)
	if err != nil {
		return failure(err)
	}
	if err := e.Stores.Tasks.Update(ctx, upd); err != nil {
		return failure(storeErr("update task", domain.KindTask, t.ID, err))
	}
	return succeed(withWarnings(fmt.Sprintf("Updated task %q", upd.Title), warnings), taskDetails(upd),
		domain.Committed{Kind: domain.KindTask, IDs: []string{upd.ID}})
}

func (e *Engine) updateTasks(ctx context.Context, call router.Call) domain.FunctionCallResult {
	names := e.categoryNames(ctx)
	return runBatch(ctx, e, call, batch[domain.Task]{
		kind:  domain.KindTask,
		store: e.Stores.Tasks,
		verb:  "Updated",
		apply: func(ctx context.Context, t domain.Task, p params, i, n int) ([]string, error) {
			upd, warns, err := e.applyTaskUpdate(ctx, call.Caller, t, p, names, i, n)
			if err != nil {
				return nil, err
			}
			if err := e.Stores.Tasks.Update(ctx, upd); err != nil {
				return nil, storeErr("update task", domain.KindTask, t.ID, err)
			}
			return warns, nil
		},
	})
}

func (e *Engine) deleteTask(ctx context.Context, call router.Call) domain.FunctionCallResult {
	t, err := lookup(ctx, e.Stores.Tasks, domain.KindTask, call.Envelope.ID, resolve.Options[domain.Task]{})
	if err != nil {
		return failure(err)
	}
	if err := e.Stores.Tasks.Delete(ctx, t.ID); err != nil {
		return failure(storeErr("delete task", domain.KindTask, t.ID, err))
	}
	return succeed(fmt.Sprintf("Deleted task %q", t.Title), map[string]string{"id": t.ID}, domain.Committed{Kind: domain.KindTask, IDs: []string{t.ID}})
}

func (e *Engine) deleteTasks(ctx context.Context, call router.Call) domain.FunctionCallResult {
	return runBatch(ctx, e, call, batch[domain.Task]{
		kind:  domain.KindTask,
		store: e.Stores.Tasks,
		verb:  "Deleted",
		apply: func(ctx context.Context, t domain.Task, _ params, _, _ int) ([]string, error) {
			if err := e.Stores.Tasks.Delete(ctx, t.ID); err != nil {
				return nil, storeErr("delete task", domain.KindTask, t.ID, err)
			}
			return nil, nil
		},
	})
}

func (e *Engine) setTaskDone(ctx context.Context, t domain.Task, done bool) (domain.Task, error) {
	now := e.now()
	t.Completed = done
	t.CompletedAt = nil
	if done {
		t.CompletedAt = &now
	}
	t.UpdatedAt = now
	if err := e.Stores.Tasks.Update(ctx, t); err != nil {
		return t, storeErr("update task", domain.KindTask, t.ID, err)
	}
	return t, nil
}

func (e *Engine) completeTask(ctx context.Context, call router.Call) domain.FunctionCallResult {
	return e.toggleTask(ctx, call, true)
}

func (e *Engine) reopenTask(ctx context.Context, call router.Call) domain.FunctionCallResult {
	return e.toggleTask(ctx, call, false)
}

func (e *Engine) toggleTask(ctx context.Context, call router.Call, done bool) domain.FunctionCallResult {
	t, err := lookup(ctx, e.Stores.Tasks, domain.KindTask, call.Envelope.ID, resolve.Options[domain.Task]{})
	if err != nil {
		return failure(err)
	}
	if t.Completed == done {
		state := "open"
		if done {
			state = "done"
		}
		return succeed(fmt.Sprintf("Task %q is already %s", t.Title, state), taskDetails(t), domain.Committed{Kind: domain.KindTask})
	}
	t, err = e.setTaskDone(ctx, t, done)
	if err != nil {
		return failure(err)
	}
	msg := fmt.Sprintf("Completed task %q", t.Title)
	if !done {
		msg = fmt.Sprintf("Reopened task %q", t.Title)
	}
	return succeed(msg, taskDetails(t), domain.Committed{Kind: domain.KindTask, IDs: []string{t.ID}})
}

func (e *Engine) completeTasks(ctx context.Context, call router.Call) domain.FunctionCallResult {
	return e.toggleTasks(ctx, call, true)
}

func (e *Engine) reopenTasks(ctx context.Context, call router.Call) domain.FunctionCallResult {
	return e.toggleTasks(ctx, call, false)
}

func (e *Engine) toggleTasks(ctx context.Context, call router.Call, done bool) domain.FunctionCallResult {
	verb := "Completed"
	if !done {
		verb = "Reopened"
	}
	return runBatch(ctx, e, call, batch[domain.Task]{
		kind:  domain.KindTask,
		store: e.Stores.Tasks,
		verb:  verb,
		apply: func(ctx context.Context, t domain.Task, _ params, _, _ int) ([]string, error) {
			_, err := e.setTaskDone(ctx, t, done)
			return nil, err
		},
	})
}

func (e *Engine) listTasks(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := listParams(call.Envelope.Parameters)
	f, warnings, err := e.parseFilter(ctx, call.Caller, p)
	if err != nil {
		return failure(err)
	}
	if f.Completed == nil {
		if all, _ := p.boolean("include_completed", "all"); !all {
			open := false
			f.Completed = &open
		}
	}
	tasks, err := e.Stores.Tasks.List(ctx)
	if err != nil {
		return failure(domain.StoreError{Op: "list tasks", Err: err})
	}
	now := e.clock(call.Caller)
	var out []domain.Task
	for _, t := range tasks {
		if f.match(t, now) {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return e.taskListing(call, out, p, warnings, "tasks")
}

func (e *Engine) searchTasks(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	q, ok := p.str("query", "text", "q", "title", "keyword")
	if !ok {
		return failure(domain.Invalid("query", "what should I search for?"))
	}
	tasks, err := e.Stores.Tasks.List(ctx)
	if err != nil {
		return failure(domain.StoreError{Op: "list tasks", Err: err})
	}
	now := e.clock(call.Caller)
	var out []domain.Task
	for _, t := range tasks {
		if facetsOf(t, now).matchesText(q) {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return e.taskListing(call, out, p, nil, fmt.Sprintf("tasks matching %q", q))
}

// sortTasks puts open before done, then earliest due date first, then
// higher priority.
func sortTasks(ts []domain.Task) {
	rank := map[domain.Priority]int{domain.PriorityHigh: 0, domain.PriorityMedium: 1, domain.PriorityLow: 2}
	slices.SortStableFunc(ts, func(a, b domain.Task) int {
		if a.Completed != b.Completed {
			if a.Completed {
				return 1
			}
			return -1
		}
		switch {
		case a.DueDate != nil && b.DueDate == nil:
			return -1
		case a.DueDate == nil && b.DueDate != nil:
			return 1
		case a.DueDate != nil && b.DueDate != nil:
			if c := a.DueDate.Compare(*b.DueDate); c != 0 {
				return c
			}
		}
		return cmp.Compare(rank[a.Priority], rank[b.Priority])
	})
}

func (e *Engine) taskListing(call router.Call, tasks []domain.Task, p params, warnings []string, what string) domain.FunctionCallResult {
	total := len(tasks)
	limit := listLimit(call.Caller)
	if n, ok := p.integer("limit"); ok && n > 0 {
		limit = n
	}
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	details := map[string]string{"count": strconv.Itoa(len(tasks)), "total": strconv.Itoa(total)}
	if len(tasks) == 0 {
		return succeed(withWarnings("No "+what+" found.", warnings), details, nil)
	}
	loc := location(call.Caller)
	now := e.clock(call.Caller)
	lines := make([]string, 0, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		line := "- " + t.Title
		if t.Priority != "" && t.Priority != domain.PriorityMedium {
			line += fmt.Sprintf(" [%s]", t.Priority)
		}
		if t.DueDate != nil {
			line += ", due " + formatTime(*t.DueDate, loc)
		}
		if t.Overdue(now) {
			line += " (overdue)"
		}
		if t.Completed {
			line += " [done]"
		}
		lines = append(lines, line+" (id "+t.ID+")")
		ids = append(ids, t.ID)
	}
	details["ids"] = strings.Join(ids, ",")
	msg := fmt.Sprintf("Found %d %s:\n%s", total, what, strings.Join(lines, "\n"))
	if total > len(tasks) {
		msg += fmt.Sprintf("\n(showing the first %d)", len(tasks))
	}
	return succeed(withWarnings(msg, warnings), details, nil)
}

func taskDetails(t domain.Task) map[string]string {
	out := map[string]string{
		"id":        t.ID,
		"title":     t.Title,
		"priority":  string(t.Priority),
		"completed": strconv.FormatBool(t.Completed),
	}
	if t.DueDate != nil {
		out["due_date"] = t.DueDate.Format("2006-01-02T15:04:05Z07:00")
	}
	return out
}
