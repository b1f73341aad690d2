// Package engine implements the per-kind domain handlers and registers them
// in the router's dispatch table.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"momentum/internal/dateparse"
	"momentum/internal/domain"
	"momentum/internal/recurrence"
	"momentum/internal/resolve"
	"momentum/internal/router"
	"momentum/internal/store"
)

const (
	DefaultListLimit = 20
	DefaultBulkMax   = 50
)

type Engine struct {
	Stores domain.Stores
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string

	// mu serializes handler calls so bulk failure counts stay accurate.
	mu sync.Mutex
}

func New(stores domain.Stores, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Stores: stores,
		Logger: logger,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func singleKey(kind domain.EntityKind, action domain.ActionKind) router.Key {
	return router.Key{Kind: kind, Action: action, Variant: router.Single}
}

func bulkKey(kind domain.EntityKind, action domain.ActionKind) router.Key {
	return router.Key{Kind: kind, Action: action, Variant: router.Bulk}
}

// Handlers returns the dispatch table for every supported (kind, action).
func (e *Engine) Handlers() router.Table {
	t := router.Table{
		singleKey(domain.KindEvent, domain.ActionCreate):   e.createEvent,
		singleKey(domain.KindEvent, domain.ActionUpdate):   e.updateEvent,
		singleKey(domain.KindEvent, domain.ActionDelete):   e.deleteEvent,
		singleKey(domain.KindEvent, domain.ActionList):     e.listEvents,
		singleKey(domain.KindEvent, domain.ActionSearch):   e.searchEvents,
		singleKey(domain.KindEvent, domain.ActionComplete): e.completeEvent,
		bulkKey(domain.KindEvent, domain.ActionCreate):     e.createEvents,
		bulkKey(domain.KindEvent, domain.ActionUpdate):     e.updateEvents,
		bulkKey(domain.KindEvent, domain.ActionDelete):     e.deleteEvents,
		bulkKey(domain.KindEvent, domain.ActionComplete):   e.completeEvents,

		singleKey(domain.KindTask, domain.ActionCreate):   e.createTask,
		singleKey(domain.KindTask, domain.ActionUpdate):   e.updateTask,
		singleKey(domain.KindTask, domain.ActionDelete):   e.deleteTask,
		singleKey(domain.KindTask, domain.ActionList):     e.listTasks,
		singleKey(domain.KindTask, domain.ActionSearch):   e.searchTasks,
		singleKey(domain.KindTask, domain.ActionComplete): e.completeTask,
		singleKey(domain.KindTask, domain.ActionReopen):   e.reopenTask,
		bulkKey(domain.KindTask, domain.ActionCreate):     e.createTasks,
		bulkKey(domain.KindTask, domain.ActionUpdate):     e.updateTasks,
		bulkKey(domain.KindTask, domain.ActionDelete):     e.deleteTasks,
		bulkKey(domain.KindTask, domain.ActionComplete):   e.completeTasks,
		bulkKey(domain.KindTask, domain.ActionReopen):     e.reopenTasks,

		singleKey(domain.KindHabit, domain.ActionCreate): e.createHabit,
		singleKey(domain.KindHabit, domain.ActionUpdate): e.updateHabit,
		singleKey(domain.KindHabit, domain.ActionDelete): e.deleteHabit,
		singleKey(domain.KindHabit, domain.ActionList):   e.listHabits,
		singleKey(domain.KindHabit, domain.ActionLog):    e.logHabit,
		singleKey(domain.KindHabit, domain.ActionPause):  e.pauseHabit,
		singleKey(domain.KindHabit, domain.ActionStats):  e.habitStats,
		bulkKey(domain.KindHabit, domain.ActionDelete):   e.deleteHabits,
		bulkKey(domain.KindHabit, domain.ActionLog):      e.logHabits,

		singleKey(domain.KindGoal, domain.ActionCreate):   e.createGoal,
		singleKey(domain.KindGoal, domain.ActionUpdate):   e.updateGoal,
		singleKey(domain.KindGoal, domain.ActionDelete):   e.deleteGoal,
		singleKey(domain.KindGoal, domain.ActionList):     e.listGoals,
		singleKey(domain.KindGoal, domain.ActionComplete): e.completeGoal,
		singleKey(domain.KindGoal, domain.ActionProgress): e.goalProgress,
		bulkKey(domain.KindGoal, domain.ActionDelete):     e.deleteGoals,
		bulkKey(domain.KindGoal, domain.ActionComplete):   e.completeGoals,

		singleKey(domain.KindMilestone, domain.ActionCreate):   e.createMilestone,
		singleKey(domain.KindMilestone, domain.ActionUpdate):   e.updateMilestone,
		singleKey(domain.KindMilestone, domain.ActionDelete):   e.deleteMilestone,
		singleKey(domain.KindMilestone, domain.ActionComplete): e.completeMilestone,
		bulkKey(domain.KindMilestone, domain.ActionCreate):     e.createMilestones,
		bulkKey(domain.KindMilestone, domain.ActionComplete):   e.completeMilestones,

		singleKey(domain.KindCategory, domain.ActionCreate): e.createCategory,
		singleKey(domain.KindCategory, domain.ActionUpdate): e.updateCategory,
		singleKey(domain.KindCategory, domain.ActionDelete): e.deleteCategory,
		singleKey(domain.KindCategory, domain.ActionList):   e.listCategories,
		bulkKey(domain.KindCategory, domain.ActionCreate):   e.createCategories,
		bulkKey(domain.KindCategory, domain.ActionDelete):   e.deleteCategories,
	}
	for k, h := range t {
		t[k] = e.serialized(h)
	}
	return t
}

func (e *Engine) serialized(h router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, call router.Call) domain.FunctionCallResult {
		e.mu.Lock()
		defer e.mu.Unlock()
		res := h(ctx, call)
		if !res.Success {
			e.Logger.Info("handler failed",
				zap.String("kind", string(call.Envelope.Type)),
				zap.String("action", string(call.Envelope.Action)),
				zap.String("message", res.Message))
		}
		return res
	}
}

// clock returns the caller's now, falling back to the engine clock.
func (e *Engine) clock(c domain.Caller) time.Time {
	if c.Now.IsZero() {
		c.Now = e.now()
	}
	return c.Clock()
}

func (e *Engine) parser(c domain.Caller) dateparse.Parser {
	return dateparse.New(e.clock(c), location(c))
}

func location(c domain.Caller) *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.Local
}

func listLimit(c domain.Caller) int {
	if c.Limits.ListDefault > 0 {
		return c.Limits.ListDefault
	}
	return DefaultListLimit
}

func bulkMax(c domain.Caller) int {
	if c.Limits.BulkMax > 0 {
		return c.Limits.BulkMax
	}
	return DefaultBulkMax
}

func recurrenceLimit(c domain.Caller) int {
	if c.Limits.RecurrenceLimit > 0 {
		return c.Limits.RecurrenceLimit
	}
	return recurrence.DefaultLimit
}

func succeed(msg string, details map[string]string, out domain.Outcome) domain.FunctionCallResult {
	return domain.FunctionCallResult{Success: true, Message: msg, Details: details, Outcome: out}
}

func failure(err error) domain.FunctionCallResult {
	return domain.FunctionCallResult{Success: false, Message: errorMessage(err)}
}

func errorMessage(err error) string {
	var se domain.StoreError
	if errors.As(err, &se) {
		return se.Error()
	}
	var amb domain.AmbiguousError
	if errors.As(err, &amb) {
		return amb.Error() + ". Tell me which one by id."
	}
	return err.Error()
}

// storeErr classifies a persistence error; a vanished record is NotFound.
func storeErr(op string, kind domain.EntityKind, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFoundError{Kind: kind, Reference: id}
	}
	return domain.StoreError{Op: op, Err: err}
}

// reference treats s as an id when it names an existing record or looks like
// a generated id, else as a name.
func reference[T domain.Entity](items []T, s string) resolve.Reference {
	s = strings.TrimSpace(s)
	for _, it := range items {
		if it.EntityID() == s {
			return resolve.Reference{ID: s}
		}
	}
	if _, err := uuid.Parse(s); err == nil {
		return resolve.Reference{ID: s}
	}
	return resolve.Reference{Name: s}
}

func lookup[T domain.Entity](ctx context.Context, st domain.Store[T], kind domain.EntityKind, ref string, opts resolve.Options[T]) (T, error) {
	var zero T
	items, err := st.List(ctx)
	if err != nil {
		return zero, domain.StoreError{Op: "list " + kind.Plural(), Err: err}
	}
	return resolve.Resolve(kind, items, reference(items, ref), opts)
}

// categoryID resolves a category reference for assignment. Unknown or
// ambiguous names leave the category unset and return a warning.
func (e *Engine) categoryID(ctx context.Context, ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", nil
	}
	c, err := lookup(ctx, e.Stores.Categories, domain.KindCategory, ref, resolve.Options[domain.Category]{})
	if err == nil {
		return c.ID, "", nil
	}
	if domain.IsNotFound(err) {
		return "", fmt.Sprintf("category %q not found; category left unchanged", ref), nil
	}
	return "", "", err
}

// categoryNames maps category ids to names for display.
func (e *Engine) categoryNames(ctx context.Context) map[string]string {
	cats, err := e.Stores.Categories.List(ctx)
	if err != nil {
		return nil
	}
	out := make(map[string]string, len(cats))
	for _, c := range cats {
		out[c.ID] = c.Name
	}
	return out
}

func withWarnings(msg string, warnings []string) string {
	if len(warnings) == 0 {
		return msg
	}
	return msg + " (warning: " + strings.Join(warnings, "; ") + ")"
}

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Mon Jan 2, 3:04 PM")
}

func formatDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Mon Jan 2")
}
