package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"momentum/internal/domain"
	"momentum/internal/resolve"
	"momentum/internal/router"
)

// target is one bulk item: the record to act on and its per-item arguments.
type target struct {
	id     string
	params params
}

// batch describes a bulk mutation over one kind.
type batch[T domain.Entity] struct {
	kind  domain.EntityKind
	store domain.Store[T]
	verb  string
	apply func(ctx context.Context, item T, p params, index, total int) ([]string, error)
}

// runBatch selects targets from the live collection, applies op to each one
// at a time and counts failures per item. The collection is re-fetched before
// selection and again afterwards since it may change underneath us.
func runBatch[T domain.Entity](ctx context.Context, e *Engine, call router.Call, op batch[T]) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	live, err := op.store.List(ctx)
	if err != nil {
		return failure(domain.StoreError{Op: "list " + op.kind.Plural(), Err: err})
	}
	sel, err := selectTargets(ctx, e, call, op.kind, live)
	if err != nil {
		return failure(err)
	}
	targets, failed, warnings := sel.targets, sel.failed, sel.warnings
	if len(targets) == 0 && len(failed) == 0 {
		return failure(fmt.Errorf("no %s matched", op.kind.Plural()))
	}
	if limit := bulkMax(call.Caller); len(targets) > limit {
		return failure(domain.Invalid("items", "%d %s selected; at most %d can be changed at once", len(targets), op.kind.Plural(), limit))
	}

	var done []string
	for i, t := range targets {
		item, err := op.store.Get(ctx, t.id)
		if err != nil {
			failed = append(failed, storeErr("get "+string(op.kind), op.kind, t.id, err))
			continue
		}
		warns, err := op.apply(ctx, item, t.params.merged(base(p)), i, len(targets))
		if err != nil {
			failed = append(failed, fmt.Errorf("%q: %w", item.DisplayTitle(), err))
			continue
		}
		warnings = append(warnings, warns...)
		done = append(done, item.EntityID())
	}

	remaining := -1
	if after, err := op.store.List(ctx); err == nil {
		remaining = len(after)
	}
	if sel.skipped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d repeated %s skipped", sel.skipped, noun(op.kind, sel.skipped)))
	}
	res := batchResult(op.kind, op.verb, done, failed, warnings, remaining)
	if sel.skipped > 0 {
		res.Details["skipped"] = strconv.Itoa(sel.skipped)
	}
	return res
}

func batchResult(kind domain.EntityKind, verb string, done []string, failed []error, warnings []string, remaining int) domain.FunctionCallResult {
	details := map[string]string{
		"succeeded": strconv.Itoa(len(done)),
		"failed":    strconv.Itoa(len(failed)),
	}
	if len(done) > 0 {
		details["ids"] = strings.Join(done, ",")
	}
	if remaining >= 0 {
		details["remaining"] = strconv.Itoa(remaining)
	}
	if len(done) == 0 {
		res := failure(fmt.Errorf("no %s were %s: %w", kind.Plural(), strings.ToLower(verb), errors.Join(failed...)))
		res.Details = details
		return res
	}
	msg := fmt.Sprintf("%s %d %s", verb, len(done), noun(kind, len(done)))
	if len(failed) > 0 {
		partial := domain.PartialBulkFailure{Succeeded: len(done), Failed: len(failed), Errors: failed}
		msg += fmt.Sprintf("; %d failed (%s)", partial.Failed, summarize(failed, 3))
	}
	slices.Sort(warnings)
	return succeed(withWarnings(msg, slices.Compact(warnings)), details, domain.Committed{Kind: kind, IDs: done})
}

// selection is the outcome of selectTargets. skipped counts explicit
// references that named a record already selected.
type selection struct {
	targets  []target
	failed   []error
	warnings []string
	skipped  int
}

// selectTargets turns ids, items or a filter into targets. Unresolvable ids
// are returned as failures rather than aborting the batch.
func selectTargets[T domain.Entity](ctx context.Context, e *Engine, call router.Call, kind domain.EntityKind, live []T) (selection, error) {
	env := call.Envelope
	p := params(env.Parameters)
	var sel selection
	seen := map[string]bool{}
	add := func(id string, tp params) bool {
		if seen[id] {
			return false
		}
		seen[id] = true
		sel.targets = append(sel.targets, target{id: id, params: tp})
		return true
	}
	resolveRef := func(ref string) (string, error) {
		it, err := resolve.Resolve(kind, live, reference(live, ref), resolve.Options[T]{})
		if err != nil {
			return "", err
		}
		return it.EntityID(), nil
	}

	refs := env.IDs
	if env.ID != "" {
		refs = append([]string{env.ID}, refs...)
	}
	for _, ref := range refs {
		id, err := resolveRef(ref)
		if err != nil {
			sel.failed = append(sel.failed, err)
			continue
		}
		if !add(id, params{}) {
			sel.skipped++
		}
	}
	for _, it := range p.items() {
		refKey := "id"
		ref, ok := it.str("id")
		if !ok {
			refKey = "title"
			if ref, ok = it.str("title"); !ok {
				refKey = "name"
				ref, ok = it.str("name")
			}
		}
		if !ok {
			sel.failed = append(sel.failed, domain.Invalid("items", "item needs an id or title"))
			continue
		}
		id, err := resolveRef(ref)
		if err != nil {
			sel.failed = append(sel.failed, err)
			continue
		}
		tp := make(params, len(it))
		for k, v := range it {
			switch k {
			case refKey, "id":
				continue
			case "title", "name":
				// the reference itself is not a rename
				if s, _ := v.(string); s == ref {
					continue
				}
			}
			tp[k] = v
		}
		if !add(id, tp) {
			sel.skipped++
		}
	}
	if fp, ok := p.object("filter"); ok {
		f, warns, err := e.parseFilter(ctx, call.Caller, fp)
		if err != nil {
			return selection{}, err
		}
		sel.warnings = append(sel.warnings, warns...)
		now := e.clock(call.Caller)
		for _, it := range live {
			if f.match(it, now) {
				add(it.EntityID(), params{})
			}
		}
	}
	return sel, nil
}

// base strips the selection keys so the rest applies to every item.
func base(p params) params {
	out := make(params, len(p))
	for k, v := range p {
		switch k {
		case "items", "filter", "ids":
			continue
		}
		out[k] = v
	}
	return out
}

func noun(kind domain.EntityKind, n int) string {
	if n == 1 {
		return string(kind)
	}
	return kind.Plural()
}

func summarize(errs []error, limit int) string {
	parts := make([]string, 0, limit+1)
	for i, err := range errs {
		if i == limit {
			parts = append(parts, fmt.Sprintf("and %d more", len(errs)-limit))
			break
		}
		parts = append(parts, errorMessage(err))
	}
	return strings.Join(parts, "; ")
}
