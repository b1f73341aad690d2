package engine

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"momentum/internal/domain"
	"momentum/internal/resolve"
	"momentum/internal/router"
)

func (e *Engine) newCategory(ctx context.Context, p params) (domain.Category, error) {
	name, ok := p.str("name", "title")
	if !ok {
		return domain.Category{}, domain.Invalid("name", "a category needs a name")
	}
	cats, err := e.Stores.Categories.List(ctx)
	if err != nil {
		return domain.Category{}, domain.StoreError{Op: "list categories", Err: err}
	}
	if slices.ContainsFunc(cats, func(c domain.Category) bool { return resolve.Equal(c.Name, name) }) {
		return domain.Category{}, domain.Invalid("name", "category %q already exists", name)
	}
	now := e.now()
	c := domain.Category{ID: e.newID(), Name: name, CreatedAt: now, UpdatedAt: now}
	c.Color, _ = p.str("color", "colour")
	c.Icon, _ = p.str("icon", "emoji")
	return c, nil
}

func (e *Engine) createCategory(ctx context.Context, call router.Call) domain.FunctionCallResult {
	c, err := e.newCategory(ctx, params(call.Envelope.Parameters))
	if err != nil {
		return failure(err)
	}
	if _, err := e.Stores.Categories.Create(ctx, c); err != nil {
		return failure(storeErr("create category", domain.KindCategory, c.ID, err))
	}
	return succeed(fmt.Sprintf("Created category %q", c.Name), categoryDetails(c),
		domain.Committed{Kind: domain.KindCategory, IDs: []string{c.ID}})
}

func (e *Engine) createCategories(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	items := p.items()
	if len(items) == 0 {
		return failure(domain.Invalid("items", "no categories to add"))
	}
	var done []string
	var failed []error
	for i, it := range items {
		c, err := e.newCategory(ctx, it.merged(base(p)))
		if err != nil {
			failed = append(failed, fmt.Errorf("item %d: %w", i+1, err))
			continue
		}
		if _, err := e.Stores.Categories.Create(ctx, c); err != nil {
			failed = append(failed, storeErr("create category", domain.KindCategory, c.ID, err))
			continue
		}
		done = append(done, c.ID)
	}
	return batchResult(domain.KindCategory, "Created", done, failed, nil, -1)
}

func (e *Engine) updateCategory(ctx context.Context, call router.Call) domain.FunctionCallResult {
	p := params(call.Envelope.Parameters)
	c, err := lookup(ctx, e.Stores.Categories, domain.KindCategory, call.Envelope.ID, resolve.Options[domain.Category]{})
	if err != nil {
		return failure(err)
	}
	if s, ok := p.str("new_name", "name", "title"); ok {
		c.Name = s
	}
	if s, ok := p.text("color", "colour"); ok {
		c.Color = s
	}
	if s, ok := p.text("icon", "emoji"); ok {
		c.Icon = s
	}
	c.UpdatedAt = e.now()
	if err := e.Stores.Categories.Update(ctx, c); err != nil {
		return failure(storeErr("update category", domain.KindCategory, c.ID, err))
	}
	return succeed(fmt.Sprintf("Updated category %q", c.Name), categoryDetails(c),
		domain.Committed{Kind: domain.KindCategory, IDs: []string{c.ID}})
}

// Deleting a category leaves references in place; lookups of a missing
// category simply find nothing.
func (e *Engine) deleteCategory(ctx context.Context, call router.Call) domain.FunctionCallResult {
	c, err := lookup(ctx, e.Stores.Categories, domain.KindCategory, call.Envelope.ID, resolve.Options[domain.Category]{})
	if err != nil {
		return failure(err)
	}
	if err := e.Stores.Categories.Delete(ctx, c.ID); err != nil {
		return failure(storeErr("delete category", domain.KindCategory, c.ID, err))
	}
	return succeed(fmt.Sprintf("Deleted category %q", c.Name), map[string]string{"id": c.ID},
		domain.Committed{Kind: domain.KindCategory, IDs: []string{c.ID}})
}

func (e *Engine) deleteCategories(ctx context.Context, call router.Call) domain.FunctionCallResult {
	return runBatch(ctx, e, call, batch[domain.Category]{
		kind:  domain.KindCategory,
		store: e.Stores.Categories,
		verb:  "Deleted",
		apply: func(ctx context.Context, c domain.Category, _ params, _, _ int) ([]string, error) {
			if err := e.Stores.Categories.Delete(ctx, c.ID); err != nil {
				return nil, storeErr("delete category", domain.KindCategory, c.ID, err)
			}
			return nil, nil
		},
	})
}

func (e *Engine) listCategories(ctx context.Context, call router.Call) domain.FunctionCallResult {
	cats, err := e.Stores.Categories.List(ctx)
	if err != nil {
		return failure(domain.StoreError{Op: "list categories", Err: err})
	}
	slices.SortFunc(cats, byTitle[domain.Category])
	details := map[string]string{"count": strconv.Itoa(len(cats))}
	if len(cats) == 0 {
		return succeed("No categories yet.", details, nil)
	}
	lines := make([]string, 0, len(cats))
	for _, c := range cats {
		line := "- "
		if c.Icon != "" {
			line += c.Icon + " "
		}
		lines = append(lines, line+c.Name+" (id "+c.ID+")")
	}
	return succeed(fmt.Sprintf("Found %d categories:\n%s", len(cats), strings.Join(lines, "\n")), details, nil)
}

func categoryDetails(c domain.Category) map[string]string {
	out := map[string]string{"id": c.ID, "name": c.Name}
	if c.Color != "" {
		out["color"] = c.Color
	}
	return out
}
