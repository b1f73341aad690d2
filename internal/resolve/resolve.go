// Package resolve maps an identifier or a natural-language name onto one
// stored entity using a single ranked algorithm.
package resolve

import (
	"cmp"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"momentum/internal/domain"
)

// Reference names an entity by id, by name, or not at all.
type Reference struct {
	ID   string
	Name string
}

func (r Reference) Empty() bool {
	return strings.TrimSpace(r.ID) == "" && strings.TrimSpace(r.Name) == ""
}

func (r Reference) String() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Name
}

// Options tune contextual inference when the reference is empty.
type Options[T domain.Entity] struct {
	// Prefer narrows the active set when more than one active entity exists.
	Prefer func(T) bool
}

// fold builds a fresh Caser per call; Casers are stateful.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Resolve picks exactly one entity of kind from items, or explains why it cannot.
func Resolve[T domain.Entity](kind domain.EntityKind, items []T, ref Reference, opts Options[T]) (T, error) {
	var zero T
	if id := strings.TrimSpace(ref.ID); id != "" {
		for _, it := range items {
			if it.EntityID() == id {
				return it, nil
			}
		}
		return zero, domain.NotFoundError{Kind: kind, Reference: id}
	}
	if name := strings.TrimSpace(ref.Name); name != "" {
		return ByName(kind, items, name)
	}
	return Infer(kind, items, opts)
}

// ByName applies exact, prefix, then substring matching. The first rule with
// any match decides: one match wins, several indistinguishable matches are
// reported as ambiguous.
func ByName[T domain.Entity](kind domain.EntityKind, items []T, name string) (T, error) {
	var zero T
	needle := fold(name)
	if needle == "" {
		return zero, domain.NotFoundError{Kind: kind}
	}

	var exact []T
	for _, it := range items {
		if fold(it.DisplayTitle()) == needle {
			exact = append(exact, it)
		}
	}
	if len(exact) > 0 {
		return single(kind, name, exact)
	}

	var prefix []T
	for _, it := range items {
		if strings.HasPrefix(fold(it.DisplayTitle()), needle) {
			prefix = append(prefix, it)
		}
	}
	if len(prefix) > 0 {
		return single(kind, name, prefix)
	}

	type hit struct {
		item  T
		index int
		size  int
	}
	var hits []hit
	for _, it := range items {
		title := fold(it.DisplayTitle())
		if idx := strings.Index(title, needle); idx >= 0 {
			hits = append(hits, hit{item: it, index: idx, size: len([]rune(title))})
		}
	}
	if len(hits) == 0 {
		return zero, domain.NotFoundError{Kind: kind, Reference: name}
	}
	slices.SortStableFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(a.index, b.index); c != 0 {
			return c
		}
		return cmp.Compare(a.size, b.size)
	})
	best := []T{hits[0].item}
	for _, h := range hits[1:] {
		if h.index == hits[0].index && h.size == hits[0].size {
			best = append(best, h.item)
		}
	}
	return single(kind, name, best)
}

// Infer resolves an empty reference from context: the only active entity,
// else the only preferred active entity.
func Infer[T domain.Entity](kind domain.EntityKind, items []T, opts Options[T]) (T, error) {
	var zero T
	var active []T
	for _, it := range items {
		if !it.IsCompleted() {
			active = append(active, it)
		}
	}
	switch len(active) {
	case 0:
		return zero, domain.NotFoundError{Kind: kind}
	case 1:
		return active[0], nil
	}
	if opts.Prefer != nil {
		var preferred []T
		for _, it := range active {
			if opts.Prefer(it) {
				preferred = append(preferred, it)
			}
		}
		if len(preferred) == 1 {
			return preferred[0], nil
		}
		if len(preferred) > 1 {
			return zero, ambiguous(kind, "", preferred)
		}
	}
	return zero, ambiguous(kind, "", active)
}

func single[T domain.Entity](kind domain.EntityKind, ref string, matches []T) (T, error) {
	if len(matches) == 1 {
		return matches[0], nil
	}
	var zero T
	return zero, ambiguous(kind, ref, matches)
}

func ambiguous[T domain.Entity](kind domain.EntityKind, ref string, matches []T) error {
	candidates := make([]domain.Candidate, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, domain.Candidate{ID: m.EntityID(), Title: m.DisplayTitle()})
	}
	return domain.AmbiguousError{Kind: kind, Reference: ref, Candidates: candidates}
}

// Contains reports a case-insensitive substring match.
func Contains(haystack, needle string) bool {
	return strings.Contains(fold(haystack), fold(needle))
}

// Equal reports a case-insensitive equality.
func Equal(a, b string) bool {
	return fold(a) == fold(b)
}
