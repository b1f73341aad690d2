// Package memory is an in-process Store used by tests and the default CLI backend.
package memory

import (
	"context"
	"fmt"
	"sync"

	"momentum/internal/domain"
	"momentum/internal/store"
)

type Store[T domain.Entity] struct {
	kind  domain.EntityKind
	mu    sync.RWMutex
	items map[string]T
	order []string
	feed  store.Feed
}

func New[T domain.Entity](kind domain.EntityKind) *Store[T] {
	return &Store[T]{kind: kind, items: make(map[string]T)}
}

// NewStores builds one memory store per kind.
func NewStores() domain.Stores {
	return domain.Stores{
		Events:     New[domain.Event](domain.KindEvent),
		Tasks:      New[domain.Task](domain.KindTask),
		Habits:     New[domain.Habit](domain.KindHabit),
		Goals:      New[domain.Goal](domain.KindGoal),
		Milestones: New[domain.Milestone](domain.KindMilestone),
		Categories: New[domain.Category](domain.KindCategory),
	}
}

func (s *Store[T]) List(ctx context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out, nil
}

func (s *Store[T]) ListFor(ctx context.Context, r domain.Range) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []T
	for _, id := range s.order {
		it := s.items[id]
		if at, ok := it.Anchor(); ok && r.Contains(at) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *Store[T]) Get(ctx context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %s: %w", s.kind, id, store.ErrNotFound)
	}
	return it, nil
}

func (s *Store[T]) Create(ctx context.Context, item T) (T, error) {
	s.mu.Lock()
	id := item.EntityID()
	if id == "" {
		s.mu.Unlock()
		var zero T
		return zero, fmt.Errorf("create %s: empty id", s.kind)
	}
	if _, ok := s.items[id]; ok {
		s.mu.Unlock()
		var zero T
		return zero, fmt.Errorf("create %s %s: %w", s.kind, id, store.ErrExists)
	}
	s.items[id] = item
	s.order = append(s.order, id)
	s.mu.Unlock()
	s.feed.Publish(domain.Change{Kind: s.kind, Op: domain.ChangeCreated, ID: id})
	return item, nil
}

func (s *Store[T]) Update(ctx context.Context, item T) error {
	s.mu.Lock()
	id := item.EntityID()
	if _, ok := s.items[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("update %s %s: %w", s.kind, id, store.ErrNotFound)
	}
	s.items[id] = item
	s.mu.Unlock()
	s.feed.Publish(domain.Change{Kind: s.kind, Op: domain.ChangeUpdated, ID: id})
	return nil
}

func (s *Store[T]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.items[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("delete %s %s: %w", s.kind, id, store.ErrNotFound)
	}
	delete(s.items, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.feed.Publish(domain.Change{Kind: s.kind, Op: domain.ChangeDeleted, ID: id})
	return nil
}

func (s *Store[T]) Subscribe() (<-chan domain.Change, func()) {
	return s.feed.Subscribe()
}
