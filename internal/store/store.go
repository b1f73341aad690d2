// Package store holds what the memory and SQLite adapters share.
package store

import (
	"errors"
	"sync"

	"momentum/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// Feed fans change notifications out to subscribers. Slow subscribers miss
// notifications rather than block writers.
type Feed struct {
	mu   sync.Mutex
	next int
	subs map[int]chan domain.Change
}

func (f *Feed) Subscribe() (<-chan domain.Change, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]chan domain.Change)
	}
	id := f.next
	f.next++
	ch := make(chan domain.Change, 32)
	f.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(ch)
		})
	}
}

func (f *Feed) Publish(c domain.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
