// Package testutil holds in-memory stand-ins for the billing stores and the
// payment gateway.
package testutil

import (
	"context"
	"sort"
	"sync"

	ierr "membership_backend/internal/errors"
)

// InMemoryStore is a map backed store keyed by row id. Values are copied on
// the way in and out so callers never share state with the store.
type InMemoryStore[T any] struct {
	mu     sync.RWMutex
	nextID uint
	items  map[uint]T
	copyFn func(T) T
}

func NewInMemoryStore[T any](copyFn func(T) T) *InMemoryStore[T] {
	return &InMemoryStore[T]{items: make(map[uint]T), copyFn: copyFn}
}

func (s *InMemoryStore[T]) allocate() uint {
	s.nextID++
	return s.nextID
}

func (s *InMemoryStore[T]) put(id uint, item T) {
	s.items[id] = s.copyFn(item)
}

func (s *InMemoryStore[T]) Get(_ context.Context, id uint) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, ierr.NewErrorf("item %d not found", id).
			Mark(ierr.ErrNotFound)
	}
	return s.copyFn(item), nil
}

func (s *InMemoryStore[T]) Delete(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ierr.NewErrorf("item %d not found", id).
			Mark(ierr.ErrNotFound)
	}
	delete(s.items, id)
	return nil
}

// List returns copies of the items matching filter, ordered by id.
func (s *InMemoryStore[T]) List(filter func(T) bool) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []T
	for _, id := range ids {
		item := s.items[id]
		if filter == nil || filter(item) {
			out = append(out, s.copyFn(item))
		}
	}
	return out
}

func (s *InMemoryStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
