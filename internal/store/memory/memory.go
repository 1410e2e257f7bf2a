// Package memory is an in-process record store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"movimenti/internal/core"
	"movimenti/internal/query"
	"movimenti/internal/store"
)

type Store struct {
	mu    sync.Mutex
	items []core.Record
}

var _ store.Store = (*Store)(nil)

func New(seed ...core.Record) *Store {
	s := &Store{}
	for _, r := range seed {
		r = r.Clone()
		r.ID = store.IDFor(r)
		s.items = append(s.items, r)
	}
	return s
}

// InsertBatch stores copies of the records, assigning ids to those without one.
func (s *Store) InsertBatch(ctx context.Context, records []core.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	batch := make([]core.Record, len(records))
	for i, r := range records {
		r = r.Clone()
		r.ID = store.IDFor(r)
		batch[i] = r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, batch...)
	return len(batch), nil
}

// SelectAll returns copies in insertion order unless an order is requested.
func (s *Store) SelectAll(ctx context.Context, opts store.SelectOptions) ([]core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !store.Sortable(opts.OrderBy) {
		return nil, fmt.Errorf("unsupported order field %q", opts.OrderBy)
	}
	s.mu.Lock()
	out := make([]core.Record, len(s.items))
	for i, r := range s.items {
		out[i] = r.Clone()
	}
	s.mu.Unlock()

	if opts.OrderBy != "" {
		dir := query.Asc
		if opts.Descending {
			dir = query.Desc
		}
		out = query.Sort(out, opts.OrderBy, dir)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) DeleteByID(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.items {
		if r.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) UpdateByID(ctx context.Context, id string, patch core.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.items {
		if r.ID == id {
			s.items[i] = patch.Apply(r)
			return nil
		}
	}
	return store.ErrNotFound
}

// Len reports how many records are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
