package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"movimenti/internal/core"
	"movimenti/internal/store"
)

// CachedStore serves SelectAll from a snapshot cache and drops every snapshot
// on any write. A read that overlaps a write is returned but not cached.
type CachedStore struct {
	store.Store
	snapshots *LRUCache[[]core.Record]

	mu         sync.Mutex
	generation atomic.Uint64
}

var _ store.Store = (*CachedStore)(nil)

func NewCachedStore(inner store.Store, snapshots *LRUCache[[]core.Record]) *CachedStore {
	return &CachedStore{Store: inner, snapshots: snapshots}
}

func snapshotKey(opts store.SelectOptions) string {
	return fmt.Sprintf("%s|%t|%d", opts.OrderBy, opts.Descending, opts.Limit)
}

// SelectAll returns copies so callers cannot mutate the cached snapshot.
func (s *CachedStore) SelectAll(ctx context.Context, opts store.SelectOptions) ([]core.Record, error) {
	key := snapshotKey(opts)
	if recs, ok := s.snapshots.Get(key); ok {
		return cloneAll(recs), nil
	}
	gen := s.generation.Load()
	recs, err := s.Store.SelectAll(ctx, opts)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.generation.Load() == gen {
		s.snapshots.Set(key, cloneAll(recs))
	}
	s.mu.Unlock()
	return recs, nil
}

func (s *CachedStore) InsertBatch(ctx context.Context, records []core.Record) (int, error) {
	defer s.invalidate()
	return s.Store.InsertBatch(ctx, records)
}

func (s *CachedStore) DeleteByID(ctx context.Context, id string) error {
	defer s.invalidate()
	return s.Store.DeleteByID(ctx, id)
}

func (s *CachedStore) UpdateByID(ctx context.Context, id string, patch core.Patch) error {
	defer s.invalidate()
	return s.Store.UpdateByID(ctx, id, patch)
}

// invalidate runs after the inner write returns.
func (s *CachedStore) invalidate() {
	s.mu.Lock()
	s.generation.Add(1)
	s.snapshots.Clear()
	s.mu.Unlock()
}

func cloneAll(in []core.Record) []core.Record {
	if in == nil {
		return nil
	}
	out := make([]core.Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
