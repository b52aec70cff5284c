// Package memstore keeps positions and decision logs in memory. It backs
// dry runs and tests; live deployments use gormstore.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"tiller/internal/store"
	"tiller/internal/types"
)

type MemStore struct {
	mu        sync.RWMutex
	positions map[string]types.Position
	decisions []store.DecisionRecord
}

func New() *MemStore {
	return &MemStore{positions: make(map[string]types.Position)}
}

var (
	_ store.PositionStore = (*MemStore)(nil)
	_ store.DecisionLog   = (*MemStore)(nil)
)

func (s *MemStore) Create(_ context.Context, p types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return types.Position{}, store.ErrNotFound
	}
	return p, nil
}

func (s *MemStore) ListOpen(_ context.Context) ([]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Status == types.PositionOpen {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (s *MemStore) UpdateMark(_ context.Context, id string, price, unrealizedPnL float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || p.Status != types.PositionOpen {
		return store.ErrNotFound
	}
	p.CurrentPrice = price
	p.UnrealizedPnL = unrealizedPnL
	s.positions[id] = p
	return nil
}

func (s *MemStore) Reduce(_ context.Context, id string, newQuantity, realizedPnL float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || p.Status != types.PositionOpen {
		return store.ErrNotFound
	}
	p.Quantity = newQuantity
	p.RealizedPnL += realizedPnL
	s.positions[id] = p
	return nil
}

func (s *MemStore) MarkClosed(_ context.Context, id string, exit store.CloseFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || p.Status != types.PositionOpen {
		return store.ErrNotFound
	}
	p.Status = types.PositionClosed
	p.CurrentPrice = exit.ExitPrice
	p.RealizedPnL += exit.RealizedPnL
	p.UnrealizedPnL = 0
	if exit.ClosedAt.IsZero() {
		p.ClosedAt = time.Now()
	} else {
		p.ClosedAt = exit.ClosedAt
	}
	s.positions[id] = p
	return nil
}

func (s *MemStore) Append(_ context.Context, rec store.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.decisions = append(s.decisions, rec)
	return nil
}

func (s *MemStore) ListRecent(_ context.Context, limit int) ([]store.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.decisions) {
		limit = len(s.decisions)
	}
	out := make([]store.DecisionRecord, 0, limit)
	for i := len(s.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.decisions[i])
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }
