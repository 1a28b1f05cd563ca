package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cadian99/termpool/internal/model"
)

type positionKey struct {
	account  string
	maturity int64
	side     string
}

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	pools       map[int64]*model.MaturityPool
	positions   map[positionKey]*model.FixedPosition
	settlements []model.SettlementEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:     make(map[int64]*model.MaturityPool),
		positions: make(map[positionKey]*model.FixedPosition),
	}
}

func (s *MemoryStore) GetPool(_ context.Context, maturity int64) (*model.MaturityPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[maturity]
	if !ok {
		return nil, ErrPoolNotFound
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) PutPool(_ context.Context, pool *model.MaturityPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *pool
	s.pools[pool.Maturity] = &copy
	return nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.MaturityPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.MaturityPool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *p)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Maturity < pools[j].Maturity })
	return pools, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, account string, maturity int64, side string) (*model.FixedPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey{account, maturity, side}]
	if !ok {
		return nil, ErrPositionNotFound
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) PutPosition(_ context.Context, pos *model.FixedPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *pos
	s.positions[positionKey{pos.Account, pos.Maturity, pos.Side}] = &copy
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, account string, maturity int64, side string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.positions, positionKey{account, maturity, side})
	return nil
}

func (s *MemoryStore) ListAccountPositions(_ context.Context, account string) ([]model.FixedPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.FixedPosition
	for _, p := range s.positions {
		if p.Account == account {
			positions = append(positions, *p)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Maturity != positions[j].Maturity {
			return positions[i].Maturity < positions[j].Maturity
		}
		return positions[i].Side < positions[j].Side
	})
	return positions, nil
}

func (s *MemoryStore) InsertSettlement(_ context.Context, entry *model.SettlementEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settlements = append(s.settlements, *entry)
	return nil
}

func (s *MemoryStore) SettlementsByMaturity(_ context.Context, maturity int64) ([]model.SettlementEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SettlementEntry
	for _, e := range s.settlements {
		if e.Maturity == maturity {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) SettlementsByAccount(_ context.Context, account string) ([]model.SettlementEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SettlementEntry
	for _, e := range s.settlements {
		if e.Account == account || e.Initiator == account {
			result = append(result, e)
		}
	}
	return result, nil
}
