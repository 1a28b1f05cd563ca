package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cadian99/termpool/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for pool records and account position lists. Writes go to the
// primary store and invalidate the cache; reads check Redis first then fall
// back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) PutPool(ctx context.Context, pool *model.MaturityPool) error {
	if err := s.primary.PutPool(ctx, pool); err != nil {
		return err
	}
	s.cachePool(ctx, pool)
	return nil
}

func (s *CachedStore) PutPosition(ctx context.Context, pos *model.FixedPosition) error {
	if err := s.primary.PutPosition(ctx, pos); err != nil {
		return err
	}
	// Invalidate the account's position list; next read re-populates.
	s.rdb.Del(ctx, accountKey(pos.Account))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, account string, maturity int64, side string) error {
	if err := s.primary.DeletePosition(ctx, account, maturity, side); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(account))
	return nil
}

func (s *CachedStore) InsertSettlement(ctx context.Context, entry *model.SettlementEntry) error {
	return s.primary.InsertSettlement(ctx, entry)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, maturity int64) (*model.MaturityPool, error) {
	data, err := s.rdb.Get(ctx, poolKey(maturity)).Bytes()
	if err == nil {
		var p model.MaturityPool
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPool(ctx, maturity)
	if err != nil {
		return nil, err
	}

	s.cachePool(ctx, p)
	return p, nil
}

func (s *CachedStore) ListAccountPositions(ctx context.Context, account string) ([]model.FixedPosition, error) {
	data, err := s.rdb.Get(ctx, accountKey(account)).Bytes()
	if err == nil {
		var positions []model.FixedPosition
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListAccountPositions(ctx, account)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, accountKey(account), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context) ([]model.MaturityPool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, account string, maturity int64, side string) (*model.FixedPosition, error) {
	return s.primary.GetPosition(ctx, account, maturity, side)
}

func (s *CachedStore) SettlementsByMaturity(ctx context.Context, maturity int64) ([]model.SettlementEntry, error) {
	return s.primary.SettlementsByMaturity(ctx, maturity)
}

func (s *CachedStore) SettlementsByAccount(ctx context.Context, account string) ([]model.SettlementEntry, error) {
	return s.primary.SettlementsByAccount(ctx, account)
}

// --- Cache helpers ---

func (s *CachedStore) cachePool(ctx context.Context, p *model.MaturityPool) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, poolKey(p.Maturity), data, s.ttl)
	}
}

func poolKey(maturity int64) string    { return fmt.Sprintf("pool:%d", maturity) }
func accountKey(account string) string { return fmt.Sprintf("positions:%s", account) }
