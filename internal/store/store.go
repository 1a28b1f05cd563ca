// Package store defines the persistence interface for the term pool engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/cadian99/termpool/internal/model"
)

var (
	// ErrPoolNotFound is returned when no pool record exists at a maturity.
	// Pools are created implicitly on first use, so callers treat this as
	// "start from a zero pool", not as a failure.
	ErrPoolNotFound = errors.New("store: maturity pool not found")

	// ErrPositionNotFound is returned when an account holds no position at
	// the requested maturity and side.
	ErrPositionNotFound = errors.New("store: position not found")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Maturity pool records ---

	// GetPool retrieves the aggregate record for one maturity.
	GetPool(ctx context.Context, maturity int64) (*model.MaturityPool, error)

	// PutPool upserts a maturity pool record.
	PutPool(ctx context.Context, pool *model.MaturityPool) error

	// ListPools returns all known maturity pools ordered by maturity.
	ListPools(ctx context.Context) ([]model.MaturityPool, error)

	// --- Fixed positions ---

	// GetPosition retrieves one account's position at a maturity and side.
	GetPosition(ctx context.Context, account string, maturity int64, side string) (*model.FixedPosition, error)

	// PutPosition upserts a position record.
	PutPosition(ctx context.Context, pos *model.FixedPosition) error

	// DeletePosition removes a position whose principal+fee reached zero.
	DeletePosition(ctx context.Context, account string, maturity int64, side string) error

	// ListAccountPositions returns every open position for an account, the
	// enumeration surface the risk engine reads.
	ListAccountPositions(ctx context.Context, account string) ([]model.FixedPosition, error)

	// --- Immutable settlement ledger ---

	// InsertSettlement appends an immutable settlement record.
	InsertSettlement(ctx context.Context, entry *model.SettlementEntry) error

	// SettlementsByMaturity returns all settlements against one pool.
	SettlementsByMaturity(ctx context.Context, maturity int64) ([]model.SettlementEntry, error)

	// SettlementsByAccount returns all settlements touching an account.
	SettlementsByAccount(ctx context.Context, account string) ([]model.SettlementEntry, error)
}
