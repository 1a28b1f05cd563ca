package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cadian99/termpool/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetPool(ctx context.Context, maturity int64) (*model.MaturityPool, error) {
	var p model.MaturityPool
	var borrowed, supplied, backupBorrowed, earnings string

	err := s.pool.QueryRow(ctx,
		`SELECT maturity,
		        borrowed::TEXT, supplied::TEXT,
		        backup_borrowed::TEXT, earnings_unassigned::TEXT,
		        last_accrual
		 FROM maturity_pools WHERE maturity = $1`, maturity).
		Scan(&p.Maturity, &borrowed, &supplied, &backupBorrowed, &earnings, &p.LastAccrual)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %d: %w", maturity, err)
	}

	p.Borrowed, _ = decimal.NewFromString(borrowed)
	p.Supplied, _ = decimal.NewFromString(supplied)
	p.BackupBorrowed, _ = decimal.NewFromString(backupBorrowed)
	p.EarningsUnassigned, _ = decimal.NewFromString(earnings)

	return &p, nil
}

func (s *PostgresStore) PutPool(ctx context.Context, p *model.MaturityPool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO maturity_pools (maturity, borrowed, supplied, backup_borrowed, earnings_unassigned, last_accrual)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (maturity) DO UPDATE SET
		   borrowed = EXCLUDED.borrowed,
		   supplied = EXCLUDED.supplied,
		   backup_borrowed = EXCLUDED.backup_borrowed,
		   earnings_unassigned = EXCLUDED.earnings_unassigned,
		   last_accrual = EXCLUDED.last_accrual`,
		p.Maturity,
		p.Borrowed.String(), p.Supplied.String(),
		p.BackupBorrowed.String(), p.EarningsUnassigned.String(),
		p.LastAccrual,
	)
	return err
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.MaturityPool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT maturity,
		        borrowed::TEXT, supplied::TEXT,
		        backup_borrowed::TEXT, earnings_unassigned::TEXT,
		        last_accrual
		 FROM maturity_pools ORDER BY maturity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.MaturityPool
	for rows.Next() {
		var p model.MaturityPool
		var borrowed, supplied, backupBorrowed, earnings string
		if err := rows.Scan(&p.Maturity, &borrowed, &supplied, &backupBorrowed, &earnings, &p.LastAccrual); err != nil {
			return nil, err
		}
		p.Borrowed, _ = decimal.NewFromString(borrowed)
		p.Supplied, _ = decimal.NewFromString(supplied)
		p.BackupBorrowed, _ = decimal.NewFromString(backupBorrowed)
		p.EarningsUnassigned, _ = decimal.NewFromString(earnings)
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, account string, maturity int64, side string) (*model.FixedPosition, error) {
	var p model.FixedPosition
	var principal, fee string

	err := s.pool.QueryRow(ctx,
		`SELECT account, maturity, side, principal::TEXT, fee::TEXT
		 FROM fixed_positions WHERE account = $1 AND maturity = $2 AND side = $3`,
		account, maturity, side).
		Scan(&p.Account, &p.Maturity, &p.Side, &principal, &fee)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%d/%s: %w", account, maturity, side, err)
	}

	p.Principal, _ = decimal.NewFromString(principal)
	p.Fee, _ = decimal.NewFromString(fee)

	return &p, nil
}

func (s *PostgresStore) PutPosition(ctx context.Context, p *model.FixedPosition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fixed_positions (account, maturity, side, principal, fee)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (account, maturity, side) DO UPDATE SET
		   principal = EXCLUDED.principal,
		   fee = EXCLUDED.fee`,
		p.Account, p.Maturity, p.Side,
		p.Principal.String(), p.Fee.String(),
	)
	return err
}

func (s *PostgresStore) DeletePosition(ctx context.Context, account string, maturity int64, side string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM fixed_positions WHERE account = $1 AND maturity = $2 AND side = $3`,
		account, maturity, side)
	return err
}

func (s *PostgresStore) ListAccountPositions(ctx context.Context, account string) ([]model.FixedPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account, maturity, side, principal::TEXT, fee::TEXT
		 FROM fixed_positions WHERE account = $1 ORDER BY maturity, side`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.FixedPosition
	for rows.Next() {
		var p model.FixedPosition
		var principal, fee string
		if err := rows.Scan(&p.Account, &p.Maturity, &p.Side, &principal, &fee); err != nil {
			return nil, err
		}
		p.Principal, _ = decimal.NewFromString(principal)
		p.Fee, _ = decimal.NewFromString(fee)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) InsertSettlement(ctx context.Context, e *model.SettlementEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlements (id, op, account, initiator, maturity, principal, fee, discount, penalty, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		e.ID, e.Op, e.Account, e.Initiator, e.Maturity,
		e.Principal.String(), e.Fee.String(), e.Discount.String(), e.Penalty.String(),
		e.Timestamp,
	)
	return err
}

func (s *PostgresStore) SettlementsByMaturity(ctx context.Context, maturity int64) ([]model.SettlementEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, op, account, initiator, maturity,
		        principal::TEXT, fee::TEXT, discount::TEXT, penalty::TEXT, timestamp
		 FROM settlements WHERE maturity = $1 ORDER BY timestamp`, maturity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSettlements(rows)
}

func (s *PostgresStore) SettlementsByAccount(ctx context.Context, account string) ([]model.SettlementEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, op, account, initiator, maturity,
		        principal::TEXT, fee::TEXT, discount::TEXT, penalty::TEXT, timestamp
		 FROM settlements WHERE account = $1 OR initiator = $1 ORDER BY timestamp`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSettlements(rows)
}

// scanSettlements reads pgx rows into SettlementEntry slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanSettlements(rows pgxRows) ([]model.SettlementEntry, error) {
	var entries []model.SettlementEntry
	for rows.Next() {
		var e model.SettlementEntry
		var principal, fee, discount, penalty string

		if err := rows.Scan(&e.ID, &e.Op, &e.Account, &e.Initiator, &e.Maturity,
			&principal, &fee, &discount, &penalty, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Principal, _ = decimal.NewFromString(principal)
		e.Fee, _ = decimal.NewFromString(fee)
		e.Discount, _ = decimal.NewFromString(discount)
		e.Penalty, _ = decimal.NewFromString(penalty)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
