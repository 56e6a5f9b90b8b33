package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

func (s *Store) RunTx(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (s *Store) Catalog() *CatalogRepo         { return &CatalogRepo{pool: s.pool} }
func (s *Store) Preorders() *PreorderRepo      { return &PreorderRepo{pool: s.pool} }
func (s *Store) Constraints() *ConstraintRepo  { return &ConstraintRepo{pool: s.pool} }
func (s *Store) Transactions() *TransactionRepo { return &TransactionRepo{pool: s.pool} }
func (s *Store) Sessions() *SessionRepo        { return &SessionRepo{pool: s.pool} }

// Ledger bundles every repository bound to the given transaction handle,
// so one value can serve the flow and session services inside a unit of
// work.
func (s *Store) Ledger(db DB) *Ledger {
	return &Ledger{
		CatalogRepo:     s.Catalog().With(db),
		PreorderRepo:    s.Preorders().With(db),
		ConstraintRepo:  s.Constraints().With(db),
		TransactionRepo: s.Transactions().With(db),
		SessionRepo:     s.Sessions().With(db),
	}
}

type Ledger struct {
	*CatalogRepo
	*PreorderRepo
	*ConstraintRepo
	*TransactionRepo
	*SessionRepo
}
