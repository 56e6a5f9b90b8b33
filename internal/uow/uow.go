package uow

import (
	"context"

	"github.com/jackc/pgx/v5"

	postgres "github.com/venuepos/venuepos/internal/repository/postgres"
)

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// TxRunner runs a function inside a store transaction.
type TxRunner interface {
	RunTx(ctx context.Context, opts *pgx.TxOptions, fn func(ctx context.Context, tx postgres.DB) error) error
}

// UoW represents a unit of work.
type UoW struct {
	store TxRunner
}

func NewUoW(store TxRunner) *UoW {
	return &UoW{store: store}
}

// Do runs fn inside the transaction. After a successful commit,
// it executes all after-commit hooks.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx postgres.DB, after func(AfterCommit)) error,
) error {
	return u.DoWithOpts(ctx, nil, fn)
}

const maxTxAttempts = 3

// DoWithOpts runs fn inside the transaction with the given options.
// Serialization failures restart the whole transaction, hooks included.
// After a successful commit, it executes all after-commit hooks.
func (u *UoW) DoWithOpts(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx postgres.DB, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit

	for attempt := 1; ; attempt++ {
		hooks = hooks[:0]

		err := u.store.RunTx(ctx, opts, func(ctx context.Context, tx postgres.DB) error {
			return fn(ctx, tx, func(h AfterCommit) {
				hooks = append(hooks, h)
			})
		})
		if err != nil {
			if postgres.IsRetryable(err) && attempt < maxTxAttempts {
				continue
			}
			return err
		}
		break
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}
