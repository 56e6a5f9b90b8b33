package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/repository"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TransactionRepo) With(db DB) *TransactionRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TransactionRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const positionCols = `id, transaction_id, type, value, tax_rate, tax_value, product_id,
		        reverses_id, list_entry_id, preorder_position_id, authorized_by_id,
		        has_constraint_bypass`

// CreateTransaction inserts a transaction and fills in its ID and
// creation time.
func (r *TransactionRepo) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	const op = "postgres.TransactionRepo.CreateTransaction"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO transactions(cash_given, session_id)
		 VALUES ($1, $2)
		 RETURNING id, created_at`,
		t.CashGiven, t.SessionID,
	).Scan(&t.ID, &t.At)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// CreatePosition inserts a position and its item lines and fills in the
// position's ID.
func (r *TransactionRepo) CreatePosition(ctx context.Context, p *domain.TransactionPosition) error {
	const op = "postgres.TransactionRepo.CreatePosition"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO transaction_positions(
		    transaction_id, type, value, tax_rate, tax_value, product_id,
		    reverses_id, list_entry_id, preorder_position_id, authorized_by_id,
		    has_constraint_bypass)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		p.TransactionID, p.Type, p.Value, p.TaxRate, p.TaxValue, p.ProductID,
		p.ReversesID, p.ListEntryID, p.PreorderPositionID, p.AuthorizedByID,
		p.HasConstraintBypass,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if len(p.Items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, it := range p.Items {
		batch.Queue(
			`INSERT INTO transaction_position_items(position_id, item_id, amount)
			 VALUES ($1, $2, $3)`,
			p.ID, it.ItemID, it.Amount,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

const maxReceiptRetries = 5

// AssignReceiptNumber allocates the next receipt number for a
// transaction. Numbers are dense and monotonic: the next is one past the
// current maximum. A concurrent allocation trips the unique index and is
// retried. Must run inside the checkout transaction; each attempt is
// fenced with a savepoint so a unique violation does not abort the
// surrounding transaction.
func (r *TransactionRepo) AssignReceiptNumber(ctx context.Context, transactionID int64) (int64, error) {
	const op = "postgres.TransactionRepo.AssignReceiptNumber"

	db := r.handle()

	var n int64
	for attempt := 0; attempt < maxReceiptRetries; attempt++ {
		if _, err := db.Exec(ctx, `SAVEPOINT assign_receipt`); err != nil {
			return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		err := db.QueryRow(ctx,
			`UPDATE transactions
			 SET receipt_number = (
			     SELECT COALESCE(MAX(receipt_number), 0) + 1 FROM transactions
			 )
			 WHERE id = $1
			 RETURNING receipt_number`,
			transactionID,
		).Scan(&n)
		if err == nil {
			if _, err := db.Exec(ctx, `RELEASE SAVEPOINT assign_receipt`); err != nil {
				return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
			}
			return n, nil
		}
		if !isUniqueViolation(err) {
			return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		if _, err := db.Exec(ctx, `ROLLBACK TO SAVEPOINT assign_receipt`); err != nil {
			return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
	}

	return 0, fmt.Errorf("%s:%w", op, repository.ErrConflict)
}

// TransactionByID retrieves a transaction by its ID.
func (r *TransactionRepo) TransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	const op = "postgres.TransactionRepo.TransactionByID"

	db := r.handle()

	var t domain.Transaction
	err := db.QueryRow(ctx,
		`SELECT id, created_at, cash_given, session_id, receipt_number
		 FROM transactions WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.At, &t.CashGiven, &t.SessionID, &t.ReceiptNumber)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &t, nil
}

// PositionByID retrieves a position with its item lines.
func (r *TransactionRepo) PositionByID(ctx context.Context, id int64) (*domain.TransactionPosition, error) {
	const op = "postgres.TransactionRepo.PositionByID"

	db := r.handle()

	var p domain.TransactionPosition
	err := db.QueryRow(ctx,
		`SELECT `+positionCols+`
		 FROM transaction_positions WHERE id = $1`,
		id,
	).Scan(
		&p.ID, &p.TransactionID, &p.Type, &p.Value, &p.TaxRate, &p.TaxValue,
		&p.ProductID, &p.ReversesID, &p.ListEntryID, &p.PreorderPositionID,
		&p.AuthorizedByID, &p.HasConstraintBypass,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	out := []domain.TransactionPosition{p}
	if err := r.attachItems(ctx, db, out); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &out[0], nil
}

// PositionsByTransaction lists a transaction's positions with their item
// lines, in insertion order.
func (r *TransactionRepo) PositionsByTransaction(ctx context.Context, transactionID int64) ([]domain.TransactionPosition, error) {
	const op = "postgres.TransactionRepo.PositionsByTransaction"

	out, err := r.listPositions(ctx,
		`SELECT `+positionCols+`
		 FROM transaction_positions
		 WHERE transaction_id = $1
		 ORDER BY id`,
		transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// PositionsBySession lists every position recorded in a session with its
// item lines, in insertion order.
func (r *TransactionRepo) PositionsBySession(ctx context.Context, sessionID int64) ([]domain.TransactionPosition, error) {
	const op = "postgres.TransactionRepo.PositionsBySession"

	out, err := r.listPositions(ctx,
		`SELECT p.id, p.transaction_id, p.type, p.value, p.tax_rate, p.tax_value,
		        p.product_id, p.reverses_id, p.list_entry_id, p.preorder_position_id,
		        p.authorized_by_id, p.has_constraint_bypass
		 FROM transaction_positions p
		 JOIN transactions t ON t.id = p.transaction_id
		 WHERE t.session_id = $1
		 ORDER BY p.id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// WasReversed reports whether a reversal position references the given
// position.
func (r *TransactionRepo) WasReversed(ctx context.Context, positionID int64) (bool, error) {
	const op = "postgres.TransactionRepo.WasReversed"

	db := r.handle()

	var reversed bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(
		    SELECT 1 FROM transaction_positions WHERE reverses_id = $1
		 )`,
		positionID,
	).Scan(&reversed)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return reversed, nil
}

// SessionHasReversals reports whether the session recorded any reversal.
func (r *TransactionRepo) SessionHasReversals(ctx context.Context, sessionID int64) (bool, error) {
	const op = "postgres.TransactionRepo.SessionHasReversals"

	db := r.handle()

	var has bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(
		    SELECT 1
		    FROM transaction_positions p
		    JOIN transactions t ON t.id = p.transaction_id
		    WHERE t.session_id = $1 AND p.type = 'reverse'
		 )`,
		sessionID,
	).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return has, nil
}

func (r *TransactionRepo) listPositions(ctx context.Context, query string, arg any) ([]domain.TransactionPosition, error) {
	db := r.handle()

	rows, err := db.Query(ctx, query, arg)
	if err != nil {
		return nil, translateDBErr(err)
	}

	defer rows.Close()

	var out []domain.TransactionPosition
	for rows.Next() {
		var p domain.TransactionPosition
		if err := rows.Scan(
			&p.ID, &p.TransactionID, &p.Type, &p.Value, &p.TaxRate, &p.TaxValue,
			&p.ProductID, &p.ReversesID, &p.ListEntryID, &p.PreorderPositionID,
			&p.AuthorizedByID, &p.HasConstraintBypass,
		); err != nil {
			return nil, translateDBErr(err)
		}

		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachItems(ctx, db, out); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *TransactionRepo) attachItems(ctx context.Context, db DB, positions []domain.TransactionPosition) error {
	if len(positions) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(positions))
	byID := make(map[int64]*domain.TransactionPosition, len(positions))
	for i := range positions {
		ids = append(ids, positions[i].ID)
		byID[positions[i].ID] = &positions[i]
	}

	rows, err := db.Query(ctx,
		`SELECT position_id, item_id, amount
		 FROM transaction_position_items
		 WHERE position_id = ANY($1)
		 ORDER BY position_id, item_id`,
		ids,
	)
	if err != nil {
		return translateDBErr(err)
	}

	defer rows.Close()

	for rows.Next() {
		var posID int64
		var it domain.PositionItem
		if err := rows.Scan(&posID, &it.ItemID, &it.Amount); err != nil {
			return translateDBErr(err)
		}

		if p, ok := byID[posID]; ok {
			p.Items = append(p.Items, it)
		}
	}

	return rows.Err()
}
