package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/repository"
)

type PreorderRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *PreorderRepo) With(db DB) *PreorderRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *PreorderRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const preorderPositionCols = `id, preorder_id, secret, price, product_id, last_transaction, information`

// PreorderPositionBySecret retrieves a presale ticket by its secret. The
// read takes no lock; callers that intend to redeem must re-read through
// LockPreorderPosition and compare the fence.
//
// Returns:
//   - *domain.PreorderPosition: the position when found.
//   - error: repository.ErrNotFound if no position carries the secret.
func (r *PreorderRepo) PreorderPositionBySecret(ctx context.Context, secret string) (*domain.PreorderPosition, error) {
	const op = "postgres.PreorderRepo.PreorderPositionBySecret"

	db := r.handle()

	var p domain.PreorderPosition
	err := db.QueryRow(ctx,
		`SELECT `+preorderPositionCols+`
		 FROM preorder_positions WHERE secret = $1`,
		secret,
	).Scan(&p.ID, &p.PreorderID, &p.Secret, &p.Price, &p.ProductID, &p.LastTransaction, &p.Information)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &p, nil
}

// LockPreorderPosition re-reads the position under an exclusive row
// lock. Concurrent redemption attempts block here and then see each
// other's fence writes.
func (r *PreorderRepo) LockPreorderPosition(ctx context.Context, id int64) (*domain.PreorderPosition, error) {
	const op = "postgres.PreorderRepo.LockPreorderPosition"

	db := r.handle()

	var p domain.PreorderPosition
	err := db.QueryRow(ctx,
		`SELECT `+preorderPositionCols+`
		 FROM preorder_positions WHERE id = $1
		 FOR UPDATE`,
		id,
	).Scan(&p.ID, &p.PreorderID, &p.Secret, &p.Price, &p.ProductID, &p.LastTransaction, &p.Information)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &p, nil
}

// SetPreorderFence records the transaction now claiming the position.
func (r *PreorderRepo) SetPreorderFence(ctx context.Context, id int64, transactionID int64) error {
	const op = "postgres.PreorderRepo.SetPreorderFence"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE preorder_positions SET last_transaction = $2 WHERE id = $1`,
		id, transactionID,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// PreorderByID retrieves the order a position belongs to.
func (r *PreorderRepo) PreorderByID(ctx context.Context, id int64) (*domain.Preorder, error) {
	const op = "postgres.PreorderRepo.PreorderByID"

	db := r.handle()

	var p domain.Preorder
	err := db.QueryRow(ctx,
		`SELECT id, order_code, is_paid, is_canceled, warning_text
		 FROM preorders WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.OrderCode, &p.IsPaid, &p.IsCanceled, &p.WarningText)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &p, nil
}

// LastRedemptionAt returns the time of the most recent redemption of
// the position.
//
// Returns:
//   - time.Time: when the position was last redeemed.
//   - error: repository.ErrNotFound if it was never redeemed.
func (r *PreorderRepo) LastRedemptionAt(ctx context.Context, preorderPositionID int64) (time.Time, error) {
	const op = "postgres.PreorderRepo.LastRedemptionAt"

	db := r.handle()

	var at time.Time
	err := db.QueryRow(ctx,
		`SELECT t.created_at
		 FROM transaction_positions tp
		 JOIN transactions t ON t.id = tp.transaction_id
		 WHERE tp.preorder_position_id = $1 AND tp.type = 'redeem'
		 ORDER BY t.created_at DESC
		 LIMIT 1`,
		preorderPositionID,
	).Scan(&at)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return at, nil
}

// SearchPreorderPositions finds presale tickets whose secret starts with
// the given prefix, newest order first. Each row carries the order state
// and whether the ticket is currently used up.
func (r *PreorderRepo) SearchPreorderPositions(ctx context.Context, prefix string, limit int) ([]domain.PreorderSearchResult, error) {
	const op = "postgres.PreorderRepo.SearchPreorderPositions"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT pp.id, pp.preorder_id, pp.secret, pp.price, pp.product_id,
		        pp.last_transaction, pp.information,
		        po.order_code, po.is_paid, pr.name,
		        COALESCE((
		            SELECT SUM(CASE WHEN tp.type = 'redeem' THEN 1 ELSE 0 END) >
		                   SUM(CASE WHEN tp.type = 'reverse' THEN 1 ELSE 0 END)
		            FROM transaction_positions tp
		            WHERE tp.preorder_position_id = pp.id
		        ), FALSE)
		 FROM preorder_positions pp
		 JOIN preorders po ON po.id = pp.preorder_id
		 JOIN products pr ON pr.id = pp.product_id
		 WHERE pp.secret LIKE $1 || '%'
		 ORDER BY pp.id DESC
		 LIMIT $2`,
		prefix, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.PreorderSearchResult
	for rows.Next() {
		var res domain.PreorderSearchResult
		if err := rows.Scan(
			&res.ID, &res.PreorderID, &res.Secret, &res.Price, &res.ProductID,
			&res.LastTransaction, &res.Information,
			&res.OrderCode, &res.IsPaid, &res.ProductName, &res.Redeemed,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
