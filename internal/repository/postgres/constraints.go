package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/repository"
)

type ConstraintRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *ConstraintRepo) With(db DB) *ConstraintRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ConstraintRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// RedemptionTally counts positions that consumed the referenced entity
// against reversals pointing back at them. For preorder positions only
// redemptions count as consumption; a list entry is also consumed by a
// sale it authorized.
func (r *ConstraintRepo) RedemptionTally(ctx context.Context, ref domain.Redeemable) (domain.Tally, error) {
	const op = "postgres.ConstraintRepo.RedemptionTally"

	db := r.handle()

	var query string
	switch ref.Kind {
	case domain.RedeemablePreorderPosition:
		query = `SELECT
		            COALESCE(SUM(CASE WHEN type = 'redeem' THEN 1 ELSE 0 END), 0),
		            COALESCE(SUM(CASE WHEN type = 'reverse' THEN 1 ELSE 0 END), 0)
		         FROM transaction_positions
		         WHERE preorder_position_id = $1`
	case domain.RedeemableListEntry:
		query = `SELECT
		            COALESCE(SUM(CASE WHEN type IN ('redeem', 'sell') THEN 1 ELSE 0 END), 0),
		            COALESCE(SUM(CASE WHEN type = 'reverse' THEN 1 ELSE 0 END), 0)
		         FROM transaction_positions
		         WHERE list_entry_id = $1`
	default:
		return domain.Tally{}, fmt.Errorf("%s: unknown redeemable kind %q", op, ref.Kind)
	}

	var t domain.Tally
	if err := db.QueryRow(ctx, query, ref.ID).Scan(&t.Positives, &t.Negatives); err != nil {
		return domain.Tally{}, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return t, nil
}

// WarningBindings lists the warning constraints bound to a product. The
// bypass price and tax rate live on the binding row, so one constraint
// can carry different upgrade prices per product.
func (r *ConstraintRepo) WarningBindings(ctx context.Context, productID int64) ([]domain.WarningBinding, error) {
	const op = "postgres.ConstraintRepo.WarningBindings"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT wc.id, wc.name, wc.message, wcp.price, wcp.tax_rate
		 FROM warning_constraints wc
		 JOIN warning_constraint_products wcp ON wcp.constraint_id = wc.id
		 WHERE wcp.product_id = $1
		 ORDER BY wc.id`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.WarningBinding
	for rows.Next() {
		var b domain.WarningBinding
		if err := rows.Scan(
			&b.Constraint.ID, &b.Constraint.Name, &b.Constraint.Message,
			&b.Price, &b.TaxRate,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// ListBinding retrieves the list constraint bound to a product, or nil
// when the product is not list-gated.
func (r *ConstraintRepo) ListBinding(ctx context.Context, productID int64) (*domain.ListBinding, error) {
	const op = "postgres.ConstraintRepo.ListBinding"

	db := r.handle()

	var b domain.ListBinding
	err := db.QueryRow(ctx,
		`SELECT lc.id, lc.name, lc.confidential, lcp.price, lcp.tax_rate
		 FROM list_constraints lc
		 JOIN list_constraint_products lcp ON lcp.constraint_id = lc.id
		 WHERE lcp.product_id = $1
		 ORDER BY lc.id
		 LIMIT 1`,
		productID,
	).Scan(&b.Constraint.ID, &b.Constraint.Name, &b.Constraint.Confidential, &b.Price, &b.TaxRate)
	if err != nil {
		if errors.Is(translateDBErr(err), repository.ErrNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &b, nil
}

// ListEntryByIdentifier retrieves one entry of a list by its identifier.
//
// Returns:
//   - *domain.ListEntry: the entry when found.
//   - error: repository.ErrNotFound if the list has no such entry.
func (r *ConstraintRepo) ListEntryByIdentifier(ctx context.Context, listID int64, identifier string) (*domain.ListEntry, error) {
	const op = "postgres.ConstraintRepo.ListEntryByIdentifier"

	db := r.handle()

	var e domain.ListEntry
	err := db.QueryRow(ctx,
		`SELECT id, list_id, name, identifier
		 FROM list_constraint_entries
		 WHERE list_id = $1 AND identifier = $2`,
		listID, identifier,
	).Scan(&e.ID, &e.ListID, &e.Name, &e.Identifier)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &e, nil
}
