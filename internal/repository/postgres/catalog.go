package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuepos/venuepos/internal/domain"
)

type CatalogRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *CatalogRepo) With(db DB) *CatalogRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *CatalogRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// ProductByID retrieves a product by its ID.
//
// Returns:
//   - *domain.Product: the product when found.
//   - error: repository.ErrNotFound if the product is not found.
func (r *CatalogRepo) ProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	const op = "postgres.CatalogRepo.ProductByID"

	db := r.handle()

	var p domain.Product
	err := db.QueryRow(ctx,
		`SELECT id, name, receipt_name, price, tax_rate, is_visible,
		        is_admission, requires_authorization, priority
       	 FROM products WHERE id = $1`,
		id,
	).Scan(
		&p.ID, &p.Name, &p.ReceiptName, &p.Price, &p.TaxRate,
		&p.IsVisible, &p.IsAdmission, &p.RequiresAuthorization, &p.Priority,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &p, nil
}

// ListProducts lists visible products, highest priority first.
func (r *CatalogRepo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	const op = "postgres.CatalogRepo.ListProducts"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, name, receipt_name, price, tax_rate, is_visible,
		        is_admission, requires_authorization, priority
		 FROM products
		 WHERE is_visible = TRUE
		 ORDER BY priority DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID, &p.Name, &p.ReceiptName, &p.Price, &p.TaxRate,
			&p.IsVisible, &p.IsAdmission, &p.RequiresAuthorization, &p.Priority,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// AvailabilityFacts loads everything needed to decide whether the
// product can be sold right now: visibility, time windows and each bound
// quota together with its current sale count. Presale redemptions do not
// count against quotas; reversals of sales count back.
func (r *CatalogRepo) AvailabilityFacts(ctx context.Context, productID int64) (*domain.AvailabilityFacts, error) {
	const op = "postgres.CatalogRepo.AvailabilityFacts"

	db := r.handle()

	var f domain.AvailabilityFacts
	err := db.QueryRow(ctx,
		`SELECT is_visible FROM products WHERE id = $1`,
		productID,
	).Scan(&f.Visible)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	rows, err := db.Query(ctx,
		`SELECT tc.id, tc.name, tc.start_at, tc.end_at
		 FROM time_constraints tc
		 JOIN time_constraint_products tcp ON tcp.constraint_id = tc.id
		 WHERE tcp.product_id = $1
		 ORDER BY tc.id`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	for rows.Next() {
		var tc domain.TimeConstraint
		if err := rows.Scan(&tc.ID, &tc.Name, &tc.Start, &tc.End); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		f.TimeConstraints = append(f.TimeConstraints, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	qrows, err := db.Query(ctx,
		`SELECT q.id, q.name, q.size,
		        COALESCE((
		            SELECT SUM(CASE
		                WHEN tp.type = 'sell' THEN 1
		                WHEN tp.type = 'reverse' AND tp.preorder_position_id IS NULL THEN -1
		                ELSE 0 END)
		            FROM transaction_positions tp
		            JOIN quota_products qp2
		              ON qp2.product_id = tp.product_id AND qp2.quota_id = q.id
		        ), 0)
		 FROM quotas q
		 JOIN quota_products qp ON qp.quota_id = q.id
		 WHERE qp.product_id = $1
		 ORDER BY q.id`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer qrows.Close()

	for qrows.Next() {
		var q domain.QuotaUsage
		if err := qrows.Scan(&q.ID, &q.Name, &q.Size, &q.Sold); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		f.Quotas = append(f.Quotas, q)
	}
	if err := qrows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &f, nil
}

// PackEntries lists the item amounts one sold unit of the product moves
// out of the session.
func (r *CatalogRepo) PackEntries(ctx context.Context, productID int64) ([]domain.PackEntry, error) {
	const op = "postgres.CatalogRepo.PackEntries"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT item_id, amount, is_visible
		 FROM product_items
		 WHERE product_id = $1
		 ORDER BY item_id`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.PackEntry
	for rows.Next() {
		var e domain.PackEntry
		if err := rows.Scan(&e.ItemID, &e.Amount, &e.IsVisible); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// ProductNeedsReceipt reports whether selling the product requires a
// numbered receipt. A pack that already hands over a receipt-type item
// covers the obligation itself, so only packs without one need a number.
func (r *CatalogRepo) ProductNeedsReceipt(ctx context.Context, productID int64) (bool, error) {
	const op = "postgres.CatalogRepo.ProductNeedsReceipt"

	db := r.handle()

	var needs bool
	err := db.QueryRow(ctx,
		`SELECT NOT EXISTS(
		    SELECT 1
		    FROM product_items pi
		    JOIN items i ON i.id = pi.item_id
		    WHERE pi.product_id = $1 AND i.is_receipt
		 )`,
		productID,
	).Scan(&needs)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return needs, nil
}

// ListItems lists all physical stock items.
func (r *CatalogRepo) ListItems(ctx context.Context) ([]domain.Item, error) {
	const op = "postgres.CatalogRepo.ListItems"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, name, description, initial_stock, is_receipt
		 FROM items
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Description, &it.InitialStock, &it.IsReceipt); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
