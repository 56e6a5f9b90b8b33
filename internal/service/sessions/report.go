package sessions

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/venuepos/venuepos/internal/domain"
)

// ItemReportRow balances one item over a session: what was handed over
// (positive movements), what left with customers (transacted, net of
// reversals), what was counted back in (negative movements) and what is
// left unaccounted for.
type ItemReportRow struct {
	Item       domain.Item
	Moved      int
	Transacted int
	Balance    int
}

// ProductSalesRow is one line of the sales breakdown. Positions are
// grouped by product and absolute unit value, so a bypass sold at a
// different price gets its own row. Direct sales, preorder redemptions
// and reversals are counted separately; Value is the net cash.
type ProductSalesRow struct {
	ProductID   int64
	ProductName string
	UnitValue   decimal.Decimal
	Sales       int
	Presales    int
	Reversals   int
	Value       decimal.Decimal
}

// Report is the closing document of a session.
type Report struct {
	Session  domain.CashdeskSession
	Cashdesk domain.Cashdesk
	Cashier  domain.User

	CashBefore       decimal.Decimal
	CashMovement     decimal.Decimal
	TransactionTotal decimal.Decimal
	CashExpected     decimal.Decimal

	Items []ItemReportRow
	Sales []ProductSalesRow
}

// Report assembles the session report from raw movements and positions.
// It works on closed and still-running sessions alike; corrective
// movements recorded after close are included.
func (s *Service) Report(ctx context.Context, sessionID int64) (*Report, error) {
	const op = "sessions.Service.Report"

	l := s.ledger(nil)

	sess, err := l.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	desk, err := l.CashdeskByID(ctx, sess.CashdeskID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cashier, err := l.UserByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cashMovements, err := l.CashMovementsBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	itemMovements, err := l.ItemMovementsBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	positions, err := l.PositionsBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	items, err := l.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rep := &Report{
		Session:  *sess,
		Cashdesk: *desk,
		Cashier:  *cashier,
	}

	// A closed session's last movement is the counted drawer leaving the
	// desk. CashBefore sums everything up to that point, so an exactly
	// counted drawer makes CashExpected come out at zero after close.
	final := -1
	if !sess.IsActive() && len(cashMovements) > 0 {
		final = len(cashMovements) - 1
	}

	rep.CashBefore = decimal.Zero
	rep.CashMovement = decimal.Zero
	for i, m := range cashMovements {
		if i != final {
			rep.CashBefore = rep.CashBefore.Add(m.Cash)
		}
		rep.CashMovement = rep.CashMovement.Add(m.Cash)
	}

	rep.TransactionTotal = decimal.Zero
	for _, p := range positions {
		rep.TransactionTotal = rep.TransactionTotal.Add(p.Value)
	}
	rep.CashExpected = rep.CashMovement.Add(rep.TransactionTotal)

	rep.Items = itemRows(items, itemMovements, positions)

	sales, err := s.salesRows(ctx, positions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rep.Sales = sales

	return rep, nil
}

func itemRows(items []domain.Item, movements []domain.ItemMovement, positions []domain.TransactionPosition) []ItemReportRow {
	moved := make(map[int64]int)
	for _, m := range movements {
		moved[m.ItemID] += m.Amount
	}

	transacted := make(map[int64]int)
	for _, p := range positions {
		for _, it := range p.Items {
			transacted[it.ItemID] += it.Amount
		}
	}

	var rows []ItemReportRow
	for _, item := range items {
		mv, tr := moved[item.ID], transacted[item.ID]
		if mv == 0 && tr == 0 {
			continue
		}
		rows = append(rows, ItemReportRow{
			Item:       item,
			Moved:      mv,
			Transacted: tr,
			Balance:    mv - tr,
		})
	}
	return rows
}

func (s *Service) salesRows(ctx context.Context, positions []domain.TransactionPosition) ([]ProductSalesRow, error) {
	type key struct {
		productID int64
		unit      string
	}

	agg := make(map[key]*ProductSalesRow)
	names := make(map[int64]string)

	for _, p := range positions {
		name, ok := names[p.ProductID]
		if !ok {
			product, err := s.ledger(nil).ProductByID(ctx, p.ProductID)
			if err != nil {
				return nil, err
			}
			name = product.Name
			if product.ReceiptName != "" {
				name = product.ReceiptName
			}
			names[p.ProductID] = name
		}

		unit := p.Value.Abs()
		k := key{productID: p.ProductID, unit: unit.StringFixed(2)}
		row, ok := agg[k]
		if !ok {
			row = &ProductSalesRow{
				ProductID:   p.ProductID,
				ProductName: name,
				UnitValue:   unit,
				Value:       decimal.Zero,
			}
			agg[k] = row
		}

		switch p.Type {
		case domain.PositionSell:
			row.Sales++
		case domain.PositionRedeem:
			row.Presales++
		case domain.PositionReverse:
			row.Reversals++
		}
		row.Value = row.Value.Add(p.Value)
	}

	rows := make([]ProductSalesRow, 0, len(agg))
	for _, row := range agg {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ProductID != rows[j].ProductID {
			return rows[i].ProductID < rows[j].ProductID
		}
		return rows[i].UnitValue.LessThan(rows[j].UnitValue)
	})

	return rows, nil
}
