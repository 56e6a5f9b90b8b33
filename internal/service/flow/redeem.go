package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/repository"
)

// RedeemRequest redeems one presale ticket by its scanned secret.
// TransactionID is the surrounding transaction's ID and doubles as the
// value written to the concurrency fence. Fields carries the
// acknowledgement flags and list values, keyed as documented on
// WarningAckField and ListField.
type RedeemRequest struct {
	Secret        string
	BypassPrice   decimal.Decimal
	TransactionID int64
	Fields        map[string]string
}

// bypassBudget tracks how much of the supplied bypass price is still
// unconsumed, and enforces that all bypass sources share one tax rate.
type bypassBudget struct {
	remaining decimal.Decimal
	taxRate   *decimal.Decimal
}

func (b *bypassBudget) covers(price *decimal.Decimal) bool {
	return price != nil && b.remaining.GreaterThanOrEqual(*price)
}

func (b *bypassBudget) consume(price, taxRate decimal.Decimal) error {
	b.remaining = b.remaining.Sub(price)
	if b.taxRate != nil && !b.taxRate.Equal(taxRate) {
		return newError("Multiple upgrades with different tax rates are not supported.")
	}
	rate := taxRate
	b.taxRate = &rate
	return nil
}

// Redeem validates a preorder position against its constraint chain and
// builds the redeem position. It must run inside the surrounding store
// transaction: the fence update only protects against concurrent
// redemptions when it is rolled back together with everything else.
func Redeem(ctx context.Context, l Ledger, req RedeemRequest) (*domain.TransactionPosition, error) {
	if req.Secret == "" {
		return nil, newError("No secret has been given.")
	}

	pos := &domain.TransactionPosition{Type: domain.PositionRedeem}
	budget := &bypassBudget{remaining: req.BypassPrice}

	// SELECT FOR UPDATE alone cannot prevent double redemption because
	// nothing on the row changes per redemption. We read the fence
	// without a lock, re-read it under an exclusive lock and compare:
	// a concurrent redeemer that got there first has already advanced
	// the fence while we were blocked on the lock, and we fail loudly.
	pp, err := l.PreorderPositionBySecret(ctx, req.Secret)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError("No ticket could be found with the given secret.")
		}
		return nil, err
	}
	observed := pp.LastTransaction
	pp, err = l.LockPreorderPosition(ctx, pp.ID)
	if err != nil {
		return nil, err
	}
	if !pp.FenceMatches(observed) {
		return nil, newError("Race condition. Please try again.")
	}
	if err := l.SetPreorderFence(ctx, pp.ID, req.TransactionID); err != nil {
		return nil, err
	}

	preorder, err := l.PreorderByID(ctx, pp.PreorderID)
	if err != nil {
		return nil, err
	}
	if preorder.IsCanceled {
		return nil, newError("This ticket has been canceled or is expired.")
	}

	product, err := l.ProductByID(ctx, pp.ProductID)
	if err != nil {
		return nil, err
	}

	if !preorder.IsPaid {
		if !budget.covers(pp.Price) {
			return nil, newConfirmation("This ticket has not been paid for.", FieldPayForUnpaid, pp.Price)
		}
		if err := budget.consume(*pp.Price, product.TaxRate); err != nil {
			return nil, err
		}
	}

	facts, err := l.AvailabilityFacts(ctx, pp.ProductID)
	if err != nil {
		return nil, err
	}
	if !facts.AvailableByTime(time.Now()) {
		return nil, newError("This product is currently not available.")
	}

	tally, err := l.RedemptionTally(ctx, domain.PreorderRef(pp.ID))
	if err != nil {
		return nil, err
	}
	if tally.Redeemed() {
		at, err := l.LastRedemptionAt(ctx, pp.ID)
		if err != nil {
			return nil, err
		}
		secret := pp.Secret
		if len(secret) > 6 {
			secret = secret[:6]
		}
		return nil, newError("This ticket (%s…) has already been redeemed at %s.",
			secret, at.Local().Format("2006-01-02 15:04:05"))
	}

	if preorder.WarningText != "" {
		if _, ok := req.Fields[FieldWarningAck]; !ok {
			return nil, newConfirmation(preorder.WarningText, FieldWarningAck, nil)
		}
	}

	warnings, err := l.WarningBindings(ctx, pp.ProductID)
	if err != nil {
		return nil, err
	}
	for _, wb := range warnings {
		if _, ok := req.Fields[WarningAckField(wb.Constraint.ID)]; ok {
			continue
		}
		if !budget.covers(wb.Price) {
			return nil, newConfirmation(wb.Constraint.Message, WarningAckField(wb.Constraint.ID), wb.Price)
		}
		if err := budget.consume(*wb.Price, wb.TaxRate); err != nil {
			return nil, err
		}
	}

	if err := resolveListConstraint(ctx, l, pos, pp.ProductID, req.Fields, budget); err != nil {
		return nil, err
	}

	pos.ProductID = pp.ProductID
	pos.PreorderPositionID = &pp.ID
	if budget.taxRate != nil && req.BypassPrice.IsPositive() {
		pos.Value = req.BypassPrice
		pos.TaxRate = *budget.taxRate
		pos.HasConstraintBypass = true
	}
	pos.CalcTax()
	return pos, nil
}

// resolveListConstraint applies the list constraint bound to a product,
// if any. Resolution order: a supplied troubleshooter token overrides
// without consuming anything, then a price bypass, then an unredeemed
// list entry matching the supplied identifier. A nil budget disables the
// bypass branch (sales).
func resolveListConstraint(
	ctx context.Context,
	l Ledger,
	pos *domain.TransactionPosition,
	productID int64,
	fields map[string]string,
	budget *bypassBudget,
) error {
	lb, err := l.ListBinding(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if lb == nil {
		return nil
	}

	field := ListField(lb.Constraint.ID)
	value := fields[field]

	if value != "" {
		ts, err := l.TroubleshooterByToken(ctx, value)
		if err == nil {
			pos.AuthorizedByID = &ts.ID
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}

	var bypass *decimal.Decimal
	if budget != nil {
		bypass = lb.Price
		if budget.covers(lb.Price) {
			return budget.consume(*lb.Price, lb.TaxRate)
		}
	}

	if value == "" {
		return newInput(
			fmt.Sprintf("This ticket can only be redeemed by persons on the list %q.", lb.Constraint.Name),
			field, bypass)
	}

	entry, err := l.ListEntryByIdentifier(ctx, lb.Constraint.ID, value)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newInput(
				fmt.Sprintf("This entry could not be found in list %q.", lb.Constraint.Name),
				field, bypass)
		}
		return err
	}
	tally, err := l.RedemptionTally(ctx, domain.ListEntryRef(entry.ID))
	if err != nil {
		return err
	}
	if tally.Redeemed() {
		return newInput("This list entry has already been used.", field, bypass)
	}
	pos.ListEntryID = &entry.ID
	return nil
}
