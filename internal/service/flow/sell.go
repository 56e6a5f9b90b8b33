package flow

import (
	"context"
	"errors"
	"time"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/repository"
)

// SellRequest sells one unit of a product. Auth carries a troubleshooter
// token that overrides unavailability, quota exhaustion and the
// requires-authorization flag. There is no price bypass for sales.
type SellRequest struct {
	ProductID int64
	Auth      string
	Fields    map[string]string
}

// Sell validates a product sale against availability and its constraint
// chain and builds the sell position.
func Sell(ctx context.Context, l Ledger, req SellRequest) (*domain.TransactionPosition, error) {
	if req.ProductID == 0 {
		return nil, newError("No product given.")
	}

	pos := &domain.TransactionPosition{Type: domain.PositionSell}

	product, err := l.ProductByID(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError("This product ID is not known.")
		}
		return nil, err
	}

	facts, err := l.AvailabilityFacts(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	if !facts.Available(time.Now()) {
		if err := authorize(ctx, l, pos, req.Auth,
			"This product is currently unavailable or sold out."); err != nil {
			return nil, err
		}
	}

	if product.RequiresAuthorization {
		if err := authorize(ctx, l, pos, req.Auth,
			"This sale requires authorization by a troubleshooter."); err != nil {
			return nil, err
		}
	}

	warnings, err := l.WarningBindings(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	for _, wb := range warnings {
		if _, ok := req.Fields[WarningAckField(wb.Constraint.ID)]; !ok {
			return nil, newConfirmation(wb.Constraint.Message, WarningAckField(wb.Constraint.ID), nil)
		}
	}

	if err := resolveListConstraint(ctx, l, pos, product.ID, req.Fields, nil); err != nil {
		return nil, err
	}

	pos.ProductID = product.ID
	pos.Finalize(product)
	return pos, nil
}

// authorize resolves a troubleshooter token onto the position or fails
// with an input-kind error carrying msg.
func authorize(ctx context.Context, l Ledger, pos *domain.TransactionPosition, token, msg string) error {
	if token != "" {
		ts, err := l.TroubleshooterByToken(ctx, token)
		if err == nil {
			pos.AuthorizedByID = &ts.ID
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}
	return newInput(msg, FieldAuth, nil)
}
