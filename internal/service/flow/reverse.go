package flow

import (
	"context"
	"errors"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/repository"
)

// ReverseTransaction reverses an earlier transaction as a whole into a
// new transaction on the acting session. Reversing across sessions
// requires the acting user or the explicit authorizer to be a
// troubleshooter.
func ReverseTransaction(
	ctx context.Context,
	l Ledger,
	transactionID int64,
	session *domain.CashdeskSession,
	authorizedBy *domain.User,
) (int64, error) {
	old, err := l.TransactionByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, newError("Transaction ID not known.")
		}
		return 0, err
	}

	if err := checkReversalAuth(ctx, l, old.SessionID, session, authorizedBy); err != nil {
		return 0, err
	}

	positions, err := l.PositionsByTransaction(ctx, old.ID)
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		reversed, err := l.WasReversed(ctx, p.ID)
		if err != nil {
			return 0, err
		}
		if reversed {
			return 0, newError("At least one position of this transaction has already been reversed.")
		}
	}
	for _, p := range positions {
		if p.Type == domain.PositionReverse {
			return 0, newError("At least one position of this transaction is a reversal.")
		}
	}

	return writeReversals(ctx, l, session.ID, positions)
}

// ReversePosition reverses a single transaction position into a new
// transaction on the acting session.
func ReversePosition(
	ctx context.Context,
	l Ledger,
	positionID int64,
	session *domain.CashdeskSession,
	authorizedBy *domain.User,
) (int64, error) {
	old, err := l.PositionByID(ctx, positionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, newError("Transaction position ID not known.")
		}
		return 0, err
	}

	owner, err := l.TransactionByID(ctx, old.TransactionID)
	if err != nil {
		return 0, err
	}
	if err := checkReversalAuth(ctx, l, owner.SessionID, session, authorizedBy); err != nil {
		return 0, err
	}

	reversed, err := l.WasReversed(ctx, old.ID)
	if err != nil {
		return 0, err
	}
	if reversed {
		return 0, newError("This position has already been reversed.")
	}
	if old.Type == domain.PositionReverse {
		return 0, newError("This position is already a reversal.")
	}

	return writeReversals(ctx, l, session.ID, []domain.TransactionPosition{*old})
}

// ReverseSession reverses every position of a still-active session as
// one new transaction. Refused on sessions that already contain
// reversals so a second run cannot cascade.
func ReverseSession(ctx context.Context, l Ledger, session *domain.CashdeskSession) (int64, error) {
	if !session.IsActive() {
		return 0, newError("The session needs to be still active.")
	}

	hasReversals, err := l.SessionHasReversals(ctx, session.ID)
	if err != nil {
		return 0, err
	}
	if hasReversals {
		return 0, newError("For safety, you cannot execute this on sessions that contain reversals.")
	}

	positions, err := l.PositionsBySession(ctx, session.ID)
	if err != nil {
		return 0, err
	}
	return writeReversals(ctx, l, session.ID, positions)
}

func checkReversalAuth(
	ctx context.Context,
	l Ledger,
	ownerSessionID int64,
	session *domain.CashdeskSession,
	authorizedBy *domain.User,
) error {
	if !session.IsActive() {
		return newError("You need to provide an active session.")
	}
	if ownerSessionID == session.ID {
		return nil
	}
	user, err := l.UserByID(ctx, session.UserID)
	if err != nil {
		return err
	}
	if user.IsTroubleshooter {
		return nil
	}
	if authorizedBy != nil && authorizedBy.IsTroubleshooter {
		return nil
	}
	return newError("Only troubleshooters can reverse sales from other sessions.")
}

// writeReversals creates the mirror transaction. The item lines are
// negated copies of the originals, never re-expanded from the product's
// current pack list.
func writeReversals(ctx context.Context, l Ledger, sessionID int64, positions []domain.TransactionPosition) (int64, error) {
	trans := &domain.Transaction{SessionID: sessionID}
	if err := l.CreateTransaction(ctx, trans); err != nil {
		return 0, err
	}
	for i := range positions {
		rev := domain.NewReversal(&positions[i])
		rev.TransactionID = trans.ID
		if err := l.CreatePosition(ctx, rev); err != nil {
			return 0, err
		}
	}
	return trans.ID, nil
}
