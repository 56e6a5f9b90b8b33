package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/venuepos/venuepos/internal/domain"
	postgresrepo "github.com/venuepos/venuepos/internal/repository/postgres"
	"github.com/venuepos/venuepos/internal/uow"
)

// LedgerFactory binds a Ledger to the transaction handle the unit of
// work hands out.
type LedgerFactory func(db postgresrepo.DB) Ledger

// Notifier is told after commit that a session's totals changed, so
// caches can be dropped and desk displays refreshed.
type Notifier interface {
	SessionChanged(ctx context.Context, sessionID int64)
}

// Service runs flow operations inside one all-or-nothing unit of work.
type Service struct {
	uow      *uow.UoW
	ledger   LedgerFactory
	notifier Notifier
}

func New(u *uow.UoW, ledger LedgerFactory, notifier Notifier) *Service {
	return &Service{uow: u, ledger: ledger, notifier: notifier}
}

// PositionRequest is one submitted line of a checkout.
type PositionRequest struct {
	Type        string
	Secret      string
	ProductID   int64
	Auth        string
	BypassPrice *decimal.Decimal
	Fields      map[string]string
}

// CheckoutRequest is one POST from a desk: all positions commit or none.
type CheckoutRequest struct {
	CashGiven *decimal.Decimal
	Positions []PositionRequest
}

// PositionFeedback mirrors one submitted position. On rejection it
// carries the flow error's fields so the desk can re-prompt.
type PositionFeedback struct {
	Success      bool
	PositionID   int64
	Message      string
	Kind         ErrorKind
	MissingField string
	BypassPrice  *decimal.Decimal
}

// CheckoutResult reports the outcome per position. ReceiptNumber is set
// only when at least one sold product requires a printed receipt.
type CheckoutResult struct {
	Success       bool
	TransactionID int64
	ReceiptNumber *int64
	Positions     []PositionFeedback
}

// Checkout validates and records a batch of positions inside one store
// transaction. If any position is rejected the whole transaction rolls
// back and the returned result carries the per-position feedback next to
// ErrRejected.
func (s *Service) Checkout(ctx context.Context, session *domain.CashdeskSession, req CheckoutRequest) (*CheckoutResult, error) {
	const op = "flow.Service.Checkout"

	if len(req.Positions) == 0 {
		return nil, ErrEmptyTransaction
	}

	res := &CheckoutResult{}

	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		l := s.ledger(tx)
		res.Positions = res.Positions[:0]

		trans := &domain.Transaction{SessionID: session.ID}
		if req.CashGiven != nil {
			cash := domain.RoundCash(*req.CashGiven)
			trans.CashGiven = &cash
		}
		if err := l.CreateTransaction(ctx, trans); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		ok := true
		needsReceipt := false
		for _, pr := range req.Positions {
			pos, err := s.buildPosition(ctx, l, trans.ID, pr)
			if err != nil {
				fe, isFlow := AsFlowError(err)
				if !isFlow {
					return fmt.Errorf("%s: %w", op, err)
				}
				ok = false
				res.Positions = append(res.Positions, PositionFeedback{
					Message:      fe.Message,
					Kind:         fe.Kind,
					MissingField: fe.MissingField,
					BypassPrice:  fe.BypassPrice,
				})
				continue
			}

			pos.TransactionID = trans.ID
			entries, err := l.PackEntries(ctx, pos.ProductID)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			pos.ExpandPack(entries)
			if err := l.CreatePosition(ctx, pos); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			res.Positions = append(res.Positions, PositionFeedback{Success: true, PositionID: pos.ID})

			nr, err := l.ProductNeedsReceipt(ctx, pos.ProductID)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			needsReceipt = needsReceipt || nr
		}

		if !ok {
			return ErrRejected
		}

		res.Success = true
		res.TransactionID = trans.ID
		if needsReceipt {
			n, err := l.AssignReceiptNumber(ctx, trans.ID)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			res.ReceiptNumber = &n
		}

		after(func(ctx context.Context) {
			s.notifySessionChanged(ctx, session.ID)
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return res, ErrRejected
		}
		return nil, err
	}
	return res, nil
}

func (s *Service) buildPosition(ctx context.Context, l Ledger, transactionID int64, pr PositionRequest) (*domain.TransactionPosition, error) {
	switch pr.Type {
	case string(domain.PositionRedeem):
		bypass := decimal.Zero
		if pr.BypassPrice != nil {
			bypass = *pr.BypassPrice
		}
		return Redeem(ctx, l, RedeemRequest{
			Secret:        pr.Secret,
			BypassPrice:   bypass,
			TransactionID: transactionID,
			Fields:        pr.Fields,
		})
	case string(domain.PositionSell):
		return Sell(ctx, l, SellRequest{
			ProductID: pr.ProductID,
			Auth:      pr.Auth,
			Fields:    pr.Fields,
		})
	default:
		return nil, newError("Type %s is not yet implemented.", pr.Type)
	}
}

// ReverseTransaction reverses a whole transaction on behalf of the
// acting session and returns the new transaction's ID.
func (s *Service) ReverseTransaction(ctx context.Context, session *domain.CashdeskSession, transactionID int64, authorizedBy *domain.User) (int64, error) {
	var id int64
	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		var err error
		id, err = ReverseTransaction(ctx, s.ledger(tx), transactionID, session, authorizedBy)
		if err != nil {
			return err
		}
		after(func(ctx context.Context) {
			s.notifySessionChanged(ctx, session.ID)
		})
		return nil
	})
	return id, err
}

// ReversePosition reverses one position and returns the new
// transaction's ID.
func (s *Service) ReversePosition(ctx context.Context, session *domain.CashdeskSession, positionID int64, authorizedBy *domain.User) (int64, error) {
	var id int64
	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		var err error
		id, err = ReversePosition(ctx, s.ledger(tx), positionID, session, authorizedBy)
		if err != nil {
			return err
		}
		after(func(ctx context.Context) {
			s.notifySessionChanged(ctx, session.ID)
		})
		return nil
	})
	return id, err
}

// ReverseSession reverses every position of the session and returns the
// new transaction's ID.
func (s *Service) ReverseSession(ctx context.Context, session *domain.CashdeskSession) (int64, error) {
	var id int64
	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		var err error
		id, err = ReverseSession(ctx, s.ledger(tx), session)
		if err != nil {
			return err
		}
		after(func(ctx context.Context) {
			s.notifySessionChanged(ctx, session.ID)
		})
		return nil
	})
	return id, err
}

// ResolveAuth resolves a troubleshooter token submitted alongside a
// request. An empty token resolves to no authorizer.
func (s *Service) ResolveAuth(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, nil
	}
	return s.ledger(nil).TroubleshooterByToken(ctx, token)
}

// TransactionView is a transaction with its positions, e.g. for a
// receipt reprint.
type TransactionView struct {
	Transaction domain.Transaction
	Positions   []domain.TransactionPosition
}

// Transaction loads a recorded transaction with its positions.
func (s *Service) Transaction(ctx context.Context, id int64) (*TransactionView, error) {
	const op = "flow.Service.Transaction"

	l := s.ledger(nil)
	t, err := l.TransactionByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	positions, err := l.PositionsByTransaction(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &TransactionView{Transaction: *t, Positions: positions}, nil
}

func (s *Service) notifySessionChanged(ctx context.Context, sessionID int64) {
	if s.notifier != nil {
		s.notifier.SessionChanged(ctx, sessionID)
	}
}
