package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/venuepos/venuepos/internal/domain"
	postgresrepo "github.com/venuepos/venuepos/internal/repository/postgres"
	"github.com/venuepos/venuepos/internal/uow"
)

var (
	ErrSessionClosed    = errors.New("session already closed")
	ErrCashdeskInactive = errors.New("cashdesk is not active")
	ErrNotBackoffice    = errors.New("user is not a backoffice operator")
)

// Ledger is everything the session lifecycle reads and writes. The
// postgres store implements it; tests use an in-memory implementation.
type Ledger interface {
	SessionByID(ctx context.Context, id int64) (*domain.CashdeskSession, error)
	SessionByToken(ctx context.Context, token string) (*domain.CashdeskSession, error)
	ActiveSessionByCashdesk(ctx context.Context, cashdeskID int64) (*domain.CashdeskSession, error)
	ListSessions(ctx context.Context, limit, offset int) ([]domain.CashdeskSession, error)
	OpenSession(ctx context.Context, s *domain.CashdeskSession) error
	CloseSession(ctx context.Context, id int64, cashAfter decimal.Decimal, backofficeUserID int64) error
	CreateItemMovement(ctx context.Context, m *domain.ItemMovement) error
	CreateCashMovement(ctx context.Context, m *domain.CashMovement) error
	ItemMovementsBySession(ctx context.Context, sessionID int64) ([]domain.ItemMovement, error)
	CashMovementsBySession(ctx context.Context, sessionID int64) ([]domain.CashMovement, error)
	PositionsBySession(ctx context.Context, sessionID int64) ([]domain.TransactionPosition, error)
	ListItems(ctx context.Context) ([]domain.Item, error)
	CashdeskByID(ctx context.Context, id int64) (*domain.Cashdesk, error)
	UserByID(ctx context.Context, id int64) (*domain.User, error)
	ProductByID(ctx context.Context, id int64) (*domain.Product, error)
}

// LedgerFactory binds a Ledger to a transaction handle; a nil handle
// binds to the plain pool for read-only work.
type LedgerFactory func(db postgresrepo.DB) Ledger

// Notifier is told after commit that a session changed.
type Notifier interface {
	SessionChanged(ctx context.Context, sessionID int64)
}

// Service manages cashdesk session lifecycles and reporting.
type Service struct {
	uow      *uow.UoW
	ledger   LedgerFactory
	notifier Notifier
}

func New(u *uow.UoW, ledger LedgerFactory, notifier Notifier) *Service {
	return &Service{uow: u, ledger: ledger, notifier: notifier}
}

// Resolve looks up the active session carrying the API token.
//
// Returns:
//   - error: repository.ErrNotFound if the token is unknown,
//     ErrSessionClosed if the session already ended.
func (s *Service) Resolve(ctx context.Context, token string) (*domain.CashdeskSession, error) {
	const op = "sessions.Service.Resolve"

	sess, err := s.ledger(nil).SessionByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !sess.IsActive() {
		return nil, fmt.Errorf("%s: %w", op, ErrSessionClosed)
	}

	return sess, nil
}

// ItemAmount is one item count handed over at open or counted back at
// close.
type ItemAmount struct {
	ItemID int64
	Amount int
}

// OpenRequest starts a cashier's shift at a desk with an initial cash
// drawer and item supply.
type OpenRequest struct {
	CashdeskID       int64
	CashierID        int64
	BackofficeUserID int64
	CashBefore       decimal.Decimal
	Items            []ItemAmount
	Comment          string
}

// Open starts a session: it records the initial cash and item movements
// and mints the API token the desk authenticates with.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*domain.CashdeskSession, error) {
	const op = "sessions.Service.Open"

	var sess *domain.CashdeskSession
	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		l := s.ledger(tx)

		desk, err := l.CashdeskByID(ctx, req.CashdeskID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !desk.IsActive {
			return fmt.Errorf("%s: %w", op, ErrCashdeskInactive)
		}

		backoffice, err := l.UserByID(ctx, req.BackofficeUserID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !backoffice.IsBackoffice {
			return fmt.Errorf("%s: %w", op, ErrNotBackoffice)
		}

		sess = &domain.CashdeskSession{
			CashdeskID:           req.CashdeskID,
			UserID:               req.CashierID,
			BackofficeUserBefore: req.BackofficeUserID,
			APIToken:             uuid.NewString(),
			Comment:              req.Comment,
		}
		if err := l.OpenSession(ctx, sess); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if !req.CashBefore.IsZero() {
			m := &domain.CashMovement{
				SessionID:        sess.ID,
				Cash:             domain.RoundCash(req.CashBefore),
				BackofficeUserID: req.BackofficeUserID,
			}
			if err := l.CreateCashMovement(ctx, m); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}

		for _, ia := range req.Items {
			m := &domain.ItemMovement{
				SessionID:        sess.ID,
				ItemID:           ia.ItemID,
				Amount:           ia.Amount,
				BackofficeUserID: req.BackofficeUserID,
			}
			if err := l.CreateItemMovement(ctx, m); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}

		after(func(ctx context.Context) {
			s.notifySessionChanged(ctx, sess.ID)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sess, nil
}

// CloseRequest ends a session with the counted cash and item remainders.
type CloseRequest struct {
	SessionID        int64
	BackofficeUserID int64
	CashAfter        decimal.Decimal
	Items            []ItemAmount
}

// Close ends a session. The remainders counted back in are recorded as
// negative movements, cash and items alike, so the session's balances
// reflect what is missing.
func (s *Service) Close(ctx context.Context, req CloseRequest) error {
	const op = "sessions.Service.Close"

	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		l := s.ledger(tx)

		sess, err := l.SessionByID(ctx, req.SessionID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !sess.IsActive() {
			return fmt.Errorf("%s: %w", op, ErrSessionClosed)
		}

		backoffice, err := l.UserByID(ctx, req.BackofficeUserID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !backoffice.IsBackoffice {
			return fmt.Errorf("%s: %w", op, ErrNotBackoffice)
		}

		if err := l.CloseSession(ctx, req.SessionID, domain.RoundCash(req.CashAfter), req.BackofficeUserID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		// The counted drawer leaves the desk, recorded as the session's
		// final cash movement.
		final := &domain.CashMovement{
			SessionID:        req.SessionID,
			Cash:             domain.RoundCash(req.CashAfter).Neg(),
			BackofficeUserID: req.BackofficeUserID,
		}
		if err := l.CreateCashMovement(ctx, final); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		for _, ia := range req.Items {
			m := &domain.ItemMovement{
				SessionID:        req.SessionID,
				ItemID:           ia.ItemID,
				Amount:           -ia.Amount,
				BackofficeUserID: req.BackofficeUserID,
			}
			if err := l.CreateItemMovement(ctx, m); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}

		after(func(ctx context.Context) {
			s.notifySessionChanged(ctx, req.SessionID)
		})
		return nil
	})

	return err
}

// Correct records a post-close item movement, e.g. when items surface
// during cleanup after the shift ended.
func (s *Service) Correct(ctx context.Context, sessionID int64, backofficeUserID int64, item ItemAmount) error {
	const op = "sessions.Service.Correct"

	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		l := s.ledger(tx)

		if _, err := l.SessionByID(ctx, sessionID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		backoffice, err := l.UserByID(ctx, backofficeUserID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !backoffice.IsBackoffice {
			return fmt.Errorf("%s: %w", op, ErrNotBackoffice)
		}

		m := &domain.ItemMovement{
			SessionID:        sessionID,
			ItemID:           item.ItemID,
			Amount:           item.Amount,
			BackofficeUserID: backofficeUserID,
		}
		if err := l.CreateItemMovement(ctx, m); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		after(func(ctx context.Context) {
			s.notifySessionChanged(ctx, sessionID)
		})
		return nil
	})

	return err
}

// Get loads one session by its ID.
func (s *Service) Get(ctx context.Context, id int64) (*domain.CashdeskSession, error) {
	const op = "sessions.Service.Get"

	sess, err := s.ledger(nil).SessionByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sess, nil
}

// List returns sessions, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.CashdeskSession, error) {
	const op = "sessions.Service.List"

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	out, err := s.ledger(nil).ListSessions(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func (s *Service) notifySessionChanged(ctx context.Context, sessionID int64) {
	if s.notifier != nil {
		s.notifier.SessionChanged(ctx, sessionID)
	}
}
