package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/venuepos/venuepos/internal/domain"
)

// Field names the desk submits alongside a position to resolve
// constraints. Warning and list constraints use per-constraint keys.
const (
	FieldWarningAck   = "warning_acknowledged"
	FieldPayForUnpaid = "pay_for_unpaid"
	FieldAuth         = "auth"
)

// WarningAckField is the acknowledgement key for one warning constraint.
func WarningAckField(constraintID int64) string {
	return fmt.Sprintf("warning_%d_acknowledged", constraintID)
}

// ListField is the value key for one list constraint.
func ListField(constraintID int64) string {
	return fmt.Sprintf("list_%d", constraintID)
}

// Ledger is everything the flow engine reads and writes. The postgres
// store implements it bound to the surrounding transaction; tests use an
// in-memory implementation. Lookups return repository.ErrNotFound when
// the entity is absent.
type Ledger interface {
	// Preorders. LockPreorderPosition must take a blocking exclusive
	// row lock so concurrent redemption attempts serialize on it.
	PreorderPositionBySecret(ctx context.Context, secret string) (*domain.PreorderPosition, error)
	LockPreorderPosition(ctx context.Context, id int64) (*domain.PreorderPosition, error)
	SetPreorderFence(ctx context.Context, id int64, transactionID int64) error
	PreorderByID(ctx context.Context, id int64) (*domain.Preorder, error)
	LastRedemptionAt(ctx context.Context, preorderPositionID int64) (time.Time, error)

	// Catalog.
	ProductByID(ctx context.Context, id int64) (*domain.Product, error)
	AvailabilityFacts(ctx context.Context, productID int64) (*domain.AvailabilityFacts, error)
	PackEntries(ctx context.Context, productID int64) ([]domain.PackEntry, error)
	ProductNeedsReceipt(ctx context.Context, productID int64) (bool, error)

	// Constraints.
	RedemptionTally(ctx context.Context, ref domain.Redeemable) (domain.Tally, error)
	WarningBindings(ctx context.Context, productID int64) ([]domain.WarningBinding, error)
	ListBinding(ctx context.Context, productID int64) (*domain.ListBinding, error)
	ListEntryByIdentifier(ctx context.Context, listID int64, identifier string) (*domain.ListEntry, error)

	// Users.
	TroubleshooterByToken(ctx context.Context, token string) (*domain.User, error)
	UserByID(ctx context.Context, id int64) (*domain.User, error)

	// Transactions.
	TransactionByID(ctx context.Context, id int64) (*domain.Transaction, error)
	PositionByID(ctx context.Context, id int64) (*domain.TransactionPosition, error)
	PositionsByTransaction(ctx context.Context, transactionID int64) ([]domain.TransactionPosition, error)
	PositionsBySession(ctx context.Context, sessionID int64) ([]domain.TransactionPosition, error)
	WasReversed(ctx context.Context, positionID int64) (bool, error)
	SessionHasReversals(ctx context.Context, sessionID int64) (bool, error)
	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	CreatePosition(ctx context.Context, p *domain.TransactionPosition) error
	AssignReceiptNumber(ctx context.Context, transactionID int64) (int64, error)
}
