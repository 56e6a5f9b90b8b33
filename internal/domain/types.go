package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionType classifies a transaction position.
type PositionType string

const (
	PositionSell    PositionType = "sell"
	PositionRedeem  PositionType = "redeem"
	PositionReverse PositionType = "reverse"
)

// Product is a sellable SKU. Its pack entries describe which physical
// items leave the desk when one unit is sold or redeemed.
type Product struct {
	ID                    int64
	Name                  string
	ReceiptName           string
	Price                 decimal.Decimal
	TaxRate               decimal.Decimal // percent
	IsVisible             bool
	IsAdmission           bool
	RequiresAuthorization bool
	Priority              int
}

// Item is a physical stock unit, e.g. a wristband. Stock is tracked via
// signed movements, never decremented directly.
type Item struct {
	ID           int64
	Name         string
	Description  string
	InitialStock int
	IsReceipt    bool
}

// PackEntry links a product to an item with an amount per sold unit.
type PackEntry struct {
	ItemID    int64
	Amount    int
	IsVisible bool
}

// Quota caps the number of sales across a set of products.
type Quota struct {
	ID   int64
	Name string
	Size int
}

// QuotaUsage is a quota together with the current sale count across its
// products.
type QuotaUsage struct {
	Quota
	Sold int
}

// AmountAvailable never goes below zero.
func (q QuotaUsage) AmountAvailable() int {
	if avail := q.Size - q.Sold; avail > 0 {
		return avail
	}
	return 0
}

func (q QuotaUsage) IsAvailable() bool {
	return q.AmountAvailable() > 0
}

// TimeConstraint limits a product to a time window. Open ends are nil.
type TimeConstraint struct {
	ID    int64
	Name  string
	Start *time.Time
	End   *time.Time
}

// Matches reports whether now falls inside the window.
func (t TimeConstraint) Matches(now time.Time) bool {
	if t.Start != nil && now.Before(*t.Start) {
		return false
	}
	if t.End != nil && now.After(*t.End) {
		return false
	}
	return true
}

// WarningConstraint demands an acknowledgement before a bound product can
// be sold or redeemed.
type WarningConstraint struct {
	ID      int64
	Name    string
	Message string
}

// WarningBinding attaches a warning constraint to a product, optionally
// with a price that lets the cashier bypass the acknowledgement.
type WarningBinding struct {
	Constraint WarningConstraint
	Price      *decimal.Decimal
	TaxRate    decimal.Decimal
}

// ListConstraint gates a product to persons on a named list.
type ListConstraint struct {
	ID           int64
	Name         string
	Confidential bool
}

// ListBinding attaches a list constraint to a product, optionally with a
// bypass price.
type ListBinding struct {
	Constraint ListConstraint
	Price      *decimal.Decimal
	TaxRate    decimal.Decimal
}

// ListEntry is a single-use identity token on a list. Unique per
// (list, identifier); its redeemed state is derived from positions.
type ListEntry struct {
	ID         int64
	ListID     int64
	Name       string
	Identifier string
}

// Preorder is an order from a presale channel.
type Preorder struct {
	ID          int64
	OrderCode   string
	IsPaid      bool
	IsCanceled  bool
	WarningText string
}

// PreorderPosition is one redeemable presale ticket. LastTransaction is
// only used as the optimistic-concurrency fence for redemptions; do not
// read meaning into it beyond that.
type PreorderPosition struct {
	ID              int64
	PreorderID      int64
	Secret          string
	Price           *decimal.Decimal
	ProductID       int64
	LastTransaction *int64
	Information     string
}

// FenceMatches compares a previously observed fence value with the
// current one. Both nil counts as a match.
func (p *PreorderPosition) FenceMatches(observed *int64) bool {
	if p.LastTransaction == nil || observed == nil {
		return p.LastTransaction == nil && observed == nil
	}
	return *p.LastTransaction == *observed
}

// PreorderSearchResult is one row of a desk-side ticket search.
type PreorderSearchResult struct {
	PreorderPosition
	OrderCode   string
	IsPaid      bool
	ProductName string
	Redeemed    bool
}

// User is a cashier, backoffice operator or troubleshooter.
type User struct {
	ID               int64
	Username         string
	IsSuperuser      bool
	IsBackoffice     bool
	IsTroubleshooter bool
	AuthToken        string
}

// Cashdesk is one physical desk.
type Cashdesk struct {
	ID           int64
	Name         string
	IPAddress    string
	IsActive     bool
	HandlesItems bool
}

// CashdeskSession is one cashier's shift at one desk.
type CashdeskSession struct {
	ID                   int64
	CashdeskID           int64
	UserID               int64
	Start                time.Time
	End                  *time.Time
	CashAfter            *decimal.Decimal
	BackofficeUserBefore int64
	BackofficeUserAfter  *int64
	APIToken             string
	Comment              string
}

// IsActive reports whether the session has started and not yet ended.
func (s *CashdeskSession) IsActive() bool {
	return !s.Start.After(time.Now()) && s.End == nil
}

// Transaction is one checkout event owning its positions.
type Transaction struct {
	ID            int64
	At            time.Time
	CashGiven     *decimal.Decimal
	SessionID     int64
	ReceiptNumber *int64
}

// PositionItem is one item-amount line of a position.
type PositionItem struct {
	ItemID int64
	Amount int
}

// TransactionPosition is one line of a transaction: a sale, a presale
// redemption or a reversal of either.
type TransactionPosition struct {
	ID                  int64
	TransactionID       int64
	Type                PositionType
	Value               decimal.Decimal
	TaxRate             decimal.Decimal
	TaxValue            decimal.Decimal
	ProductID           int64
	ReversesID          *int64
	ListEntryID         *int64
	PreorderPositionID  *int64
	AuthorizedByID      *int64
	HasConstraintBypass bool
	Items               []PositionItem
}

// ItemMovement moves items into (positive) or out of (negative) a
// session, e.g. the wristband supply at session start or the remainder
// counted back in at session end.
type ItemMovement struct {
	ID               int64
	SessionID        int64
	ItemID           int64
	Amount           int
	BackofficeUserID int64
	At               time.Time
}

// CashMovement moves cash into (positive) or out of (negative) a session.
type CashMovement struct {
	ID               int64
	SessionID        int64
	Cash             decimal.Decimal
	BackofficeUserID int64
	At               time.Time
}
