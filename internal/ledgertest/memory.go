// Package ledgertest provides an in-memory store implementing the flow
// and session service ports, so service behavior can be tested without
// postgres. Transactions snapshot the mutable state and restore it when
// the function fails, mirroring the all-or-nothing semantics of the real
// store.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/repository"
	postgresrepo "github.com/venuepos/venuepos/internal/repository/postgres"
)

type Store struct {
	mu sync.Mutex

	Products         map[int64]*domain.Product
	Items            map[int64]*domain.Item
	Packs            map[int64][]domain.PackEntry
	Quotas           map[int64]*domain.Quota
	QuotaProducts    map[int64][]int64
	TimeConstraints  map[int64][]domain.TimeConstraint
	Warnings         map[int64][]domain.WarningBinding
	Lists            map[int64]*domain.ListBinding
	ListEntries      map[int64]*domain.ListEntry
	Preorders        map[int64]*domain.Preorder
	PreorderPosits   map[int64]*domain.PreorderPosition
	Users            map[int64]*domain.User
	Cashdesks        map[int64]*domain.Cashdesk
	Sessions         map[int64]*domain.CashdeskSession
	Transactions     map[int64]*domain.Transaction
	Positions        []domain.TransactionPosition
	ItemMovementList []domain.ItemMovement
	CashMovementList []domain.CashMovement

	nextID int64

	// LockHook runs inside LockPreorderPosition before the re-read,
	// letting tests interleave a concurrent fence write.
	LockHook func(pp *domain.PreorderPosition)
}

func New() *Store {
	return &Store{
		Products:        make(map[int64]*domain.Product),
		Items:           make(map[int64]*domain.Item),
		Packs:           make(map[int64][]domain.PackEntry),
		Quotas:          make(map[int64]*domain.Quota),
		QuotaProducts:   make(map[int64][]int64),
		TimeConstraints: make(map[int64][]domain.TimeConstraint),
		Warnings:        make(map[int64][]domain.WarningBinding),
		Lists:           make(map[int64]*domain.ListBinding),
		ListEntries:     make(map[int64]*domain.ListEntry),
		Preorders:       make(map[int64]*domain.Preorder),
		PreorderPosits:  make(map[int64]*domain.PreorderPosition),
		Users:           make(map[int64]*domain.User),
		Cashdesks:       make(map[int64]*domain.Cashdesk),
		Sessions:        make(map[int64]*domain.CashdeskSession),
		Transactions:    make(map[int64]*domain.Transaction),
		nextID:          1000,
	}
}

func (s *Store) NextID() int64 {
	s.nextID++
	return s.nextID
}

// RunTx serializes transactions on one mutex and rolls the mutable
// state back when fn fails.
func (s *Store) RunTx(ctx context.Context, _ *pgx.TxOptions, fn func(ctx context.Context, tx postgresrepo.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshotState struct {
	preorderPosits map[int64]*domain.PreorderPosition
	sessions       map[int64]*domain.CashdeskSession
	transactions   map[int64]*domain.Transaction
	positions      []domain.TransactionPosition
	itemMovements  []domain.ItemMovement
	cashMovements  []domain.CashMovement
	nextID         int64
}

func (s *Store) snapshot() snapshotState {
	snap := snapshotState{
		preorderPosits: make(map[int64]*domain.PreorderPosition, len(s.PreorderPosits)),
		sessions:       make(map[int64]*domain.CashdeskSession, len(s.Sessions)),
		transactions:   make(map[int64]*domain.Transaction, len(s.Transactions)),
		positions:      append([]domain.TransactionPosition(nil), s.Positions...),
		itemMovements:  append([]domain.ItemMovement(nil), s.ItemMovementList...),
		cashMovements:  append([]domain.CashMovement(nil), s.CashMovementList...),
		nextID:         s.nextID,
	}
	for id, pp := range s.PreorderPosits {
		cp := *pp
		snap.preorderPosits[id] = &cp
	}
	for id, sess := range s.Sessions {
		cp := *sess
		snap.sessions[id] = &cp
	}
	for id, t := range s.Transactions {
		cp := *t
		snap.transactions[id] = &cp
	}
	return snap
}

func (s *Store) restore(snap snapshotState) {
	s.PreorderPosits = snap.preorderPosits
	s.Sessions = snap.sessions
	s.Transactions = snap.transactions
	s.Positions = snap.positions
	s.ItemMovementList = snap.itemMovements
	s.CashMovementList = snap.cashMovements
	s.nextID = snap.nextID
}

// --- flow.Ledger: preorders ---

func (s *Store) PreorderPositionBySecret(_ context.Context, secret string) (*domain.PreorderPosition, error) {
	for _, pp := range s.PreorderPosits {
		if pp.Secret == secret {
			cp := *pp
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) LockPreorderPosition(_ context.Context, id int64) (*domain.PreorderPosition, error) {
	pp, ok := s.PreorderPosits[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if s.LockHook != nil {
		s.LockHook(pp)
	}
	cp := *pp
	return &cp, nil
}

func (s *Store) SetPreorderFence(_ context.Context, id int64, transactionID int64) error {
	pp, ok := s.PreorderPosits[id]
	if !ok {
		return repository.ErrNotFound
	}
	tid := transactionID
	pp.LastTransaction = &tid
	return nil
}

func (s *Store) PreorderByID(_ context.Context, id int64) (*domain.Preorder, error) {
	p, ok := s.Preorders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) LastRedemptionAt(_ context.Context, preorderPositionID int64) (time.Time, error) {
	var latest time.Time
	found := false
	for _, p := range s.Positions {
		if p.Type != domain.PositionRedeem || p.PreorderPositionID == nil || *p.PreorderPositionID != preorderPositionID {
			continue
		}
		if t, ok := s.Transactions[p.TransactionID]; ok && t.At.After(latest) {
			latest = t.At
			found = true
		}
	}
	if !found {
		return time.Time{}, repository.ErrNotFound
	}
	return latest, nil
}

func (s *Store) SearchPreorderPositions(_ context.Context, prefix string, limit int) ([]domain.PreorderSearchResult, error) {
	var out []domain.PreorderSearchResult
	for _, pp := range s.PreorderPosits {
		if len(pp.Secret) < len(prefix) || pp.Secret[:len(prefix)] != prefix {
			continue
		}
		res := domain.PreorderSearchResult{PreorderPosition: *pp}
		if po, ok := s.Preorders[pp.PreorderID]; ok {
			res.OrderCode = po.OrderCode
			res.IsPaid = po.IsPaid
		}
		if pr, ok := s.Products[pp.ProductID]; ok {
			res.ProductName = pr.Name
		}
		tally, _ := s.RedemptionTally(context.Background(), domain.PreorderRef(pp.ID))
		res.Redeemed = tally.Redeemed()
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- flow.Ledger: catalog ---

func (s *Store) ProductByID(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := s.Products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	var out []domain.Product
	for _, p := range s.Products {
		if p.IsVisible {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) AvailabilityFacts(_ context.Context, productID int64) (*domain.AvailabilityFacts, error) {
	p, ok := s.Products[productID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	facts := &domain.AvailabilityFacts{Visible: p.IsVisible}
	facts.TimeConstraints = append(facts.TimeConstraints, s.TimeConstraints[productID]...)

	for quotaID, productIDs := range s.QuotaProducts {
		bound := false
		for _, pid := range productIDs {
			if pid == productID {
				bound = true
				break
			}
		}
		if !bound {
			continue
		}
		q := s.Quotas[quotaID]
		sold := 0
		for _, pos := range s.Positions {
			inQuota := false
			for _, pid := range productIDs {
				if pos.ProductID == pid {
					inQuota = true
					break
				}
			}
			if !inQuota {
				continue
			}
			switch {
			case pos.Type == domain.PositionSell:
				sold++
			case pos.Type == domain.PositionReverse && pos.PreorderPositionID == nil:
				sold--
			}
		}
		facts.Quotas = append(facts.Quotas, domain.QuotaUsage{Quota: *q, Sold: sold})
	}

	return facts, nil
}

func (s *Store) PackEntries(_ context.Context, productID int64) ([]domain.PackEntry, error) {
	return append([]domain.PackEntry(nil), s.Packs[productID]...), nil
}

func (s *Store) ProductNeedsReceipt(_ context.Context, productID int64) (bool, error) {
	for _, e := range s.Packs[productID] {
		if it, ok := s.Items[e.ItemID]; ok && it.IsReceipt {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	var out []domain.Item
	for _, it := range s.Items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- flow.Ledger: constraints ---

func (s *Store) RedemptionTally(_ context.Context, ref domain.Redeemable) (domain.Tally, error) {
	var t domain.Tally
	for _, p := range s.Positions {
		switch ref.Kind {
		case domain.RedeemablePreorderPosition:
			if p.PreorderPositionID == nil || *p.PreorderPositionID != ref.ID {
				continue
			}
			switch p.Type {
			case domain.PositionRedeem:
				t.Positives++
			case domain.PositionReverse:
				t.Negatives++
			}
		case domain.RedeemableListEntry:
			if p.ListEntryID == nil || *p.ListEntryID != ref.ID {
				continue
			}
			switch p.Type {
			case domain.PositionRedeem, domain.PositionSell:
				t.Positives++
			case domain.PositionReverse:
				t.Negatives++
			}
		}
	}
	return t, nil
}

func (s *Store) WarningBindings(_ context.Context, productID int64) ([]domain.WarningBinding, error) {
	return append([]domain.WarningBinding(nil), s.Warnings[productID]...), nil
}

func (s *Store) ListBinding(_ context.Context, productID int64) (*domain.ListBinding, error) {
	lb, ok := s.Lists[productID]
	if !ok {
		return nil, nil
	}
	cp := *lb
	return &cp, nil
}

func (s *Store) ListEntryByIdentifier(_ context.Context, listID int64, identifier string) (*domain.ListEntry, error) {
	for _, e := range s.ListEntries {
		if e.ListID == listID && e.Identifier == identifier {
			cp := *e
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

// --- flow.Ledger: users ---

func (s *Store) TroubleshooterByToken(_ context.Context, token string) (*domain.User, error) {
	for _, u := range s.Users {
		if u.AuthToken == token && u.IsTroubleshooter {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) UserByID(_ context.Context, id int64) (*domain.User, error) {
	u, ok := s.Users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// --- flow.Ledger: transactions ---

func (s *Store) TransactionByID(_ context.Context, id int64) (*domain.Transaction, error) {
	t, ok := s.Transactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) PositionByID(_ context.Context, id int64) (*domain.TransactionPosition, error) {
	for _, p := range s.Positions {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) PositionsByTransaction(_ context.Context, transactionID int64) ([]domain.TransactionPosition, error) {
	var out []domain.TransactionPosition
	for _, p := range s.Positions {
		if p.TransactionID == transactionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) PositionsBySession(_ context.Context, sessionID int64) ([]domain.TransactionPosition, error) {
	var out []domain.TransactionPosition
	for _, p := range s.Positions {
		if t, ok := s.Transactions[p.TransactionID]; ok && t.SessionID == sessionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) WasReversed(_ context.Context, positionID int64) (bool, error) {
	for _, p := range s.Positions {
		if p.ReversesID != nil && *p.ReversesID == positionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SessionHasReversals(_ context.Context, sessionID int64) (bool, error) {
	for _, p := range s.Positions {
		if p.Type != domain.PositionReverse {
			continue
		}
		if t, ok := s.Transactions[p.TransactionID]; ok && t.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateTransaction(_ context.Context, t *domain.Transaction) error {
	t.ID = s.NextID()
	t.At = time.Now()
	cp := *t
	s.Transactions[t.ID] = &cp
	return nil
}

func (s *Store) CreatePosition(_ context.Context, p *domain.TransactionPosition) error {
	p.ID = s.NextID()
	s.Positions = append(s.Positions, *p)
	return nil
}

func (s *Store) AssignReceiptNumber(_ context.Context, transactionID int64) (int64, error) {
	t, ok := s.Transactions[transactionID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	var max int64
	for _, other := range s.Transactions {
		if other.ReceiptNumber != nil && *other.ReceiptNumber > max {
			max = *other.ReceiptNumber
		}
	}
	n := max + 1
	t.ReceiptNumber = &n
	return n, nil
}

// --- sessions.Ledger ---

func (s *Store) SessionByID(_ context.Context, id int64) (*domain.CashdeskSession, error) {
	sess, ok := s.Sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) SessionByToken(_ context.Context, token string) (*domain.CashdeskSession, error) {
	for _, sess := range s.Sessions {
		if sess.APIToken == token {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ActiveSessionByCashdesk(_ context.Context, cashdeskID int64) (*domain.CashdeskSession, error) {
	for _, sess := range s.Sessions {
		if sess.CashdeskID == cashdeskID && sess.IsActive() {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ListSessions(_ context.Context, limit, offset int) ([]domain.CashdeskSession, error) {
	var out []domain.CashdeskSession
	for _, sess := range s.Sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) OpenSession(_ context.Context, sess *domain.CashdeskSession) error {
	sess.ID = s.NextID()
	sess.Start = time.Now()
	cp := *sess
	s.Sessions[sess.ID] = &cp
	return nil
}

func (s *Store) CloseSession(_ context.Context, id int64, cashAfter decimal.Decimal, backofficeUserID int64) error {
	sess, ok := s.Sessions[id]
	if !ok || sess.End != nil {
		return repository.ErrNotFound
	}
	now := time.Now()
	sess.End = &now
	sess.CashAfter = &cashAfter
	sess.BackofficeUserAfter = &backofficeUserID
	return nil
}

func (s *Store) CreateItemMovement(_ context.Context, m *domain.ItemMovement) error {
	m.ID = s.NextID()
	m.At = time.Now()
	s.ItemMovementList = append(s.ItemMovementList, *m)
	return nil
}

func (s *Store) CreateCashMovement(_ context.Context, m *domain.CashMovement) error {
	m.ID = s.NextID()
	m.At = time.Now()
	s.CashMovementList = append(s.CashMovementList, *m)
	return nil
}

func (s *Store) ItemMovementsBySession(_ context.Context, sessionID int64) ([]domain.ItemMovement, error) {
	var out []domain.ItemMovement
	for _, m := range s.ItemMovementList {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) CashMovementsBySession(_ context.Context, sessionID int64) ([]domain.CashMovement, error) {
	var out []domain.CashMovement
	for _, m := range s.CashMovementList {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) CashdeskByID(_ context.Context, id int64) (*domain.Cashdesk, error) {
	c, ok := s.Cashdesks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}
