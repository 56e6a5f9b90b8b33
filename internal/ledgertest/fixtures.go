package ledgertest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/venuepos/venuepos/internal/domain"
)

// Money parses a decimal literal for fixtures.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (s *Store) AddProduct(name, price, taxRate string) *domain.Product {
	p := &domain.Product{
		ID:        s.NextID(),
		Name:      name,
		Price:     Money(price),
		TaxRate:   Money(taxRate),
		IsVisible: true,
	}
	s.Products[p.ID] = p
	return p
}

func (s *Store) AddItem(name string, isReceipt bool) *domain.Item {
	it := &domain.Item{ID: s.NextID(), Name: name, IsReceipt: isReceipt}
	s.Items[it.ID] = it
	return it
}

func (s *Store) AddPackEntry(productID, itemID int64, amount int) {
	s.Packs[productID] = append(s.Packs[productID], domain.PackEntry{
		ItemID: itemID, Amount: amount, IsVisible: true,
	})
}

func (s *Store) AddQuota(name string, size int, productIDs ...int64) *domain.Quota {
	q := &domain.Quota{ID: s.NextID(), Name: name, Size: size}
	s.Quotas[q.ID] = q
	s.QuotaProducts[q.ID] = append([]int64(nil), productIDs...)
	return q
}

func (s *Store) AddTimeConstraint(productID int64, start, end *time.Time) {
	s.TimeConstraints[productID] = append(s.TimeConstraints[productID], domain.TimeConstraint{
		ID: s.NextID(), Start: start, End: end,
	})
}

func (s *Store) AddWarning(productID int64, message, price, taxRate string) domain.WarningBinding {
	wb := domain.WarningBinding{
		Constraint: domain.WarningConstraint{ID: s.NextID(), Message: message},
	}
	if price != "" {
		p := Money(price)
		wb.Price = &p
		wb.TaxRate = Money(taxRate)
	}
	s.Warnings[productID] = append(s.Warnings[productID], wb)
	return wb
}

func (s *Store) AddList(productID int64, name, price, taxRate string) domain.ListBinding {
	lb := domain.ListBinding{
		Constraint: domain.ListConstraint{ID: s.NextID(), Name: name},
	}
	if price != "" {
		p := Money(price)
		lb.Price = &p
		lb.TaxRate = Money(taxRate)
	}
	s.Lists[productID] = &lb
	return lb
}

func (s *Store) AddListEntry(listID int64, name, identifier string) *domain.ListEntry {
	e := &domain.ListEntry{ID: s.NextID(), ListID: listID, Name: name, Identifier: identifier}
	s.ListEntries[e.ID] = e
	return e
}

func (s *Store) AddPreorder(orderCode string, paid bool) *domain.Preorder {
	po := &domain.Preorder{ID: s.NextID(), OrderCode: orderCode, IsPaid: paid}
	s.Preorders[po.ID] = po
	return po
}

func (s *Store) AddPreorderPosition(preorderID, productID int64, secret string) *domain.PreorderPosition {
	pp := &domain.PreorderPosition{
		ID: s.NextID(), PreorderID: preorderID, ProductID: productID, Secret: secret,
	}
	s.PreorderPosits[pp.ID] = pp
	return pp
}

func (s *Store) AddUser(username string, troubleshooter, backoffice bool) *domain.User {
	u := &domain.User{
		ID:               s.NextID(),
		Username:         username,
		IsTroubleshooter: troubleshooter,
		IsBackoffice:     backoffice,
		AuthToken:        username + "-token",
	}
	s.Users[u.ID] = u
	return u
}

func (s *Store) AddCashdesk(name string) *domain.Cashdesk {
	c := &domain.Cashdesk{ID: s.NextID(), Name: name, IsActive: true, HandlesItems: true}
	s.Cashdesks[c.ID] = c
	return c
}

func (s *Store) AddSession(cashdeskID, userID int64) *domain.CashdeskSession {
	id := s.NextID()
	sess := &domain.CashdeskSession{
		ID:         id,
		CashdeskID: cashdeskID,
		UserID:     userID,
		Start:      time.Now().Add(-time.Hour),
		APIToken:   fmt.Sprintf("session-token-%d", id),
	}
	s.Sessions[sess.ID] = sess
	return sess
}
