package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// RoundCash rounds to two decimal places, ties away from zero.
func RoundCash(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// TaxValue extracts the included tax from a gross value at the given
// percent rate: round2(value - value*100/(100+rate)).
func TaxValue(value, taxRate decimal.Decimal) decimal.Decimal {
	net := value.Mul(hundred).Div(hundred.Add(taxRate))
	return RoundCash(value.Sub(net))
}

// CalcTax fills in TaxValue from Value and TaxRate.
func (p *TransactionPosition) CalcTax() {
	p.TaxValue = TaxValue(p.Value, p.TaxRate)
}

// Finalize defaults value and tax rate from the product and computes the
// tax value. Redeem positions built by the flow engine carry explicit
// values (zero or the bypass amount) and are only recomputed.
func (p *TransactionPosition) Finalize(product *Product) {
	if p.Type == PositionSell {
		p.Value = product.Price
		p.TaxRate = product.TaxRate
	}
	p.CalcTax()
}

// ExpandPack fills the item lines from the product's pack entries unless
// lines are already present. Reversals carry pre-negated copies of the
// original lines and must not be re-expanded.
func (p *TransactionPosition) ExpandPack(entries []PackEntry) {
	if len(p.Items) > 0 {
		return
	}
	for _, e := range entries {
		p.Items = append(p.Items, PositionItem{ItemID: e.ItemID, Amount: e.Amount})
	}
}

// NewReversal builds the mirror position for a committed position: same
// product and references, negated value, tax and item lines, reverses
// link set, authorization cleared.
func NewReversal(orig *TransactionPosition) *TransactionPosition {
	rev := &TransactionPosition{
		Type:                PositionReverse,
		Value:               orig.Value.Neg(),
		TaxRate:             orig.TaxRate,
		TaxValue:            orig.TaxValue.Neg(),
		ProductID:           orig.ProductID,
		ReversesID:          &orig.ID,
		ListEntryID:         orig.ListEntryID,
		PreorderPositionID:  orig.PreorderPositionID,
		HasConstraintBypass: orig.HasConstraintBypass,
		Items:               make([]PositionItem, 0, len(orig.Items)),
	}
	for _, it := range orig.Items {
		rev.Items = append(rev.Items, PositionItem{ItemID: it.ItemID, Amount: -it.Amount})
	}
	return rev
}
