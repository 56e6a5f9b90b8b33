package flow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/ledgertest"
	"github.com/venuepos/venuepos/internal/service/flow"
)

func requireFlowError(t *testing.T, err error, kind flow.ErrorKind) *flow.Error {
	t.Helper()
	require.Error(t, err)
	fe, ok := flow.AsFlowError(err)
	require.True(t, ok, "expected a flow error, got %v", err)
	assert.Equal(t, kind, fe.Kind)
	return fe
}

func TestRedeemRequiresSecret(t *testing.T) {
	st := ledgertest.New()

	_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{})

	fe := requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "No secret has been given.", fe.Message)
}

func TestRedeemUnknownSecret(t *testing.T) {
	st := ledgertest.New()

	_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{Secret: "nope"})

	fe := requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "No ticket could be found with the given secret.", fe.Message)
}

func TestRedeemPaidTicket(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", true)
	pp := st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")

	pos, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{
		Secret:        "s3cr3tsecret",
		TransactionID: 99,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.PositionRedeem, pos.Type)
	assert.True(t, pos.Value.IsZero(), "presale redemption is free at the desk")
	require.NotNil(t, pos.PreorderPositionID)
	assert.Equal(t, pp.ID, *pos.PreorderPositionID)
	assert.False(t, pos.HasConstraintBypass)

	stored := st.PreorderPosits[pp.ID]
	require.NotNil(t, stored.LastTransaction)
	assert.Equal(t, int64(99), *stored.LastTransaction, "fence advanced to the claiming transaction")
}

func TestRedeemCanceledOrder(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", true)
	po.IsCanceled = true
	st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")

	_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{Secret: "s3cr3tsecret"})

	fe := requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "This ticket has been canceled or is expired.", fe.Message)
}

func TestRedeemUnpaidPromptsForPayment(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", false)
	pp := st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")
	price := ledgertest.Money("12.00")
	pp.Price = &price

	_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{Secret: "s3cr3tsecret"})

	fe := requireFlowError(t, err, flow.KindConfirmation)
	assert.Equal(t, "This ticket has not been paid for.", fe.Message)
	assert.Equal(t, flow.FieldPayForUnpaid, fe.MissingField)
	require.NotNil(t, fe.BypassPrice)
	assert.True(t, price.Equal(*fe.BypassPrice))
}

func TestRedeemUnpaidWithBypassPrice(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "12.00", "7")
	po := st.AddPreorder("ABC123", false)
	pp := st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")
	price := ledgertest.Money("12.00")
	pp.Price = &price

	pos, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{
		Secret:      "s3cr3tsecret",
		BypassPrice: ledgertest.Money("12.00"),
	})

	require.NoError(t, err)
	assert.True(t, ledgertest.Money("12.00").Equal(pos.Value))
	assert.True(t, ledgertest.Money("7").Equal(pos.TaxRate))
	assert.True(t, ledgertest.Money("0.79").Equal(pos.TaxValue))
	assert.True(t, pos.HasConstraintBypass)
}

func TestRedeemBypassMixedTaxRates(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "12.00", "7")
	po := st.AddPreorder("ABC123", false)
	pp := st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")
	price := ledgertest.Money("12.00")
	pp.Price = &price
	st.AddWarning(product.ID, "Under 18? Supervision required.", "23.00", "19")

	_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{
		Secret:      "s3cr3tsecret",
		BypassPrice: ledgertest.Money("35.00"),
	})

	fe := requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "Multiple upgrades with different tax rates are not supported.", fe.Message)
}

func TestRedeemBypassCoversConstraintChain(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", true)
	st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")
	st.AddWarning(product.ID, "Under 18? Supervision required.", "23.00", "19")
	lb := st.AddList(product.ID, "Crew", "12.00", "19")

	// A budget covering only the warning leaves the list unpaid; the
	// error reports the list's own price, not the total.
	_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{
		Secret:      "s3cr3tsecret",
		BypassPrice: ledgertest.Money("23.00"),
	})

	fe := requireFlowError(t, err, flow.KindInput)
	assert.Equal(t, flow.ListField(lb.Constraint.ID), fe.MissingField)
	require.NotNil(t, fe.BypassPrice)
	assert.True(t, ledgertest.Money("12.00").Equal(*fe.BypassPrice))

	pos, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{
		Secret:      "s3cr3tsecret",
		BypassPrice: ledgertest.Money("35.00"),
	})

	require.NoError(t, err)
	assert.True(t, ledgertest.Money("35.00").Equal(pos.Value))
	assert.True(t, pos.HasConstraintBypass)
}

func TestRedeemOutsideTimeWindow(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", true)
	st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")
	start := time.Now().Add(time.Hour)
	st.AddTimeConstraint(product.ID, &start, nil)

	_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{Secret: "s3cr3tsecret"})

	fe := requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "This product is currently not available.", fe.Message)
}

func TestRedeemTwiceReportsFirstRedemption(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", true)
	pp := st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")

	ctx := context.Background()

	trans := &domain.Transaction{SessionID: 1}
	require.NoError(t, st.CreateTransaction(ctx, trans))
	require.NoError(t, st.CreatePosition(ctx, &domain.TransactionPosition{
		TransactionID:      trans.ID,
		Type:               domain.PositionRedeem,
		ProductID:          product.ID,
		PreorderPositionID: &pp.ID,
	}))

	_, err := flow.Redeem(ctx, st, flow.RedeemRequest{Secret: "s3cr3tsecret"})

	fe := requireFlowError(t, err, flow.KindError)
	assert.Contains(t, fe.Message, "This ticket (s3cr3t…) has already been redeemed at ")
}

func TestRedeemAgainAfterReversal(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", true)
	pp := st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")

	ctx := context.Background()

	trans := &domain.Transaction{SessionID: 1}
	require.NoError(t, st.CreateTransaction(ctx, trans))
	orig := &domain.TransactionPosition{
		TransactionID:      trans.ID,
		Type:               domain.PositionRedeem,
		ProductID:          product.ID,
		PreorderPositionID: &pp.ID,
	}
	require.NoError(t, st.CreatePosition(ctx, orig))
	require.NoError(t, st.CreatePosition(ctx, domain.NewReversal(orig)))

	_, err := flow.Redeem(ctx, st, flow.RedeemRequest{Secret: "s3cr3tsecret"})
	require.NoError(t, err, "a reversed redemption frees the ticket")
}

func TestRedeemFenceRace(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", true)
	st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")

	// Another redeemer advances the fence between our unlocked read and
	// the locked re-read.
	st.LockHook = func(pp *domain.PreorderPosition) {
		other := int64(7777)
		pp.LastTransaction = &other
	}

	_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{
		Secret:        "s3cr3tsecret",
		TransactionID: 99,
	})

	fe := requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "Race condition. Please try again.", fe.Message)
}

func TestRedeemOrderWarningNeedsAcknowledgement(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", true)
	po.WarningText = "Wheelchair user. Please call a supervisor."
	st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")

	_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{Secret: "s3cr3tsecret"})

	fe := requireFlowError(t, err, flow.KindConfirmation)
	assert.Equal(t, po.WarningText, fe.Message)
	assert.Equal(t, flow.FieldWarningAck, fe.MissingField)

	_, err = flow.Redeem(context.Background(), st, flow.RedeemRequest{
		Secret: "s3cr3tsecret",
		Fields: map[string]string{flow.FieldWarningAck: "true"},
	})
	require.NoError(t, err)
}

func TestRedeemProductWarningAcknowledgement(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", true)
	st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")
	wb := st.AddWarning(product.ID, "Only valid together with a main ticket.", "", "")

	_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{Secret: "s3cr3tsecret"})

	fe := requireFlowError(t, err, flow.KindConfirmation)
	assert.Equal(t, "Only valid together with a main ticket.", fe.Message)
	assert.Equal(t, flow.WarningAckField(wb.Constraint.ID), fe.MissingField)

	_, err = flow.Redeem(context.Background(), st, flow.RedeemRequest{
		Secret: "s3cr3tsecret",
		Fields: map[string]string{flow.WarningAckField(wb.Constraint.ID): "true"},
	})
	require.NoError(t, err)
}

func TestRedeemListConstraint(t *testing.T) {
	newFixture := func() (*ledgertest.Store, domain.ListBinding) {
		st := ledgertest.New()
		product := st.AddProduct("Crew Pass", "0.00", "0")
		po := st.AddPreorder("ABC123", true)
		st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")
		lb := st.AddList(product.ID, "Crew", "", "")
		return st, lb
	}

	t.Run("requires a list value", func(t *testing.T) {
		st, lb := newFixture()

		_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{Secret: "s3cr3tsecret"})

		fe := requireFlowError(t, err, flow.KindInput)
		assert.Equal(t, `This ticket can only be redeemed by persons on the list "Crew".`, fe.Message)
		assert.Equal(t, flow.ListField(lb.Constraint.ID), fe.MissingField)
	})

	t.Run("unknown entry", func(t *testing.T) {
		st, lb := newFixture()

		_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{
			Secret: "s3cr3tsecret",
			Fields: map[string]string{flow.ListField(lb.Constraint.ID): "44"},
		})

		fe := requireFlowError(t, err, flow.KindInput)
		assert.Equal(t, `This entry could not be found in list "Crew".`, fe.Message)
	})

	t.Run("entry already used", func(t *testing.T) {
		st, lb := newFixture()
		entry := st.AddListEntry(lb.Constraint.ID, "Ada", "44")
		st.Positions = append(st.Positions, domain.TransactionPosition{
			ID:          st.NextID(),
			Type:        domain.PositionRedeem,
			ListEntryID: &entry.ID,
		})

		_, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{
			Secret: "s3cr3tsecret",
			Fields: map[string]string{flow.ListField(lb.Constraint.ID): "44"},
		})

		fe := requireFlowError(t, err, flow.KindInput)
		assert.Equal(t, "This list entry has already been used.", fe.Message)
	})

	t.Run("valid entry is consumed", func(t *testing.T) {
		st, lb := newFixture()
		entry := st.AddListEntry(lb.Constraint.ID, "Ada", "44")

		pos, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{
			Secret: "s3cr3tsecret",
			Fields: map[string]string{flow.ListField(lb.Constraint.ID): "44"},
		})

		require.NoError(t, err)
		require.NotNil(t, pos.ListEntryID)
		assert.Equal(t, entry.ID, *pos.ListEntryID)
	})

	t.Run("troubleshooter token overrides", func(t *testing.T) {
		st, lb := newFixture()
		ts := st.AddUser("tina", true, false)

		pos, err := flow.Redeem(context.Background(), st, flow.RedeemRequest{
			Secret: "s3cr3tsecret",
			Fields: map[string]string{flow.ListField(lb.Constraint.ID): ts.AuthToken},
		})

		require.NoError(t, err)
		assert.Nil(t, pos.ListEntryID, "no entry consumed")
		require.NotNil(t, pos.AuthorizedByID)
		assert.Equal(t, ts.ID, *pos.AuthorizedByID)
	})
}
