package flow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/ledgertest"
	postgresrepo "github.com/venuepos/venuepos/internal/repository/postgres"
	"github.com/venuepos/venuepos/internal/service/flow"
	"github.com/venuepos/venuepos/internal/uow"
)

type recordingNotifier struct {
	sessions []int64
}

func (n *recordingNotifier) SessionChanged(_ context.Context, sessionID int64) {
	n.sessions = append(n.sessions, sessionID)
}

func newFlowService(st *ledgertest.Store, n flow.Notifier) *flow.Service {
	return flow.New(uow.NewUoW(st), func(postgresrepo.DB) flow.Ledger { return st }, n)
}

func newSession(st *ledgertest.Store) *domain.CashdeskSession {
	desk := st.AddCashdesk("Desk 1")
	user := st.AddUser("carl", false, false)
	return st.AddSession(desk.ID, user.ID)
}

func TestCheckoutEmptyTransaction(t *testing.T) {
	st := ledgertest.New()
	svc := newFlowService(st, nil)

	_, err := svc.Checkout(context.Background(), newSession(st), flow.CheckoutRequest{})

	assert.ErrorIs(t, err, flow.ErrEmptyTransaction)
}

func TestCheckoutSellExpandsPack(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	wristband := st.AddItem("Wristband", false)
	st.AddPackEntry(product.ID, wristband.ID, 2)
	notifier := &recordingNotifier{}
	svc := newFlowService(st, notifier)
	sess := newSession(st)

	cash := ledgertest.Money("20.00")
	res, err := svc.Checkout(context.Background(), sess, flow.CheckoutRequest{
		CashGiven: &cash,
		Positions: []flow.PositionRequest{{Type: "sell", ProductID: product.ID}},
	})

	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Positions, 1)
	assert.True(t, res.Positions[0].Success)
	assert.NotNil(t, res.ReceiptNumber)

	require.Len(t, st.Positions, 1)
	pos := st.Positions[0]
	assert.Equal(t, res.TransactionID, pos.TransactionID)
	require.Len(t, pos.Items, 1)
	assert.Equal(t, wristband.ID, pos.Items[0].ItemID)
	assert.Equal(t, 2, pos.Items[0].Amount)

	trans := st.Transactions[res.TransactionID]
	require.NotNil(t, trans.CashGiven)
	assert.True(t, cash.Equal(*trans.CashGiven))

	assert.Equal(t, []int64{sess.ID}, notifier.sessions, "session change published after commit")
}

func TestCheckoutAssignsReceiptNumbers(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Merch Shirt", "25.00", "19")
	svc := newFlowService(st, nil)
	sess := newSession(st)

	buy := flow.CheckoutRequest{Positions: []flow.PositionRequest{{Type: "sell", ProductID: product.ID}}}

	res1, err := svc.Checkout(context.Background(), sess, buy)
	require.NoError(t, err)
	require.NotNil(t, res1.ReceiptNumber)
	assert.Equal(t, int64(1), *res1.ReceiptNumber)

	res2, err := svc.Checkout(context.Background(), sess, buy)
	require.NoError(t, err)
	require.NotNil(t, res2.ReceiptNumber)
	assert.Equal(t, int64(2), *res2.ReceiptNumber)
}

func TestCheckoutReceiptItemCoversReceipt(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	receipt := st.AddItem("Receipt", true)
	st.AddPackEntry(product.ID, receipt.ID, 1)
	svc := newFlowService(st, nil)
	sess := newSession(st)

	needs, err := st.ProductNeedsReceipt(context.Background(), product.ID)
	require.NoError(t, err)
	assert.False(t, needs, "a pack handing over a receipt item covers the receipt itself")

	res, err := svc.Checkout(context.Background(), sess, flow.CheckoutRequest{
		Positions: []flow.PositionRequest{{Type: "sell", ProductID: product.ID}},
	})
	require.NoError(t, err)
	assert.Nil(t, res.ReceiptNumber)
}

func TestCheckoutRejectionRollsBackEverything(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", true)
	pp := st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")
	notifier := &recordingNotifier{}
	svc := newFlowService(st, notifier)
	sess := newSession(st)

	res, err := svc.Checkout(context.Background(), sess, flow.CheckoutRequest{
		Positions: []flow.PositionRequest{
			{Type: "redeem", Secret: "s3cr3tsecret"},
			{Type: "sell", ProductID: 9999},
		},
	})

	require.ErrorIs(t, err, flow.ErrRejected)
	require.NotNil(t, res)
	require.Len(t, res.Positions, 2)
	assert.True(t, res.Positions[0].Success)
	assert.False(t, res.Positions[1].Success)
	assert.Equal(t, "This product ID is not known.", res.Positions[1].Message)

	assert.Empty(t, st.Positions, "no position persisted")
	assert.Empty(t, st.Transactions, "no transaction persisted")
	assert.Nil(t, st.PreorderPosits[pp.ID].LastTransaction, "fence rolled back")
	assert.Empty(t, notifier.sessions, "nothing published on rollback")
}

func TestCheckoutUnknownPositionType(t *testing.T) {
	st := ledgertest.New()
	svc := newFlowService(st, nil)

	res, err := svc.Checkout(context.Background(), newSession(st), flow.CheckoutRequest{
		Positions: []flow.PositionRequest{{Type: "gift"}},
	})

	require.ErrorIs(t, err, flow.ErrRejected)
	require.Len(t, res.Positions, 1)
	assert.Equal(t, "Type gift is not yet implemented.", res.Positions[0].Message)
}

func TestCheckoutRedeemsExactlyOnce(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", true)
	st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")
	svc := newFlowService(st, nil)
	sess := newSession(st)

	redeem := flow.CheckoutRequest{
		Positions: []flow.PositionRequest{{Type: "redeem", Secret: "s3cr3tsecret"}},
	}

	first, err := svc.Checkout(context.Background(), sess, redeem)
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := svc.Checkout(context.Background(), sess, redeem)
	require.ErrorIs(t, err, flow.ErrRejected)
	require.Len(t, second.Positions, 1)
	assert.Contains(t, second.Positions[0].Message, "has already been redeemed at")
}

func TestCheckoutUnpaidRoundTrip(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "12.00", "7")
	po := st.AddPreorder("ABC123", false)
	pp := st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")
	price := ledgertest.Money("12.00")
	pp.Price = &price
	svc := newFlowService(st, nil)
	sess := newSession(st)

	res, err := svc.Checkout(context.Background(), sess, flow.CheckoutRequest{
		Positions: []flow.PositionRequest{{Type: "redeem", Secret: "s3cr3tsecret"}},
	})
	require.ErrorIs(t, err, flow.ErrRejected)
	fb := res.Positions[0]
	assert.Equal(t, flow.KindConfirmation, fb.Kind)
	assert.Equal(t, flow.FieldPayForUnpaid, fb.MissingField)
	require.NotNil(t, fb.BypassPrice)

	// Desk resubmits charging the quoted price.
	res, err = svc.Checkout(context.Background(), sess, flow.CheckoutRequest{
		Positions: []flow.PositionRequest{{
			Type:        "redeem",
			Secret:      "s3cr3tsecret",
			BypassPrice: fb.BypassPrice,
			Fields:      map[string]string{flow.FieldPayForUnpaid: "true"},
		}},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, st.Positions, 1)
	assert.True(t, price.Equal(st.Positions[0].Value))
	assert.True(t, st.Positions[0].HasConstraintBypass)
}

func TestReverseTransactionNegatesPositions(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	wristband := st.AddItem("Wristband", false)
	st.AddPackEntry(product.ID, wristband.ID, 1)
	svc := newFlowService(st, nil)
	sess := newSession(st)

	ctx := context.Background()
	res, err := svc.Checkout(ctx, sess, flow.CheckoutRequest{
		Positions: []flow.PositionRequest{{Type: "sell", ProductID: product.ID}},
	})
	require.NoError(t, err)

	revID, err := svc.ReverseTransaction(ctx, sess, res.TransactionID, nil)
	require.NoError(t, err)
	assert.NotEqual(t, res.TransactionID, revID)

	require.Len(t, st.Positions, 2)
	rev := st.Positions[1]
	assert.Equal(t, domain.PositionReverse, rev.Type)
	assert.Equal(t, revID, rev.TransactionID)
	assert.True(t, ledgertest.Money("-11.90").Equal(rev.Value))
	assert.True(t, ledgertest.Money("-1.90").Equal(rev.TaxValue))
	require.NotNil(t, rev.ReversesID)
	assert.Equal(t, st.Positions[0].ID, *rev.ReversesID)
	require.Len(t, rev.Items, 1)
	assert.Equal(t, -1, rev.Items[0].Amount)

	_, err = svc.ReverseTransaction(ctx, sess, res.TransactionID, nil)
	fe := requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "At least one position of this transaction has already been reversed.", fe.Message)

	_, err = svc.ReverseTransaction(ctx, sess, revID, nil)
	fe = requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "At least one position of this transaction is a reversal.", fe.Message)
}

func TestReversePositionGuards(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	svc := newFlowService(st, nil)
	sess := newSession(st)
	ctx := context.Background()

	_, err := svc.ReversePosition(ctx, sess, 9999, nil)
	fe := requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "Transaction position ID not known.", fe.Message)

	res, err := svc.Checkout(ctx, sess, flow.CheckoutRequest{
		Positions: []flow.PositionRequest{{Type: "sell", ProductID: product.ID}},
	})
	require.NoError(t, err)
	posID := res.Positions[0].PositionID

	_, err = svc.ReversePosition(ctx, sess, posID, nil)
	require.NoError(t, err)

	_, err = svc.ReversePosition(ctx, sess, posID, nil)
	fe = requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "This position has already been reversed.", fe.Message)
}

func TestReverseFreesTicketForRedemption(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	po := st.AddPreorder("ABC123", true)
	st.AddPreorderPosition(po.ID, product.ID, "s3cr3tsecret")
	svc := newFlowService(st, nil)
	sess := newSession(st)
	ctx := context.Background()

	redeem := flow.CheckoutRequest{
		Positions: []flow.PositionRequest{{Type: "redeem", Secret: "s3cr3tsecret"}},
	}
	res, err := svc.Checkout(ctx, sess, redeem)
	require.NoError(t, err)

	_, err = svc.ReverseTransaction(ctx, sess, res.TransactionID, nil)
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, sess, redeem)
	require.NoError(t, err, "the reversed ticket is redeemable again")
}

func TestReverseAcrossSessions(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	svc := newFlowService(st, nil)
	ctx := context.Background()

	desk := st.AddCashdesk("Desk 1")
	seller := st.AddUser("carl", false, false)
	sellerSession := st.AddSession(desk.ID, seller.ID)

	res, err := svc.Checkout(ctx, sellerSession, flow.CheckoutRequest{
		Positions: []flow.PositionRequest{{Type: "sell", ProductID: product.ID}},
	})
	require.NoError(t, err)

	otherDesk := st.AddCashdesk("Desk 2")
	cashier := st.AddUser("dora", false, false)
	otherSession := st.AddSession(otherDesk.ID, cashier.ID)

	_, err = svc.ReverseTransaction(ctx, otherSession, res.TransactionID, nil)
	fe := requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "Only troubleshooters can reverse sales from other sessions.", fe.Message)

	ts := st.AddUser("tina", true, false)
	_, err = svc.ReverseTransaction(ctx, otherSession, res.TransactionID, ts)
	require.NoError(t, err, "an authorizing troubleshooter unlocks cross-session reversal")
}

func TestReverseSessionGuards(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	svc := newFlowService(st, nil)
	sess := newSession(st)
	ctx := context.Background()

	res, err := svc.Checkout(ctx, sess, flow.CheckoutRequest{
		Positions: []flow.PositionRequest{{Type: "sell", ProductID: product.ID}},
	})
	require.NoError(t, err)
	_, err = svc.ReversePosition(ctx, sess, res.Positions[0].PositionID, nil)
	require.NoError(t, err)

	_, err = svc.ReverseSession(ctx, sess)
	fe := requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "For safety, you cannot execute this on sessions that contain reversals.", fe.Message)

	clean := newSession(st)
	_, err = svc.Checkout(ctx, clean, flow.CheckoutRequest{
		Positions: []flow.PositionRequest{{Type: "sell", ProductID: product.ID}},
	})
	require.NoError(t, err)

	revID, err := svc.ReverseSession(ctx, clean)
	require.NoError(t, err)
	assert.Positive(t, revID)

	closed := newSession(st)
	end := closed.Start
	closed.End = &end
	_, err = svc.ReverseSession(ctx, closed)
	fe = requireFlowError(t, err, flow.KindError)
	assert.Equal(t, "The session needs to be still active.", fe.Message)
}

func TestResolveAuth(t *testing.T) {
	st := ledgertest.New()
	ts := st.AddUser("tina", true, false)
	svc := newFlowService(st, nil)

	user, err := svc.ResolveAuth(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = svc.ResolveAuth(context.Background(), ts.AuthToken)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, ts.ID, user.ID)
}

func TestTransactionView(t *testing.T) {
	st := ledgertest.New()
	product := st.AddProduct("Day Pass", "11.90", "19")
	svc := newFlowService(st, nil)
	sess := newSession(st)
	ctx := context.Background()

	res, err := svc.Checkout(ctx, sess, flow.CheckoutRequest{
		Positions: []flow.PositionRequest{{Type: "sell", ProductID: product.ID}},
	})
	require.NoError(t, err)

	view, err := svc.Transaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, res.TransactionID, view.Transaction.ID)
	require.Len(t, view.Positions, 1)
	assert.Equal(t, product.ID, view.Positions[0].ProductID)
	assert.Nil(t, view.Transaction.CashGiven)
}
