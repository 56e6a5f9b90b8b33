package sessions_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/ledgertest"
	"github.com/venuepos/venuepos/internal/repository"
	postgresrepo "github.com/venuepos/venuepos/internal/repository/postgres"
	"github.com/venuepos/venuepos/internal/service/sessions"
	"github.com/venuepos/venuepos/internal/uow"
)

type recordingNotifier struct {
	sessions []int64
}

func (n *recordingNotifier) SessionChanged(_ context.Context, sessionID int64) {
	n.sessions = append(n.sessions, sessionID)
}

func newService(st *ledgertest.Store, n sessions.Notifier) *sessions.Service {
	return sessions.New(uow.NewUoW(st), func(postgresrepo.DB) sessions.Ledger { return st }, n)
}

func TestOpenSession(t *testing.T) {
	st := ledgertest.New()
	desk := st.AddCashdesk("Desk 1")
	cashier := st.AddUser("carl", false, false)
	backoffice := st.AddUser("bea", false, true)
	wristband := st.AddItem("Wristband", false)
	notifier := &recordingNotifier{}
	svc := newService(st, notifier)

	sess, err := svc.Open(context.Background(), sessions.OpenRequest{
		CashdeskID:       desk.ID,
		CashierID:        cashier.ID,
		BackofficeUserID: backoffice.ID,
		CashBefore:       ledgertest.Money("200.00"),
		Items:            []sessions.ItemAmount{{ItemID: wristband.ID, Amount: 50}},
		Comment:          "early shift",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, sess.APIToken)
	assert.True(t, sess.IsActive())
	assert.Equal(t, backoffice.ID, sess.BackofficeUserBefore)

	require.Len(t, st.CashMovementList, 1)
	assert.True(t, ledgertest.Money("200.00").Equal(st.CashMovementList[0].Cash))
	require.Len(t, st.ItemMovementList, 1)
	assert.Equal(t, 50, st.ItemMovementList[0].Amount)
	assert.Equal(t, []int64{sess.ID}, notifier.sessions)

	resolved, err := svc.Resolve(context.Background(), sess.APIToken)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, resolved.ID)
}

func TestOpenWithoutCashSkipsMovement(t *testing.T) {
	st := ledgertest.New()
	desk := st.AddCashdesk("Desk 1")
	cashier := st.AddUser("carl", false, false)
	backoffice := st.AddUser("bea", false, true)
	svc := newService(st, nil)

	_, err := svc.Open(context.Background(), sessions.OpenRequest{
		CashdeskID:       desk.ID,
		CashierID:        cashier.ID,
		BackofficeUserID: backoffice.ID,
	})

	require.NoError(t, err)
	assert.Empty(t, st.CashMovementList)
}

func TestOpenRequiresActiveCashdesk(t *testing.T) {
	st := ledgertest.New()
	desk := st.AddCashdesk("Desk 1")
	desk.IsActive = false
	cashier := st.AddUser("carl", false, false)
	backoffice := st.AddUser("bea", false, true)
	svc := newService(st, nil)

	_, err := svc.Open(context.Background(), sessions.OpenRequest{
		CashdeskID:       desk.ID,
		CashierID:        cashier.ID,
		BackofficeUserID: backoffice.ID,
	})

	assert.ErrorIs(t, err, sessions.ErrCashdeskInactive)
	assert.Empty(t, st.Sessions, "nothing persisted")
}

func TestOpenRequiresBackofficeUser(t *testing.T) {
	st := ledgertest.New()
	desk := st.AddCashdesk("Desk 1")
	cashier := st.AddUser("carl", false, false)
	svc := newService(st, nil)

	_, err := svc.Open(context.Background(), sessions.OpenRequest{
		CashdeskID:       desk.ID,
		CashierID:        cashier.ID,
		BackofficeUserID: cashier.ID,
	})

	assert.ErrorIs(t, err, sessions.ErrNotBackoffice)
	assert.Empty(t, st.Sessions, "nothing persisted")
}

func TestCloseSession(t *testing.T) {
	st := ledgertest.New()
	desk := st.AddCashdesk("Desk 1")
	cashier := st.AddUser("carl", false, false)
	backoffice := st.AddUser("bea", false, true)
	wristband := st.AddItem("Wristband", false)
	svc := newService(st, nil)
	ctx := context.Background()

	sess, err := svc.Open(ctx, sessions.OpenRequest{
		CashdeskID:       desk.ID,
		CashierID:        cashier.ID,
		BackofficeUserID: backoffice.ID,
		Items:            []sessions.ItemAmount{{ItemID: wristband.ID, Amount: 50}},
	})
	require.NoError(t, err)

	err = svc.Close(ctx, sessions.CloseRequest{
		SessionID:        sess.ID,
		BackofficeUserID: backoffice.ID,
		CashAfter:        ledgertest.Money("350.00"),
		Items:            []sessions.ItemAmount{{ItemID: wristband.ID, Amount: 48}},
	})
	require.NoError(t, err)

	stored := st.Sessions[sess.ID]
	assert.False(t, stored.IsActive())
	require.NotNil(t, stored.CashAfter)
	assert.True(t, ledgertest.Money("350.00").Equal(*stored.CashAfter))

	// Counted-back remainders are negative movements, cash included.
	require.Len(t, st.ItemMovementList, 2)
	assert.Equal(t, -48, st.ItemMovementList[1].Amount)
	require.Len(t, st.CashMovementList, 1)
	assert.True(t, ledgertest.Money("-350.00").Equal(st.CashMovementList[0].Cash))
	assert.Equal(t, backoffice.ID, st.CashMovementList[0].BackofficeUserID)

	err = svc.Close(ctx, sessions.CloseRequest{SessionID: sess.ID, BackofficeUserID: backoffice.ID})
	assert.ErrorIs(t, err, sessions.ErrSessionClosed)

	_, err = svc.Resolve(ctx, sess.APIToken)
	assert.ErrorIs(t, err, sessions.ErrSessionClosed)
}

func TestResolveUnknownToken(t *testing.T) {
	st := ledgertest.New()
	svc := newService(st, nil)

	_, err := svc.Resolve(context.Background(), "bogus")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCorrectionAfterClose(t *testing.T) {
	st := ledgertest.New()
	desk := st.AddCashdesk("Desk 1")
	cashier := st.AddUser("carl", false, false)
	backoffice := st.AddUser("bea", false, true)
	wristband := st.AddItem("Wristband", false)
	svc := newService(st, nil)
	ctx := context.Background()

	sess, err := svc.Open(ctx, sessions.OpenRequest{
		CashdeskID:       desk.ID,
		CashierID:        cashier.ID,
		BackofficeUserID: backoffice.ID,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, sessions.CloseRequest{
		SessionID: sess.ID, BackofficeUserID: backoffice.ID,
	}))

	err = svc.Correct(ctx, sess.ID, backoffice.ID, sessions.ItemAmount{ItemID: wristband.ID, Amount: -2})
	require.NoError(t, err)

	require.Len(t, st.ItemMovementList, 1)
	assert.Equal(t, -2, st.ItemMovementList[0].Amount)
}

func TestListClampsLimit(t *testing.T) {
	st := ledgertest.New()
	desk := st.AddCashdesk("Desk 1")
	user := st.AddUser("carl", false, false)
	for i := 0; i < 3; i++ {
		st.AddSession(desk.ID, user.ID)
	}
	svc := newService(st, nil)

	out, err := svc.List(context.Background(), -5, -1)
	require.NoError(t, err)
	assert.Len(t, out, 3)

	out, err = svc.List(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestReportBalancesCashAndItems(t *testing.T) {
	st := ledgertest.New()
	desk := st.AddCashdesk("Desk 1")
	cashier := st.AddUser("carl", false, false)
	backoffice := st.AddUser("bea", false, true)
	wristband := st.AddItem("Wristband", false)
	product := st.AddProduct("Day Pass", "11.90", "19")
	svc := newService(st, nil)
	ctx := context.Background()

	sess, err := svc.Open(ctx, sessions.OpenRequest{
		CashdeskID:       desk.ID,
		CashierID:        cashier.ID,
		BackofficeUserID: backoffice.ID,
		CashBefore:       ledgertest.Money("200.00"),
		Items:            []sessions.ItemAmount{{ItemID: wristband.ID, Amount: 50}},
	})
	require.NoError(t, err)

	// Two sales and one reversal of the second.
	sellPosition := func() *domain.TransactionPosition {
		trans := &domain.Transaction{SessionID: sess.ID}
		require.NoError(t, st.CreateTransaction(ctx, trans))
		pos := &domain.TransactionPosition{
			TransactionID: trans.ID,
			Type:          domain.PositionSell,
			ProductID:     product.ID,
			Value:         ledgertest.Money("11.90"),
			TaxRate:       ledgertest.Money("19"),
			TaxValue:      ledgertest.Money("1.90"),
			Items:         []domain.PositionItem{{ItemID: wristband.ID, Amount: 1}},
		}
		require.NoError(t, st.CreatePosition(ctx, pos))
		return pos
	}
	sellPosition()
	second := sellPosition()

	revTrans := &domain.Transaction{SessionID: sess.ID}
	require.NoError(t, st.CreateTransaction(ctx, revTrans))
	rev := domain.NewReversal(second)
	rev.TransactionID = revTrans.ID
	require.NoError(t, st.CreatePosition(ctx, rev))

	rep, err := svc.Report(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, sess.ID, rep.Session.ID)
	assert.Equal(t, desk.ID, rep.Cashdesk.ID)
	assert.Equal(t, cashier.ID, rep.Cashier.ID)

	assert.True(t, ledgertest.Money("200.00").Equal(rep.CashBefore))
	assert.True(t, ledgertest.Money("200.00").Equal(rep.CashMovement))
	assert.True(t, ledgertest.Money("11.90").Equal(rep.TransactionTotal), "one sale survives the reversal")
	assert.True(t, ledgertest.Money("211.90").Equal(rep.CashExpected))

	require.Len(t, rep.Items, 1)
	row := rep.Items[0]
	assert.Equal(t, wristband.ID, row.Item.ID)
	assert.Equal(t, 50, row.Moved)
	assert.Equal(t, 1, row.Transacted, "reversal returns the wristband")
	assert.Equal(t, 49, row.Balance)

	require.Len(t, rep.Sales, 1)
	sales := rep.Sales[0]
	assert.Equal(t, product.ID, sales.ProductID)
	assert.Equal(t, "Day Pass", sales.ProductName)
	assert.Equal(t, 2, sales.Sales)
	assert.Equal(t, 0, sales.Presales)
	assert.Equal(t, 1, sales.Reversals)
	assert.True(t, ledgertest.Money("11.90").Equal(sales.Value))

	// Counting the stock back in closes the item balance.
	require.NoError(t, svc.Close(ctx, sessions.CloseRequest{
		SessionID:        sess.ID,
		BackofficeUserID: backoffice.ID,
		CashAfter:        ledgertest.Money("211.90"),
		Items:            []sessions.ItemAmount{{ItemID: wristband.ID, Amount: 49}},
	}))

	rep, err = svc.Report(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, 0, rep.Items[0].Balance)

	// The drawer left as a final movement, so an exact count zeroes out.
	assert.True(t, ledgertest.Money("200.00").Equal(rep.CashBefore))
	assert.True(t, ledgertest.Money("-11.90").Equal(rep.CashMovement))
	assert.True(t, rep.CashExpected.IsZero())
}

func TestReportSplitsBypassPrices(t *testing.T) {
	st := ledgertest.New()
	desk := st.AddCashdesk("Desk 1")
	cashier := st.AddUser("carl", false, false)
	st.AddUser("bea", false, true)
	product := st.AddProduct("Day Pass", "11.90", "19")
	product.ReceiptName = "DAYPASS"
	sess := st.AddSession(desk.ID, cashier.ID)
	svc := newService(st, nil)
	ctx := context.Background()

	trans := &domain.Transaction{SessionID: sess.ID}
	require.NoError(t, st.CreateTransaction(ctx, trans))
	for _, value := range []string{"11.90", "10.00"} {
		require.NoError(t, st.CreatePosition(ctx, &domain.TransactionPosition{
			TransactionID: trans.ID,
			Type:          domain.PositionSell,
			ProductID:     product.ID,
			Value:         ledgertest.Money(value),
		}))
	}

	rep, err := svc.Report(ctx, sess.ID)
	require.NoError(t, err)

	require.Len(t, rep.Sales, 2, "a bypass price gets its own row")
	assert.True(t, ledgertest.Money("10.00").Equal(rep.Sales[0].UnitValue))
	assert.True(t, ledgertest.Money("11.90").Equal(rep.Sales[1].UnitValue))
	assert.Equal(t, "DAYPASS", rep.Sales[0].ProductName)
}
