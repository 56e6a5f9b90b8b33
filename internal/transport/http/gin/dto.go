package httpgin

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/service/flow"
	"github.com/venuepos/venuepos/internal/service/sessions"
)

type PositionInput struct {
	Type        string            `json:"type" binding:"required"`
	Secret      string            `json:"secret"`
	ProductID   int64             `json:"product_id"`
	Auth        string            `json:"auth"`
	BypassPrice *decimal.Decimal  `json:"bypass_price"`
	Fields      map[string]string `json:"fields"`
}

type CheckoutRequest struct {
	CashGiven *decimal.Decimal `json:"cash_given"`
	Positions []PositionInput  `json:"positions" binding:"required,min=1,dive"`
}

type PositionResult struct {
	Success      bool             `json:"success"`
	PositionID   int64            `json:"position_id,omitempty"`
	Message      string           `json:"message,omitempty"`
	Type         string           `json:"type,omitempty"`
	MissingField string           `json:"missing_field,omitempty"`
	BypassPrice  *decimal.Decimal `json:"bypass_price,omitempty"`
}

type CheckoutResponse struct {
	Success       bool             `json:"success"`
	TransactionID int64            `json:"transaction_id,omitempty"`
	ReceiptNumber *int64           `json:"receipt_number,omitempty"`
	Positions     []PositionResult `json:"positions"`
}

type ReverseRequest struct {
	Auth string `json:"auth"`
}

type ReverseResponse struct {
	TransactionID int64 `json:"transaction_id"`
}

type ItemAmountInput struct {
	ItemID int64 `json:"item_id" binding:"required"`
	Amount int   `json:"amount" binding:"required"`
}

type OpenSessionRequest struct {
	CashdeskID       int64             `json:"cashdesk_id" binding:"required"`
	CashierID        int64             `json:"cashier_id" binding:"required"`
	BackofficeUserID int64             `json:"backoffice_user_id" binding:"required"`
	CashBefore       decimal.Decimal   `json:"cash_before"`
	Items            []ItemAmountInput `json:"items"`
	Comment          string            `json:"comment"`
}

type CloseSessionRequest struct {
	BackofficeUserID int64             `json:"backoffice_user_id" binding:"required"`
	CashAfter        decimal.Decimal   `json:"cash_after"`
	Items            []ItemAmountInput `json:"items"`
}

type CorrectionRequest struct {
	BackofficeUserID int64 `json:"backoffice_user_id" binding:"required"`
	ItemID           int64 `json:"item_id" binding:"required"`
	Amount           int   `json:"amount" binding:"required"`
}

type SessionResponse struct {
	ID         int64      `json:"id"`
	CashdeskID int64      `json:"cashdesk_id"`
	UserID     int64      `json:"user_id"`
	Start      time.Time  `json:"start"`
	End        *time.Time `json:"end,omitempty"`
	APIToken   string     `json:"api_token,omitempty"`
	Comment    string     `json:"comment,omitempty"`
}

type PreorderSearchRow struct {
	ID          int64  `json:"id"`
	Secret      string `json:"secret"`
	OrderCode   string `json:"order_code"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	IsPaid      bool   `json:"is_paid"`
	Redeemed    bool   `json:"redeemed"`
	Information string `json:"information,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toSessionResponse(s *domain.CashdeskSession, withToken bool) SessionResponse {
	out := SessionResponse{
		ID:         s.ID,
		CashdeskID: s.CashdeskID,
		UserID:     s.UserID,
		Start:      s.Start,
		End:        s.End,
		Comment:    s.Comment,
	}
	if withToken {
		out.APIToken = s.APIToken
	}
	return out
}

func toCheckoutResponse(res *flow.CheckoutResult) CheckoutResponse {
	out := CheckoutResponse{
		Success:       res.Success,
		TransactionID: res.TransactionID,
		ReceiptNumber: res.ReceiptNumber,
	}
	for _, p := range res.Positions {
		out.Positions = append(out.Positions, PositionResult{
			Success:      p.Success,
			PositionID:   p.PositionID,
			Message:      p.Message,
			Type:         string(p.Kind),
			MissingField: p.MissingField,
			BypassPrice:  p.BypassPrice,
		})
	}
	return out
}

func toItemAmounts(in []ItemAmountInput) []sessions.ItemAmount {
	out := make([]sessions.ItemAmount, 0, len(in))
	for _, ia := range in {
		out = append(out, sessions.ItemAmount{ItemID: ia.ItemID, Amount: ia.Amount})
	}
	return out
}

func toSearchRows(in []domain.PreorderSearchResult) []PreorderSearchRow {
	out := make([]PreorderSearchRow, 0, len(in))
	for _, r := range in {
		out = append(out, PreorderSearchRow{
			ID:          r.ID,
			Secret:      r.Secret,
			OrderCode:   r.OrderCode,
			ProductID:   r.ProductID,
			ProductName: r.ProductName,
			IsPaid:      r.IsPaid,
			Redeemed:    r.Redeemed,
			Information: r.Information,
		})
	}
	return out
}
