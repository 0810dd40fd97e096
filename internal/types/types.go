// Package types defines the exchange wire types and shared value types used
// across the trade sync pipeline.
package types

import "encoding/json"

// Side identifies the direction of a P2P trade as encoded by the exchange.
type Side int

const (
	SideBuy  Side = 0
	SideSell Side = 1
)

// String returns the canonical text for a side. side 1 means Sell, side 0
// means Buy; any other value is reported verbatim as Unknown.
func (s Side) String() string {
	switch s {
	case SideSell:
		return "Sell"
	case SideBuy:
		return "Buy"
	default:
		return "Unknown"
	}
}

// Exchange order status codes.
const (
	StatusWaitingForChain   = 5
	StatusWaitingForPayment = 10
	StatusWaitingForRelease = 20
	StatusAppealing         = 30
	StatusCancelled         = 40
	StatusCompleted         = 50
	StatusPaying            = 60
	StatusPaymentFailed     = 70
	StatusExceptionCanceled = 80
	StatusWaitingSelection  = 90
	StatusObjecting         = 100
	StatusWaitingObjection  = 110
)

// statusText is the single canonical status mapping. The predecessor system
// carried two near-duplicate tables that disagreed on code 30; here 30 is
// always "Appealing" and cabinet accounts differ only in which codes they
// retain during filtering.
var statusText = map[int]string{
	StatusWaitingForChain:   "Waiting for chain",
	StatusWaitingForPayment: "Waiting for payment",
	StatusWaitingForRelease: "Waiting for release",
	StatusAppealing:         "Appealing",
	StatusCancelled:         "Cancelled",
	StatusCompleted:         "Completed",
	StatusPaying:            "Paying",
	StatusPaymentFailed:     "Payment failed",
	StatusExceptionCanceled: "Exception cancelled",
	StatusWaitingSelection:  "Waiting selection",
	StatusObjecting:         "Objecting",
	StatusWaitingObjection:  "Waiting objection",
}

// StatusText maps an exchange status code to its normalized text.
// Unknown codes map to "Unknown".
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "Unknown"
}

// RawTrade is the exchange's wire representation of one P2P order.
// Field names vary across response variants, so logical fields carry every
// known spelling and are read through the accessor methods, which apply a
// fixed priority order.
type RawTrade struct {
	ID           string `json:"id"`
	OrderID      string `json:"orderId"`
	Side         int    `json:"side"`
	Status       int    `json:"status"`
	TokenID      string `json:"tokenId"`
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	Quantity     string `json:"quantity"`
	NickName     string `json:"nickName"`
	TargetNick   string `json:"targetNickName"`
	CreateDate   string `json:"createDate"`
	CurrencyID   string `json:"currencyId"`
	SellerRealNm string `json:"sellerRealName"`
	BuyerRealNm  string `json:"buyerRealName"`
}

// OrderNo returns the trade identifier: first of (id, orderId).
// An empty result means the record carries no known identifier.
func (t *RawTrade) OrderNo() string {
	if t.ID != "" {
		return t.ID
	}
	return t.OrderID
}

// QuantityField returns the traded amount: first of (amount, quantity).
func (t *RawTrade) QuantityField() string {
	if t.Amount != "" {
		return t.Amount
	}
	return t.Quantity
}

// Counterparty returns the counterparty nickname: first of
// (targetNickName, nickName).
func (t *RawTrade) Counterparty() string {
	if t.TargetNick != "" {
		return t.TargetNick
	}
	return t.NickName
}

// Payload returns the trade re-encoded as JSON for audit storage.
func (t *RawTrade) Payload() json.RawMessage {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	return raw
}

// ChatMessage is one message from an order's chat transcript.
type ChatMessage struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	ContentType string `json:"contentType"` // "str" for plain text
	UserID      string `json:"userId"`
	CreateDate  string `json:"createDate"`
}

// IsText reports whether the message is a plain text message. Only text
// messages are scanned for phone numbers.
func (m *ChatMessage) IsText() bool {
	return m.ContentType == "" || m.ContentType == "str" || m.ContentType == "text"
}

// SyncResult is the transient outcome of one fetch pass for an account.
type SyncResult struct {
	Success bool
	Message string
	Trades  []RawTrade
}
