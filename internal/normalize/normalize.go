// Package normalize maps raw exchange trade records into the canonical
// transaction shape.
package normalize

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/p2p-trade-sync/internal/logging"
	"github.com/p2p-trade-sync/internal/models"
	"github.com/p2p-trade-sync/internal/types"
	"github.com/shopspring/decimal"
)

// ErrMissingOrderNo marks a record that carries no known identifier field.
// Such records cannot be deduplicated and are dropped.
var ErrMissingOrderNo = errors.New("trade record has no order identifier")

const (
	defaultCounterparty = "Unknown"
	defaultAsset        = "USDT"
)

// Trade converts a RawTrade into a Transaction for the given account.
// Malformed monetary and date fields are defaulted rather than failing the
// record; only a missing identifier drops it.
func Trade(raw *types.RawTrade, accountID string, logger *logging.Logger) (*models.Transaction, error) {
	orderNo := raw.OrderNo()
	if orderNo == "" {
		logger.WithField("accountId", accountID).Warn("dropping trade record without id/orderId")
		return nil, ErrMissingOrderNo
	}

	amount := parseDecimal(raw.QuantityField())
	unitPrice := parseDecimal(raw.Price)

	counterparty := raw.Counterparty()
	if counterparty == "" {
		counterparty = defaultCounterparty
	}

	asset := raw.TokenID
	if asset == "" {
		asset = defaultAsset
	}

	now := time.Now()
	return &models.Transaction{
		ID:           uuid.New().String(),
		OrderNo:      orderNo,
		AccountID:    accountID,
		Counterparty: counterparty,
		Status:       types.StatusText(raw.Status),
		Type:         types.Side(raw.Side).String(),
		Asset:        asset,
		Amount:       amount,
		UnitPrice:    unitPrice,
		// Always recomputed, never trusted from upstream.
		TotalPrice: amount.Mul(unitPrice),
		DateTime:   parseCreateDate(raw, orderNo, logger),
		RawPayload: raw.Payload(),
		// Empty, not nil: the column is NOT NULL and a nil slice binds as
		// SQL NULL.
		ExtractedPhones: []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// parseCreateDate parses the string-encoded epoch-millisecond creation time.
// A missing, malformed, or non-positive value falls back to the current
// wall-clock time.
func parseCreateDate(raw *types.RawTrade, orderNo string, logger *logging.Logger) time.Time {
	millis, err := strconv.ParseInt(raw.CreateDate, 10, 64)
	if err != nil || millis <= 0 {
		logger.WithFields(map[string]interface{}{
			"orderNo":    orderNo,
			"createDate": raw.CreateDate,
		}).Warn("unparseable createDate, substituting current time")
		return time.Now()
	}
	return time.UnixMilli(millis)
}

func parseDecimal(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}
