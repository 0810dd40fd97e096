// Package models defines the persisted domain models.
package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind distinguishes the two credential-holding entity variants.
// Both are structurally identical for sync purposes; they differ only in
// which trades the persistence filter retains.
type AccountKind string

const (
	// KindUser is an individual user account: only completed sell orders
	// are persisted.
	KindUser AccountKind = "user"
	// KindCabinet is a shared cabinet account: both sides are persisted
	// and appealing orders (code 30) are retained alongside completed ones.
	KindCabinet AccountKind = "cabinet"
)

// Account holds exchange credentials and sync bookkeeping for one entity.
// The sync worker only ever writes the status fields.
type Account struct {
	ID             string
	Kind           AccountKind
	Name           string
	APIKey         string
	APISecret      string
	LastSyncAt     *time.Time
	LastSyncStatus string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasCredentials reports whether the account can be synced at all.
func (a *Account) HasCredentials() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// Transaction is the canonical persisted form of one P2P trade.
// At most one row exists per (OrderNo, AccountID).
type Transaction struct {
	ID           string
	OrderNo      string
	AccountID    string
	Counterparty string
	Status       string
	Type         string // Buy or Sell
	Asset        string
	Amount       decimal.Decimal
	UnitPrice    decimal.Decimal
	TotalPrice   decimal.Decimal
	DateTime     time.Time
	RawPayload   json.RawMessage

	Enriched        bool
	ExtractedPhones []string
	EnrichmentError *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
