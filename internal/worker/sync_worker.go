package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/p2p-trade-sync/internal/exchange"
	"github.com/p2p-trade-sync/internal/logging"
	"github.com/p2p-trade-sync/internal/models"
	"github.com/p2p-trade-sync/internal/normalize"
	"github.com/p2p-trade-sync/internal/storage"
	"github.com/p2p-trade-sync/internal/types"
)

// AccountStore is the account persistence the workers need.
type AccountStore interface {
	ListWithCredentials(ctx context.Context) ([]*models.Account, error)
	Get(ctx context.Context, id string) (*models.Account, error)
	UpdateSyncStatus(ctx context.Context, id, status string, at time.Time) error
}

// TransactionStore is the transaction persistence the workers need.
type TransactionStore interface {
	Find(ctx context.Context, orderNo, accountID string) (*models.Transaction, error)
	Insert(ctx context.Context, tx *models.Transaction) error
	UpdateStatus(ctx context.Context, id, status string) error
	ListUnenriched(ctx context.Context) ([]*models.Transaction, error)
	UpdateEnrichment(ctx context.Context, id string, phones []string, enriched bool, errMsg *string) error
}

// SeenCache is the optional fast dedup path in front of the store.
type SeenCache interface {
	SeenRecently(ctx context.Context, accountID, orderNo string) (bool, error)
	MarkSeen(ctx context.Context, accountID, orderNo string) error
}

// TradeArchive is the optional append-only raw payload audit trail.
type TradeArchive interface {
	BatchInsert(ctx context.Context, accountID string, trades []types.RawTrade) error
}

// ExchangeClient is the per-account exchange capability set.
type ExchangeClient interface {
	exchange.TradePager
	SyncClock(ctx context.Context) error
	FetchChatMessages(ctx context.Context, orderID string, size int) []types.ChatMessage
}

// ClientFactory builds an exchange client for one account's credentials.
type ClientFactory func(apiKey, apiSecret string) ExchangeClient

// SyncWorkerConfig holds the sync worker's collaborators and tuning.
type SyncWorkerConfig struct {
	Accounts      AccountStore
	Transactions  TransactionStore
	Cache         SeenCache    // optional
	Archive       TradeArchive // optional
	Fetcher       *exchange.Fetcher
	NewClient     ClientFactory
	AccountPacing time.Duration // delay between accounts, default 1.5s
	Logger        *logging.Logger
}

// SyncWorker pulls completed trades for every credentialed account and
// upserts them into the store. Accounts are processed strictly sequentially
// to respect upstream rate limits.
type SyncWorker struct {
	accounts      AccountStore
	transactions  TransactionStore
	cache         SeenCache
	archive       TradeArchive
	fetcher       *exchange.Fetcher
	newClient     ClientFactory
	accountPacing time.Duration
	logger        *logging.Logger
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(cfg *SyncWorkerConfig) (*SyncWorker, error) {
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("account store cannot be nil")
	}
	if cfg.Transactions == nil {
		return nil, fmt.Errorf("transaction store cannot be nil")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if cfg.NewClient == nil {
		return nil, fmt.Errorf("client factory cannot be nil")
	}

	pacing := cfg.AccountPacing
	if pacing == 0 {
		pacing = 1500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.LevelInfo, logging.FormatJSON)
	}

	return &SyncWorker{
		accounts:      cfg.Accounts,
		transactions:  cfg.Transactions,
		cache:         cfg.Cache,
		archive:       cfg.Archive,
		fetcher:       cfg.Fetcher,
		newClient:     cfg.NewClient,
		accountPacing: pacing,
		logger:        logger.WithField("component", "sync"),
	}, nil
}

// SyncAll runs one full sync pass over every account that has credentials.
// One account's failure never aborts the batch; every account gets its sync
// status written back, whatever the outcome.
func (w *SyncWorker) SyncAll(ctx context.Context) error {
	accounts, err := w.accounts.ListWithCredentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	w.logger.WithField("accounts", len(accounts)).Info("starting sync pass")

	for i, account := range accounts {
		inserted, err := w.SyncAccount(ctx, account)

		status := statusForOutcome(inserted, err)
		if statusErr := w.accounts.UpdateSyncStatus(ctx, account.ID, status, time.Now()); statusErr != nil {
			w.logger.WithError(statusErr).WithField("accountId", account.ID).Error("failed to write sync status")
		}

		if err != nil {
			w.logger.WithError(err).WithFields(map[string]interface{}{
				"accountId": account.ID,
				"account":   account.Name,
			}).Error("account sync failed")
		} else {
			w.logger.WithFields(map[string]interface{}{
				"accountId": account.ID,
				"inserted":  inserted,
			}).Info("account synced")
		}

		// Pace between accounts regardless of outcome so one slow or
		// failing account cannot monopolize upstream rate limits.
		if i < len(accounts)-1 {
			select {
			case <-time.After(w.accountPacing):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

// statusForOutcome maps a sync attempt to the status text stored on the
// account.
func statusForOutcome(inserted int, err error) string {
	switch {
	case err != nil:
		return "Error: " + err.Error()
	case inserted > 0:
		return fmt.Sprintf("Success: saved %d new transactions", inserted)
	default:
		return "No new transactions found"
	}
}

// SyncAccount fetches, filters, normalizes and stores the completed trades
// of one account, returning the number of newly inserted transactions.
func (w *SyncWorker) SyncAccount(ctx context.Context, account *models.Account) (int, error) {
	if !account.HasCredentials() {
		w.logger.WithField("accountId", account.ID).Warn("account has no credentials, skipping")
		return 0, nil
	}

	client := w.newClient(account.APIKey, account.APISecret)
	if err := client.SyncClock(ctx); err != nil {
		return 0, fmt.Errorf("clock sync failed: %w", err)
	}

	result := w.fetcher.FetchCompleted(ctx, client)
	if !result.Success {
		return 0, nil
	}

	kept := exchange.FilterPersistable(result.Trades, account.Kind)
	if len(kept) == 0 {
		return 0, nil
	}

	w.archiveAsync(account.ID, kept)

	inserted := 0
	for i := range kept {
		if w.storeTrade(ctx, account, &kept[i]) {
			inserted++
		}
	}

	return inserted, nil
}

// storeTrade persists a single raw trade if its order number has not been
// seen for this account. Reports whether a new row was inserted. All
// per-record failures are logged and isolated so the rest of the batch
// proceeds.
func (w *SyncWorker) storeTrade(ctx context.Context, account *models.Account, raw *types.RawTrade) bool {
	orderNo := raw.OrderNo()
	if orderNo == "" {
		w.logger.WithField("accountId", account.ID).Warn("dropping trade record without id/orderId")
		return false
	}

	recordLog := w.logger.WithFields(map[string]interface{}{
		"accountId": account.ID,
		"orderNo":   orderNo,
	})

	// Fast path: completed orders are terminal, so a cache hit means there
	// is nothing left to do. Non-terminal statuses (cabinet appeals) still
	// go to the store so status transitions are applied.
	if w.cache != nil && raw.Status == types.StatusCompleted {
		seen, err := w.cache.SeenRecently(ctx, account.ID, orderNo)
		if err != nil {
			recordLog.WithError(err).Debug("seen-cache lookup failed, falling back to store")
		} else if seen {
			return false
		}
	}

	existing, err := w.transactions.Find(ctx, orderNo, account.ID)
	if err != nil {
		recordLog.WithError(err).Error("transaction lookup failed")
		return false
	}

	if existing != nil {
		status := types.StatusText(raw.Status)
		if existing.Status != status {
			if err := w.transactions.UpdateStatus(ctx, existing.ID, status); err != nil {
				recordLog.WithError(err).Error("status update failed")
				return false
			}
			recordLog.WithFields(map[string]interface{}{
				"from": existing.Status,
				"to":   status,
			}).Info("transaction status updated")
		}
		w.markSeen(ctx, account.ID, orderNo, raw.Status)
		return false
	}

	tx, err := normalize.Trade(raw, account.ID, w.logger)
	if err != nil {
		return false
	}

	if err := w.transactions.Insert(ctx, tx); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			w.markSeen(ctx, account.ID, orderNo, raw.Status)
			return false
		}
		recordLog.WithError(err).Error("transaction insert failed")
		return false
	}

	w.markSeen(ctx, account.ID, orderNo, raw.Status)
	return true
}

func (w *SyncWorker) markSeen(ctx context.Context, accountID, orderNo string, statusCode int) {
	if w.cache == nil || statusCode != types.StatusCompleted {
		return
	}
	if err := w.cache.MarkSeen(ctx, accountID, orderNo); err != nil {
		w.logger.WithError(err).Debug("seen-cache write failed")
	}
}

// archiveAsync appends the raw payloads to the audit archive without
// blocking the sync path.
func (w *SyncWorker) archiveAsync(accountID string, trades []types.RawTrade) {
	if w.archive == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := w.archive.BatchInsert(ctx, accountID, trades); err != nil {
			w.logger.WithError(err).WithField("accountId", accountID).Warn("raw trade archive write failed")
		}
	}()
}
