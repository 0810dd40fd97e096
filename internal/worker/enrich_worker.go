package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/p2p-trade-sync/internal/logging"
	"github.com/p2p-trade-sync/internal/models"
	"github.com/p2p-trade-sync/internal/phone"
)

// EnrichWorkerConfig holds the enrichment worker's collaborators and tuning.
type EnrichWorkerConfig struct {
	Accounts     AccountStore
	Transactions TransactionStore
	NewClient    ClientFactory
	ChatPageSize int           // default 100
	RecordPacing time.Duration // delay between per-record API calls, default 500ms
	Logger       *logging.Logger
}

// EnrichWorker backfills phone numbers for transactions that have not been
// enriched yet, on its own schedule, decoupled from the trade sync pass.
type EnrichWorker struct {
	accounts     AccountStore
	transactions TransactionStore
	newClient    ClientFactory
	chatPageSize int
	recordPacing time.Duration
	logger       *logging.Logger
}

// NewEnrichWorker creates a new enrichment worker
func NewEnrichWorker(cfg *EnrichWorkerConfig) (*EnrichWorker, error) {
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("account store cannot be nil")
	}
	if cfg.Transactions == nil {
		return nil, fmt.Errorf("transaction store cannot be nil")
	}
	if cfg.NewClient == nil {
		return nil, fmt.Errorf("client factory cannot be nil")
	}

	pageSize := cfg.ChatPageSize
	if pageSize == 0 {
		pageSize = 100
	}
	pacing := cfg.RecordPacing
	if pacing == 0 {
		pacing = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.LevelInfo, logging.FormatJSON)
	}

	return &EnrichWorker{
		accounts:     cfg.Accounts,
		transactions: cfg.Transactions,
		newClient:    cfg.NewClient,
		chatPageSize: pageSize,
		recordPacing: pacing,
		logger:       logger.WithField("component", "enrich"),
	}, nil
}

// ProcessUnenriched runs one enrichment pass. Each record either becomes
// enriched (with or without phones) or keeps an error message and stays
// eligible for the next pass. Records whose owning account lost its
// credentials are skipped without an error: that is a recoverable condition.
func (w *EnrichWorker) ProcessUnenriched(ctx context.Context) error {
	pending, err := w.transactions.ListUnenriched(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unenriched transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	w.logger.WithField("pending", len(pending)).Info("starting enrichment pass")

	// One clock-synced client per account, reused across its records.
	clients := make(map[string]ExchangeClient)

	for i, tx := range pending {
		w.enrichOne(ctx, tx, clients)

		if i < len(pending)-1 {
			select {
			case <-time.After(w.recordPacing):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

// enrichOne processes a single transaction. Failures are persisted on the
// record without marking it enriched, so it retries on the next pass; an
// empty phone set is a valid terminal result and does mark it enriched.
func (w *EnrichWorker) enrichOne(ctx context.Context, tx *models.Transaction, clients map[string]ExchangeClient) {
	recordLog := w.logger.WithFields(map[string]interface{}{
		"orderNo":   tx.OrderNo,
		"accountId": tx.AccountID,
	})

	account, err := w.accounts.Get(ctx, tx.AccountID)
	if err != nil {
		recordLog.WithError(err).Error("account lookup failed")
		return
	}
	if account == nil || !account.HasCredentials() {
		recordLog.Warn("owning account missing or without credentials, leaving unenriched")
		return
	}

	client, ok := clients[account.ID]
	if !ok {
		client = w.newClient(account.APIKey, account.APISecret)
		if err := client.SyncClock(ctx); err != nil {
			w.persistError(ctx, tx, fmt.Sprintf("clock sync failed: %v", err), recordLog)
			return
		}
		clients[account.ID] = client
	}

	messages := client.FetchChatMessages(ctx, tx.OrderNo, w.chatPageSize)
	phones := phone.Extract(messages)

	// Absence of phones is a valid terminal result, not a retry condition.
	if err := w.transactions.UpdateEnrichment(ctx, tx.ID, phones, true, nil); err != nil {
		recordLog.WithError(err).Error("failed to persist enrichment")
		return
	}

	recordLog.WithFields(map[string]interface{}{
		"messages": len(messages),
		"phones":   len(phones),
	}).Info("transaction enriched")
}

func (w *EnrichWorker) persistError(ctx context.Context, tx *models.Transaction, message string, recordLog *logging.Logger) {
	recordLog.WithField("enrichmentError", message).Warn("enrichment failed, will retry next pass")
	phones := tx.ExtractedPhones
	if phones == nil {
		phones = []string{}
	}
	if err := w.transactions.UpdateEnrichment(ctx, tx.ID, phones, false, &message); err != nil {
		recordLog.WithError(err).Error("failed to persist enrichment error")
	}
}
