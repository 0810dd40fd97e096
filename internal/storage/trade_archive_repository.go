package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/p2p-trade-sync/internal/types"
)

// TradeArchiveRepository is the append-only audit trail of raw exchange
// payloads, kept in ClickHouse separately from the canonical Postgres rows.
// Archive writes are best-effort and never block the sync path.
type TradeArchiveRepository struct {
	db *ClickHouseDB
}

// NewTradeArchiveRepository creates a new trade archive repository
func NewTradeArchiveRepository(db *ClickHouseDB) *TradeArchiveRepository {
	return &TradeArchiveRepository{db: db}
}

// BatchInsert appends one fetch pass worth of raw trades for an account.
func (r *TradeArchiveRepository) BatchInsert(ctx context.Context, accountID string, trades []types.RawTrade) error {
	if len(trades) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO raw_trades (account_id, order_no, side, status, payload, fetched_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare archive batch: %w", err)
	}

	fetchedAt := time.Now()
	for i := range trades {
		t := &trades[i]
		if err := batch.Append(
			accountID,
			t.OrderNo(),
			int8(t.Side),
			int16(t.Status),
			string(t.Payload()),
			fetchedAt,
		); err != nil {
			return fmt.Errorf("failed to append to archive batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send archive batch: %w", err)
	}

	return nil
}
