package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/p2p-trade-sync/internal/models"
	"github.com/shopspring/decimal"
)

// ErrAlreadyExists is returned by Insert when a row for the same
// (orderNo, accountID) pair is already present. Creation is conditional on
// absence; existing rows are never re-created.
var ErrAlreadyExists = errors.New("transaction already exists")

// TransactionRepository handles canonical transaction persistence.
type TransactionRepository struct {
	db *PostgresDB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *PostgresDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `
	id, order_no, account_id, counterparty, status, type, asset,
	amount::text, unit_price::text, total_price::text, date_time, raw_payload,
	enriched, extracted_phones, enrichment_error, created_at, updated_at`

// Find retrieves a transaction by its dedup key (orderNo, accountID).
// Returns (nil, nil) when absent.
func (r *TransactionRepository) Find(ctx context.Context, orderNo, accountID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE order_no = $1 AND account_id = $2`

	row := r.db.Pool().QueryRow(ctx, query, orderNo, accountID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return tx, nil
}

// Insert stores a new transaction. The unique index on (order_no, account_id)
// makes the operation idempotent: a concurrent or repeated insert of the same
// order surfaces as ErrAlreadyExists instead of a duplicate row.
func (r *TransactionRepository) Insert(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, order_no, account_id, counterparty, status, type, asset,
			amount, unit_price, total_price, date_time, raw_payload,
			enriched, extracted_phones, enrichment_error, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (order_no, account_id) DO NOTHING
	`

	result, err := r.db.Pool().Exec(ctx, query,
		tx.ID,
		tx.OrderNo,
		tx.AccountID,
		tx.Counterparty,
		tx.Status,
		tx.Type,
		tx.Asset,
		tx.Amount.String(),
		tx.UnitPrice.String(),
		tx.TotalPrice.String(),
		tx.DateTime,
		tx.RawPayload,
		tx.Enriched,
		tx.ExtractedPhones,
		tx.EnrichmentError,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExists
	}

	return nil
}

// UpdateStatus transitions the normalized status text of an existing row.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE transactions SET status = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s not found", id)
	}

	return nil
}

// ListUnenriched returns transactions still awaiting the enrichment pass,
// grouped by account so per-account credential checks amortize.
func (r *TransactionRepository) ListUnenriched(ctx context.Context) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE enriched = false
		ORDER BY account_id, created_at
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unenriched transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

// UpdateEnrichment persists the result of one enrichment attempt. An empty
// phone set with enriched=true is a valid terminal result; enriched=false
// with an error message leaves the row eligible for retry.
func (r *TransactionRepository) UpdateEnrichment(ctx context.Context, id string, phones []string, enriched bool, errMsg *string) error {
	query := `
		UPDATE transactions
		SET extracted_phones = $2, enriched = $3, enrichment_error = $4, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, phones, enriched, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update enrichment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s not found", id)
	}

	return nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		tx                           models.Transaction
		amount, unitPrice, totalText string
	)

	err := row.Scan(
		&tx.ID,
		&tx.OrderNo,
		&tx.AccountID,
		&tx.Counterparty,
		&tx.Status,
		&tx.Type,
		&tx.Asset,
		&amount,
		&unitPrice,
		&totalText,
		&tx.DateTime,
		&tx.RawPayload,
		&tx.Enriched,
		&tx.ExtractedPhones,
		&tx.EnrichmentError,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if tx.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return nil, fmt.Errorf("invalid unit price %q: %w", unitPrice, err)
	}
	if tx.TotalPrice, err = decimal.NewFromString(totalText); err != nil {
		return nil, fmt.Errorf("invalid total price %q: %w", totalText, err)
	}

	return &tx, nil
}
