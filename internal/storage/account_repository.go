package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/p2p-trade-sync/internal/models"
)

// AccountRepository handles account persistence. The sync worker treats
// accounts as read-only except for the sync status fields.
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, kind, name, api_key, api_secret, last_sync_at, last_sync_status, created_at, updated_at`

// ListWithCredentials returns every account that has both credential fields
// set, in stable order.
func (r *AccountRepository) ListWithCredentials(ctx context.Context) ([]*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE api_key <> '' AND api_secret <> ''
		ORDER BY created_at
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// Get retrieves one account by id. Returns (nil, nil) when absent.
func (r *AccountRepository) Get(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	row := r.db.Pool().QueryRow(ctx, query, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return account, nil
}

// UpdateSyncStatus writes the outcome of the most recent sync attempt.
// Called on every attempt, success or failure, so the stored status always
// reflects the latest pass.
func (r *AccountRepository) UpdateSyncStatus(ctx context.Context, id, status string, at time.Time) error {
	query := `
		UPDATE accounts
		SET last_sync_status = $2, last_sync_at = $3, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, status, at)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("account %s not found", id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID,
		&account.Kind,
		&account.Name,
		&account.APIKey,
		&account.APISecret,
		&account.LastSyncAt,
		&account.LastSyncStatus,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &account, nil
}
