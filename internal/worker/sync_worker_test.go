package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/p2p-trade-sync/internal/exchange"
	"github.com/p2p-trade-sync/internal/logging"
	"github.com/p2p-trade-sync/internal/models"
	"github.com/p2p-trade-sync/internal/storage"
	"github.com/p2p-trade-sync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelFatal, logging.FormatText)
}

// fakeAccounts is an in-memory AccountStore.
type fakeAccounts struct {
	mu       sync.Mutex
	accounts []*models.Account
	statuses map[string]string
}

func newFakeAccounts(accounts ...*models.Account) *fakeAccounts {
	return &fakeAccounts{accounts: accounts, statuses: make(map[string]string)}
}

func (s *fakeAccounts) ListWithCredentials(ctx context.Context) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Account
	for _, a := range s.accounts {
		if a.HasCredentials() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeAccounts) Get(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (s *fakeAccounts) UpdateSyncStatus(ctx context.Context, id, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func (s *fakeAccounts) status(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

// fakeTransactions is an in-memory TransactionStore keyed by
// (orderNo, accountID).
type fakeTransactions struct {
	mu        sync.Mutex
	rows      map[string]*models.Transaction
	findCalls int
	insertErr error
}

func newFakeTransactions() *fakeTransactions {
	return &fakeTransactions{rows: make(map[string]*models.Transaction)}
}

func txKey(orderNo, accountID string) string {
	return orderNo + "|" + accountID
}

func (s *fakeTransactions) Find(ctx context.Context, orderNo, accountID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if tx, ok := s.rows[txKey(orderNo, accountID)]; ok {
		copied := *tx
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeTransactions) Insert(ctx context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	// Enforce the schema's NOT NULL columns: pgx binds nil slices as SQL
	// NULL, so a nil phone set would be rejected by the real store.
	if tx.ExtractedPhones == nil {
		return errors.New("null value in column \"extracted_phones\" violates not-null constraint")
	}
	if tx.ID == "" || tx.OrderNo == "" || tx.AccountID == "" || tx.Status == "" || tx.Type == "" || tx.Asset == "" {
		return errors.New("null value violates not-null constraint")
	}
	key := txKey(tx.OrderNo, tx.AccountID)
	if _, ok := s.rows[key]; ok {
		return storage.ErrAlreadyExists
	}
	copied := *tx
	s.rows[key] = &copied
	return nil
}

func (s *fakeTransactions) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.rows {
		if tx.ID == id {
			tx.Status = status
			return nil
		}
	}
	return fmt.Errorf("transaction %s not found", id)
}

func (s *fakeTransactions) ListUnenriched(ctx context.Context) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Transaction
	for _, tx := range s.rows {
		if !tx.Enriched {
			copied := *tx
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeTransactions) UpdateEnrichment(ctx context.Context, id string, phones []string, enriched bool, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.rows {
		if tx.ID == id {
			tx.ExtractedPhones = phones
			tx.Enriched = enriched
			tx.EnrichmentError = errMsg
			return nil
		}
	}
	return fmt.Errorf("transaction %s not found", id)
}

func (s *fakeTransactions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *fakeTransactions) get(orderNo, accountID string) *models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.rows[txKey(orderNo, accountID)]; ok {
		copied := *tx
		return &copied
	}
	return nil
}

// fakeSeenCache is an in-memory SeenCache.
type fakeSeenCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeSeenCache() *fakeSeenCache {
	return &fakeSeenCache{seen: make(map[string]bool)}
}

func (c *fakeSeenCache) SeenRecently(ctx context.Context, accountID, orderNo string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[txKey(orderNo, accountID)], nil
}

func (c *fakeSeenCache) MarkSeen(ctx context.Context, accountID, orderNo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[txKey(orderNo, accountID)] = true
	return nil
}

// fakeExchangeClient scripts the exchange surface for one set of credentials.
type fakeExchangeClient struct {
	mu       sync.Mutex
	pages    map[int][]types.RawTrade
	clockErr error
	chat     map[string][]types.ChatMessage
}

func (c *fakeExchangeClient) SyncClock(ctx context.Context) error {
	return c.clockErr
}

func (c *fakeExchangeClient) FetchTradePage(ctx context.Context, page, size int, f exchange.Filters) ([]types.RawTrade, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.pages[page]
	if len(items) > size {
		items = items[:size]
	}
	return items, 0, nil
}

func (c *fakeExchangeClient) FetchChatMessages(ctx context.Context, orderID string, size int) []types.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat[orderID]
}

func factoryFor(client ExchangeClient) ClientFactory {
	return func(apiKey, apiSecret string) ExchangeClient { return client }
}

func completedSell(id string) types.RawTrade {
	return types.RawTrade{
		ID:         id,
		Status:     types.StatusCompleted,
		Side:       int(types.SideSell),
		Price:      "95.5",
		Amount:     "100",
		TargetNick: "buyer",
		CreateDate: "1700000000000",
	}
}

func testUserAccount() *models.Account {
	return &models.Account{
		ID:        "acc-1",
		Kind:      models.KindUser,
		Name:      "main",
		APIKey:    "key",
		APISecret: "secret",
	}
}

func newTestSyncWorker(t *testing.T, accounts *fakeAccounts, txs *fakeTransactions, cache SeenCache, client ExchangeClient) *SyncWorker {
	t.Helper()

	fetcher := exchange.NewFetcher(&exchange.FetcherConfig{
		MaxPages:       10,
		WindowDays:     3,
		WindowPageSize: 20,
		FallbackSize:   10,
		MinimalSize:    5,
		PagePacing:     time.Millisecond,
	}, testLogger())

	w, err := NewSyncWorker(&SyncWorkerConfig{
		Accounts:      accounts,
		Transactions:  txs,
		Cache:         cache,
		Fetcher:       fetcher,
		NewClient:     factoryFor(client),
		AccountPacing: time.Millisecond,
		Logger:        testLogger(),
	})
	require.NoError(t, err)
	return w
}

func TestNewSyncWorker(t *testing.T) {
	t.Run("rejects missing collaborators", func(t *testing.T) {
		_, err := NewSyncWorker(&SyncWorkerConfig{})
		assert.Error(t, err)
	})
}

func TestSyncAll(t *testing.T) {
	t.Run("saves fetched trades and records success", func(t *testing.T) {
		trades := make([]types.RawTrade, 25)
		for i := range trades {
			trades[i] = completedSell(fmt.Sprintf("order-%02d", i))
		}

		client := &fakeExchangeClient{pages: map[int][]types.RawTrade{
			1: trades[:20],
			2: trades[20:],
		}}
		accounts := newFakeAccounts(testUserAccount())
		txs := newFakeTransactions()

		w := newTestSyncWorker(t, accounts, txs, nil, client)
		require.NoError(t, w.SyncAll(context.Background()))

		assert.Equal(t, 25, txs.count())
		assert.Equal(t, "Success: saved 25 new transactions", accounts.status("acc-1"))

		stored := txs.get("order-00", "acc-1")
		require.NotNil(t, stored)
		assert.NotNil(t, stored.ExtractedPhones, "new rows must carry an empty phone set, not NULL")
		assert.False(t, stored.Enriched)
	})

	t.Run("second run over the same data saves nothing", func(t *testing.T) {
		client := &fakeExchangeClient{pages: map[int][]types.RawTrade{
			1: {completedSell("order-1"), completedSell("order-2")},
		}}
		accounts := newFakeAccounts(testUserAccount())
		txs := newFakeTransactions()

		w := newTestSyncWorker(t, accounts, txs, nil, client)
		require.NoError(t, w.SyncAll(context.Background()))
		require.Equal(t, 2, txs.count())

		require.NoError(t, w.SyncAll(context.Background()))
		assert.Equal(t, 2, txs.count())
		assert.Equal(t, "No new transactions found", accounts.status("acc-1"))
	})

	t.Run("clock sync failure records an error status", func(t *testing.T) {
		client := &fakeExchangeClient{clockErr: errors.New("server time unavailable")}
		accounts := newFakeAccounts(testUserAccount())
		txs := newFakeTransactions()

		w := newTestSyncWorker(t, accounts, txs, nil, client)
		require.NoError(t, w.SyncAll(context.Background()))

		assert.Contains(t, accounts.status("acc-1"), "Error: ")
		assert.Equal(t, 0, txs.count())
	})

	t.Run("one account's failure does not abort the rest", func(t *testing.T) {
		broken := &models.Account{ID: "acc-bad", Kind: models.KindUser, APIKey: "k", APISecret: "s"}
		healthy := testUserAccount()

		// Same scripted client for both; the first SyncClock call fails,
		// later ones succeed.
		calls := 0
		var mu sync.Mutex
		client := &fakeExchangeClient{pages: map[int][]types.RawTrade{1: {completedSell("order-1")}}}
		factory := func(apiKey, apiSecret string) ExchangeClient {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return &fakeExchangeClient{clockErr: errors.New("boom")}
			}
			return client
		}

		accounts := newFakeAccounts(broken, healthy)
		txs := newFakeTransactions()

		fetcher := exchange.NewFetcher(&exchange.FetcherConfig{
			MaxPages: 10, WindowDays: 3, WindowPageSize: 20,
			FallbackSize: 10, MinimalSize: 5, PagePacing: time.Millisecond,
		}, testLogger())
		w, err := NewSyncWorker(&SyncWorkerConfig{
			Accounts:      accounts,
			Transactions:  txs,
			Fetcher:       fetcher,
			NewClient:     factory,
			AccountPacing: time.Millisecond,
			Logger:        testLogger(),
		})
		require.NoError(t, err)

		require.NoError(t, w.SyncAll(context.Background()))

		assert.Contains(t, accounts.status("acc-bad"), "Error: ")
		assert.Equal(t, "Success: saved 1 new transactions", accounts.status("acc-1"))
	})
}

func TestSyncAccount(t *testing.T) {
	t.Run("records without an identifier are dropped, the rest persist", func(t *testing.T) {
		broken := completedSell("")
		broken.ID = ""
		broken.OrderID = ""

		client := &fakeExchangeClient{pages: map[int][]types.RawTrade{
			1: {completedSell("order-1"), broken, completedSell("order-2")},
		}}
		accounts := newFakeAccounts(testUserAccount())
		txs := newFakeTransactions()

		w := newTestSyncWorker(t, accounts, txs, nil, client)
		inserted, err := w.SyncAccount(context.Background(), testUserAccount())
		require.NoError(t, err)

		assert.Equal(t, 2, inserted)
		assert.Equal(t, 2, txs.count())
	})

	t.Run("user accounts drop buys and non-completed trades", func(t *testing.T) {
		buy := completedSell("order-buy")
		buy.Side = int(types.SideBuy)
		appealing := completedSell("order-appeal")
		appealing.Status = types.StatusAppealing

		client := &fakeExchangeClient{pages: map[int][]types.RawTrade{
			1: {completedSell("order-1"), buy, appealing},
		}}
		accounts := newFakeAccounts(testUserAccount())
		txs := newFakeTransactions()

		w := newTestSyncWorker(t, accounts, txs, nil, client)
		inserted, err := w.SyncAccount(context.Background(), testUserAccount())
		require.NoError(t, err)

		assert.Equal(t, 1, inserted)
		assert.NotNil(t, txs.get("order-1", "acc-1"))
		assert.Nil(t, txs.get("order-buy", "acc-1"))
	})

	t.Run("cabinet accounts keep appeals and apply status transitions", func(t *testing.T) {
		cabinet := &models.Account{ID: "cab-1", Kind: models.KindCabinet, APIKey: "k", APISecret: "s"}

		appealing := completedSell("order-1")
		appealing.Status = types.StatusAppealing

		client := &fakeExchangeClient{pages: map[int][]types.RawTrade{1: {appealing}}}
		accounts := newFakeAccounts(cabinet)
		txs := newFakeTransactions()

		w := newTestSyncWorker(t, accounts, txs, nil, client)
		inserted, err := w.SyncAccount(context.Background(), cabinet)
		require.NoError(t, err)
		require.Equal(t, 1, inserted)
		assert.Equal(t, "Appealing", txs.get("order-1", "cab-1").Status)

		// The appeal resolves: same order comes back completed.
		resolved := completedSell("order-1")
		client.mu.Lock()
		client.pages[1] = []types.RawTrade{resolved}
		client.mu.Unlock()

		inserted, err = w.SyncAccount(context.Background(), cabinet)
		require.NoError(t, err)
		assert.Equal(t, 0, inserted)
		assert.Equal(t, "Completed", txs.get("order-1", "cab-1").Status)
	})

	t.Run("seen cache short-circuits completed repeats", func(t *testing.T) {
		client := &fakeExchangeClient{pages: map[int][]types.RawTrade{
			1: {completedSell("order-1")},
		}}
		accounts := newFakeAccounts(testUserAccount())
		txs := newFakeTransactions()
		cache := newFakeSeenCache()

		w := newTestSyncWorker(t, accounts, txs, cache, client)
		_, err := w.SyncAccount(context.Background(), testUserAccount())
		require.NoError(t, err)

		txs.mu.Lock()
		findsAfterFirst := txs.findCalls
		txs.mu.Unlock()

		_, err = w.SyncAccount(context.Background(), testUserAccount())
		require.NoError(t, err)

		txs.mu.Lock()
		findsAfterSecond := txs.findCalls
		txs.mu.Unlock()

		// The repeat was answered from the cache without a store lookup.
		assert.Equal(t, findsAfterFirst, findsAfterSecond)
	})

	t.Run("duplicate insert race falls back to the store conflict", func(t *testing.T) {
		client := &fakeExchangeClient{pages: map[int][]types.RawTrade{
			1: {completedSell("order-1"), completedSell("order-1")},
		}}
		accounts := newFakeAccounts(testUserAccount())
		txs := newFakeTransactions()

		w := newTestSyncWorker(t, accounts, txs, nil, client)
		inserted, err := w.SyncAccount(context.Background(), testUserAccount())
		require.NoError(t, err)

		assert.Equal(t, 1, inserted)
		assert.Equal(t, 1, txs.count())
	})

	t.Run("skips accounts without credentials", func(t *testing.T) {
		account := &models.Account{ID: "acc-empty", Kind: models.KindUser}
		// A clock-failing client proves the exchange is never contacted.
		client := &fakeExchangeClient{clockErr: errors.New("must not be called")}
		accounts := newFakeAccounts(account)
		txs := newFakeTransactions()

		w := newTestSyncWorker(t, accounts, txs, nil, client)
		inserted, err := w.SyncAccount(context.Background(), account)
		require.NoError(t, err)
		assert.Equal(t, 0, inserted)
		assert.Equal(t, 0, txs.count())
	})
}

func TestStatusForOutcome(t *testing.T) {
	tests := []struct {
		name     string
		inserted int
		err      error
		want     string
	}{
		{"error outcome", 0, errors.New("boom"), "Error: boom"},
		{"saved outcome", 3, nil, "Success: saved 3 new transactions"},
		{"empty outcome", 0, nil, "No new transactions found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForOutcome(tt.inserted, tt.err); got != tt.want {
				t.Errorf("statusForOutcome() = %v, want %v", got, tt.want)
			}
		})
	}
}
