package exchange

import (
	"context"
	"time"

	"github.com/p2p-trade-sync/internal/logging"
	"github.com/p2p-trade-sync/internal/models"
	"github.com/p2p-trade-sync/internal/types"
	"golang.org/x/time/rate"
)

// TradePager is the page-fetch capability the strategy chain needs from a
// client.
type TradePager interface {
	FetchTradePage(ctx context.Context, page, size int, f Filters) ([]types.RawTrade, int, error)
}

// FetcherConfig tunes the fallback strategy chain.
type FetcherConfig struct {
	MaxPages       int           // page cap per strategy
	WindowDays     int           // lookback for the time-windowed strategy
	WindowPageSize int           // page size for the windowed strategy
	FallbackSize   int           // page size for the unwindowed strategy
	MinimalSize    int           // page size for the minimal strategy
	PagePacing     time.Duration // delay between page fetches
}

// DefaultFetcherConfig returns the fetch parameters used in production:
// 3-day window, 10-page cap, page sizes 20/10/5, 400ms between pages.
func DefaultFetcherConfig() *FetcherConfig {
	return &FetcherConfig{
		MaxPages:       10,
		WindowDays:     3,
		WindowPageSize: 20,
		FallbackSize:   10,
		MinimalSize:    5,
		PagePacing:     400 * time.Millisecond,
	}
}

// strategy is one query shape tried in the fallback order.
type strategy struct {
	name     string
	pageSize int
	maxPages int
	filters  Filters
}

// Fetcher retrieves all completed trades for an account despite an
// unreliable upstream: empty results for seemingly valid time windows are
// common and not necessarily true emptiness, so an ordered chain of query
// shapes is tried until one yields data.
type Fetcher struct {
	cfg     *FetcherConfig
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewFetcher creates a fetcher with the given configuration.
func NewFetcher(cfg *FetcherConfig, logger *logging.Logger) *Fetcher {
	if cfg == nil {
		cfg = DefaultFetcherConfig()
	}
	return &Fetcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.PagePacing), 1),
		logger:  logger.WithField("component", "fetcher"),
	}
}

// FetchCompleted runs the strategy chain against pager and returns the
// accumulated trades of the first strategy that produced any. Exhausting
// every strategy without data is a legitimate "no new transactions" outcome,
// reported as Success=false without an error.
func (f *Fetcher) FetchCompleted(ctx context.Context, pager TradePager) types.SyncResult {
	completed := types.StatusCompleted
	now := time.Now()

	strategies := []strategy{
		{
			name:     "windowed",
			pageSize: f.cfg.WindowPageSize,
			maxPages: f.cfg.MaxPages,
			filters: Filters{
				Status:    &completed,
				BeginTime: now.AddDate(0, 0, -f.cfg.WindowDays).UnixMilli(),
				EndTime:   now.UnixMilli(),
			},
		},
		{
			name:     "unwindowed",
			pageSize: f.cfg.FallbackSize,
			maxPages: f.cfg.MaxPages,
			filters:  Filters{Status: &completed},
		},
		{
			name:     "minimal",
			pageSize: f.cfg.MinimalSize,
			maxPages: 1,
			filters:  Filters{Status: &completed},
		},
	}

	for _, s := range strategies {
		trades := f.runStrategy(ctx, pager, s)
		if len(trades) > 0 {
			f.logger.WithFields(map[string]interface{}{
				"strategy": s.name,
				"trades":   len(trades),
			}).Info("fetch strategy succeeded")
			return types.SyncResult{Success: true, Trades: trades}
		}
		if ctx.Err() != nil {
			return types.SyncResult{Success: false, Message: ctx.Err().Error()}
		}
	}

	return types.SyncResult{Success: false, Message: "no trades returned by any strategy"}
}

// runStrategy paginates one query shape. An empty page or an error stops
// pagination immediately; later pages are never assumed to still hold data.
// Whatever was accumulated before the stop is returned.
func (f *Fetcher) runStrategy(ctx context.Context, pager TradePager, s strategy) []types.RawTrade {
	var trades []types.RawTrade

	for page := 1; page <= s.maxPages; page++ {
		if page > 1 {
			if err := f.limiter.Wait(ctx); err != nil {
				return trades
			}
		}

		items, total, err := pager.FetchTradePage(ctx, page, s.pageSize, s.filters)
		if err != nil {
			f.logger.WithError(err).WithFields(map[string]interface{}{
				"strategy": s.name,
				"page":     page,
			}).Warn("page fetch failed, abandoning strategy")
			return trades
		}
		if len(items) == 0 {
			return trades
		}

		trades = append(trades, items...)

		// Short page or reported total reached means exhaustion.
		if len(items) < s.pageSize || (total > 0 && len(trades) >= total) {
			return trades
		}
	}

	return trades
}

// FilterPersistable keeps the trades eligible for persistence. User accounts
// keep completed sell orders only; cabinet accounts keep both sides and
// retain appealing orders (code 30) alongside completed ones.
func FilterPersistable(trades []types.RawTrade, kind models.AccountKind) []types.RawTrade {
	kept := make([]types.RawTrade, 0, len(trades))
	for _, t := range trades {
		switch kind {
		case models.KindCabinet:
			if t.Status == types.StatusCompleted || t.Status == types.StatusAppealing {
				kept = append(kept, t)
			}
		default:
			if t.Status == types.StatusCompleted && types.Side(t.Side) == types.SideSell {
				kept = append(kept, t)
			}
		}
	}
	return kept
}
