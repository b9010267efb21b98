package api

import (
	"context"
	"time"

	"github.com/lysyi3m/trend-comb/app/content"
	"github.com/lysyi3m/trend-comb/app/feed"
	"github.com/lysyi3m/trend-comb/app/ledger"
	"github.com/lysyi3m/trend-comb/app/publish"
	"github.com/lysyi3m/trend-comb/app/source"
	"github.com/lysyi3m/trend-comb/app/store"
	"github.com/lysyi3m/trend-comb/app/tasks"
)

type FeedRunner interface {
	Run(ctx context.Context, q feed.Query) (*feed.Result, error)
}

type ItemIndex interface {
	Get(ctx context.Context, id string) (content.Item, error)
	Save(ctx context.Context, account, id string) (content.Item, error)
	Unsave(ctx context.Context, account, id string) error
	Saved(ctx context.Context, account string) ([]content.Item, error)
}

type BalanceLedger interface {
	Snapshot(ctx context.Context, account string) (*ledger.Snapshot, error)
	Credit(ctx context.Context, account string, amount int64) (int64, error)
}

type Publisher interface {
	Publish(ctx context.Context, req publish.Request) (*publish.Receipt, error)
	Cost() int64
}

var (
	_ FeedRunner    = (*feed.Aggregator)(nil)
	_ ItemIndex     = (*feed.Index)(nil)
	_ BalanceLedger = (*ledger.Ledger)(nil)
	_ Publisher     = (*publish.Coordinator)(nil)
)

type Handler struct {
	aggregator  FeedRunner
	index       ItemIndex
	ledger      BalanceLedger
	publisher   Publisher
	configCache *source.ConfigCache
	registry    *source.Registry
	scheduler   tasks.TaskSchedulerInterface
	store       store.Store
	now         func() time.Time
}

type feedResponse struct {
	Items         []content.Item `json:"items"`
	Count         int            `json:"count"`
	Window        content.Window `json:"window"`
	Category      string         `json:"category,omitempty"`
	Degraded      bool           `json:"degraded"`
	FailedSources []string       `json:"failed_sources,omitempty"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

type creditRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

type purchaseRequest struct {
	USD     float64 `json:"usd"`
	Package string  `json:"package"`
}

type publishRequest struct {
	ItemID      string `json:"item_id" binding:"required"`
	Destination string `json:"destination"`
	Caption     string `json:"caption"`
}

type sourceInfo struct {
	Name            string           `json:"name"`
	Type            content.Provider `json:"type"`
	URL             string           `json:"url"`
	Enabled         bool             `json:"enabled"`
	Registered      bool             `json:"registered"`
	BreakerState    string           `json:"breaker_state,omitempty"`
	RateLimit       int              `json:"rate_limit"`
	RateRemaining   *int             `json:"rate_limit_remaining,omitempty"`
	RefreshInterval string           `json:"refresh_interval"`
	CacheTTL        string           `json:"cache_ttl"`
	MaxItems        int              `json:"max_items"`
}
