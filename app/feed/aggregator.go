package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/trend-comb/app/content"
	"github.com/lysyi3m/trend-comb/app/metrics"
	"github.com/lysyi3m/trend-comb/app/source"
)

const (
	DefaultLimit    = 50
	MaxLimit        = 100
	DefaultDeadline = 15 * time.Second
)

var ErrAggregationFailed = errors.New("aggregation failed")

// Fetcher is the slice of source.Source the aggregator needs.
type Fetcher interface {
	Name() string
	Type() content.Provider
	Fetch(ctx context.Context, q source.Query) ([]content.Item, error)
}

type Query struct {
	Window   content.Window
	Category content.Category // empty means every category
	Limit    int
}

// Outcome is the tagged result of one source during a fan-out.
type Outcome struct {
	Source   string
	Provider content.Provider
	Items    []content.Item
	Err      error
}

type Result struct {
	Items    []content.Item
	Outcomes []Outcome
	Degraded bool
}

// FailedSources lists the names of sources that failed, in name order.
func (r *Result) FailedSources() []string {
	var failed []string
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o.Source)
		}
	}
	return failed
}

type Aggregator struct {
	fetchers func() []Fetcher
	index    *Index
	deadline time.Duration
	now      func() time.Time
}

func NewAggregator(registry *source.Registry, index *Index, deadline time.Duration) *Aggregator {
	return NewAggregatorWithFetchers(func() []Fetcher {
		sources := registry.Sources()
		fetchers := make([]Fetcher, len(sources))
		for i, s := range sources {
			fetchers[i] = s
		}
		return fetchers
	}, index, deadline, time.Now)
}

// NewAggregatorWithFetchers builds an aggregator over an arbitrary fetcher
// list. index may be nil, in which case results are not indexed.
func NewAggregatorWithFetchers(fetchers func() []Fetcher, index *Index, deadline time.Duration, now func() time.Time) *Aggregator {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Aggregator{
		fetchers: fetchers,
		index:    index,
		deadline: deadline,
		now:      now,
	}
}

// GetTrendingFeed returns the ranked feed for q.
func (a *Aggregator) GetTrendingFeed(ctx context.Context, q Query) ([]content.Item, error) {
	result, err := a.Run(ctx, q)
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

// Run fans out to every source concurrently, tolerates partial failure and
// returns the merged, deduplicated, filtered, ranked and bounded feed
// along with the per-source outcomes.
func (a *Aggregator) Run(ctx context.Context, q Query) (*Result, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, err
	}

	fetchers := a.fetchers()
	sort.Slice(fetchers, func(i, j int) bool { return fetchers[i].Name() < fetchers[j].Name() })
	if len(fetchers) == 0 {
		metrics.ObserveAggregation("failed", 0)
		return nil, fmt.Errorf("%w: no sources registered", ErrAggregationFailed)
	}

	outcomes := a.fanOut(ctx, fetchers, q)

	var merged []content.Item
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
			continue
		}
		merged = append(merged, o.Items...)
	}

	if len(errs) == len(outcomes) {
		slog.Error("All sources failed", "sources", len(outcomes), "error", errors.Join(errs...))
		metrics.ObserveAggregation("failed", 0)
		return nil, fmt.Errorf("%w: %w", ErrAggregationFailed, errors.Join(errs...))
	}

	now := a.now()
	items := Dedup(merged)
	items = Filter(items, q.Window, q.Category, now)
	Rank(items)
	if len(items) > q.Limit {
		items = items[:q.Limit]
	}

	result := &Result{
		Items:    items,
		Outcomes: outcomes,
		Degraded: len(errs) > 0,
	}

	if a.index != nil {
		a.index.Put(ctx, items)
	}

	outcome := "ok"
	if result.Degraded {
		outcome = "degraded"
		slog.Warn("Feed aggregated with failed sources", "failed", result.FailedSources(), "items", len(items))
	}
	metrics.ObserveAggregation(outcome, len(items))

	slog.Debug("Feed aggregated",
		"window", q.Window,
		"category", q.Category,
		"merged", len(merged),
		"returned", len(items))

	return result, nil
}

// fanOut runs every fetcher concurrently under the overall deadline. The
// outcome slice is indexed like fetchers, so arrival order never leaks
// into the result.
func (a *Aggregator) fanOut(ctx context.Context, fetchers []Fetcher, q Query) []Outcome {
	fanCtx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	outcomes := make([]Outcome, len(fetchers))
	var g errgroup.Group
	for i, f := range fetchers {
		g.Go(func() error {
			items, err := f.Fetch(fanCtx, source.Query{Category: q.Category})
			outcomes[i] = Outcome{Source: f.Name(), Provider: f.Type(), Items: items, Err: err}
			return nil
		})
	}
	g.Wait()

	return outcomes
}

func normalizeQuery(q Query) (Query, error) {
	if _, err := content.ParseWindow(string(q.Window)); err != nil {
		return q, err
	}
	if q.Category != "" {
		if _, err := content.ParseCategory(string(q.Category)); err != nil {
			return q, err
		}
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}
	return q, nil
}
