package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"golang.org/x/sync/singleflight"

	"github.com/lysyi3m/trend-comb/app/cache"
	"github.com/lysyi3m/trend-comb/app/content"
	"github.com/lysyi3m/trend-comb/app/metrics"
	"github.com/lysyi3m/trend-comb/app/ratelimit"
)

// Source wraps a Provider with caching, rate limiting, a circuit breaker
// and request collapsing. It is the unit the aggregator fans out to.
type Source struct {
	cfg      *Config
	provider Provider
	limiter  *ratelimit.Limiter
	cache    *cache.ResponseCache
	breaker  circuitbreaker.CircuitBreaker[[]content.Item]
	group    singleflight.Group
	log      *slog.Logger
}

func NewSource(cfg *Config, provider Provider, limiter *ratelimit.Limiter, rc *cache.ResponseCache, logger *slog.Logger) *Source {
	applyDefaults(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("source", cfg.Name)

	breaker := circuitbreaker.NewBuilder[[]content.Item]().
		HandleIf(func(_ []content.Item, err error) bool {
			// upstream answered; a bad payload says nothing about availability
			return err != nil && !errors.Is(err, ErrNormalization) && !errors.Is(err, context.Canceled)
		}).
		WithFailureThreshold(uint(cfg.Settings.Breaker.FailureThreshold)).
		WithDelay(cfg.Settings.Breaker.DelayDuration()).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			log.Warn("Circuit breaker state change",
				"from_state", stateName(event.OldState),
				"to_state", stateName(event.NewState))
			metrics.SetBreakerOpen(cfg.Name, event.NewState == circuitbreaker.OpenState)
		}).
		Build()

	return &Source{
		cfg:      cfg,
		provider: provider,
		limiter:  limiter,
		cache:    rc,
		breaker:  breaker,
		log:      log,
	}
}

func (s *Source) Name() string {
	return s.cfg.Name
}

func (s *Source) Type() content.Provider {
	return s.provider.Type()
}

func (s *Source) Config() *Config {
	return s.cfg
}

func (s *Source) RefreshInterval() time.Duration {
	return s.cfg.Settings.RefreshDuration()
}

// RateLimitRemaining reports how many upstream calls the source may still
// make in the current rate-limit window.
func (s *Source) RateLimitRemaining() int {
	limit := s.cfg.Settings.RateLimit
	return s.limiter.Remaining(s.cfg.Name, limit.Limit, limit.WindowDuration())
}

func (s *Source) BreakerState() string {
	return stateName(s.breaker.State())
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

func (s *Source) cacheKey() string {
	return cache.Key(s.cfg.Name, "trending")
}

// Fetch returns the source's current trending items narrowed by q. Cached
// results are served first; on a failed live fetch the last-known-good
// listing is served when one exists.
func (s *Source) Fetch(ctx context.Context, q Query) ([]content.Item, error) {
	if items, ok := s.cache.Get(ctx, s.cacheKey()); ok {
		metrics.ObserveSourceFetch(s.cfg.Name, "cache_hit")
		return filterItems(items, q), nil
	}

	items, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return filterItems(items, q), nil
}

// Refresh skips the fresh cache and fetches upstream, repopulating the
// cache. Returns the number of items now cached.
func (s *Source) Refresh(ctx context.Context) (int, error) {
	items, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// load collapses concurrent upstream fetches into one call. The caller
// may give up early; the shared fetch still completes and fills the cache.
func (s *Source) load(ctx context.Context) ([]content.Item, error) {
	ch := s.group.DoChan(s.cacheKey(), func() (any, error) {
		return s.fetchUpstream(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]content.Item), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(s.cfg.Name, KindTimeout, ctx.Err())
		}
		return nil, newError(s.cfg.Name, KindUnavailable, ctx.Err())
	}
}

func (s *Source) fetchUpstream(ctx context.Context) ([]content.Item, error) {
	settings := s.cfg.Settings

	if !s.limiter.TryAcquire(s.cfg.Name, settings.RateLimit.Limit, settings.RateLimit.WindowDuration()) {
		return s.fallback(ctx, newError(s.cfg.Name, KindRateLimited, nil))
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settings.TimeoutDuration())
	defer cancel()

	start := time.Now()
	items, err := failsafe.With(s.breaker).WithContext(fetchCtx).Get(func() ([]content.Item, error) {
		return s.provider.Fetch(fetchCtx)
	})
	metrics.ObserveSourceLatency(s.cfg.Name, time.Since(start))

	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return s.fallback(ctx, newError(s.cfg.Name, KindUnavailable, err))
		}
		return s.fallback(ctx, asSourceError(s.cfg.Name, err))
	}

	s.cache.Set(fetchCtx, s.cacheKey(), items, settings.CacheTTLDuration())
	metrics.ObserveSourceFetch(s.cfg.Name, "fresh")

	s.log.Debug("Source fetched", "items", len(items), "duration", time.Since(start))

	return items, nil
}

func (s *Source) fallback(ctx context.Context, cause *Error) ([]content.Item, error) {
	if items, ok := s.cache.LastKnownGood(ctx, s.cacheKey()); ok {
		s.log.Warn("Serving last-known-good items", "reason", cause.Kind, "error", cause, "items", len(items))
		metrics.ObserveSourceFetch(s.cfg.Name, "stale")
		return items, nil
	}

	s.log.Warn("Source fetch failed", "kind", cause.Kind, "error", cause)
	metrics.ObserveSourceFetch(s.cfg.Name, string(cause.Kind))
	return nil, cause
}

func filterItems(items []content.Item, q Query) []content.Item {
	filtered := make([]content.Item, 0, len(items))
	for _, item := range items {
		if q.matches(item) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
