package source

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/trend-comb/app/cache"
	"github.com/lysyi3m/trend-comb/app/content"
	"github.com/lysyi3m/trend-comb/app/ratelimit"
	"github.com/lysyi3m/trend-comb/app/store"
)

type fakeProvider struct {
	typ   content.Provider
	calls atomic.Int32
	fetch func(ctx context.Context) ([]content.Item, error)
}

func (p *fakeProvider) Type() content.Provider {
	return p.typ
}

func (p *fakeProvider) Fetch(ctx context.Context) ([]content.Item, error) {
	p.calls.Add(1)
	return p.fetch(ctx)
}

func fakeItems() []content.Item {
	return []content.Item{
		{ID: "a", SourceProvider: content.ProviderGiphy, Category: content.CategoryCrypto, DiscoveredAt: testNow, ViralityScore: 90, CaptionSuggestions: []string{"a"}},
		{ID: "b", SourceProvider: content.ProviderGiphy, Category: content.CategoryGeneral, DiscoveredAt: testNow, ViralityScore: 40, CaptionSuggestions: []string{"b"}},
	}
}

func newTestSource(t *testing.T, cfg *Config, p Provider) (*Source, *cache.ResponseCache) {
	t.Helper()
	rc := cache.NewResponseCache(store.NewMemoryStore(), time.Hour)
	return NewSource(cfg, p, ratelimit.NewLimiter(), rc, newTestLogger()), rc
}

func TestSourceServesFromCache(t *testing.T) {
	p := &fakeProvider{typ: content.ProviderGiphy, fetch: func(context.Context) ([]content.Item, error) {
		return fakeItems(), nil
	}}
	s, _ := newTestSource(t, testConfig("giphy", content.ProviderGiphy, "http://unused"), p)

	for i := 0; i < 3; i++ {
		items, err := s.Fetch(context.Background(), Query{})
		require.NoError(t, err)
		assert.Len(t, items, 2)
	}
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestSourceQueryFiltersCategory(t *testing.T) {
	p := &fakeProvider{typ: content.ProviderGiphy, fetch: func(context.Context) ([]content.Item, error) {
		return fakeItems(), nil
	}}
	s, _ := newTestSource(t, testConfig("giphy", content.ProviderGiphy, "http://unused"), p)

	items, err := s.Fetch(context.Background(), Query{Category: content.CategoryCrypto})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
}

func TestSourceRateLimitedFallsBackToLastKnownGood(t *testing.T) {
	p := &fakeProvider{typ: content.ProviderGiphy, fetch: func(context.Context) ([]content.Item, error) {
		return fakeItems(), nil
	}}
	cfg := testConfig("giphy", content.ProviderGiphy, "http://unused")
	cfg.Settings.RateLimit = ConfigRateLimit{Limit: 1, Window: 3600}
	s, rc := newTestSource(t, cfg, p)
	ctx := context.Background()

	_, err := s.Fetch(ctx, Query{})
	require.NoError(t, err)

	rc.Invalidate(ctx, s.cacheKey())

	items, err := s.Fetch(ctx, Query{})
	require.NoError(t, err, "last-known-good should be served when rate limited")
	assert.Len(t, items, 2)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestSourceRateLimitedWithoutFallback(t *testing.T) {
	p := &fakeProvider{typ: content.ProviderGiphy, fetch: func(context.Context) ([]content.Item, error) {
		return fakeItems(), nil
	}}
	cfg := testConfig("giphy", content.ProviderGiphy, "http://unused")
	cfg.Settings.RateLimit = ConfigRateLimit{Limit: 1, Window: 3600}

	limiter := ratelimit.NewLimiter()
	limiter.TryAcquire("giphy", 1, time.Hour)

	s := NewSource(cfg, p, limiter, cache.NewResponseCache(nil, time.Hour), newTestLogger())
	_, err := s.Fetch(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestSourceBreakerOpensAfterFailures(t *testing.T) {
	p := &fakeProvider{typ: content.ProviderReddit, fetch: func(context.Context) ([]content.Item, error) {
		return nil, newError("reddit", KindUnavailable, nil)
	}}
	cfg := testConfig("reddit", content.ProviderReddit, "http://unused")
	cfg.Settings.Breaker = ConfigBreaker{FailureThreshold: 2, Delay: 600}
	cfg.Settings.RateLimit = ConfigRateLimit{Limit: 100, Window: 60}
	s, _ := newTestSource(t, cfg, p)

	for i := 0; i < 2; i++ {
		_, err := s.Fetch(context.Background(), Query{})
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	}

	_, err := s.Fetch(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int32(2), p.calls.Load(), "open breaker must not call upstream")
	assert.Equal(t, "open", s.BreakerState())
}

func TestSourceNormalizationFailureDoesNotTripBreaker(t *testing.T) {
	p := &fakeProvider{typ: content.ProviderReddit, fetch: func(context.Context) ([]content.Item, error) {
		return nil, newError("reddit", KindNormalization, nil)
	}}
	cfg := testConfig("reddit", content.ProviderReddit, "http://unused")
	cfg.Settings.Breaker = ConfigBreaker{FailureThreshold: 1, Delay: 600}
	s, _ := newTestSource(t, cfg, p)

	for i := 0; i < 3; i++ {
		_, err := s.Fetch(context.Background(), Query{})
		assert.ErrorIs(t, err, ErrNormalization)
	}
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestSourceCollapsesConcurrentFetches(t *testing.T) {
	release := make(chan struct{})
	p := &fakeProvider{typ: content.ProviderRSS, fetch: func(context.Context) ([]content.Item, error) {
		<-release
		return fakeItems(), nil
	}}
	s, _ := newTestSource(t, testConfig("rss", content.ProviderRSS, "http://unused"), p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := s.Fetch(context.Background(), Query{})
			assert.NoError(t, err)
			assert.Len(t, items, 2)
		}()
	}

	// give the goroutines time to join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
}

func TestSourceCallerDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := &fakeProvider{typ: content.ProviderRSS, fetch: func(context.Context) ([]content.Item, error) {
		<-release
		return fakeItems(), nil
	}}
	s, _ := newTestSource(t, testConfig("rss", content.ProviderRSS, "http://unused"), p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Fetch(ctx, Query{})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRegistryApply(t *testing.T) {
	rc := cache.NewResponseCache(nil, time.Hour)
	r := NewRegistry(ratelimit.NewLimiter(), rc, testOptions(nil))

	cfg := testConfig("memes", content.ProviderRSS, "https://example.com/feed.xml")
	require.NoError(t, r.Apply(cfg))
	assert.Equal(t, 1, r.Count())

	s, ok := r.Get("memes")
	require.True(t, ok)
	assert.Equal(t, content.ProviderRSS, s.Type())

	cfg.Settings.Enabled = false
	require.NoError(t, r.Apply(cfg))
	assert.Equal(t, 0, r.Count())

	err := r.Apply(&Config{Name: "bad", Type: "tiktok", Settings: ConfigSettings{Enabled: true}})
	assert.Error(t, err)
}

func TestSourceRateLimitRemaining(t *testing.T) {
	p := &fakeProvider{typ: content.ProviderGiphy, fetch: func(context.Context) ([]content.Item, error) {
		return fakeItems(), nil
	}}
	cfg := testConfig("giphy", content.ProviderGiphy, "http://unused")
	cfg.Settings.RateLimit = ConfigRateLimit{Limit: 3, Window: 3600}
	s, _ := newTestSource(t, cfg, p)

	assert.Equal(t, 3, s.RateLimitRemaining())

	_, err := s.Fetch(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, s.RateLimitRemaining())
}

func TestRegistryUnregisterClearsRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter()
	r := NewRegistry(limiter, cache.NewResponseCache(nil, time.Hour), testOptions(nil))

	cfg := testConfig("memes", content.ProviderRSS, "https://example.com/feed.xml")
	cfg.Settings.RateLimit = ConfigRateLimit{Limit: 1, Window: 3600}
	require.NoError(t, r.Apply(cfg))
	require.True(t, limiter.TryAcquire("memes", 1, time.Hour))

	// reloading an enabled source keeps its window
	require.NoError(t, r.Apply(cfg))
	assert.Equal(t, 0, limiter.Remaining("memes", 1, time.Hour))

	cfg.Settings.Enabled = false
	require.NoError(t, r.Apply(cfg))
	assert.Equal(t, 1, limiter.Remaining("memes", 1, time.Hour))
}
