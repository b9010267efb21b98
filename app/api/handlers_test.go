package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/trend-comb/app/cache"
	"github.com/lysyi3m/trend-comb/app/content"
	"github.com/lysyi3m/trend-comb/app/feed"
	"github.com/lysyi3m/trend-comb/app/ledger"
	"github.com/lysyi3m/trend-comb/app/publish"
	"github.com/lysyi3m/trend-comb/app/ratelimit"
	"github.com/lysyi3m/trend-comb/app/source"
	"github.com/lysyi3m/trend-comb/app/store"
	"github.com/lysyi3m/trend-comb/app/tasks"
)

const testAPIKey = "test-key"

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type stubFetcher struct {
	items []content.Item
	err   error
}

func (f *stubFetcher) Name() string           { return "giphy" }
func (f *stubFetcher) Type() content.Provider { return content.ProviderGiphy }

func (f *stubFetcher) Fetch(ctx context.Context, q source.Query) ([]content.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	var items []content.Item
	for _, item := range f.items {
		if q.Category == "" || item.Category == q.Category {
			items = append(items, item)
		}
	}
	return items, nil
}

type stubTransport struct {
	err error
}

func (t *stubTransport) Publish(ctx context.Context, destination string, payload publish.Payload) error {
	return t.err
}

type stubScheduler struct {
	enqueued []tasks.TaskInterface
	err      error
}

func (s *stubScheduler) Start() {}
func (s *stubScheduler) Stop()  {}

func (s *stubScheduler) EnqueueTask(task tasks.TaskInterface) error {
	if s.err != nil {
		return s.err
	}
	s.enqueued = append(s.enqueued, task)
	return nil
}

type harness struct {
	router    *gin.Engine
	fetcher   *stubFetcher
	transport *stubTransport
	scheduler *stubScheduler
	store     *store.MemoryStore
	ledger    *ledger.Ledger
}

func testItems() []content.Item {
	return []content.Item{
		{
			ID:                 "item-crypto",
			SourceProvider:     content.ProviderGiphy,
			Category:           content.CategoryCrypto,
			MediaURL:           "https://media.example.com/moon.gif",
			DiscoveredAt:       testNow.Add(-10 * time.Minute),
			ViralityScore:      90,
			CaptionSuggestions: []string{"wen moon"},
		},
		{
			ID:                 "item-general",
			SourceProvider:     content.ProviderGiphy,
			Category:           content.CategoryGeneral,
			MediaURL:           "https://media.example.com/cat.gif",
			DiscoveredAt:       testNow.Add(-20 * time.Minute),
			ViralityScore:      60,
			CaptionSuggestions: []string{"mood"},
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	body := "type: giphy\nurl: \"https://api.giphy.com/v1/gifs/trending\"\nsettings:\n  enabled: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "giphy.yml"), []byte(body), 0644))

	configCache := source.NewConfigCache(dir)
	require.NoError(t, configCache.Run())

	st := store.NewMemoryStore()
	registry := source.NewRegistry(ratelimit.NewLimiter(), cache.NewResponseCache(st, time.Hour), source.Options{})
	require.NoError(t, registry.Apply(mustConfig(t, configCache, "giphy")))

	fetcher := &stubFetcher{items: testItems()}
	index := feed.NewIndex(st, time.Hour)
	aggregator := feed.NewAggregatorWithFetchers(func() []feed.Fetcher { return []feed.Fetcher{fetcher} }, index, time.Second, func() time.Time { return testNow })

	l := ledger.New(st)
	transport := &stubTransport{}
	coordinator := publish.NewCoordinator(l, transport, 1)
	scheduler := &stubScheduler{}

	handler := NewHandler(aggregator, index, l, coordinator, configCache, registry, scheduler, st)
	handler.now = func() time.Time { return testNow }

	return &harness{
		router:    NewServer(handler, testAPIKey),
		fetcher:   fetcher,
		transport: transport,
		scheduler: scheduler,
		store:     st,
		ledger:    l,
	}
}

func mustConfig(t *testing.T, cc *source.ConfigCache, name string) *source.Config {
	t.Helper()
	cfg, err := cc.GetConfig(name)
	require.NoError(t, err)
	return cfg
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if strings.HasPrefix(path, "/api") {
		req.Header.Set("X-API-Key", testAPIKey)
	}
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestGetFeed(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodGet, "/feed?window=1h", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "2", resp.Header().Get("X-Feed-Items"))

	var body feedResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Items, 2)
	assert.Equal(t, "item-crypto", body.Items[0].ID)
	assert.False(t, body.Degraded)

	resp = h.do(http.MethodGet, "/feed?category=general&limit=1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "item-general", body.Items[0].ID)
}

func TestGetFeedInvalidInput(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{
		"/feed?window=2h",
		"/feed?category=cats",
		"/feed?limit=abc",
		"/feed?limit=-5",
	} {
		resp := h.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, resp.Code, path)
	}
}

func TestGetFeedAggregationFailed(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = source.ErrProviderUnavailable

	resp := h.do(http.MethodGet, "/feed", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestAPIRequiresKey(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp = httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAPIListSources(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodGet, "/api/sources", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	body := decode(t, resp)
	assert.Equal(t, float64(1), body["total"])
	sources := body["sources"].([]any)
	first := sources[0].(map[string]any)
	assert.Equal(t, "giphy", first["name"])
	assert.Equal(t, true, first["registered"])
	assert.Equal(t, "closed", first["breaker_state"])
	assert.Equal(t, float64(30), first["rate_limit"])
	assert.Equal(t, float64(30), first["rate_limit_remaining"])
}

func TestAPIReloadSource(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodPost, "/api/sources/giphy/reload", nil)
	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Len(t, h.scheduler.enqueued, 1)
	assert.Equal(t, tasks.TaskTypeSyncSourceConfig, h.scheduler.enqueued[0].GetType())

	resp = h.do(http.MethodPost, "/api/sources/unknown/reload", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	h.scheduler.err = errors.New("task queue is full")
	resp = h.do(http.MethodPost, "/api/sources/giphy/reload", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestAPIBalanceAndCredits(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodGet, "/api/accounts/fid-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(ledger.DefaultBalance), decode(t, resp)["balance"])

	resp = h.do(http.MethodPost, "/api/accounts/fid-1/credits", map[string]any{"amount": 10})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(15), decode(t, resp)["balance"])

	resp = h.do(http.MethodPost, "/api/accounts/fid-1/credits", map[string]any{"amount": -10})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.do(http.MethodPost, "/api/accounts/fid-1/purchase", map[string]any{"usd": 50})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(565), decode(t, resp)["balance"])

	resp = h.do(http.MethodPost, "/api/accounts/fid-1/purchase", map[string]any{"package": "small"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(665), decode(t, resp)["balance"])

	resp = h.do(http.MethodPost, "/api/accounts/fid-1/purchase", map[string]any{"package": "mega"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.do(http.MethodGet, "/api/credit-packages", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode(t, resp)["packages"], 3)
}

func TestAPIPublish(t *testing.T) {
	h := newHarness(t)

	// items become resolvable once served in a feed
	resp := h.do(http.MethodPost, "/api/accounts/fid-1/publish", map[string]any{"item_id": "item-crypto"})
	require.Equal(t, http.StatusNotFound, resp.Code)

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/feed", nil).Code)

	resp = h.do(http.MethodPost, "/api/accounts/fid-1/publish", map[string]any{"item_id": "item-crypto"})
	require.Equal(t, http.StatusOK, resp.Code)
	receipt := decode(t, resp)["receipt"].(map[string]any)
	assert.Equal(t, string(publish.StatePublished), receipt["state"])
	assert.Equal(t, "wen moon", receipt["caption"])

	balance, err := h.ledger.GetBalance(context.Background(), "fid-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), balance)
}

func TestAPIPublishFailureIsCompensated(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/feed", nil).Code)

	h.transport.err = &publish.TransportError{Reason: publish.ReasonUnavailable, StatusCode: 503}

	resp := h.do(http.MethodPost, "/api/accounts/fid-1/publish", map[string]any{"item_id": "item-general"})
	require.Equal(t, http.StatusBadGateway, resp.Code)
	receipt := decode(t, resp)["receipt"].(map[string]any)
	assert.Equal(t, string(publish.StateRolledBack), receipt["state"])

	snap, err := h.ledger.Snapshot(context.Background(), "fid-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Balance)
	assert.Empty(t, snap.Reservations)
}

func TestAPIPublishNeedsTopUp(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/feed", nil).Code)

	for i := 0; i < ledger.DefaultBalance; i++ {
		resp := h.do(http.MethodPost, "/api/accounts/fid-1/publish", map[string]any{"item_id": "item-general"})
		require.Equal(t, http.StatusOK, resp.Code)
	}

	resp := h.do(http.MethodPost, "/api/accounts/fid-1/publish", map[string]any{"item_id": "item-general"})
	assert.Equal(t, http.StatusPaymentRequired, resp.Code)

	resp = h.do(http.MethodPost, "/api/accounts/fid-1/publish", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAPISavedItems(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/feed", nil).Code)

	resp := h.do(http.MethodPost, "/api/accounts/fid-1/saved/item-crypto", nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = h.do(http.MethodPost, "/api/accounts/fid-1/saved/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = h.do(http.MethodGet, "/api/accounts/fid-1/saved", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(1), decode(t, resp)["count"])

	resp = h.do(http.MethodDelete, "/api/accounts/fid-1/saved/item-crypto", nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)

	resp = h.do(http.MethodGet, "/api/accounts/fid-1/saved", nil)
	assert.Equal(t, float64(0), decode(t, resp)["count"])
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["sources"])

	h.store.FailWith(errors.New("store offline"))
	resp = h.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "go_goroutines")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{publish.ErrNeedsTopUp, http.StatusPaymentRequired},
		{publish.ErrPublishFailed, http.StatusBadGateway},
		{publish.ErrRollbackFailed, http.StatusBadGateway},
		{feed.ErrAggregationFailed, http.StatusServiceUnavailable},
		{ledger.ErrUnknownReservation, http.StatusNotFound},
		{ledger.ErrInvalidAmount, http.StatusBadRequest},
		{ledger.ErrReservationResolved, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
