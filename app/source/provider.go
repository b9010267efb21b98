package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lysyi3m/trend-comb/app/content"
	"github.com/lysyi3m/trend-comb/app/store"
)

// maxBodySize bounds provider payloads.
const maxBodySize = 8 << 20

// Provider fetches one upstream trending listing and normalizes it. It does
// no caching, rate limiting or circuit breaking; Source layers those on top.
type Provider interface {
	Type() content.Provider
	Fetch(ctx context.Context) ([]content.Item, error)
}

type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	Logger     *slog.Logger
	Now        func() time.Time
	Getenv     func(string) string
	Sightings  *Sightings
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.UserAgent == "" {
		o.UserAgent = "Trend Comb/1.0"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.Sightings == nil {
		o.Sightings = NewSightings(store.NewMemoryStore(), DefaultSightingTTL)
	}
	return o
}

func NewProvider(cfg *Config, opts Options) (Provider, error) {
	opts = opts.withDefaults()
	switch cfg.Type {
	case content.ProviderReddit:
		return NewRedditProvider(cfg, opts), nil
	case content.ProviderTwitter:
		return NewTwitterProvider(cfg, opts), nil
	case content.ProviderGiphy:
		return NewGiphyProvider(cfg, opts), nil
	case content.ProviderRSS:
		return NewRSSProvider(cfg, opts), nil
	}
	return nil, fmt.Errorf("unsupported source type '%s'", cfg.Type)
}

type httpFetcher struct {
	source    string
	client    *http.Client
	userAgent string
}

// get performs a GET and maps transport failures onto source error kinds.
func (f *httpFetcher) get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newError(f.source, KindUnavailable, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(f.source, KindTimeout, err)
		}
		return nil, newError(f.source, KindUnavailable, fmt.Errorf("failed to fetch: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, newError(f.source, KindRateLimited, fmt.Errorf("HTTP error: %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, newError(f.source, KindUnavailable, fmt.Errorf("HTTP error: %s", resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(f.source, KindTimeout, err)
		}
		return nil, newError(f.source, KindUnavailable, fmt.Errorf("failed to read response body: %w", err))
	}

	return data, nil
}

// collect normalizes raw items, skipping malformed ones. It fails only
// when there was something to normalize and none of it survived.
func collect(ctx context.Context, source string, n *normalizer, log *slog.Logger, raws []rawItem, malformed int) ([]content.Item, error) {
	items := make([]content.Item, 0, len(raws))
	for _, raw := range raws {
		item, err := n.normalize(ctx, raw)
		if err != nil {
			malformed++
			log.Debug("Skipping malformed item", "media_url", raw.MediaURL, "error", err)
			continue
		}
		items = append(items, item)
	}

	if len(items) == 0 && malformed > 0 {
		return nil, newError(source, KindNormalization, fmt.Errorf("all %d items were malformed", malformed))
	}
	if malformed > 0 {
		log.Debug("Skipped malformed items", "skipped", malformed, "kept", len(items))
	}
	return items, nil
}
