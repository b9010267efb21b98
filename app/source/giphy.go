package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/trend-comb/app/content"
)

const giphyTimeLayout = "2006-01-02 15:04:05"

type GiphyProvider struct {
	cfg    *Config
	http   *httpFetcher
	norm   *normalizer
	log    *slog.Logger
	getenv func(string) string
}

func NewGiphyProvider(cfg *Config, opts Options) *GiphyProvider {
	opts = opts.withDefaults()
	return &GiphyProvider{
		cfg:    cfg,
		http:   &httpFetcher{source: cfg.Name, client: opts.HTTPClient, userAgent: opts.UserAgent},
		norm:   newNormalizer(cfg, opts),
		log:    opts.Logger.With("adapter", "giphy", "source", cfg.Name),
		getenv: opts.Getenv,
	}
}

func (p *GiphyProvider) Type() content.Provider {
	return content.ProviderGiphy
}

type giphyTrending struct {
	Data []struct {
		ID               string `json:"id"`
		Title            string `json:"title"`
		URL              string `json:"url"`
		Slug             string `json:"slug"`
		TrendingDatetime string `json:"trending_datetime"`
		Images           struct {
			Original struct {
				URL string `json:"url"`
			} `json:"original"`
		} `json:"images"`
	} `json:"data"`
}

func (p *GiphyProvider) Fetch(ctx context.Context) ([]content.Item, error) {
	apiKey := ""
	if p.cfg.Auth.APIKeyEnv != "" {
		apiKey = p.getenv(p.cfg.Auth.APIKeyEnv)
	}
	if apiKey == "" {
		return nil, newError(p.cfg.Name, KindUnavailable, fmt.Errorf("api key not configured"))
	}

	reqURL, err := p.trendingURL(apiKey)
	if err != nil {
		return nil, newError(p.cfg.Name, KindUnavailable, err)
	}

	p.log.DebugContext(ctx, "giphy request", "limit", p.cfg.Settings.MaxItems)

	data, err := p.http.get(ctx, reqURL, nil)
	if err != nil {
		return nil, err
	}

	var trending giphyTrending
	if err := json.Unmarshal(data, &trending); err != nil {
		return nil, newError(p.cfg.Name, KindNormalization, fmt.Errorf("failed to decode trending: %w", err))
	}

	total := len(trending.Data)
	raws := make([]rawItem, 0, total)
	malformed := 0
	for position, gif := range trending.Data {
		if gif.ID == "" || gif.Images.Original.URL == "" {
			malformed++
			continue
		}
		raws = append(raws, rawItem{
			Title:     gif.Title,
			MediaURL:  gif.Images.Original.URL,
			SourceURL: gif.URL,
			Tags:      strings.Split(gif.Slug, "-"),
			CreatedAt: parseGiphyTime(gif.TrendingDatetime),
			Score:     content.PositionScore(position, total),
			HasScore:  true,
		})
		if len(raws) >= p.cfg.Settings.MaxItems {
			break
		}
	}

	return collect(ctx, p.cfg.Name, p.norm, p.log, raws, malformed)
}

func (p *GiphyProvider) trendingURL(apiKey string) (string, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse trending url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", apiKey)
	q.Set("limit", strconv.Itoa(min(max(p.cfg.Settings.MaxItems, 1), 50)))
	if q.Get("rating") == "" {
		q.Set("rating", "pg-13")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseGiphyTime returns the zero time for unset values, which Giphy
// reports as "0000-00-00 00:00:00".
func parseGiphyTime(v string) time.Time {
	if v == "" || strings.HasPrefix(v, "0000") {
		return time.Time{}
	}
	t, err := time.Parse(giphyTimeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
