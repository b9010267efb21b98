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

const redditBaseURL = "https://www.reddit.com"

type RedditProvider struct {
	cfg  *Config
	http *httpFetcher
	norm *normalizer
	log  *slog.Logger
}

func NewRedditProvider(cfg *Config, opts Options) *RedditProvider {
	opts = opts.withDefaults()
	return &RedditProvider{
		cfg:  cfg,
		http: &httpFetcher{source: cfg.Name, client: opts.HTTPClient, userAgent: opts.UserAgent},
		norm: newNormalizer(cfg, opts),
		log:  opts.Logger.With("adapter", "reddit", "source", cfg.Name),
	}
}

func (p *RedditProvider) Type() content.Provider {
	return content.ProviderReddit
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Permalink     string  `json:"permalink"`
	Subreddit     string  `json:"subreddit"`
	LinkFlairText string  `json:"link_flair_text"`
	Ups           int64   `json:"ups"`
	NumComments   int64   `json:"num_comments"`
	CreatedUTC    float64 `json:"created_utc"`
	IsSelf        bool    `json:"is_self"`
	IsVideo       bool    `json:"is_video"`
	Over18        bool    `json:"over_18"`
	PostHint      string  `json:"post_hint"`
}

func (p *RedditProvider) Fetch(ctx context.Context) ([]content.Item, error) {
	reqURL, err := p.listingURL()
	if err != nil {
		return nil, newError(p.cfg.Name, KindUnavailable, err)
	}

	p.log.DebugContext(ctx, "reddit request", "url", reqURL)

	data, err := p.http.get(ctx, reqURL, nil)
	if err != nil {
		return nil, err
	}

	var listing redditListing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, newError(p.cfg.Name, KindNormalization, fmt.Errorf("failed to decode listing: %w", err))
	}

	raws := make([]rawItem, 0, len(listing.Data.Children))
	malformed := 0
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.IsSelf || post.IsVideo || post.Over18 || !isImageLink(post) {
			continue
		}
		if post.ID == "" || post.CreatedUTC <= 0 {
			malformed++
			continue
		}

		sec, frac := splitUnix(post.CreatedUTC)
		raws = append(raws, rawItem{
			Title:      post.Title,
			MediaURL:   post.URL,
			SourceURL:  redditBaseURL + post.Permalink,
			Tags:       []string{post.Subreddit, post.LinkFlairText},
			CreatedAt:  time.Unix(sec, frac),
			Engagement: max(post.Ups, 0) + 2*max(post.NumComments, 0),
		})
		if len(raws) >= p.cfg.Settings.MaxItems {
			break
		}
	}

	return collect(ctx, p.cfg.Name, p.norm, p.log, raws, malformed)
}

func (p *RedditProvider) listingURL() (string, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse listing url: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(min(max(p.cfg.Settings.MaxItems, 1), 100)))
	q.Set("raw_json", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var imageExtensions = []string{".gif", ".gifv", ".jpg", ".jpeg", ".png", ".webp"}

func isImageLink(post redditPost) bool {
	if post.PostHint == "image" {
		return true
	}
	path := strings.ToLower(post.URL)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func splitUnix(ts float64) (int64, int64) {
	sec := int64(ts)
	return sec, int64((ts - float64(sec)) * 1e9)
}
