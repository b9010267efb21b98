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

type TwitterProvider struct {
	cfg    *Config
	http   *httpFetcher
	norm   *normalizer
	log    *slog.Logger
	getenv func(string) string
}

func NewTwitterProvider(cfg *Config, opts Options) *TwitterProvider {
	opts = opts.withDefaults()
	return &TwitterProvider{
		cfg:    cfg,
		http:   &httpFetcher{source: cfg.Name, client: opts.HTTPClient, userAgent: opts.UserAgent},
		norm:   newNormalizer(cfg, opts),
		log:    opts.Logger.With("adapter", "twitter", "source", cfg.Name),
		getenv: opts.Getenv,
	}
}

func (p *TwitterProvider) Type() content.Provider {
	return content.ProviderTwitter
}

type twitterSearch struct {
	Data []struct {
		ID            string `json:"id"`
		Text          string `json:"text"`
		CreatedAt     string `json:"created_at"`
		PublicMetrics struct {
			RetweetCount int64 `json:"retweet_count"`
			ReplyCount   int64 `json:"reply_count"`
			LikeCount    int64 `json:"like_count"`
			QuoteCount   int64 `json:"quote_count"`
		} `json:"public_metrics"`
		Attachments struct {
			MediaKeys []string `json:"media_keys"`
		} `json:"attachments"`
		Entities struct {
			Hashtags []struct {
				Tag string `json:"tag"`
			} `json:"hashtags"`
		} `json:"entities"`
	} `json:"data"`
	Includes struct {
		Media []struct {
			MediaKey        string `json:"media_key"`
			Type            string `json:"type"`
			URL             string `json:"url"`
			PreviewImageURL string `json:"preview_image_url"`
		} `json:"media"`
	} `json:"includes"`
}

func (p *TwitterProvider) Fetch(ctx context.Context) ([]content.Item, error) {
	token := ""
	if p.cfg.Auth.BearerTokenEnv != "" {
		token = p.getenv(p.cfg.Auth.BearerTokenEnv)
	}
	if token == "" {
		return nil, newError(p.cfg.Name, KindUnavailable, fmt.Errorf("bearer token not configured"))
	}

	reqURL, err := p.searchURL()
	if err != nil {
		return nil, newError(p.cfg.Name, KindUnavailable, err)
	}

	p.log.DebugContext(ctx, "twitter request", "url", reqURL)

	data, err := p.http.get(ctx, reqURL, map[string]string{"Authorization": "Bearer " + token})
	if err != nil {
		return nil, err
	}

	var search twitterSearch
	if err := json.Unmarshal(data, &search); err != nil {
		return nil, newError(p.cfg.Name, KindNormalization, fmt.Errorf("failed to decode search: %w", err))
	}

	mediaURLs := make(map[string]string, len(search.Includes.Media))
	for _, m := range search.Includes.Media {
		if m.URL != "" {
			mediaURLs[m.MediaKey] = m.URL
		} else if m.PreviewImageURL != "" {
			mediaURLs[m.MediaKey] = m.PreviewImageURL
		}
	}

	raws := make([]rawItem, 0, len(search.Data))
	malformed := 0
	for _, tweet := range search.Data {
		if len(tweet.Attachments.MediaKeys) == 0 {
			continue
		}
		mediaURL := mediaURLs[tweet.Attachments.MediaKeys[0]]
		createdAt, err := time.Parse(time.RFC3339, tweet.CreatedAt)
		if tweet.ID == "" || mediaURL == "" || err != nil {
			malformed++
			continue
		}

		tags := make([]string, 0, len(tweet.Entities.Hashtags))
		for _, h := range tweet.Entities.Hashtags {
			tags = append(tags, h.Tag)
		}

		m := tweet.PublicMetrics
		raws = append(raws, rawItem{
			Title:        tweet.Text,
			MediaURL:     mediaURL,
			SourceURL:    "https://twitter.com/i/web/status/" + tweet.ID,
			Tags:         tags,
			CreatedAt:    createdAt,
			Engagement:   m.LikeCount + 2*m.RetweetCount + 2*m.QuoteCount + m.ReplyCount,
			ExtraCaption: stripShortLinks(tweet.Text),
		})
		if len(raws) >= p.cfg.Settings.MaxItems {
			break
		}
	}

	return collect(ctx, p.cfg.Name, p.norm, p.log, raws, malformed)
}

func (p *TwitterProvider) searchURL() (string, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse search url: %w", err)
	}
	q := u.Query()
	if q.Get("query") == "" {
		q.Set("query", "(meme OR memes) has:images -is:retweet")
	}
	q.Set("max_results", strconv.Itoa(min(max(p.cfg.Settings.MaxItems, 10), 100)))
	q.Set("tweet.fields", "created_at,public_metrics,entities")
	q.Set("expansions", "attachments.media_keys")
	q.Set("media.fields", "url,preview_image_url,type")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// stripShortLinks drops t.co links that point at the attached media.
func stripShortLinks(text string) string {
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if !strings.HasPrefix(f, "https://t.co/") {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}
