package source

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/trend-comb/app/content"
)

// maxExcerptRunes bounds captions derived from article text.
const maxExcerptRunes = 140

type RSSProvider struct {
	cfg    *Config
	http   *httpFetcher
	norm   *normalizer
	log    *slog.Logger
	parser *gofeed.Parser
}

func NewRSSProvider(cfg *Config, opts Options) *RSSProvider {
	opts = opts.withDefaults()
	return &RSSProvider{
		cfg:    cfg,
		http:   &httpFetcher{source: cfg.Name, client: opts.HTTPClient, userAgent: opts.UserAgent},
		norm:   newNormalizer(cfg, opts),
		log:    opts.Logger.With("adapter", "rss", "source", cfg.Name),
		parser: gofeed.NewParser(),
	}
}

func (p *RSSProvider) Type() content.Provider {
	return content.ProviderRSS
}

func (p *RSSProvider) Fetch(ctx context.Context) ([]content.Item, error) {
	p.log.DebugContext(ctx, "rss request", "url", p.cfg.URL)

	data, err := p.http.get(ctx, p.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	feed, err := p.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, newError(p.cfg.Name, KindNormalization, fmt.Errorf("failed to parse feed: %w", err))
	}

	total := len(feed.Items)
	raws := make([]rawItem, 0, total)
	malformed := 0
	for position, item := range feed.Items {
		if item == nil {
			malformed++
			continue
		}
		mediaURL := p.mediaURL(item)
		if mediaURL == "" {
			continue
		}

		raws = append(raws, rawItem{
			Title:        item.Title,
			MediaURL:     resolveURL(item.Link, mediaURL),
			SourceURL:    item.Link,
			Tags:         item.Categories,
			CreatedAt:    itemTime(item),
			Score:        content.PositionScore(position, total),
			HasScore:     true,
			ExtraCaption: p.excerpt(item),
		})
		if len(raws) >= p.cfg.Settings.MaxItems {
			break
		}
	}

	return collect(ctx, p.cfg.Name, p.norm, p.log, raws, malformed)
}

// mediaURL picks an image enclosure, a media:content element, the item
// image, or the first <img> in the item body, in that order.
func (p *RSSProvider) mediaURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}

	if media, ok := item.Extensions["media"]; ok {
		for _, ext := range slices.Concat(media["content"], media["thumbnail"]) {
			if u := ext.Attrs["url"]; u != "" {
				return u
			}
		}
	}

	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	html := cmp.Or(item.Content, item.Description)
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return src
}

// excerpt derives a caption from the item's HTML body with readability.
func (p *RSSProvider) excerpt(item *gofeed.Item) string {
	html := cmp.Or(item.Content, item.Description)
	if !strings.Contains(html, "<") {
		return truncateRunes(strings.TrimSpace(html), maxExcerptRunes)
	}

	pageURL, err := url.Parse(cmp.Or(item.Link, p.cfg.URL))
	if err != nil {
		return ""
	}

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		p.log.Debug("Failed to extract excerpt", "link", item.Link, "error", err)
		return ""
	}

	text := cmp.Or(strings.TrimSpace(article.Excerpt), strings.TrimSpace(article.TextContent))
	return truncateRunes(strings.Join(strings.Fields(text), " "), maxExcerptRunes)
}

func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

// resolveURL makes relative media references absolute against the item link.
func resolveURL(base, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil || refURL.IsAbs() {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}
