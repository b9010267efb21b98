package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/trend-comb/app/content"
	"github.com/lysyi3m/trend-comb/app/store"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(env map[string]string) Options {
	return Options{
		Logger: newTestLogger(),
		Now:    func() time.Time { return testNow },
		Getenv: func(k string) string { return env[k] },
	}
}

func testConfig(name string, typ content.Provider, url string) *Config {
	cfg := &Config{
		Name: name,
		Type: typ,
		URL:  url,
		Settings: ConfigSettings{
			Enabled: true,
		},
	}
	applyDefaults(cfg)
	return cfg
}

func serve(t *testing.T, status int, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRedditProvider_Fetch(t *testing.T) {
	created := testNow.Add(-30 * time.Minute).Unix()
	body := fmt.Sprintf(`{"data":{"children":[
		{"data":{"id":"a1","title":"HODL gang when the dip hits","url":"https://i.redd.it/a.jpg","permalink":"/r/CryptoCurrency/comments/a1/","subreddit":"CryptoCurrency","ups":1000,"num_comments":50,"created_utc":%d}},
		{"data":{"id":"a2","title":"Discussion thread","url":"https://www.reddit.com/r/memes/comments/a2/","is_self":true,"ups":5,"created_utc":%d}},
		{"data":{"id":"a3","title":"no timestamp","url":"https://i.redd.it/c.png","ups":9}}
	]}}`, created, created)

	srv := serve(t, http.StatusOK, body, func(r *http.Request) {
		if r.URL.Query().Get("limit") == "" {
			t.Errorf("expected limit query parameter")
		}
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("expected User-Agent header")
		}
	})

	p := NewRedditProvider(testConfig("reddit", content.ProviderReddit, srv.URL+"/r/memes/hot.json"), testOptions(nil))
	items, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	wantID, _ := content.ItemID("https://i.redd.it/a.jpg")
	assert.Equal(t, wantID, item.ID)
	assert.Equal(t, content.ProviderReddit, item.SourceProvider)
	assert.Equal(t, content.CategoryCrypto, item.Category)
	assert.Equal(t, "https://www.reddit.com/r/CryptoCurrency/comments/a1/", item.SourceURL)
	assert.Equal(t, time.Unix(created, 0).UTC(), item.DiscoveredAt)
	assert.Equal(t, content.LogScore(1100, 50000), item.ViralityScore)
	assert.InDelta(t, 2200.0, item.EngagementVelocity, 0.001)
	assert.NotEmpty(t, item.CaptionSuggestions)

	w, ok := item.WindowAt(testNow)
	assert.True(t, ok)
	assert.Equal(t, content.WindowShort, w)
}

func TestTwitterProvider_Fetch(t *testing.T) {
	body := `{
		"data": [
			{"id":"t1","text":"Leg day at the gym #fitness","created_at":"2026-10-18T10:00:00Z",
			 "public_metrics":{"retweet_count":10,"reply_count":5,"like_count":100,"quote_count":2},
			 "attachments":{"media_keys":["m1"]},
			 "entities":{"hashtags":[{"tag":"fitness"}]}},
			{"id":"t2","text":"text only","created_at":"2026-10-18T10:00:00Z"}
		],
		"includes": {"media":[{"media_key":"m1","type":"photo","url":"https://pbs.twimg.com/media/x.jpg"}]}
	}`

	srv := serve(t, http.StatusOK, body, func(r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer secret")
		}
		if r.URL.Query().Get("expansions") != "attachments.media_keys" {
			t.Errorf("expected media expansion")
		}
	})

	cfg := testConfig("twitter", content.ProviderTwitter, srv.URL+"/2/tweets/search/recent")
	cfg.Auth.BearerTokenEnv = "TWITTER_BEARER_TOKEN"
	p := NewTwitterProvider(cfg, testOptions(map[string]string{"TWITTER_BEARER_TOKEN": "secret"}))

	items, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, content.CategoryFitness, items[0].Category)
	assert.Equal(t, "https://twitter.com/i/web/status/t1", items[0].SourceURL)
	assert.Equal(t, content.LogScore(100+20+4+5, 20000), items[0].ViralityScore)
	assert.Equal(t, "Leg day at the gym #fitness", items[0].CaptionSuggestions[0])
}

func TestTwitterProvider_MissingToken(t *testing.T) {
	cfg := testConfig("twitter", content.ProviderTwitter, "http://127.0.0.1:1")
	cfg.Auth.BearerTokenEnv = "TWITTER_BEARER_TOKEN"
	p := NewTwitterProvider(cfg, testOptions(nil))

	_, err := p.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestGiphyProvider_Fetch(t *testing.T) {
	body := `{"data":[
		{"id":"g1","title":"Startup Founder GIF","url":"https://giphy.com/gifs/g1","slug":"startup-founder-g1","trending_datetime":"2026-10-18 09:30:00","images":{"original":{"url":"https://media.giphy.com/media/g1/giphy.gif"}}},
		{"id":"g2","title":"Cat GIF","url":"https://giphy.com/gifs/g2","slug":"cat-g2","trending_datetime":"0000-00-00 00:00:00","images":{"original":{"url":"https://media.giphy.com/media/g2/giphy.gif"}}},
		{"id":"","title":"broken","images":{"original":{"url":""}}}
	]}`

	srv := serve(t, http.StatusOK, body, func(r *http.Request) {
		if r.URL.Query().Get("api_key") != "k" {
			t.Errorf("expected api_key query parameter")
		}
	})

	cfg := testConfig("giphy", content.ProviderGiphy, srv.URL+"/v1/gifs/trending")
	cfg.Auth.APIKeyEnv = "GIPHY_API_KEY"
	p := NewGiphyProvider(cfg, testOptions(map[string]string{"GIPHY_API_KEY": "k"}))

	items, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, 100, items[0].ViralityScore)
	assert.Equal(t, 67, items[1].ViralityScore)
	assert.Equal(t, content.CategoryStartup, items[0].Category)
	assert.Equal(t, time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC), items[0].DiscoveredAt)
	// unset trending time falls back to the first sighting
	assert.Equal(t, testNow, items[1].DiscoveredAt)
}

func TestGiphyProvider_UndatedItemKeepsFirstSighting(t *testing.T) {
	body := `{"data":[
		{"id":"g2","title":"Cat GIF","url":"https://giphy.com/gifs/g2","trending_datetime":"0000-00-00 00:00:00","images":{"original":{"url":"https://media.giphy.com/media/g2/giphy.gif"}}}
	]}`
	srv := serve(t, http.StatusOK, body, nil)

	now := testNow
	opts := testOptions(map[string]string{"GIPHY_API_KEY": "k"})
	opts.Now = func() time.Time { return now }
	opts.Sightings = NewSightings(store.NewMemoryStore(), DefaultSightingTTL)

	cfg := testConfig("giphy", content.ProviderGiphy, srv.URL+"/v1/gifs/trending")
	cfg.Auth.APIKeyEnv = "GIPHY_API_KEY"
	p := NewGiphyProvider(cfg, opts)

	first, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	now = testNow.Add(2 * time.Hour)
	second, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, testNow, second[0].DiscoveredAt)

	window, ok := second[0].WindowAt(now)
	require.True(t, ok)
	assert.Equal(t, content.WindowMedium, window)
}

func TestRSSProvider_UndatedItemKeepsFirstSighting(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Meme Blog</title>
  <link>https://memes.example.com</link>
  <item>
    <title>Undated</title>
    <link>https://memes.example.com/posts/9</link>
    <enclosure url="https://memes.example.com/img/9.jpg" type="image/jpeg" length="1"/>
  </item>
</channel>
</rss>`
	srv := serve(t, http.StatusOK, body, nil)

	now := testNow
	opts := testOptions(nil)
	opts.Now = func() time.Time { return now }
	opts.Sightings = NewSightings(store.NewMemoryStore(), DefaultSightingTTL)

	p := NewRSSProvider(testConfig("blog", content.ProviderRSS, srv.URL+"/feed.xml"), opts)

	_, err := p.Fetch(context.Background())
	require.NoError(t, err)

	now = testNow.Add(7 * time.Hour)
	items, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, testNow, items[0].DiscoveredAt)

	_, ok := items[0].WindowAt(now)
	assert.False(t, ok, "item should have aged out of every window")
}

func TestSightingsStoreFailureFallsBackToNow(t *testing.T) {
	st := store.NewMemoryStore()
	st.FailWith(errors.New("store offline"))
	sightings := NewSightings(st, time.Hour)

	assert.Equal(t, testNow, sightings.FirstSeen(context.Background(), "abc", testNow))
}

func TestSightingsOutliveLongestWindow(t *testing.T) {
	now := testNow
	st := store.NewMemoryStoreWithClock(func() time.Time { return now })
	sightings := NewSightings(st, time.Minute)
	ctx := context.Background()

	require.Equal(t, testNow, sightings.FirstSeen(ctx, "abc", now))

	now = testNow.Add(2 * time.Hour)
	assert.Equal(t, testNow, sightings.FirstSeen(ctx, "abc", now))

	now = testNow.Add(content.WindowLong.MaxAge() + time.Minute)
	assert.Equal(t, now, sightings.FirstSeen(ctx, "abc", now))
}

func TestRSSProvider_Fetch(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Meme Blog</title>
  <link>https://memes.example.com</link>
  <item>
    <title>Dating app bio goals</title>
    <link>https://memes.example.com/posts/1</link>
    <description>When the situationship texts back</description>
    <enclosure url="https://memes.example.com/img/1.jpg" type="image/jpeg" length="1234"/>
    <pubDate>Sun, 18 Oct 2026 11:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Inline image post</title>
    <link>https://memes.example.com/posts/2</link>
    <description><![CDATA[<p>Look at this</p><img src="/img/2.png"/>]]></description>
    <pubDate>Sun, 18 Oct 2026 08:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Text only</title>
    <link>https://memes.example.com/posts/3</link>
    <description>Nothing to see</description>
  </item>
</channel>
</rss>`

	srv := serve(t, http.StatusOK, body, nil)
	p := NewRSSProvider(testConfig("blog", content.ProviderRSS, srv.URL+"/feed.xml"), testOptions(nil))

	items, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "https://memes.example.com/img/1.jpg", items[0].MediaURL)
	assert.Equal(t, content.CategoryDating, items[0].Category)
	assert.Equal(t, "When the situationship texts back", items[0].CaptionSuggestions[0])
	assert.Equal(t, 100, items[0].ViralityScore)

	assert.Equal(t, "https://memes.example.com/img/2.png", items[1].MediaURL)
	assert.NotEmpty(t, items[1].CaptionSuggestions)

	w, ok := items[1].WindowAt(testNow)
	assert.True(t, ok)
	assert.Equal(t, content.WindowLong, w)
}

func TestProviderErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusInternalServerError, "oops", ErrProviderUnavailable},
		{"throttled", http.StatusTooManyRequests, "slow down", ErrRateLimited},
		{"undecodable payload", http.StatusOK, "{not json", ErrNormalization},
		{"every item malformed", http.StatusOK, `{"data":{"children":[{"data":{"id":"x","url":"https://i.redd.it/x.jpg"}}]}}`, ErrNormalization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body, nil)
			p := NewRedditProvider(testConfig("reddit", content.ProviderReddit, srv.URL), testOptions(nil))

			_, err := p.Fetch(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var se *Error
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "reddit", se.Source)
		})
	}
}

func TestProviderEmptyListingIsNotAnError(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"data":{"children":[]}}`, nil)
	p := NewRedditProvider(testConfig("reddit", content.ProviderReddit, srv.URL), testOptions(nil))

	items, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestProviderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewRedditProvider(testConfig("reddit", content.ProviderReddit, srv.URL), testOptions(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Fetch(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNewProviderUnknownType(t *testing.T) {
	_, err := NewProvider(&Config{Name: "x", Type: "tiktok"}, Options{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported source type"))
}
