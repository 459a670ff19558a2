package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mohammad-safakhou/deeres/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubProvider struct {
	mu      sync.Mutex
	name    string
	params  []string
	results map[string][]Result
	err     error
	seen    []map[string]any
	calls   int
}

func (s *stubProvider) Name() string     { return s.name }
func (s *stubProvider) Params() []string { return s.params }
func (s *stubProvider) Search(ctx context.Context, query string, params map[string]any) ([]Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.seen = append(s.seen, params)
	if s.err != nil {
		return nil, s.err
	}
	return s.results[query], nil
}

type stubFetcher struct{ text string }

func (f stubFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if strings.Contains(rawURL, "broken") {
		return Page{}, errors.New("boom")
	}
	return Page{URL: rawURL, Text: f.text}, nil
}

func TestFilterParamsDropsUnknownKeys(t *testing.T) {
	got := FilterParams([]string{"max_results", "topic"}, map[string]any{
		"max_results": 3, "topic": "news", "include_domains": []string{"x.com"},
	})
	assert.Equal(t, map[string]any{"max_results": 3, "topic": "news"}, got)
	assert.Empty(t, FilterParams(nil, map[string]any{"a": 1}))
}

func TestServiceMergesAndDeduplicates(t *testing.T) {
	p := &stubProvider{
		name:   "stub",
		params: []string{"max_results"},
		results: map[string][]Result{
			"solar cost":    {{Title: "A", URL: "https://a.example", Content: "cheap panels"}},
			"pv efficiency": {{Title: "A again", URL: "https://a.example", Content: "dup"}, {Title: "B", URL: "https://b.example", Content: "efficient"}},
		},
	}
	svc := NewService(100, WithProvider(p), WithLogger(zaptest.NewLogger(t)))

	out, err := svc.Search(context.Background(), "stub", []string{"solar cost", "pv efficiency"}, map[string]any{"max_results": 2, "bogus": true})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "Sources:"))
	assert.Equal(t, 1, strings.Count(out, "URL: https://a.example"))
	assert.Contains(t, out, "URL: https://b.example")
	assert.NotContains(t, out, "Full source content")
	for _, params := range p.seen {
		assert.Equal(t, map[string]any{"max_results": 2}, params)
	}
}

func TestServiceUnknownProvider(t *testing.T) {
	svc := NewService(100)
	_, err := svc.Search(context.Background(), "nope", []string{"q"}, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestServicePropagatesProviderError(t *testing.T) {
	p := &stubProvider{name: "stub", err: errors.New("503")}
	svc := NewService(100, WithProvider(p))
	_, err := svc.Search(context.Background(), "stub", []string{"q"}, nil)
	assert.Error(t, err)
}

func TestServiceEmptyQueriesYieldsEmptySources(t *testing.T) {
	svc := NewService(100, WithProvider(&stubProvider{name: "stub"}))
	out, err := svc.Search(context.Background(), "stub", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Sources:", out)
}

func TestServiceFetchesRawContent(t *testing.T) {
	p := &stubProvider{name: "stub", results: map[string][]Result{
		"q": {{Title: "ok", URL: "https://ok.example"}, {Title: "bad", URL: "https://broken.example"}},
	}}
	svc := NewService(2, WithProvider(p), WithFetcher(stubFetcher{text: "0123456789abcdef"}))

	out, err := svc.Search(context.Background(), "stub", []string{"q"}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Full source content limited to 2 tokens: 01234567... [truncated]")
}

func TestServiceAppliesSourcePolicy(t *testing.T) {
	p := &stubProvider{name: "stub", results: map[string][]Result{
		"q": {
			{Title: "gov", URL: "https://www.energy.gov/solar"},
			{Title: "spam", URL: "https://ads.spam.example/solar"},
			{Title: "paywalled", URL: "https://www.ft.com/solar"},
		},
	}}
	policy := config.SourcePolicyConfig{Block: []string{"spam.example"}, SkipFetch: []string{"ft.com"}}
	svc := NewService(100, WithProvider(p), WithSourcePolicy(policy), WithFetcher(stubFetcher{text: "page text"}))

	out, err := svc.Search(context.Background(), "stub", []string{"q"}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "URL: https://www.energy.gov/solar")
	assert.NotContains(t, out, "spam.example")
	assert.Contains(t, out, "URL: https://www.ft.com/solar")
	assert.Equal(t, 1, strings.Count(out, "page text"))
}

func TestServiceUsesRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := &stubProvider{name: "stub", results: map[string][]Result{"q": {{Title: "T", URL: "https://t.example"}}}}
	svc := NewService(100, WithProvider(p), WithCache(NewRedisCache(client, 0)))

	first, err := svc.Search(context.Background(), "stub", []string{"q"}, nil)
	require.NoError(t, err)
	second, err := svc.Search(context.Background(), "stub", []string{"q"}, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.calls)
	assert.Len(t, mr.Keys(), 1)
}

func TestCacheKeyIgnoresParamOrder(t *testing.T) {
	a := CacheKey("tavily", []string{"q1", "q2"}, map[string]any{"a": 1, "b": "x"})
	b := CacheKey("tavily", []string{"q1", "q2"}, map[string]any{"b": "x", "a": 1})
	c := CacheKey("brave", []string{"q1", "q2"}, map[string]any{"a": 1, "b": "x"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestTavilyClientRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tv-key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "solar", body["query"])
		assert.Equal(t, true, body["include_raw_content"])
		_, _ = w.Write([]byte(`{"results":[{"title":"Solar","url":"https://s.example","content":" sunny ","raw_content":"full","score":0.9}]}`))
	}))
	defer srv.Close()

	c := NewTavilyClient(config.SearchProviderConfig{APIKey: "tv-key", Endpoint: srv.URL}, 3, NewHTTPClient(0, 0, 0))
	res, err := c.Search(context.Background(), "solar", map[string]any{"include_raw_content": true})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, Result{Title: "Solar", URL: "https://s.example", Content: "sunny", RawContent: "full", Score: 0.9}, res[0])
}

func TestBraveClientRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bv-key", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "grid storage", r.URL.Query().Get("q"))
		assert.Equal(t, "us", r.URL.Query().Get("country"))
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"Grid","url":"https://g.example","description":"batteries"}]}}`))
	}))
	defer srv.Close()

	c := NewBraveClient(config.SearchProviderConfig{APIKey: "bv-key", Endpoint: srv.URL}, 5, NewHTTPClient(0, 0, 0))
	res, err := c.Search(context.Background(), "grid storage", map[string]any{"country": "us"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "https://g.example", res[0].URL)
	assert.Equal(t, "batteries", res[0].Content)
}

func TestSerperClientRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sp-key", r.Header.Get("X-API-KEY"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "wind", body["q"])
		_, _ = w.Write([]byte(`{"organic":[{"title":"Wind","link":"https://w.example","snippet":"turbines"}]}`))
	}))
	defer srv.Close()

	c := NewSerperClient(config.SearchProviderConfig{APIKey: "sp-key", Endpoint: srv.URL}, 5, NewHTTPClient(0, 0, 0))
	res, err := c.Search(context.Background(), "wind", nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "https://w.example", res[0].URL)
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewHTTPClient(0, 3, 1).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, 1, calls)
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct{ OK bool }
	require.NoError(t, NewHTTPClient(0, 3, 1).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, &out))
	assert.True(t, out.OK)
	assert.Equal(t, 3, calls)
}
