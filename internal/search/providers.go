package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/deeres/config"
)

// Result is a single hit returned by a search provider.
type Result struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// Provider executes one query against a search API.
type Provider interface {
	Name() string
	// Params lists the parameter keys this provider accepts.
	Params() []string
	Search(ctx context.Context, query string, params map[string]any) ([]Result, error)
}

// FilterParams keeps only the keys accepted lists. Unknown keys are dropped.
func FilterParams(accepted []string, params map[string]any) map[string]any {
	out := make(map[string]any, len(accepted))
	for _, k := range accepted {
		if v, ok := params[k]; ok {
			out[k] = v
		}
	}
	return out
}

// TavilyClient implements Provider using api.tavily.com
type TavilyClient struct {
	cfg        config.SearchProviderConfig
	maxResults int
	http       *HTTPClient
}

func NewTavilyClient(cfg config.SearchProviderConfig, maxResults int, http *HTTPClient) *TavilyClient {
	return &TavilyClient{cfg: cfg, maxResults: maxResults, http: http}
}

func (t *TavilyClient) Name() string { return "tavily" }
func (t *TavilyClient) Params() []string {
	return []string{"max_results", "topic", "search_depth", "include_raw_content", "include_domains", "exclude_domains"}
}

func (t *TavilyClient) Search(ctx context.Context, query string, params map[string]any) ([]Result, error) {
	endpoint := t.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.tavily.com/search"
	}
	var resp struct {
		Results []struct {
			Title      string  `json:"title"`
			URL        string  `json:"url"`
			Content    string  `json:"content"`
			RawContent *string `json:"raw_content"`
			Score      float64 `json:"score"`
		} `json:"results"`
	}
	body := map[string]any{"query": query, "max_results": max1(t.maxResults, 5)}
	for k, v := range params {
		body[k] = v
	}
	headers := map[string]string{"Authorization": "Bearer " + t.cfg.APIKey}
	if err := t.http.DoJSON(ctx, "POST", endpoint, headers, body, &resp); err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}
	out := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		res := Result{Title: r.Title, URL: r.URL, Content: strings.TrimSpace(r.Content), Score: r.Score}
		if r.RawContent != nil {
			res.RawContent = *r.RawContent
		}
		out = append(out, res)
	}
	return out, nil
}

// BraveClient implements Provider using Brave Search API
type BraveClient struct {
	cfg        config.SearchProviderConfig
	maxResults int
	http       *HTTPClient
}

func NewBraveClient(cfg config.SearchProviderConfig, maxResults int, http *HTTPClient) *BraveClient {
	return &BraveClient{cfg: cfg, maxResults: maxResults, http: http}
}

func (b *BraveClient) Name() string     { return "brave" }
func (b *BraveClient) Params() []string { return []string{"count", "country", "search_lang", "freshness"} }

func (b *BraveClient) Search(ctx context.Context, query string, params map[string]any) ([]Result, error) {
	endpoint := b.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	var resp struct {
		Web struct {
			Results []struct{ Title, URL, Description string } `json:"results"`
		} `json:"web"`
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprint(max1(b.maxResults, 10)))
	for k, v := range params {
		q.Set(k, fmt.Sprint(v))
	}
	headers := map[string]string{"X-Subscription-Token": b.cfg.APIKey, "Accept": "application/json"}
	if err := b.http.DoJSON(ctx, "GET", endpoint+"?"+q.Encode(), headers, nil, &resp); err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	out := make([]Result, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		out = append(out, Result{Title: r.Title, URL: r.URL, Content: strings.TrimSpace(r.Description)})
	}
	return out, nil
}

// SerperClient implements Provider using serper.dev
type SerperClient struct {
	cfg        config.SearchProviderConfig
	maxResults int
	http       *HTTPClient
}

func NewSerperClient(cfg config.SearchProviderConfig, maxResults int, http *HTTPClient) *SerperClient {
	return &SerperClient{cfg: cfg, maxResults: maxResults, http: http}
}

func (s *SerperClient) Name() string     { return "serper" }
func (s *SerperClient) Params() []string { return []string{"num", "gl", "hl", "tbs"} }

func (s *SerperClient) Search(ctx context.Context, query string, params map[string]any) ([]Result, error) {
	endpoint := s.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://google.serper.dev/search"
	}
	var resp struct {
		Organic []struct{ Title, Link, Snippet string } `json:"organic"`
	}
	body := map[string]any{"q": query, "num": max1(s.maxResults, 10)}
	for k, v := range params {
		body[k] = v
	}
	headers := map[string]string{"X-API-KEY": s.cfg.APIKey}
	if err := s.http.DoJSON(ctx, "POST", endpoint, headers, body, &resp); err != nil {
		return nil, fmt.Errorf("serper search: %w", err)
	}
	out := make([]Result, 0, len(resp.Organic))
	for _, r := range resp.Organic {
		out = append(out, Result{Title: r.Title, URL: r.Link, Content: strings.TrimSpace(r.Snippet)})
	}
	return out, nil
}

func max1(a, def int) int {
	if a > 0 {
		return a
	}
	return def
}
