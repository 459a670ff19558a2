package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
)

const userAgent = "deeres/1.0 (+https://github.com/mohammad-safakhou/deeres)"

// Page is the readable content extracted from a fetched URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Fetcher retrieves the readable text of a page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// NewFetcher returns the fetcher for renderer ("http" or "chromedp").
func NewFetcher(renderer string, timeout time.Duration, maxChars int) (Fetcher, error) {
	switch renderer {
	case "", "http":
		return &HTTPFetcher{client: &http.Client{Timeout: timeout}, MaxChars: maxChars}, nil
	case "chromedp":
		return &ChromeFetcher{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, fmt.Errorf("unsupported fetch renderer: %s", renderer)
	}
}

// HTTPFetcher downloads pages with a plain GET.
type HTTPFetcher struct {
	client   *http.Client
	MaxChars int
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return Page{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, &StatusError{Code: resp.StatusCode}
	}
	html, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return Page{}, err
	}
	return extract(string(html), u, f.MaxChars)
}

// ChromeFetcher renders pages in headless Chrome before extraction.
type ChromeFetcher struct {
	Timeout  time.Duration
	MaxChars int
}

func (f *ChromeFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return Page{}, err
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	if err := chromedp.Run(bctx,
		chromedp.Navigate(u.String()),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return Page{}, fmt.Errorf("render %s: %w", u, err)
	}
	return extract(html, u, f.MaxChars)
}

func extract(html string, u *url.URL, maxChars int) (Page, error) {
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return Page{}, fmt.Errorf("extract %s: %w", u, err)
	}
	text := strings.TrimSpace(article.TextContent)
	text, _ = truncateRunes(text, maxChars)
	return Page{URL: u.String(), Title: strings.TrimSpace(article.Title), Text: text}, nil
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("invalid url")
	}
	return u, nil
}
