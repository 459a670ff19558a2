// Package search executes web searches for the report workflow and renders
// the merged hits into a context string.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deeres/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrUnknownProvider is returned for a search api name with no provider.
var ErrUnknownProvider = errors.New("unknown search provider")

// ObserveFunc receives the outcome of every provider call.
type ObserveFunc func(provider string, took time.Duration, err error)

// Service fans queries out to a provider and formats the merged results.
type Service struct {
	providers          map[string]Provider
	limiter            *rate.Limiter
	fetcher            Fetcher
	ranker             *Ranker
	cache              Cache
	policy             config.SourcePolicyConfig
	maxTokensPerSource int
	logger             *zap.Logger
	observe            ObserveFunc
}

// Option configures a Service.
type Option func(*Service)

func WithProvider(p Provider) Option {
	return func(s *Service) { s.providers[p.Name()] = p }
}

func WithFetcher(f Fetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

func WithRanker(r Ranker) Option {
	return func(s *Service) { s.ranker = &r }
}

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithSourcePolicy drops results from blocked hosts and skips fetching
// pages the policy excludes.
func WithSourcePolicy(p config.SourcePolicyConfig) Option {
	return func(s *Service) { s.policy = p.Normalize() }
}

func WithLimiter(l *rate.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithObserver(fn ObserveFunc) Option {
	return func(s *Service) { s.observe = fn }
}

// NewService builds a service with no providers; add them with WithProvider.
func NewService(maxTokensPerSource int, opts ...Option) *Service {
	s := &Service{
		providers:          make(map[string]Provider),
		limiter:            rate.NewLimiter(rate.Inf, 1),
		maxTokensPerSource: maxTokensPerSource,
		logger:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New builds a service from configuration with tavily, brave and serper
// registered. Extra options are applied last.
func New(cfg config.SearchConfig, opts ...Option) (*Service, error) {
	httpc := NewHTTPClient(cfg.Timeout, 2, 0)
	base := []Option{
		WithProvider(NewTavilyClient(cfg.Providers["tavily"], cfg.MaxResults, httpc)),
		WithProvider(NewBraveClient(cfg.Providers["brave"], cfg.MaxResults, httpc)),
		WithProvider(NewSerperClient(cfg.Providers["serper"], cfg.MaxResults, httpc)),
		WithSourcePolicy(cfg.Sources),
	}
	if cfg.RequestsPerSecond > 0 {
		base = append(base, WithLimiter(rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)))
	}
	if cfg.Fetch.Enabled {
		f, err := NewFetcher(cfg.Fetch.Renderer, cfg.Fetch.Timeout, cfg.Fetch.MaxChars)
		if err != nil {
			return nil, err
		}
		base = append(base, WithFetcher(f))
	}
	if cfg.Rank.Enabled {
		base = append(base, WithRanker(Ranker{TopK: cfg.Rank.TopK}))
	}
	return NewService(cfg.MaxTokensPerSource, append(base, opts...)...), nil
}

// Params returns the parameter keys accepted by api.
func (s *Service) Params(api string) ([]string, error) {
	p, ok := s.providers[api]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, api)
	}
	return p.Params(), nil
}

// Search runs every query against api and returns the formatted context.
// Parameters the provider does not accept are dropped.
func (s *Service) Search(ctx context.Context, api string, queries []string, params map[string]any) (string, error) {
	p, ok := s.providers[api]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, api)
	}
	filtered := FilterParams(p.Params(), params)
	if dropped := len(params) - len(filtered); dropped > 0 {
		s.logger.Debug("dropped unsupported search params", zap.String("provider", api), zap.Int("dropped", dropped))
	}

	var key string
	if s.cache != nil {
		key = CacheKey(api, queries, filtered)
		if hit, ok, err := s.cache.Get(ctx, key); err != nil {
			s.logger.Warn("search cache read failed", zap.Error(err))
		} else if ok {
			return hit, nil
		}
	}

	perQuery := make([][]Result, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			start := time.Now()
			res, err := p.Search(gctx, q, filtered)
			if s.observe != nil {
				s.observe(api, time.Since(start), err)
			}
			if err != nil {
				return err
			}
			perQuery[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var merged []Result
	for _, res := range perQuery {
		merged = append(merged, res...)
	}
	merged = s.permitted(Deduplicate(merged))

	includeRaw := truthy(filtered["include_raw_content"])
	if s.fetcher != nil {
		s.fillRawContent(ctx, merged)
		includeRaw = true
	}
	if s.ranker != nil {
		ranked, err := s.ranker.Rank(queries, merged)
		if err != nil {
			s.logger.Warn("ranking failed, keeping provider order", zap.Error(err))
		} else {
			merged = ranked
		}
	}

	out := FormatSources(merged, s.maxTokensPerSource, includeRaw)
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, out); err != nil {
			s.logger.Warn("search cache write failed", zap.Error(err))
		}
	}
	return out, nil
}

// fillRawContent fetches page text for results that lack it. Fetch failures
// leave the result untouched.
func (s *Service) fillRawContent(ctx context.Context, results []Result) {
	var g errgroup.Group
	g.SetLimit(4)
	for i := range results {
		if results[i].RawContent != "" || results[i].URL == "" || !s.policy.Fetchable(results[i].URL) {
			continue
		}
		g.Go(func() error {
			page, err := s.fetcher.Fetch(ctx, results[i].URL)
			if err != nil {
				s.logger.Debug("page fetch failed", zap.String("url", results[i].URL), zap.Error(err))
				return nil
			}
			results[i].RawContent = page.Text
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) permitted(results []Result) []Result {
	out := results[:0]
	for _, r := range results {
		if s.policy.Permits(r.URL) {
			out = append(out, r)
		}
	}
	if dropped := len(results) - len(out); dropped > 0 {
		s.logger.Debug("dropped results by source policy", zap.Int("dropped", dropped))
	}
	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}
