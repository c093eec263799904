// Package collyfetch implements harvest.Fetcher using gocolly. Each
// logical fetch applies the rate limit, issues one GET through a fresh
// collector, classifies the outcome, and retries transient failures with a
// fixed delay until the attempt budget runs out.
package collyfetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/hemdata/listingharvester/internal/harvest"
	"github.com/hemdata/listingharvester/internal/metrics"
)

// RateLimiter blocks until one more outbound request fits the budget.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

// Config controls fetch behavior.
type Config struct {
	// BaseURL is prefixed to every endpoint. Required.
	BaseURL string
	// UserAgent is sent with every request.
	UserAgent string
	// Timeout bounds a single request. Defaults to 15s.
	Timeout time.Duration
	// MaxAttempts is the total attempt budget per fetch. Defaults to 2.
	MaxAttempts int
	// RetryDelay is the fixed wait between attempts. Defaults to 1s.
	RetryDelay time.Duration
}

// Fetcher implements harvest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg     Config
	baseURL string
	limiter RateLimiter
	base    *colly.Collector
	logger  *zap.Logger
}

// New builds a Fetcher. The base URL is validated here so malformed
// configuration fails at startup rather than mid-run.
func New(cfg Config, limiter RateLimiter, logger *zap.Logger) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", cfg.BaseURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(colly.Async(false))
	base.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}
	base.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/") + "/",
		limiter: limiter,
		base:    base,
		logger:  logger,
	}, nil
}

// Fetch retrieves the endpoint's content. A 204 response is a successful
// fetch with an empty payload. Transient failures consume retry attempts;
// once the budget is exhausted the caller receives a *harvest.FetchError.
// Malformed endpoints propagate immediately without consuming retries.
func (f *Fetcher) Fetch(ctx context.Context, endpoint harvest.Endpoint) ([]byte, error) {
	target := f.baseURL + strings.TrimPrefix(string(endpoint), "/")
	if _, err := url.ParseRequestURI(target); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	var last attemptResult
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		last = f.attempt(ctx, target)
		if last.err == nil && last.retryable == "" {
			return last.body, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s canceled: %w", endpoint, ctx.Err())
		}

		if attempt < f.cfg.MaxAttempts {
			f.logger.Warn("fetch attempt failed, retrying",
				zap.String("endpoint", string(endpoint)),
				zap.Int("attempt", attempt),
				zap.Int("status", last.status),
				zap.Error(last.err),
			)
			select {
			case <-time.After(f.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch %s canceled: %w", endpoint, ctx.Err())
			}
		}
	}

	metrics.ObserveFetchError(string(last.retryable))
	return nil, &harvest.FetchError{
		Endpoint:   endpoint,
		Kind:       last.retryable,
		StatusCode: last.status,
		Attempts:   f.cfg.MaxAttempts,
		Err:        last.err,
	}
}

type attemptResult struct {
	body      []byte
	status    int
	retryable harvest.FetchErrorKind
	err       error
}

// attempt runs one GET through a fresh collector clone, capturing the
// response or error via the collector hooks.
func (f *Fetcher) attempt(ctx context.Context, target string) attemptResult {
	var res attemptResult

	collector := f.base.Clone()
	collector.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		res.err = err
	})

	start := time.Now()
	visitErr := f.visit(ctx, collector, target)
	metrics.ObserveFetchDuration(time.Since(start))

	if res.err == nil && visitErr != nil {
		res.err = visitErr
	}

	switch {
	case res.status == http.StatusNoContent:
		// Colly reports any status >= 203 through OnError; a 204 is still a
		// successful fetch with an empty payload.
		f.logger.Info("received 204 No Content", zap.String("url", target))
		res.body = nil
		res.err = nil
	case res.err == nil && len(res.body) == 0:
		res.retryable = harvest.FetchEmptyResponse
		res.err = fmt.Errorf("empty response body (status %d)", res.status)
	case res.err != nil && res.status > 0:
		res.retryable = harvest.FetchHTTPStatus
	case res.err != nil:
		res.retryable = harvest.FetchNetwork
	}
	return res
}

func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}
