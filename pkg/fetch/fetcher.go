package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"webcrawler/pkg/config"
	"webcrawler/pkg/utils"
)

// FetchResult is the outcome of a single successful HTTP exchange. Any
// status code counts as a result here; the engine decides what a 3xx or
// 4xx means for the crawl.
type FetchResult struct {
	Body       []byte
	StatusCode int
	Header     http.Header
}

// RedirectLocation returns the Location header when the status is a
// redirect, or "" otherwise.
func (r *FetchResult) RedirectLocation() string {
	if r.StatusCode < 300 || r.StatusCode >= 400 {
		return ""
	}
	return r.Header.Get("Location")
}

// Fetcher performs HTTP GETs with bounded retry on transient transport
// failures. Redirects are never followed by the underlying client.
type Fetcher struct {
	client    *http.Client
	cfg       *config.AppConfig
	log       *logrus.Entry
	sleep     func(context.Context, time.Duration) error // injectable for tests
	userAgent string
}

// NewFetcher creates a Fetcher around the given client.
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:    client,
		cfg:       cfg,
		log:       log,
		sleep:     sleepCtx,
		userAgent: cfg.UserAgent,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchWithRetry issues a GET for rawURL, retrying transient transport
// failures up to cfg.MaxRetries total attempts with exponential backoff
// (initial delay doubling per attempt, capped at cfg.MaxRetryDelay).
// Receiving any HTTP response, whatever the status, ends the retry loop
// and returns a FetchResult. A malformed URL fails immediately with
// ErrRequestCreation and is never retried. Exhausting the budget
// returns ErrRetryFailed wrapping the last transport error.
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	reqLog := f.log.WithField("url", rawURL)

	maxAttempts := f.cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry after error: %w", ctx.Err(), lastErr)
			}
			return nil, ctx.Err()
		default:
		}

		// Backoff before every attempt after the first.
		if attempt > 1 {
			delay := f.backoff(attempt)
			reqLog.WithFields(logrus.Fields{
				"attempt": attempt, "max_attempts": maxAttempts, "delay": delay,
			}).Warn("Retrying request...")
			if err := f.sleep(ctx, delay); err != nil {
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", err, lastErr)
				}
				return nil, err
			}
		}

		res, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			reqLog.WithFields(logrus.Fields{"status_code": res.StatusCode, "attempt": attempt}).Debug("Fetched")
			return res, nil
		}
		if errors.Is(err, utils.ErrRequestCreation) {
			// Not transient, retrying cannot help.
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
		reqLog.WithField("attempt", attempt).Warnf("Transient fetch error: %v", err)
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxAttempts, lastErr)
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}

// backoff computes the delay before the given attempt (attempt >= 2):
// initial * 2^(attempt-2), capped at the configured maximum.
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := f.cfg.InitialRetryDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= f.cfg.MaxRetryDelay {
			return f.cfg.MaxRetryDelay
		}
	}
	if delay > f.cfg.MaxRetryDelay {
		delay = f.cfg.MaxRetryDelay
	}
	return delay
}

// fetchOnce performs exactly one GET and drains the body into memory.
func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request for '%s': %w", utils.ErrRequestCreation, rawURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body from '%s': %w", utils.ErrResponseBodyRead, rawURL, err)
	}

	return &FetchResult{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}, nil
}
