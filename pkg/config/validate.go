package config

import (
	"fmt"
	"time"

	"webcrawler/pkg/utils"
)

const (
	// DefaultMaxRetries is the total number of fetch attempts per task.
	DefaultMaxRetries = 3
	// DefaultMaxRedirects bounds a redirect chain from a single origin.
	DefaultMaxRedirects = 5
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// MaxDepth is the one required field.
	if c.MaxDepth < 0 {
		return warnings, fmt.Errorf("%w: max_depth cannot be negative", utils.ErrConfigInvalid)
	}

	// MaxRetries counts total attempts, so zero makes no sense.
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, using default")
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}

	if c.MaxRedirects < 0 {
		warnings = append(warnings, "max_redirects cannot be negative, using default")
		c.MaxRedirects = DefaultMaxRedirects
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}

	// Retry backoff: floor 4s, doubling, capped at 10s.
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = 4 * time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 10 * time.Second
	}
	if c.InitialRetryDelay > c.MaxRetryDelay {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}

	if c.UserAgent == "" {
		c.UserAgent = "webcrawler/1.0"
	}

	if c.DatabasePath == "" {
		warnings = append(warnings, "database_path is empty, defaulting to './crawl_state'")
		c.DatabasePath = "./crawl_state"
	}
	if c.StateFile == "" {
		warnings = append(warnings, "state_file is empty, defaulting to './crawl_state/snapshot.json'")
		c.StateFile = "./crawl_state/snapshot.json"
	}

	// HTTP client settings
	if c.HTTPClientSettings.MaxIdleConns <= 0 {
		c.HTTPClientSettings.MaxIdleConns = 100
	}
	if c.HTTPClientSettings.MaxIdleConnsPerHost <= 0 {
		c.HTTPClientSettings.MaxIdleConnsPerHost = 10
	}
	if c.HTTPClientSettings.IdleConnTimeout <= 0 {
		c.HTTPClientSettings.IdleConnTimeout = 90 * time.Second
	}
	if c.HTTPClientSettings.TLSHandshakeTimeout <= 0 {
		c.HTTPClientSettings.TLSHandshakeTimeout = 10 * time.Second
	}
	if c.HTTPClientSettings.DialerTimeout <= 0 {
		c.HTTPClientSettings.DialerTimeout = 30 * time.Second
	}
	if c.HTTPClientSettings.DialerKeepAlive <= 0 {
		c.HTTPClientSettings.DialerKeepAlive = 30 * time.Second
	}

	return warnings, nil
}
