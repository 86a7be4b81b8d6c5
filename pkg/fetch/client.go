package fetch

import (
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"webcrawler/pkg/config"
)

// NewClient creates the shared HTTP client. Redirects are disabled: the
// crawl engine observes 3xx responses itself and requeues the target as
// a new task, so the client must surface the redirect response as-is.
func NewClient(cfg config.HTTPClientConfig, timeout time.Duration, log *logrus.Logger) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	log.Debug("HTTP client initialized (redirect following disabled)")
	return client
}
