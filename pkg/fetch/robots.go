package fetch

import (
	"context"
	"net/url"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsPolicy caches parsed robots.txt permission tables per
// scheme://host for the lifetime of the process. Entries are created
// lazily on first lookup and never refreshed. The crawl engine is
// single-threaded, so the cache map needs no locking.
type RobotsPolicy struct {
	fetcher   *Fetcher
	cache     map[string]*robotstxt.RobotsData // scheme://host -> parsed data (nil on fetch/parse failure)
	userAgent string
	log       *logrus.Entry
}

// NewRobotsPolicy creates a RobotsPolicy backed by the given fetcher.
func NewRobotsPolicy(fetcher *Fetcher, userAgent string, log *logrus.Entry) *RobotsPolicy {
	return &RobotsPolicy{
		fetcher:   fetcher,
		cache:     make(map[string]*robotstxt.RobotsData),
		userAgent: userAgent,
		log:       log,
	}
}

// CanFetch reports whether robots.txt permits fetching targetURL.
// When the robots file cannot be fetched or parsed, fetching is allowed
// and the failure is cached so the host is not probed again.
func (rp *RobotsPolicy) CanFetch(ctx context.Context, targetURL *url.URL) bool {
	data := rp.robotsData(ctx, targetURL)
	if data == nil {
		return true
	}
	return data.TestAgent(targetURL.RequestURI(), rp.userAgent)
}

func (rp *RobotsPolicy) robotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	key := targetURL.Scheme + "://" + targetURL.Host
	if data, found := rp.cache[key]; found {
		return data
	}

	robotsURL := &url.URL{Scheme: targetURL.Scheme, Host: targetURL.Host, Path: "/robots.txt"}
	hostLog := rp.log.WithField("robots_url", robotsURL.String())
	hostLog.Info("Fetching robots.txt...")

	res, err := rp.fetcher.FetchWithRetry(ctx, robotsURL.String())
	if err != nil {
		hostLog.Warnf("Fetching robots.txt failed: %v", err)
		rp.cache[key] = nil
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(res.StatusCode, res.Body)
	if err != nil {
		hostLog.Warnf("Parsing robots.txt failed: %v", err)
		rp.cache[key] = nil
		return nil
	}

	hostLog.Debug("Cached parsed robots.txt")
	rp.cache[key] = data
	return data
}
