package models

import "time"

// CrawlTask is one unit of crawl work. Tasks are immutable once created;
// a redirect produces a new task rather than mutating the original.
type CrawlTask struct {
	URL           string `json:"url"`
	Depth         int    `json:"depth"`
	ParentURL     string `json:"parent_url,omitempty"`
	RedirectCount int    `json:"redirect_count"`
}

// CrawlStats holds the per-record aggregate counters. A record's stats
// reflect only its direct children's outcomes (shallow rollup).
type CrawlStats struct {
	TotalURLsCrawled int            `json:"total_urls_crawled"`
	TotalErrors      int            `json:"total_errors"`
	StatusCodeStats  map[int]int    `json:"status_code_stats"`
	DomainStats      map[string]int `json:"domain_stats"`
}

// NewCrawlStats returns zeroed stats with initialized maps.
func NewCrawlStats() CrawlStats {
	return CrawlStats{
		StatusCodeStats: make(map[int]int),
		DomainStats:     make(map[string]int),
	}
}

// CrawlRecord is the outcome of fetching one URL. One record exists per
// distinct URL; only the Stats field mutates after creation, and only
// via the aggregator when a direct child completes.
type CrawlRecord struct {
	URL         string     `json:"url"`
	ParentURL   string     `json:"parent_url,omitempty"`
	StatusCode  *int       `json:"status_code"` // nil when the fetch never produced a response
	ContentSize int        `json:"content_size"`
	Title       string     `json:"title"`
	CrawledAt   time.Time  `json:"crawled_at,omitempty"`
	Stats       CrawlStats `json:"statistics"`
}

// NewCrawlRecord creates a record with zeroed statistics.
func NewCrawlRecord(url, parentURL string) *CrawlRecord {
	return &CrawlRecord{
		URL:       url,
		ParentURL: parentURL,
		CrawledAt: time.Now().UTC(),
		Stats:     NewCrawlStats(),
	}
}

// IsError reports whether this record counts as an error for rollup
// purposes: no status code at all, or a status of 400 and above.
func (r *CrawlRecord) IsError() bool {
	return r.StatusCode == nil || *r.StatusCode >= 400
}

// CrawlerState is the durable snapshot written on pause. Restoring the
// triple reproduces the exact continuation point of an interrupted run.
type CrawlerState struct {
	Frontier []CrawlTask             `json:"frontier"`
	Visited  []string                `json:"visited"`
	Records  map[string]*CrawlRecord `json:"records"`
}

// Phase is the crawl lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhasePaused
	PhaseCompleted
	PhaseStopped
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	case PhaseCompleted:
		return "completed"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
