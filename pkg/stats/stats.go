// Package stats rolls completed child outcomes into the immediate
// parent's counters.
package stats

import (
	"net/url"

	"github.com/sirupsen/logrus"

	"webcrawler/pkg/models"
)

// Aggregator updates per-record statistics. The rollup is deliberately
// shallow: only the direct parent's counters change when a child
// completes; grandparents never see descendant outcomes.
type Aggregator struct {
	log *logrus.Entry
}

// New creates an Aggregator.
func New(log *logrus.Entry) *Aggregator {
	return &Aggregator{log: log}
}

// RollUp applies one completed child outcome to parent's counters.
// Every completion counts toward TotalURLsCrawled; children with no
// status code or a status of 400+ also count toward TotalErrors. The
// status-code bucket is skipped when the child never got a response.
func (a *Aggregator) RollUp(parent, child *models.CrawlRecord) {
	if parent == nil || child == nil {
		return
	}
	if parent.Stats.StatusCodeStats == nil {
		parent.Stats.StatusCodeStats = make(map[int]int)
	}
	if parent.Stats.DomainStats == nil {
		parent.Stats.DomainStats = make(map[string]int)
	}

	parent.Stats.TotalURLsCrawled++
	if child.IsError() {
		parent.Stats.TotalErrors++
	}
	if child.StatusCode != nil {
		parent.Stats.StatusCodeStats[*child.StatusCode]++
	}
	if host := hostOf(child.URL); host != "" {
		parent.Stats.DomainStats[host]++
	}

	a.log.WithFields(logrus.Fields{
		"parent": parent.URL,
		"child":  child.URL,
		"total":  parent.Stats.TotalURLsCrawled,
		"errors": parent.Stats.TotalErrors,
	}).Debug("Rolled up child outcome")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
