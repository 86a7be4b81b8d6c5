// Package crawler implements the breadth-first crawl engine: the
// scheduling loop, redirect handling, statistics rollup, and the
// pause/resume lifecycle.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"webcrawler/pkg/config"
	"webcrawler/pkg/extract"
	"webcrawler/pkg/fetch"
	"webcrawler/pkg/filter"
	"webcrawler/pkg/frontier"
	"webcrawler/pkg/models"
	"webcrawler/pkg/state"
	"webcrawler/pkg/stats"
	"webcrawler/pkg/storage"
	"webcrawler/pkg/utils"
)

// RedirectTitle is the placeholder title recorded for URLs that answer
// with a redirect.
const RedirectTitle = "Redirect"

// ErrorTitle marks records whose fetch failed terminally.
const ErrorTitle = "Error"

// Crawler is the single-threaded crawl engine. One task is processed
// end to end before the next is dequeued; the only suspension points
// are the rate-limiter wait and retry backoff sleeps. Control methods
// (Start, Pause, Resume, Stop) may be called from other goroutines.
type Crawler struct {
	log         *logrus.Entry
	cfg         *config.AppConfig
	urlFilter   *filter.Filter
	fetcher     *fetch.Fetcher
	limiter     *fetch.RateLimiter
	robots      *fetch.RobotsPolicy
	extractor   *extract.Extractor
	front       *frontier.Frontier
	aggregator  *stats.Aggregator
	persister   *state.Persister
	sinkFactory storage.Factory

	// records is owned by the run loop while the phase is Running and
	// by control methods otherwise.
	records map[string]*models.CrawlRecord

	pauseFlag atomic.Bool

	mu        sync.Mutex // guards phase, sink, runCancel, loopDone
	phase     models.Phase
	sink      storage.ResultStore
	runCancel context.CancelFunc
	loopDone  chan struct{}
}

// New creates a Crawler from validated configuration. The blacklist
// source is resolved here; an unreadable blacklist file degrades to an
// empty blacklist with a warning.
func New(cfg *config.AppConfig, baseLogger *logrus.Entry, sinkFactory storage.Factory) *Crawler {
	log := baseLogger.WithField("component", "crawler")

	exts, warnings := cfg.BlacklistedExtensions.Resolve()
	for _, w := range warnings {
		log.Warn(w)
	}

	client := fetch.NewClient(cfg.HTTPClientSettings, cfg.FetchTimeout, log.Logger)
	fetcher := fetch.NewFetcher(client, cfg, log)

	return &Crawler{
		log:         log,
		cfg:         cfg,
		urlFilter:   filter.New(cfg.AllowedDomains, exts),
		fetcher:     fetcher,
		limiter:     fetch.NewRateLimiter(cfg.RequestsPerSecond, log),
		robots:      fetch.NewRobotsPolicy(fetcher, cfg.UserAgent, log),
		extractor:   extract.New(log),
		front:       frontier.New(log),
		aggregator:  stats.New(log),
		persister:   state.NewPersister(cfg.StateFile, log),
		sinkFactory: sinkFactory,
		records:     make(map[string]*models.CrawlRecord),
		phase:       models.PhaseIdle,
	}
}

// Phase returns the current lifecycle phase.
func (c *Crawler) Phase() models.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Start clears any previous crawl state, enqueues the seed task, and
// launches the crawl loop. It fails when a crawl is already running.
func (c *Crawler) Start(seedURL string) error {
	if _, err := url.ParseRequestURI(seedURL); err != nil {
		return fmt.Errorf("invalid seed URL '%s': %w", seedURL, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == models.PhaseRunning {
		return errors.New("crawl already running")
	}

	c.front.Reset()
	c.records = make(map[string]*models.CrawlRecord)
	c.front.Enqueue(models.CrawlTask{URL: seedURL, Depth: 0})

	return c.launchLocked("start", seedURL, true)
}

// Resume restores the persisted snapshot and continues the crawl loop
// from the exact point it paused. A missing or unparseable snapshot is
// a state-corruption error; Resume never silently starts fresh.
func (c *Crawler) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == models.PhaseRunning {
		return errors.New("crawl already running")
	}

	st, err := c.persister.Load()
	if err != nil {
		return err
	}
	c.front.Restore(st.Frontier, st.Visited)
	c.records = st.Records

	return c.launchLocked("resume", "", false)
}

// launchLocked opens a fresh sink connection and starts the run loop.
// A fresh start empties the sink so the report covers one run only; a
// resume keeps the rows its earlier iterations already wrote. Caller
// holds c.mu.
func (c *Crawler) launchLocked(mode, seedURL string, fresh bool) error {
	sink, err := c.sinkFactory()
	if err != nil {
		return fmt.Errorf("opening result store: %w", err)
	}
	if fresh {
		if err := sink.Clear(context.Background()); err != nil {
			sink.Close()
			return fmt.Errorf("clearing result store: %w", err)
		}
	}
	c.sink = sink

	crawlID := uuid.NewString()
	runLog := c.log.WithFields(logrus.Fields{"crawl_id": crawlID, "mode": mode})
	if seedURL != "" {
		runLog = runLog.WithField("seed", seedURL)
	}
	runLog.Infof("Crawl %s: %d task(s) queued, %d record(s) held", mode, c.front.Len(), len(c.records))

	ctx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	c.loopDone = make(chan struct{})
	c.pauseFlag.Store(false)
	c.phase = models.PhaseRunning

	go c.run(ctx, runLog)
	return nil
}

// Pause requests a cooperative pause. The loop finishes its current
// iteration (an in-flight fetch or backoff sleep runs to completion),
// snapshots the crawler state, and parks in the Paused phase.
func (c *Crawler) Pause() {
	c.mu.Lock()
	running := c.phase == models.PhaseRunning
	c.mu.Unlock()
	if !running {
		return
	}
	c.pauseFlag.Store(true)
	c.log.Info("Pause requested; finishing current iteration")
}

// Stop aborts the crawl from any phase: the run loop (if any) is
// cancelled, the persisted snapshot is discarded, and the sink
// connection is released.
func (c *Crawler) Stop() error {
	c.mu.Lock()
	cancel := c.runCancel
	done := c.loopDone
	running := c.phase == models.PhaseRunning
	c.mu.Unlock()

	if running && cancel != nil {
		cancel()
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.persister.Discard(); err != nil {
		c.log.Warnf("Failed to discard snapshot on stop: %v", err)
	}
	c.closeSinkLocked()
	c.phase = models.PhaseStopped
	c.log.Info("Crawl stopped")
	return nil
}

// Wait blocks until the run loop exits and returns the resulting
// phase. Returns immediately when no loop was started.
func (c *Crawler) Wait() models.Phase {
	c.mu.Lock()
	done := c.loopDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	return c.Phase()
}

// Crawl runs a full crawl from seedURL to completion and returns the
// stored records in insertion order. It is the synchronous counterpart
// to Start/Wait for callers that never pause.
func (c *Crawler) Crawl(ctx context.Context, seedURL string) ([]*models.CrawlRecord, error) {
	if err := c.Start(seedURL); err != nil {
		return nil, err
	}

	done := make(chan models.Phase, 1)
	go func() { done <- c.Wait() }()

	var phase models.Phase
	select {
	case <-ctx.Done():
		if err := c.Stop(); err != nil {
			c.log.Warnf("Stop after cancellation failed: %v", err)
		}
		return nil, ctx.Err()
	case phase = <-done:
	}
	if phase != models.PhaseCompleted {
		return nil, fmt.Errorf("crawl ended in phase %s", phase)
	}

	// The completion path closed the sink; reopen to report.
	sink, err := c.sinkFactory()
	if err != nil {
		return nil, fmt.Errorf("opening result store for report: %w", err)
	}
	defer sink.Close()
	return sink.QueryAll(ctx)
}

// closeSinkLocked releases the sink connection. Caller holds c.mu.
func (c *Crawler) closeSinkLocked() {
	if c.sink == nil {
		return
	}
	if err := c.sink.Close(); err != nil {
		c.log.Warnf("Failed to close result store: %v", err)
	}
	c.sink = nil
}

// run is the crawl loop. The pause flag is checked once per iteration
// boundary, never mid-fetch.
func (c *Crawler) run(ctx context.Context, runLog *logrus.Entry) {
	defer func() {
		c.mu.Lock()
		done := c.loopDone
		c.loopDone = nil
		c.mu.Unlock()
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			// Stop() owns the phase transition and cleanup.
			runLog.Warnf("Run loop exiting: %v", ctx.Err())
			return
		}

		if c.pauseFlag.Load() {
			c.snapshotAndPause(runLog)
			return
		}

		task, ok := c.nextTask()
		if !ok {
			c.complete(runLog)
			return
		}

		c.processTask(ctx, task, runLog)
	}
}

// nextTask dequeues the next eligible task, applying the dequeue-time
// guards: tasks beyond the depth bound, beyond the redirect bound, or
// for an already-visited URL are skipped without consuming a fetch.
func (c *Crawler) nextTask() (models.CrawlTask, bool) {
	for {
		task, ok := c.front.Dequeue()
		if !ok {
			return models.CrawlTask{}, false
		}
		switch {
		case task.Depth > c.cfg.MaxDepth:
			c.log.WithField("url", task.URL).Debugf("Skipping task beyond max depth (%d > %d)", task.Depth, c.cfg.MaxDepth)
		case task.RedirectCount > c.cfg.MaxRedirects:
			c.log.WithField("url", task.URL).Debugf("Skipping task beyond redirect bound (%d > %d)", task.RedirectCount, c.cfg.MaxRedirects)
		case c.front.Visited(task.URL):
			c.log.WithField("url", task.URL).Debug("Skipping already-visited task")
		default:
			return task, true
		}
	}
}

// snapshotAndPause persists the crawler state and parks in Paused.
func (c *Crawler) snapshotAndPause(runLog *logrus.Entry) {
	tasks, visited := c.front.Snapshot()
	st := &models.CrawlerState{
		Frontier: tasks,
		Visited:  visited,
		Records:  c.records,
	}
	if err := c.persister.Save(st); err != nil {
		runLog.Errorf("Failed to persist snapshot on pause: %v", err)
	}

	c.mu.Lock()
	c.closeSinkLocked()
	c.phase = models.PhasePaused
	c.mu.Unlock()
	runLog.Info("Crawl paused")
}

// complete finishes a crawl whose frontier drained naturally.
func (c *Crawler) complete(runLog *logrus.Entry) {
	if err := c.persister.Discard(); err != nil {
		runLog.Warnf("Failed to discard snapshot on completion: %v", err)
	}

	c.mu.Lock()
	c.closeSinkLocked()
	c.phase = models.PhaseCompleted
	c.mu.Unlock()
	runLog.Infof("Crawl completed: %d record(s)", len(c.records))
}

// processTask handles one dequeued task end to end: robots check, rate
// limit, fetch with retries, then the redirect / content / failure
// branch with record updates, sink upserts, and parent rollup.
func (c *Crawler) processTask(ctx context.Context, task models.CrawlTask, runLog *logrus.Entry) {
	taskLog := runLog.WithFields(logrus.Fields{"url": task.URL, "depth": task.Depth})

	c.front.MarkVisited(task.URL)

	parsed, parseErr := url.Parse(task.URL)
	if parseErr == nil && c.cfg.RespectRobots {
		if !c.robots.CanFetch(ctx, parsed) {
			// Skipped, not failed: no record, no retry budget spent.
			taskLog.Info("Disallowed by robots.txt, skipping")
			return
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		taskLog.Warnf("Rate limiter wait aborted: %v", err)
		return
	}

	res, fetchErr := c.fetcher.FetchWithRetry(ctx, task.URL)
	if fetchErr != nil {
		if ctx.Err() != nil {
			return // stopped mid-fetch, record nothing
		}
		c.handleTerminalFailure(ctx, task, fetchErr, taskLog)
		return
	}

	if loc := res.RedirectLocation(); loc != "" {
		c.handleRedirect(ctx, task, parsed, res, loc, taskLog)
		return
	}

	c.handleContent(ctx, task, parsed, res, taskLog)
}

// handleTerminalFailure records an exhausted-retry (or otherwise
// unrecoverable) fetch as an error record. The crawl itself continues.
func (c *Crawler) handleTerminalFailure(ctx context.Context, task models.CrawlTask, fetchErr error, taskLog *logrus.Entry) {
	taskLog.WithField("category", utils.CategorizeError(fetchErr)).Warnf("Terminal fetch failure: %v", fetchErr)

	rec := models.NewCrawlRecord(task.URL, task.ParentURL)
	rec.Title = ErrorTitle
	c.commitOutcome(ctx, task, rec, taskLog)
}

// handleRedirect finalizes the redirecting URL's record and requeues
// the target at the same depth with an incremented redirect count.
// Chains beyond the configured bound are abandoned silently: the
// record persists but no follow-up task is created.
func (c *Crawler) handleRedirect(ctx context.Context, task models.CrawlTask, parsed *url.URL, res *fetch.FetchResult, loc string, taskLog *logrus.Entry) {
	status := res.StatusCode
	rec := models.NewCrawlRecord(task.URL, task.ParentURL)
	rec.StatusCode = &status
	rec.ContentSize = len(res.Body)
	rec.Title = RedirectTitle
	c.commitOutcome(ctx, task, rec, taskLog)

	nextCount := task.RedirectCount + 1
	if nextCount > c.cfg.MaxRedirects {
		taskLog.Infof("Redirect chain exceeds bound (%d), abandoning", c.cfg.MaxRedirects)
		return
	}

	target := loc
	if parsed != nil {
		if resolved, err := parsed.Parse(loc); err == nil {
			target = resolved.String()
		}
	}
	taskLog.WithField("target", target).Debug("Following redirect")
	c.front.Enqueue(models.CrawlTask{
		URL:           target,
		Depth:         task.Depth, // redirects do not advance depth
		ParentURL:     task.URL,
		RedirectCount: nextCount,
	})
}

// handleContent records a fetched page and enqueues its valid links.
func (c *Crawler) handleContent(ctx context.Context, task models.CrawlTask, parsed *url.URL, res *fetch.FetchResult, taskLog *logrus.Entry) {
	status := res.StatusCode
	rec := models.NewCrawlRecord(task.URL, task.ParentURL)
	rec.StatusCode = &status
	rec.ContentSize = len(res.Body)
	rec.Title = extract.NoTitle

	var links []string
	if extract.IsHTML(res.Header.Get("Content-Type")) {
		rec.Title = c.extractor.Title(res.Body)
		// Extraction is pointless when every child would be dropped at
		// the depth guard anyway.
		if parsed != nil && task.Depth+1 <= c.cfg.MaxDepth {
			links = c.extractor.Links(res.Body, parsed)
		}
	}

	c.commitOutcome(ctx, task, rec, taskLog)

	queued := 0
	for _, link := range links {
		if !c.urlFilter.Valid(link) {
			continue
		}
		c.front.Enqueue(models.CrawlTask{
			URL:       link,
			Depth:     task.Depth + 1,
			ParentURL: task.URL,
		})
		queued++
	}
	if len(links) > 0 {
		taskLog.Debugf("Queued %d of %d extracted links", queued, len(links))
	}
}

// commitOutcome stores the finished record, upserts it, and rolls the
// outcome into the direct parent (upserting the parent too). The sink
// upsert always writes full records, so replaying an iteration after a
// crash-resume overwrites identical values instead of double-counting.
func (c *Crawler) commitOutcome(ctx context.Context, task models.CrawlTask, rec *models.CrawlRecord, taskLog *logrus.Entry) {
	c.records[task.URL] = rec
	c.upsert(ctx, rec, taskLog)

	if task.ParentURL == "" {
		return
	}
	parent, ok := c.records[task.ParentURL]
	if !ok {
		taskLog.Debugf("No parent record for '%s', rollup skipped", task.ParentURL)
		return
	}
	c.aggregator.RollUp(parent, rec)
	c.upsert(ctx, parent, taskLog)
}

// upsert writes one record to the sink. Sink errors are logged, never
// fatal to the run: losing one durable write must not halt the crawl.
func (c *Crawler) upsert(ctx context.Context, rec *models.CrawlRecord, taskLog *logrus.Entry) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.Upsert(ctx, rec); err != nil {
		taskLog.Errorf("Result store upsert failed for '%s': %v", rec.URL, err)
	}
}
