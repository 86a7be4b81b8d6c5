package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcrawler/pkg/config"
	"webcrawler/pkg/models"
	"webcrawler/pkg/state"
	"webcrawler/pkg/storage"
	"webcrawler/pkg/utils"
)

// testSite serves a fixed set of HTML pages and redirects, counting
// fetches per path.
type testSite struct {
	mu      sync.Mutex
	fetches map[string]int

	pages     map[string]string // path -> HTML body
	redirects map[string]string // path -> Location (301)
	delay     time.Duration

	server *httptest.Server
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()
	site := &testSite{
		fetches:   make(map[string]int),
		pages:     make(map[string]string),
		redirects: make(map[string]string),
	}
	site.server = httptest.NewServer(http.HandlerFunc(site.handle))
	t.Cleanup(site.server.Close)
	return site
}

func (s *testSite) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.fetches[r.URL.Path]++
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	if loc, ok := s.redirects[r.URL.Path]; ok {
		w.Header().Set("Location", loc)
		w.WriteHeader(http.StatusMovedPermanently)
		return
	}
	if body, ok := s.pages[r.URL.Path]; ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(body))
		return
	}
	http.NotFound(w, r)
}

func (s *testSite) url(path string) string {
	return s.server.URL + path
}

func (s *testSite) fetchCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[path]
}

// page builds an HTML body with a title and links to the given paths.
func (s *testSite) page(title string, linkPaths ...string) string {
	body := fmt.Sprintf("<html><head><title>%s</title></head><body>", title)
	for _, p := range linkPaths {
		body += fmt.Sprintf(`<a href="%s">%s</a>`, p, p)
	}
	return body + "</body></html>"
}

func testConfig(t *testing.T, maxDepth int) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	return &config.AppConfig{
		MaxDepth:          maxDepth,
		MaxRetries:        1,
		MaxRedirects:      config.DefaultMaxRedirects,
		InitialRetryDelay: time.Millisecond,
		MaxRetryDelay:     2 * time.Millisecond,
		FetchTimeout:      5 * time.Second,
		UserAgent:         "webcrawler-test/1.0",
		DatabasePath:      dir,
		StateFile:         filepath.Join(dir, "snapshot.json"),
		HTTPClientSettings: config.HTTPClientConfig{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     time.Minute,
			TLSHandshakeTimeout: time.Second,
			DialerTimeout:       time.Second,
			DialerKeepAlive:     time.Second,
		},
	}
}

func newTestCrawler(t *testing.T, cfg *config.AppConfig) *Crawler {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(cfg, logrus.NewEntry(log), storage.NewFactory(cfg.DatabasePath))
}

func recordByURL(records []*models.CrawlRecord, url string) *models.CrawlRecord {
	for _, rec := range records {
		if rec.URL == url {
			return rec
		}
	}
	return nil
}

func TestCrawlBreadthFirstWithDepthBound(t *testing.T) {
	site := newTestSite(t)
	site.pages["/"] = site.page("Root", "/a", "/b")
	site.pages["/a"] = site.page("Page A", "/deep")
	site.pages["/b"] = site.page("Page B")
	site.pages["/deep"] = site.page("Too Deep")

	c := newTestCrawler(t, testConfig(t, 1))
	records, err := c.Crawl(context.Background(), site.url("/"))
	require.NoError(t, err)

	// /deep sits at depth 2, beyond the bound.
	require.Len(t, records, 3)
	assert.Equal(t, 0, site.fetchCount("/deep"))

	// Insertion order follows completion order, breadth-first.
	assert.Equal(t, site.url("/"), records[0].URL)
	assert.Equal(t, "Root", records[0].Title)
	assert.Equal(t, "Page A", recordByURL(records, site.url("/a")).Title)

	root := records[0]
	assert.Equal(t, 2, root.Stats.TotalURLsCrawled)
	assert.Equal(t, 0, root.Stats.TotalErrors)
	assert.Equal(t, map[int]int{200: 2}, root.Stats.StatusCodeStats)
}

func TestCrawlDeduplicatesURLs(t *testing.T) {
	site := newTestSite(t)
	// /a and /b link each other and back to the root.
	site.pages["/"] = site.page("Root", "/a", "/b", "/a")
	site.pages["/a"] = site.page("Page A", "/b", "/")
	site.pages["/b"] = site.page("Page B", "/a", "/")

	c := newTestCrawler(t, testConfig(t, 3))
	records, err := c.Crawl(context.Background(), site.url("/"))
	require.NoError(t, err)

	require.Len(t, records, 3)
	for _, path := range []string{"/", "/a", "/b"} {
		assert.Equal(t, 1, site.fetchCount(path), "path %s fetched more than once", path)
	}
}

func TestCrawlFollowsRedirectAtSameDepth(t *testing.T) {
	site := newTestSite(t)
	site.redirects["/old"] = "/new"
	site.pages["/new"] = site.page("New Home", "/child")
	site.pages["/child"] = site.page("Child")

	// Depth bound 0: the redirect target must still be fetched (it
	// inherits the origin's depth), but its links must not be.
	c := newTestCrawler(t, testConfig(t, 0))
	records, err := c.Crawl(context.Background(), site.url("/old"))
	require.NoError(t, err)

	require.Len(t, records, 2)

	old := recordByURL(records, site.url("/old"))
	require.NotNil(t, old)
	require.NotNil(t, old.StatusCode)
	assert.Equal(t, http.StatusMovedPermanently, *old.StatusCode)
	assert.Equal(t, RedirectTitle, old.Title)

	updated := recordByURL(records, site.url("/new"))
	require.NotNil(t, updated)
	assert.Equal(t, "New Home", updated.Title)
	assert.Equal(t, site.url("/old"), updated.ParentURL)
	assert.Equal(t, 0, site.fetchCount("/child"))

	// The target's completion rolls into the redirecting record.
	assert.Equal(t, 1, old.Stats.TotalURLsCrawled)
	assert.Equal(t, map[int]int{200: 1}, old.Stats.StatusCodeStats)
}

func TestCrawlAbandonsLongRedirectChain(t *testing.T) {
	site := newTestSite(t)
	site.redirects["/r0"] = "/r1"
	site.redirects["/r1"] = "/r2"
	site.redirects["/r2"] = "/r3"
	site.redirects["/r3"] = "/r4"
	site.pages["/r4"] = site.page("End")

	cfg := testConfig(t, 0)
	cfg.MaxRedirects = 2
	c := newTestCrawler(t, cfg)

	records, err := c.Crawl(context.Background(), site.url("/r0"))
	require.NoError(t, err)

	// r0 (count 0), r1 (count 1), r2 (count 2); following r2's redirect
	// would mean count 3 > bound, so the chain ends there. Every hop
	// that was fetched still has a record.
	require.Len(t, records, 3)
	assert.Equal(t, 0, site.fetchCount("/r3"))
	assert.Equal(t, 0, site.fetchCount("/r4"))
}

func TestCrawlSkipsBlacklistedLinks(t *testing.T) {
	site := newTestSite(t)
	site.pages["/"] = site.page("Root", "/photo.jpg", "/doc.pdf", "/page")
	site.pages["/page"] = site.page("Page")

	cfg := testConfig(t, 1)
	cfg.BlacklistedExtensions = config.ExtensionBlacklist{Extensions: []string{".jpg", ".pdf"}}
	c := newTestCrawler(t, cfg)

	records, err := c.Crawl(context.Background(), site.url("/"))
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, 0, site.fetchCount("/photo.jpg"))
	assert.Equal(t, 0, site.fetchCount("/doc.pdf"))
}

func TestCrawlRecordsHTTPErrors(t *testing.T) {
	site := newTestSite(t)
	site.pages["/"] = site.page("Root", "/missing")

	c := newTestCrawler(t, testConfig(t, 1))
	records, err := c.Crawl(context.Background(), site.url("/"))
	require.NoError(t, err)

	require.Len(t, records, 2)
	missing := recordByURL(records, site.url("/missing"))
	require.NotNil(t, missing)
	require.NotNil(t, missing.StatusCode)
	assert.Equal(t, http.StatusNotFound, *missing.StatusCode)
	assert.True(t, missing.IsError())

	// One fetch only: an HTTP status is an outcome, never retried.
	assert.Equal(t, 1, site.fetchCount("/missing"))

	root := recordByURL(records, site.url("/"))
	assert.Equal(t, 1, root.Stats.TotalErrors)
	assert.Equal(t, map[int]int{404: 1}, root.Stats.StatusCodeStats)
}

func TestCrawlRecordsTerminalFetchFailure(t *testing.T) {
	site := newTestSite(t)
	// Nothing listens on port 1.
	site.pages["/"] = site.page("Root", "http://127.0.0.1:1/dead")

	c := newTestCrawler(t, testConfig(t, 1))
	records, err := c.Crawl(context.Background(), site.url("/"))
	require.NoError(t, err)

	require.Len(t, records, 2)
	dead := recordByURL(records, "http://127.0.0.1:1/dead")
	require.NotNil(t, dead)
	assert.Nil(t, dead.StatusCode)
	assert.Equal(t, ErrorTitle, dead.Title)
	assert.True(t, dead.IsError())

	root := recordByURL(records, site.url("/"))
	assert.Equal(t, 1, root.Stats.TotalErrors)
	assert.Empty(t, root.Stats.StatusCodeStats)
}

// recordSet reduces records to their comparable identity: URL, status,
// title.
func recordSet(records []*models.CrawlRecord) map[string]string {
	set := make(map[string]string, len(records))
	for _, rec := range records {
		status := "none"
		if rec.StatusCode != nil {
			status = fmt.Sprintf("%d", *rec.StatusCode)
		}
		set[rec.URL] = status + " " + rec.Title
	}
	return set
}

func TestPauseSnapshotsAndResumeCompletes(t *testing.T) {
	site := newTestSite(t)
	site.delay = 30 * time.Millisecond
	site.pages["/"] = site.page("Root", "/p1", "/p2", "/p3", "/p4", "/p5")
	for i := 1; i <= 5; i++ {
		site.pages[fmt.Sprintf("/p%d", i)] = site.page(fmt.Sprintf("Page %d", i))
	}
	paths := []string{"/", "/p1", "/p2", "/p3", "/p4", "/p5"}

	// Uninterrupted run first, against its own state directory.
	baseline, err := newTestCrawler(t, testConfig(t, 1)).Crawl(context.Background(), site.url("/"))
	require.NoError(t, err)
	require.Len(t, baseline, 6)

	fetchesAfterBaseline := make(map[string]int, len(paths))
	for _, path := range paths {
		fetchesAfterBaseline[path] = site.fetchCount(path)
	}

	cfg := testConfig(t, 1)
	c := newTestCrawler(t, cfg)

	require.NoError(t, c.Start(site.url("/")))
	time.Sleep(40 * time.Millisecond) // inside the crawl, well before it finishes
	c.Pause()

	require.Equal(t, models.PhasePaused, c.Wait())
	persister := state.NewPersister(cfg.StateFile, logrus.NewEntry(logrus.New()))
	assert.True(t, persister.Exists(), "pause must leave a snapshot behind")

	require.NoError(t, c.Resume())
	require.Equal(t, models.PhaseCompleted, c.Wait())
	assert.False(t, persister.Exists(), "completion must discard the snapshot")

	// No URL is fetched twice across the pause boundary.
	for _, path := range paths {
		assert.LessOrEqual(t, site.fetchCount(path)-fetchesAfterBaseline[path], 1,
			"path %s refetched after resume", path)
	}

	store, err := storage.Open(cfg.DatabasePath)
	require.NoError(t, err)
	defer store.Close()
	records, err := store.QueryAll(context.Background())
	require.NoError(t, err)

	// The interrupted run ends with the same records, by URL, status,
	// and title, as the uninterrupted one.
	assert.Equal(t, recordSet(baseline), recordSet(records))
}

func TestRobotsDisallowedSkippedSilently(t *testing.T) {
	site := newTestSite(t)
	site.pages["/robots.txt"] = "User-agent: *\nDisallow: /private/\n"
	site.pages["/"] = site.page("Root", "/private/page", "/public/page")
	site.pages["/private/page"] = site.page("Secret")
	site.pages["/public/page"] = site.page("Public")

	cfg := testConfig(t, 1)
	cfg.RespectRobots = true
	c := newTestCrawler(t, cfg)

	records, err := c.Crawl(context.Background(), site.url("/"))
	require.NoError(t, err)

	// The disallowed URL is never fetched and leaves no record.
	assert.Equal(t, 0, site.fetchCount("/private/page"))
	assert.Nil(t, recordByURL(records, site.url("/private/page")))
	require.Len(t, records, 2)

	public := recordByURL(records, site.url("/public/page"))
	require.NotNil(t, public)
	assert.Equal(t, "Public", public.Title)

	// The skip does not roll into the parent: neither a completion nor
	// an error.
	root := recordByURL(records, site.url("/"))
	require.NotNil(t, root)
	assert.Equal(t, 1, root.Stats.TotalURLsCrawled)
	assert.Equal(t, 0, root.Stats.TotalErrors)
	assert.Equal(t, map[int]int{200: 1}, root.Stats.StatusCodeStats)
}

func TestFreshStartClearsEarlierResults(t *testing.T) {
	site := newTestSite(t)
	site.pages["/"] = site.page("Root", "/a", "/b")
	site.pages["/a"] = site.page("Page A")
	site.pages["/b"] = site.page("Page B")
	site.pages["/solo"] = site.page("Solo")

	cfg := testConfig(t, 1)
	c := newTestCrawler(t, cfg)

	first, err := c.Crawl(context.Background(), site.url("/"))
	require.NoError(t, err)
	require.Len(t, first, 3)

	// A second run against the same database reports only its own rows.
	second, err := c.Crawl(context.Background(), site.url("/solo"))
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, site.url("/solo"), second[0].URL)
}

func TestResumeFromHandCraftedSnapshot(t *testing.T) {
	site := newTestSite(t)
	site.pages["/"] = site.page("Root", "/a")
	site.pages["/a"] = site.page("Page A")

	cfg := testConfig(t, 1)

	// Snapshot as if the run paused after finishing the seed: /a is
	// still pending, the seed is visited and recorded.
	log := logrus.New()
	log.SetOutput(io.Discard)
	persister := state.NewPersister(cfg.StateFile, logrus.NewEntry(log))
	status := 200
	seedRec := models.NewCrawlRecord(site.url("/"), "")
	seedRec.StatusCode = &status
	seedRec.Title = "Root"
	require.NoError(t, persister.Save(&models.CrawlerState{
		Frontier: []models.CrawlTask{{URL: site.url("/a"), Depth: 1, ParentURL: site.url("/")}},
		Visited:  []string{site.url("/")},
		Records:  map[string]*models.CrawlRecord{site.url("/"): seedRec},
	}))

	c := newTestCrawler(t, cfg)
	require.NoError(t, c.Resume())
	require.Equal(t, models.PhaseCompleted, c.Wait())

	// The visited seed is never refetched.
	assert.Equal(t, 0, site.fetchCount("/"))
	assert.Equal(t, 1, site.fetchCount("/a"))

	store, err := storage.Open(cfg.DatabasePath)
	require.NoError(t, err)
	defer store.Close()
	records, err := store.QueryAll(context.Background())
	require.NoError(t, err)

	a := recordByURL(records, site.url("/a"))
	require.NotNil(t, a)
	assert.Equal(t, "Page A", a.Title)

	// The restored seed record absorbed /a's completion and was
	// upserted along with it.
	seed := recordByURL(records, site.url("/"))
	require.NotNil(t, seed)
	assert.Equal(t, 1, seed.Stats.TotalURLsCrawled)
}

func TestResumeWithoutSnapshotFails(t *testing.T) {
	c := newTestCrawler(t, testConfig(t, 1))
	err := c.Resume()
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrStateCorruption)
	assert.Equal(t, models.PhaseIdle, c.Phase())
}

func TestStopDiscardsSnapshot(t *testing.T) {
	site := newTestSite(t)
	site.delay = 30 * time.Millisecond
	site.pages["/"] = site.page("Root", "/p1", "/p2", "/p3")
	for i := 1; i <= 3; i++ {
		site.pages[fmt.Sprintf("/p%d", i)] = site.page("Page")
	}

	cfg := testConfig(t, 1)
	c := newTestCrawler(t, cfg)

	require.NoError(t, c.Start(site.url("/")))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Stop())

	assert.Equal(t, models.PhaseStopped, c.Phase())
	persister := state.NewPersister(cfg.StateFile, logrus.NewEntry(logrus.New()))
	assert.False(t, persister.Exists())
}

func TestStartRejectsInvalidSeed(t *testing.T) {
	c := newTestCrawler(t, testConfig(t, 1))
	assert.Error(t, c.Start("not a url"))
	assert.Equal(t, models.PhaseIdle, c.Phase())
}

func TestStartWhileRunningFails(t *testing.T) {
	site := newTestSite(t)
	site.delay = 50 * time.Millisecond
	site.pages["/"] = site.page("Root")

	c := newTestCrawler(t, testConfig(t, 0))
	require.NoError(t, c.Start(site.url("/")))
	assert.Error(t, c.Start(site.url("/")))
	assert.Error(t, c.Resume())
	c.Wait()
}

func TestCrawlNonHTMLContentGetsNoTitle(t *testing.T) {
	site := newTestSite(t)
	site.pages["/"] = site.page("Root", "/data")

	// Raw handler for a JSON endpoint.
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(plain.Close)
	site.pages["/"] = site.page("Root", plain.URL+"/data")

	c := newTestCrawler(t, testConfig(t, 1))
	records, err := c.Crawl(context.Background(), site.url("/"))
	require.NoError(t, err)

	data := recordByURL(records, plain.URL+"/data")
	require.NotNil(t, data)
	assert.Equal(t, "No Title", data.Title)
	assert.False(t, data.IsError())
}
