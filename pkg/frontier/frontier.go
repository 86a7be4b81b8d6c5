// Package frontier holds the ordered worklist of pending crawl tasks
// and the visited-set deduplication that guards it.
package frontier

import (
	"github.com/sirupsen/logrus"

	"webcrawler/pkg/models"
)

// Frontier is a FIFO worklist with URL-level deduplication. Dequeue
// order is first-in-first-out, which makes the crawl breadth-first.
// The engine is single-threaded, so no locking is needed here.
type Frontier struct {
	tasks   []models.CrawlTask
	visited map[string]bool // URLs that have been consumed for a fetch
	queued  map[string]bool // URLs currently waiting in the worklist
	log     *logrus.Entry
}

// New creates an empty Frontier.
func New(log *logrus.Entry) *Frontier {
	return &Frontier{
		visited: make(map[string]bool),
		queued:  make(map[string]bool),
		log:     log,
	}
}

// Enqueue appends task to the back of the worklist. Tasks whose URL is
// already visited or already queued are dropped silently.
func (f *Frontier) Enqueue(task models.CrawlTask) {
	if f.visited[task.URL] || f.queued[task.URL] {
		f.log.Debugf("Skipping duplicate enqueue: %s", task.URL)
		return
	}
	f.tasks = append(f.tasks, task)
	f.queued[task.URL] = true
}

// Dequeue pops the oldest task. Returns false when the worklist is
// empty. Guard conditions (depth/redirect bounds, visited re-checks)
// are the engine's responsibility at the call site.
func (f *Frontier) Dequeue() (models.CrawlTask, bool) {
	if len(f.tasks) == 0 {
		return models.CrawlTask{}, false
	}
	task := f.tasks[0]
	f.tasks = f.tasks[1:]
	delete(f.queued, task.URL)
	return task, true
}

// Len returns the number of pending tasks.
func (f *Frontier) Len() int {
	return len(f.tasks)
}

// MarkVisited records that url has been consumed for a fetch. A visited
// URL is never enqueued again.
func (f *Frontier) MarkVisited(url string) {
	f.visited[url] = true
}

// Visited reports whether url has already been consumed.
func (f *Frontier) Visited(url string) bool {
	return f.visited[url]
}

// Snapshot copies the pending tasks and visited set for persistence.
func (f *Frontier) Snapshot() (tasks []models.CrawlTask, visited []string) {
	tasks = make([]models.CrawlTask, len(f.tasks))
	copy(tasks, f.tasks)
	visited = make([]string, 0, len(f.visited))
	for url := range f.visited {
		visited = append(visited, url)
	}
	return tasks, visited
}

// Restore replaces the frontier contents from a persisted snapshot.
func (f *Frontier) Restore(tasks []models.CrawlTask, visited []string) {
	f.tasks = make([]models.CrawlTask, len(tasks))
	copy(f.tasks, tasks)
	f.visited = make(map[string]bool, len(visited))
	for _, url := range visited {
		f.visited[url] = true
	}
	f.queued = make(map[string]bool, len(tasks))
	for _, t := range tasks {
		f.queued[t.URL] = true
	}
}

// Reset clears all tasks and dedup state for a fresh crawl.
func (f *Frontier) Reset() {
	f.tasks = nil
	f.visited = make(map[string]bool)
	f.queued = make(map[string]bool)
}
