package version

import (
	"sync"

	"github.com/arkedb/lsmengine/pkg/fileid"
	"github.com/arkedb/lsmengine/pkg/fsprovider"
	"github.com/arkedb/lsmengine/pkg/metrics"
)

// maxDeleteAttempts bounds how many times the Cleaner retries deleting
// one file before surrendering (logging and dropping it — the
// underlying storage has leaked an object, per spec §4.F).
const maxDeleteAttempts = 5

// Logger is the minimal sink the Cleaner (and other background tasks)
// report transient errors through, satisfied by the standard library's
// *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

type deleteItem struct {
	level    int
	id       fileid.FileID
	attempts int
}

// Cleaner retires files whose VersionSet-wide refcount has dropped to
// zero. It runs on one dedicated goroutine, consuming an unbounded
// (mutex/condvar-backed, not channel-bounded) queue so VersionSet.Apply
// never blocks waiting for deletes to drain. Grounded on the
// Cleaner role described for the VersionSet in
// other_examples/612f7887_aalhour-rockyardkv__internal-version-version_set.go.go
// (obsolete-file bookkeeping on Version Unref), adapted to a standalone
// task rather than inline cleanup, matching this engine's async-task model.
type Cleaner struct {
	provider fsprovider.Provider
	logger   Logger
	vs       *VersionSet

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []deleteItem
	stopped bool
	done   chan struct{}

	// Metrics is the optional observability collaborator spec §8's
	// ambient stack calls for. A nil Metrics means deletes simply go
	// unrecorded. (The Logger, unlike Metrics, must be non-nil.)
	Metrics *metrics.Registry
}

// NewCleaner builds a Cleaner; call Run to start its background goroutine.
func NewCleaner(provider fsprovider.Provider, logger Logger) *Cleaner {
	c := &Cleaner{provider: provider, logger: logger, done: make(chan struct{})}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Cleaner) attach(vs *VersionSet) { c.vs = vs }

func (c *Cleaner) enqueue(level int, id fileid.FileID) {
	c.mu.Lock()
	c.queue = append(c.queue, deleteItem{level: level, id: id})
	c.mu.Unlock()
	c.cond.Signal()
}

// Enqueue forwards a file for deletion directly, bypassing a Version
// edit. pkg/compaction uses this for orphaned output files from a
// compaction run that failed before its edit was applied — they were
// never added to any Version, so releaseFiles will never see them.
func (c *Cleaner) Enqueue(level int, id fileid.FileID) {
	c.enqueue(level, id)
}

// Run drains the delete queue until Stop is called. Intended to be
// launched with `go cleaner.Run()` (or via pkg/engine.TaskRunner).
func (c *Cleaner) Run() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.stopped {
			c.cond.Wait()
		}
		if c.stopped && len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		var retry []deleteItem
		for _, item := range batch {
			path := c.vs.FilePath(item.level, item.id)
			if err := c.provider.Remove(path); err != nil {
				item.attempts++
				if item.attempts >= maxDeleteAttempts {
					c.logger.Printf("cleaner: surrendering delete of %s after %d attempts: %v", path, item.attempts, err)
					if c.Metrics != nil {
						c.Metrics.FilesSurrenderedTotal.Inc()
					}
					continue
				}
				c.logger.Printf("cleaner: retrying delete of %s: %v", path, err)
				retry = append(retry, item)
				continue
			}
			if c.Metrics != nil {
				c.Metrics.FilesCleanedTotal.Inc()
			}
		}
		if len(retry) > 0 {
			c.mu.Lock()
			c.queue = append(c.queue, retry...)
			c.mu.Unlock()
		}
	}
}

// Stop signals Run to exit once the queue drains and waits for it. Run
// exits only when the queue is empty, so every queued file, retries
// included, is attempted until it is removed or surrendered after
// maxDeleteAttempts.
func (c *Cleaner) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cond.Signal()
	<-c.done
}
