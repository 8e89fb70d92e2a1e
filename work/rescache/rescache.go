// Package rescache implements C2: a content-addressed, on-disk LRU cache for
// provider logos and other small resources, with per-fingerprint fetch
// coalescing so concurrent misses for the same URL only hit the upstream
// once (spec §4.2, §8 round-trip property).
package rescache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/logger"
	"kptv-proxy/work/metrics"
)

// Fetcher describes an upstream GET for a cache miss. Cache.Get takes a
// plain fetch function instead, and providerclient.Client does not
// implement this interface.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// entry is the LRU bookkeeping record for one cached blob (spec §3 Cache entry).
type entry struct {
	fingerprint string
	path        string
	size        int64
	lastAccess  time.Time
	elem        *list.Element
}

// Cache is the LRU on-disk resource cache. A bounded in-memory "hot" layer
// (otter) sits in front of the disk so repeat requests for the same logo
// within a short window skip the filesystem entirely; disk remains the
// source of truth for the size-bounded LRU invariant.
type Cache struct {
	dir       string
	sizeLimit int64
	disabled  bool

	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front = most recently used
	total   int64

	inflight   map[string]*coalescedFetch
	inflightMu sync.Mutex

	hot    *otter.Cache[string, []byte]
	logger *logger.Logger
}

type coalescedFetch struct {
	done chan struct{}
	data []byte
	err  error
}

// Options configures a new Cache.
type Options struct {
	Dir                    string
	SizeLimitBytes         int64
	ResourceRewriteDisabled bool
	HotEntries             int
	Logger                 *logger.Logger
}

// New builds a Cache rooted at opts.Dir. When opts.ResourceRewriteDisabled is
// true the cache is fully disabled (spec §4.2): Get always misses through to
// the fetcher and nothing is persisted.
func New(opts Options) (*Cache, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NewWithPrefix("INFO", "[rescache]")
	}
	c := &Cache{
		dir:       opts.Dir,
		sizeLimit: opts.SizeLimitBytes,
		disabled:  opts.ResourceRewriteDisabled,
		entries:   make(map[string]*entry),
		order:     list.New(),
		inflight:  make(map[string]*coalescedFetch),
		logger:    opts.Logger,
	}
	if c.disabled {
		return c, nil
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.IOFailed, "create cache dir", err)
	}
	hotSize := opts.HotEntries
	if hotSize <= 0 {
		hotSize = 256
	}
	hot, err := otter.New(&otter.Options[string, []byte]{MaximumSize: hotSize})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create hot cache", err)
	}
	c.hot = hot
	c.loadExisting()
	return c, nil
}

// Fingerprint returns the content-addressed key for a resource URL.
func Fingerprint(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// loadExisting rebuilds the in-memory LRU index from whatever is already on
// disk, oldest-mtime first, so the index survives restarts.
func (c *Cache) loadExisting() {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	type found struct {
		name string
		info os.FileInfo
	}
	var files []found
	for _, de := range ents {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, found{de.Name(), info})
	}
	// Oldest access first so list.PushFront below yields MRU-at-front.
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			if files[j].info.ModTime().Before(files[i].info.ModTime()) {
				files[i], files[j] = files[j], files[i]
			}
		}
	}
	for _, f := range files {
		e := &entry{
			fingerprint: f.name,
			path:        filepath.Join(c.dir, f.name),
			size:        f.info.Size(),
			lastAccess:  f.info.ModTime(),
		}
		e.elem = c.order.PushFront(e)
		c.entries[f.name] = e
		c.total += e.size
	}
	c.evictLocked()
}

// Get returns the cached bytes for url, fetching and storing them via fn on
// a miss. Concurrent misses for the same url coalesce into a single call to
// fn (spec §8: "fetch(x); fetch(x) performs exactly one upstream GET").
func (c *Cache) Get(ctx context.Context, url string, fn func(ctx context.Context) (io.ReadCloser, error)) ([]byte, error) {
	if c.disabled {
		body, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		return io.ReadAll(body)
	}

	fp := Fingerprint(url)

	if data, ok := c.hot.GetIfPresent(fp); ok {
		c.touch(fp)
		metrics.CacheHits.Inc()
		return data, nil
	}

	c.mu.Lock()
	if e, ok := c.entries[fp]; ok {
		c.mu.Unlock()
		data, err := os.ReadFile(e.path)
		if err == nil {
			c.touch(fp)
			c.hot.Set(fp, data)
			metrics.CacheHits.Inc()
			return data, nil
		}
		// Fall through to a refetch if the on-disk blob vanished underneath us.
	} else {
		c.mu.Unlock()
	}

	metrics.CacheMisses.Inc()
	return c.coalescedFetch(ctx, fp, url, fn)
}

func (c *Cache) coalescedFetch(ctx context.Context, fp, url string, fn func(ctx context.Context) (io.ReadCloser, error)) ([]byte, error) {
	c.inflightMu.Lock()
	if cf, ok := c.inflight[fp]; ok {
		c.inflightMu.Unlock()
		<-cf.done
		return cf.data, cf.err
	}
	cf := &coalescedFetch{done: make(chan struct{})}
	c.inflight[fp] = cf
	c.inflightMu.Unlock()

	defer func() {
		c.inflightMu.Lock()
		delete(c.inflight, fp)
		c.inflightMu.Unlock()
		close(cf.done)
	}()

	body, err := fn(ctx)
	if err != nil {
		cf.err = err
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		cf.err = apperr.Wrap(apperr.IOFailed, "read resource body", err)
		return nil, cf.err
	}

	if err := c.store(fp, data); err != nil {
		c.logger.Warn("{rescache - coalescedFetch} failed to persist %s: %v", fp, err)
	}
	c.hot.Set(fp, data)
	cf.data = data
	_ = url
	return data, nil
}

// store writes data to disk atomically (temp file + rename, so a crash mid-write
// never leaves a partial file per spec §4.2) and updates the LRU index.
func (c *Cache) store(fp string, data []byte) error {
	path := filepath.Join(c.dir, fp)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperr.Wrap(apperr.IOFailed, "write resource temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return apperr.Wrap(apperr.IOFailed, "rename resource file", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[fp]; ok {
		c.total -= old.size
		c.order.Remove(old.elem)
	}
	e := &entry{fingerprint: fp, path: path, size: int64(len(data)), lastAccess: time.Now()}
	e.elem = c.order.PushFront(e)
	c.entries[fp] = e
	c.total += e.size
	c.evictLocked()
	return nil
}

// touch marks fp as most-recently-used.
func (c *Cache) touch(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	if !ok {
		return
	}
	e.lastAccess = time.Now()
	c.order.MoveToFront(e.elem)
}

// evictLocked removes least-recently-used entries until total size is within
// the configured limit. Invariant (spec §8 property 5): after any eviction
// step, sum(sizes) <= size_limit and the evicted entry has the oldest
// last-access-time among in-cache entries. Caller must hold c.mu.
func (c *Cache) evictLocked() {
	if c.sizeLimit <= 0 {
		return
	}
	for c.total > c.sizeLimit {
		back := c.order.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry)
		c.order.Remove(back)
		delete(c.entries, e.fingerprint)
		c.total -= e.size
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("{rescache - evictLocked} failed to remove %s: %v", e.path, err)
		}
	}
}

// Stats reports the current occupancy, for the admin API / metrics.
func (c *Cache) Stats() (entries int, totalBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.total
}
