// Package build provides the bundle cache and the default esbuild-backed
// builder of the packager.
package build

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/packager/internal/bundle"
	"github.com/conneroisu/packager/internal/errors"
	"github.com/conneroisu/packager/internal/logging"
)

// EntryState describes the build state of a cache entry.
type EntryState string

const (
	StateBuilding EntryState = "building"
	StateReady    EntryState = "ready"
	StateFailed   EntryState = "failed"
)

// Cache maps build options to a single in-flight or completed build.
//
// Invariants:
//   - at most one build per cache key is in flight; fresh lookups share it
//   - entries are replaced, never rebuilt in place
//   - all reads and writes of entries happen under mutex, so a lookup never
//     observes a result older than the most recent Invalidate
type Cache struct {
	builder bundle.Builder
	ctx     context.Context
	logger  logging.Logger
	metrics *Metrics

	mutex   sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	key       string
	options   bundle.Options
	future    *Future
	stale     bool
	createdAt time.Time
}

// EntryInfo is a snapshot of one cache entry.
type EntryInfo struct {
	Key       string     `json:"key"`
	EntryFile string     `json:"entry_file"`
	Platform  string     `json:"platform,omitempty"`
	State     EntryState `json:"state"`
	Stale     bool       `json:"stale"`
	CreatedAt time.Time  `json:"created_at"`
	Error     string     `json:"error,omitempty"`
}

// NewCache creates a cache building through builder. Builds run detached from
// the requests that trigger them and are bound to ctx instead, since other
// requests may share them.
func NewCache(ctx context.Context, builder bundle.Builder, logger logging.Logger) *Cache {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Cache{
		builder: builder,
		ctx:     ctx,
		logger:  logger.WithComponent("bundle_cache"),
		metrics: NewMetrics(),
		entries: make(map[string]*cacheEntry),
	}
}

// GetOrBuild returns the build for opts, starting one when the key is absent
// or stale.
func (c *Cache) GetOrBuild(opts bundle.Options) *Future {
	key := opts.CacheKey()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if entry, ok := c.entries[key]; ok && !entry.stale {
		c.metrics.RecordHit()
		return entry.future
	}

	entry := &cacheEntry{
		key:       key,
		options:   opts.Clone(),
		future:    newFuture(),
		createdAt: time.Now(),
	}
	c.entries[key] = entry

	go c.run(entry)

	return entry.future
}

func (c *Cache) run(entry *cacheEntry) {
	opts := entry.options
	op := logging.StartOperation(c.logger, "build",
		"entry_file", opts.EntryFile,
		"platform", opts.Platform,
	)

	b, err := c.build(opts)

	var duration time.Duration
	if err != nil {
		duration = op.EndWithError(c.ctx, err)
	} else {
		duration = op.End(c.ctx)
	}
	c.metrics.RecordBuild(duration, err)

	if err == nil {
		entry.future.resolve(b, nil)
		return
	}

	// A failed build is resolved and marked stale in one step, so a retry is
	// only handed out once the failure reached every waiter of this future.
	c.mutex.Lock()
	defer c.mutex.Unlock()
	entry.future.resolve(nil, err)
	if current, ok := c.entries[entry.key]; ok && current == entry {
		entry.stale = true
	}
}

func (c *Cache) build(opts bundle.Options) (b bundle.Bundle, err error) {
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = errors.NewBuildFailure(opts.EntryFile, fmt.Errorf("builder panic: %v", r))
		}
	}()

	b, err = c.builder.Build(c.ctx, opts)
	if err == nil && b == nil {
		err = fmt.Errorf("builder returned no bundle")
	}
	if err != nil {
		if !errors.IsBuildFailure(err) {
			err = errors.NewBuildFailure(opts.EntryFile, err)
		}
		return nil, err
	}
	return b, nil
}

// Invalidate marks the entry for key stale. Waiters of its current future
// still complete normally; the next GetOrBuild starts a fresh build.
func (c *Cache) Invalidate(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	entry.stale = true
	return true
}

// InvalidateAll marks every entry stale and returns how many were fresh.
func (c *Cache) InvalidateAll() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	count := 0
	for _, entry := range c.entries {
		if !entry.stale {
			entry.stale = true
			count++
		}
	}
	return count
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Keys returns the cache keys in sorted order.
func (c *Cache) Keys() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// IsStale reports whether key is present and stale.
func (c *Cache) IsStale(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	entry, ok := c.entries[key]
	return ok && entry.stale
}

// Entries returns a snapshot of all entries sorted by entry file.
func (c *Cache) Entries() []EntryInfo {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	infos := make([]EntryInfo, 0, len(c.entries))
	for _, entry := range c.entries {
		info := EntryInfo{
			Key:       entry.key,
			EntryFile: entry.options.EntryFile,
			Platform:  entry.options.Platform,
			State:     StateBuilding,
			Stale:     entry.stale,
			CreatedAt: entry.createdAt,
		}
		if entry.future.Ready() {
			info.State = StateReady
			if err := entry.future.Err(); err != nil {
				info.State = StateFailed
				info.Error = err.Error()
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].EntryFile != infos[j].EntryFile {
			return infos[i].EntryFile < infos[j].EntryFile
		}
		return infos[i].Key < infos[j].Key
	})
	return infos
}

// Metrics returns the build metrics of the cache.
func (c *Cache) Metrics() *Metrics {
	return c.metrics
}
