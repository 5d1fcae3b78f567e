// Package invalidation turns file changes into cache invalidations and change
// notifications, deferring both while a hot module reloading client is
// attached.
package invalidation

import (
	"context"
	"errors"
	"sync"

	perrors "github.com/conneroisu/packager/internal/errors"
	"github.com/conneroisu/packager/internal/logging"
	"github.com/conneroisu/packager/internal/watcher"
)

// ErrAlreadySubscribed is returned when the tracker is subscribed twice.
var ErrAlreadySubscribed = watcher.ErrAlreadySubscribed

// FileInvalidator drops builder state for one changed file.
type FileInvalidator interface {
	InvalidateFile(path string)
}

// CacheInvalidator marks cached bundles stale.
type CacheInvalidator interface {
	InvalidateAll() int
}

// Notifier wakes long-poll clients.
type Notifier interface {
	NotifyAll() int
}

// ChangeSource provides the single stream of file changes.
type ChangeSource interface {
	Subscribe() (<-chan watcher.ChangeEvent, error)
}

// HMRListener receives changes while a hot reloading client is attached.
type HMRListener func(watcher.ChangeEvent)

// Tracker applies file changes to the builder, the bundle cache and the
// notification hub.
type Tracker struct {
	files  FileInvalidator
	cache  CacheInvalidator
	hub    Notifier
	logger logging.Logger

	mutex      sync.Mutex
	listener   HMRListener
	generation uint64
	deferred   int
	subscribed bool
}

// NewTracker creates a tracker.
func NewTracker(files FileInvalidator, cache CacheInvalidator, hub Notifier, logger logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Tracker{
		files:  files,
		cache:  cache,
		hub:    hub,
		logger: logger.WithComponent("invalidation"),
	}
}

// HandleChange applies one change. The builder always learns about it; the
// cache and long-poll clients only when no HMR listener is attached.
func (t *Tracker) HandleChange(ctx context.Context, event watcher.ChangeEvent) {
	t.files.InvalidateFile(event.AbsPath())

	t.mutex.Lock()
	listener := t.listener
	if listener != nil {
		t.deferred++
		t.mutex.Unlock()

		t.logger.Debug(ctx, "Change forwarded to HMR listener", "path", event.Path)
		listener(event)
		return
	}

	// Every key is invalidated: dependency information is not tracked per
	// bundle, so any file may belong to any of them.
	invalidated := t.cache.InvalidateAll()
	notified := t.hub.NotifyAll()
	t.mutex.Unlock()

	t.logger.Info(ctx, "File change invalidated bundles",
		"path", event.Path,
		"type", event.Type.String(),
		"bundles", invalidated,
		"clients", notified,
	)
}

// SetHMRListener attaches l, replacing any current listener without
// flushing. The returned release func clears the listener only while this
// registration is still current.
func (t *Tracker) SetHMRListener(l HMRListener) (release func()) {
	t.mutex.Lock()
	t.generation++
	generation := t.generation
	t.listener = l
	t.mutex.Unlock()

	return func() {
		t.mutex.Lock()
		defer t.mutex.Unlock()
		if t.generation == generation && t.listener != nil {
			t.clearLocked()
		}
	}
}

// ClearHMRListener detaches the current listener and applies the changes
// deferred while it was attached.
func (t *Tracker) ClearHMRListener() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.clearLocked()
}

func (t *Tracker) clearLocked() {
	t.listener = nil
	t.generation++
	if t.deferred == 0 {
		return
	}

	invalidated := t.cache.InvalidateAll()
	notified := t.hub.NotifyAll()
	t.logger.Info(context.Background(), "Applied changes deferred by HMR listener",
		"changes", t.deferred,
		"bundles", invalidated,
		"clients", notified,
	)
	t.deferred = 0
}

// HasHMRListener reports whether a listener is attached.
func (t *Tracker) HasHMRListener() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.listener != nil
}

// Deferred returns how many changes await the listener being cleared.
func (t *Tracker) Deferred() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.deferred
}

// Subscribe establishes the tracker's single change subscription.
func (t *Tracker) Subscribe(source ChangeSource) (<-chan watcher.ChangeEvent, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.subscribed {
		return nil, ErrAlreadySubscribed
	}
	events, err := source.Subscribe()
	if err != nil {
		if errors.Is(err, watcher.ErrAlreadySubscribed) {
			return nil, err
		}
		return nil, perrors.NewWatcherError("subscribing to file changes", err)
	}
	t.subscribed = true
	return events, nil
}

// Run handles events in order until ctx is done or events is closed.
func (t *Tracker) Run(ctx context.Context, events <-chan watcher.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			t.HandleChange(ctx, event)
		}
	}
}
