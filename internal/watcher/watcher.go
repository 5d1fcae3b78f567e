// Package watcher reports file changes under the project roots. It is the
// single change source of the bundle server: one subscriber receives every
// debounced change as a ChangeEvent relative to the root it happened in.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	perrors "github.com/conneroisu/packager/internal/errors"
	"github.com/conneroisu/packager/internal/logging"
)

// ErrAlreadySubscribed is returned by a second Subscribe call.
var ErrAlreadySubscribed = errors.New("watcher: change subscription already established")

// FileWatcher watches the project roots recursively with debouncing.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	roots     []string
	ignores   []glob.Glob
	logger    logging.Logger

	mutex      sync.Mutex
	subscribed bool
	started    bool
	out        chan ChangeEvent

	stopOnce sync.Once
	done     chan struct{}
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type EventType `json:"type"`
	// Path is slash separated and relative to Root.
	Path    string    `json:"path"`
	Root    string    `json:"root"`
	ModTime time.Time `json:"-"`
	Size    int64     `json:"-"`
}

// AbsPath returns the absolute path of the changed file.
func (e ChangeEvent) AbsPath() string {
	return filepath.Join(e.Root, filepath.FromSlash(e.Path))
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by name.
func (e EventType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Config configures a FileWatcher.
type Config struct {
	Roots    []string
	Debounce time.Duration
	// Ignore holds glob patterns matched against slash separated paths
	// relative to their root.
	Ignore []string
}

// Debouncer groups rapid file changes together
type Debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	mutex   sync.Mutex
	done    <-chan struct{}
}

// NewFileWatcher creates a watcher over cfg.Roots. Nothing is watched until
// Start.
func NewFileWatcher(cfg Config, logger logging.Logger) (*FileWatcher, error) {
	if len(cfg.Roots) == 0 {
		return nil, perrors.NewWatcherError("no roots to watch", nil)
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}

	roots := make([]string, 0, len(cfg.Roots))
	for _, root := range cfg.Roots {
		abs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			return nil, perrors.NewWatcherError(fmt.Sprintf("resolving root %s", root), err)
		}
		roots = append(roots, abs)
	}

	ignores := make([]glob.Glob, 0, len(cfg.Ignore))
	for _, pattern := range cfg.Ignore {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, perrors.NewWatcherError(fmt.Sprintf("invalid ignore pattern %q", pattern), err)
		}
		ignores = append(ignores, g)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, perrors.NewWatcherError("creating fsnotify watcher", err)
	}

	done := make(chan struct{})
	debouncer := &Debouncer{
		delay:   cfg.Debounce,
		events:  make(chan ChangeEvent, 100),
		output:  make(chan []ChangeEvent, 10),
		pending: make([]ChangeEvent, 0),
		done:    done,
	}

	return &FileWatcher{
		watcher:   watcher,
		debouncer: debouncer,
		roots:     roots,
		ignores:   ignores,
		logger:    logger.WithComponent("watcher"),
		out:       make(chan ChangeEvent, 256),
		done:      done,
	}, nil
}

// Roots returns the absolute roots being watched.
func (fw *FileWatcher) Roots() []string {
	return append([]string(nil), fw.roots...)
}

// Subscribe returns the change stream. Only one subscription is allowed.
func (fw *FileWatcher) Subscribe() (<-chan ChangeEvent, error) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	if fw.subscribed {
		return nil, ErrAlreadySubscribed
	}
	fw.subscribed = true
	return fw.out, nil
}

// Start watches every root recursively and begins delivering events.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mutex.Lock()
	if fw.started {
		fw.mutex.Unlock()
		return nil
	}
	fw.started = true
	fw.mutex.Unlock()

	for _, root := range fw.roots {
		if err := fw.AddRecursive(root); err != nil {
			return perrors.NewWatcherError(fmt.Sprintf("watching %s", root), err)
		}
	}

	go fw.debouncer.start(ctx)
	go fw.processEvents(ctx)
	go fw.watchLoop(ctx)

	fw.logger.Info(ctx, "Watching project roots", "roots", fw.roots)
	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.done)
		fw.debouncer.stop()
		err = fw.watcher.Close()
	})
	return err
}

// AddRecursive adds a directory and all subdirectories to watch, skipping
// ignored ones.
func (fw *FileWatcher) AddRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if root, rel, ok := fw.relative(path); ok && rel != "." && fw.ignoredDir(rel) {
			fw.logger.Debug(context.Background(), "Skipping ignored directory", "root", root, "path", rel)
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

// relative returns the root containing path and path relative to it.
func (fw *FileWatcher) relative(path string) (string, string, bool) {
	best := ""
	for _, root := range fw.roots {
		if (path == root || strings.HasPrefix(path, root+string(filepath.Separator))) && len(root) > len(best) {
			best = root
		}
	}
	if best == "" {
		return "", "", false
	}
	rel, err := filepath.Rel(best, path)
	if err != nil {
		return "", "", false
	}
	return best, filepath.ToSlash(rel), true
}

// Ignored reports whether the root-relative slash path matches an ignore
// pattern.
func (fw *FileWatcher) Ignored(rel string) bool {
	for _, g := range fw.ignores {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func (fw *FileWatcher) ignoredDir(rel string) bool {
	return fw.Ignored(rel) || fw.Ignored(rel+"/")
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	root, rel, ok := fw.relative(event.Name)
	if !ok || rel == "." || fw.Ignored(rel) {
		return
	}

	info, statErr := os.Stat(event.Name)
	var modTime time.Time
	var size int64
	if statErr == nil {
		modTime = info.ModTime()
		size = info.Size()
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventTypeCreated
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventTypeModified
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventTypeDeleted
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventTypeRenamed
	default:
		eventType = EventTypeModified
	}

	if eventType == EventTypeCreated && statErr == nil && info.IsDir() {
		if fw.ignoredDir(rel) {
			return
		}
		if err := fw.AddRecursive(event.Name); err != nil {
			fw.logger.Warn(ctx, err, "Failed to watch new directory", "path", rel)
		}
	}

	changeEvent := ChangeEvent{
		Type:    eventType,
		Path:    rel,
		Root:    root,
		ModTime: modTime,
		Size:    size,
	}

	select {
	case fw.debouncer.events <- changeEvent:
	case <-ctx.Done():
	case <-fw.done:
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case events := <-fw.debouncer.output:
			for _, event := range events {
				fw.logger.Debug(ctx, "File changed", "type", event.Type.String(), "path", event.Path)
				select {
				case fw.out <- event:
				case <-ctx.Done():
					return
				case <-fw.done:
					return
				}
			}
		}
	}
}

// Debouncer implementation
func (d *Debouncer) start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case event := <-d.events:
			d.addEvent(event)
		}
	}
}

func (d *Debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = append(d.pending, event)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *Debouncer) stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// flush emits the pending events, one per path in first-seen order carrying
// the latest event for that path.
func (d *Debouncer) flush() {
	d.mutex.Lock()
	if len(d.pending) == 0 {
		d.mutex.Unlock()
		return
	}

	index := make(map[string]int, len(d.pending))
	events := make([]ChangeEvent, 0, len(d.pending))
	for _, event := range d.pending {
		key := event.Root + "\x00" + event.Path
		if i, ok := index[key]; ok {
			events[i] = event
			continue
		}
		index[key] = len(events)
		events = append(events, event)
	}
	d.pending = d.pending[:0]
	d.mutex.Unlock()

	select {
	case d.output <- events:
	case <-d.done:
	}
}
