package watcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestChangeEventJSON(t *testing.T) {
	event := ChangeEvent{Type: EventTypeModified, Path: "src/app.js", Root: "/project", Size: 12}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"modified","path":"src/app.js","root":"/project"}`, string(data))
	assert.Equal(t, filepath.Join("/project", "src", "app.js"), event.AbsPath())
}

func TestNewFileWatcher(t *testing.T) {
	_, err := NewFileWatcher(Config{}, nil)
	assert.Error(t, err)

	_, err = NewFileWatcher(Config{Roots: []string{t.TempDir()}, Ignore: []string{"[unclosed"}}, nil)
	assert.Error(t, err)

	root := t.TempDir()
	fw, err := NewFileWatcher(Config{Roots: []string{root}}, nil)
	require.NoError(t, err)
	defer fw.Stop()

	assert.NotNil(t, fw.watcher)
	assert.NotNil(t, fw.debouncer)
	assert.Equal(t, []string{root}, fw.Roots())
}

func TestSubscribeOnce(t *testing.T) {
	fw, err := NewFileWatcher(Config{Roots: []string{t.TempDir()}}, nil)
	require.NoError(t, err)
	defer fw.Stop()

	events, err := fw.Subscribe()
	require.NoError(t, err)
	assert.NotNil(t, events)

	_, err = fw.Subscribe()
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

func TestIgnored(t *testing.T) {
	fw, err := NewFileWatcher(Config{
		Roots:  []string{t.TempDir()},
		Ignore: []string{"**/node_modules/**", "node_modules/**", "*.log"},
	}, nil)
	require.NoError(t, err)
	defer fw.Stop()

	assert.True(t, fw.Ignored("node_modules/react/index.js"))
	assert.True(t, fw.Ignored("packages/app/node_modules/react/index.js"))
	assert.True(t, fw.Ignored("debug.log"))
	assert.False(t, fw.Ignored("src/debug.log"))
	assert.False(t, fw.Ignored("src/index.js"))
	assert.True(t, fw.ignoredDir("node_modules"))
	assert.False(t, fw.ignoredDir("src"))
}

func TestRelative(t *testing.T) {
	outer := t.TempDir()
	inner := filepath.Join(outer, "packages", "app")
	require.NoError(t, os.MkdirAll(inner, 0o755))

	fw, err := NewFileWatcher(Config{Roots: []string{outer, inner}}, nil)
	require.NoError(t, err)
	defer fw.Stop()

	root, rel, ok := fw.relative(filepath.Join(inner, "src", "index.js"))
	require.True(t, ok)
	assert.Equal(t, inner, root)
	assert.Equal(t, "src/index.js", rel)

	root, rel, ok = fw.relative(filepath.Join(outer, "README.md"))
	require.True(t, ok)
	assert.Equal(t, outer, root)
	assert.Equal(t, "README.md", rel)

	_, _, ok = fw.relative(filepath.Join(filepath.Dir(outer), "elsewhere.js"))
	assert.False(t, ok)
}

func TestDebouncerCollapsesPaths(t *testing.T) {
	d := &Debouncer{
		delay:  10 * time.Millisecond,
		output: make(chan []ChangeEvent, 1),
		done:   make(chan struct{}),
	}

	d.addEvent(ChangeEvent{Type: EventTypeCreated, Path: "a.js", Root: "/p"})
	d.addEvent(ChangeEvent{Type: EventTypeModified, Path: "b.js", Root: "/p"})
	d.addEvent(ChangeEvent{Type: EventTypeModified, Path: "a.js", Root: "/p"})

	select {
	case batch := <-d.output:
		require.Len(t, batch, 2)
		assert.Equal(t, "a.js", batch[0].Path)
		assert.Equal(t, EventTypeModified, batch[0].Type)
		assert.Equal(t, "b.js", batch[1].Path)
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer did not flush")
	}
}

func startWatcher(t *testing.T, cfg Config) (*FileWatcher, <-chan ChangeEvent) {
	t.Helper()
	fw, err := NewFileWatcher(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		fw.Stop()
	})

	events, err := fw.Subscribe()
	require.NoError(t, err)
	require.NoError(t, fw.Start(ctx))
	return fw, events
}

// waitForPath rewrites file until an event for want arrives and returns it
// along with every event received before it.
func waitForPath(t *testing.T, events <-chan ChangeEvent, file, want string) (ChangeEvent, []ChangeEvent) {
	t.Helper()
	var seen []ChangeEvent
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case event := <-events:
			if event.Path == want {
				return event, seen
			}
			seen = append(seen, event)
		case <-tick.C:
			require.NoError(t, os.WriteFile(file, []byte(time.Now().String()), 0o644))
		case <-deadline:
			t.Fatalf("no event for %s", want)
			return ChangeEvent{}, nil
		}
	}
}

func TestWatcherReportsRelativeChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	_, events := startWatcher(t, Config{Roots: []string{root}, Debounce: 10 * time.Millisecond})

	file := filepath.Join(root, "src", "index.js")
	event, _ := waitForPath(t, events, file, "src/index.js")
	assert.Equal(t, root, event.Root)
	assert.Equal(t, file, event.AbsPath())
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	_, events := startWatcher(t, Config{Roots: []string{root}, Debounce: 10 * time.Millisecond})

	dir := filepath.Join(root, "feature", "deep")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	waitForPath(t, events, filepath.Join(dir, "module.js"), "feature/deep/module.js")
}

func TestWatcherSkipsIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "lib"), 0o755))
	fw, events := startWatcher(t, Config{
		Roots:    []string{root},
		Debounce: 10 * time.Millisecond,
		Ignore:   []string{"node_modules/**", "*.tmp"},
	})

	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "lib", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.tmp"), []byte("x"), 0o644))

	event, seen := waitForPath(t, events, filepath.Join(root, "app.js"), "app.js")
	assert.Equal(t, "app.js", event.Path)
	for _, other := range seen {
		assert.False(t, fw.Ignored(other.Path), "ignored path %s was reported", other.Path)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	fw, err := NewFileWatcher(Config{Roots: []string{t.TempDir()}}, nil)
	require.NoError(t, err)
	require.NoError(t, fw.Stop())
	assert.NoError(t, fw.Stop())
}
