package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	n    atomic.Int32
	last atomic.Value
}

func (c *counter) onChange(path string) {
	c.last.Store(path)
	c.n.Add(1)
}

func (c *counter) count() int { return int(c.n.Load()) }

func newStarted(t *testing.T, opts Options, targets ...Target) *Watcher {
	t.Helper()
	w, err := New(opts)
	require.NoError(t, err)
	for _, tg := range targets {
		require.NoError(t, w.Add(tg))
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	return w
}

func touch(t *testing.T, path string, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestBurstFiresOnceThenCooldown(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.js")
	touch(t, file, "v0")

	var c counter
	newStarted(t, Options{Debounce: 100 * time.Millisecond, Cooldown: 800 * time.Millisecond},
		Target{Name: "app", Path: dir, OnChange: c.onChange})

	for i := 0; i < 5; i++ {
		touch(t, file, "burst")
		time.Sleep(10 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 20*time.Millisecond)

	// second burst lands inside the cooldown window
	for i := 0; i < 5; i++ {
		touch(t, file, "again")
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, c.count())

	// after the cooldown a change fires again
	time.Sleep(600 * time.Millisecond)
	touch(t, file, "later")
	require.Eventually(t, func() bool { return c.count() == 2 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, file, c.last.Load())
}

func TestMissingTargetIsPromoted(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "later.txt")

	var c counter
	w := newStarted(t, Options{Debounce: 50 * time.Millisecond},
		Target{Name: "late", Path: missing, OnChange: c.onChange})
	assert.Equal(t, 1, w.Len())

	// unrelated sibling does not fire
	touch(t, filepath.Join(dir, "other.txt"), "x")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, c.count())

	touch(t, missing, "created")
	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 20*time.Millisecond)

	touch(t, missing, "modified")
	require.Eventually(t, func() bool { return c.count() == 2 }, 2*time.Second, 20*time.Millisecond)
}

func TestNewSubdirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()

	var c counter
	newStarted(t, Options{Debounce: 50 * time.Millisecond},
		Target{Name: "tree", Path: dir, OnChange: c.onChange})

	sub := filepath.Join(dir, "pages")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 20*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	touch(t, filepath.Join(sub, "index.html"), "<h1>hi</h1>")
	require.Eventually(t, func() bool { return c.count() == 2 }, 2*time.Second, 20*time.Millisecond)
}

func TestHiddenAndLogEntriesIgnored(t *testing.T) {
	dir := t.TempDir()

	var c counter
	newStarted(t, Options{Debounce: 50 * time.Millisecond},
		Target{Name: "tree", Path: dir, OnChange: c.onChange})

	touch(t, filepath.Join(dir, ".swap"), "x")
	touch(t, filepath.Join(dir, "server.log"), "x")
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, c.count())
}

func TestSymlinkNotFollowedByDefault(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	var c counter
	newStarted(t, Options{Debounce: 50 * time.Millisecond},
		Target{Name: "link", Path: link, OnChange: c.onChange})

	touch(t, filepath.Join(real, "inside.txt"), "x")
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, c.count(), "changes behind a symlink must not be seen")
}

func TestSymlinkFollowedWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	var c counter
	newStarted(t, Options{Debounce: 50 * time.Millisecond, FollowSymlinks: true},
		Target{Name: "link", Path: link, OnChange: c.onChange})

	touch(t, filepath.Join(real, "inside.txt"), "x")
	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestAddAfterStartFails(t *testing.T) {
	w := newStarted(t, Options{})
	err := w.Add(Target{Path: t.TempDir(), OnChange: func(string) {}})
	assert.Error(t, err)
}

func TestAddUnwatchableParent(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)
	defer w.Close()
	err = w.Add(Target{Path: "/definitely/not/here/file", OnChange: func(string) {}})
	assert.Error(t, err)
}

func TestCloseFromCallback(t *testing.T) {
	dir := t.TempDir()
	var w *Watcher
	closed := make(chan struct{})
	w = newStarted(t, Options{Debounce: 20 * time.Millisecond},
		Target{Name: "self", Path: dir, OnChange: func(string) {
			w.Close()
			close(closed)
		}})

	touch(t, filepath.Join(dir, "f"), "x")
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not run")
	}
}
