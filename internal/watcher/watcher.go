package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"arc/internal/errs"
	"arc/internal/logger"
)

// Target is one watched path and the callback fired after it changes
type Target struct {
	Name     string
	Path     string
	OnChange func(path string)
}

type Options struct {
	Debounce       time.Duration
	Cooldown       time.Duration
	FollowSymlinks bool
}

// directories never descended into when a target is a directory tree
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
}

type target struct {
	Target
	path   string // absolute, resolved when following symlinks
	dir    bool
	direct bool // false while only the parent directory is watched

	timer    *time.Timer
	gen      uint64
	lastFire time.Time
	lastPath string
}

type fire struct {
	t   *target
	gen uint64
}

/**
 * Watcher delivers debounced change notifications per target
 * @description
 * - Native notifications through fsnotify, no polling
 * - One goroutine owns every timer and target field; timers only post
 *   back to that goroutine
 * - Debounce: the callback fires once the target has been quiet for Debounce
 * - Cooldown: events within Cooldown after a fire are dropped
 * - Missing targets watch their parent and are promoted when created
 */
type Watcher struct {
	opts    Options
	fsw     *fsnotify.Watcher
	targets []*target
	fires   chan fire
	done    chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		opts:    opts,
		fsw:     fsw,
		fires:   make(chan fire, 16),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

/**
 * Register a target before Start
 * @param {Target} t - path and callback
 * @returns {error} *errs.WatcherSetupError when neither the path nor its parent can be watched
 */
func (w *Watcher) Add(t Target) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return &errs.WatcherSetupError{Path: t.Path, Err: errors.New("watcher already started")}
	}
	if t.OnChange == nil {
		return &errs.WatcherSetupError{Path: t.Path, Err: errors.New("no callback")}
	}
	abs, err := filepath.Abs(t.Path)
	if err != nil {
		return &errs.WatcherSetupError{Path: t.Path, Err: err}
	}
	tg := &target{Target: t, path: abs}
	if err := w.arm(tg); err != nil {
		return &errs.WatcherSetupError{Path: t.Path, Err: err}
	}
	w.targets = append(w.targets, tg)
	return nil
}

// Len returns the number of registered targets
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.targets)
}

// arm installs the fsnotify watches for a target, directly when the path
// exists (and is not a symlink we refuse to follow), else on its parent.
func (w *Watcher) arm(t *target) error {
	info, err := os.Lstat(t.path)
	if err == nil && info.Mode()&os.ModeSymlink != 0 && w.opts.FollowSymlinks {
		resolved, rerr := filepath.EvalSymlinks(t.path)
		if rerr == nil {
			t.path = resolved
			info, err = os.Lstat(resolved)
		}
	}

	switch {
	case err == nil && info.Mode()&os.ModeSymlink == 0:
		t.dir = info.IsDir()
		if t.dir {
			if err := w.addTree(t.path); err != nil {
				return err
			}
		} else if err := w.fsw.Add(t.path); err != nil {
			return err
		}
		t.direct = true
		return nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return err
	}

	// missing, or a symlink that is not followed: watch the parent and match by name
	parent := filepath.Dir(t.path)
	if err := w.fsw.Add(parent); err != nil {
		return err
	}
	t.direct = false
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipEntry(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func skipEntry(name string) bool {
	return strings.HasPrefix(name, ".") || skipDirs[name]
}

// Start runs the event loop until ctx is cancelled or Close is called
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started || w.closed {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stopped)
	defer func() {
		for _, t := range w.targets {
			if t.timer != nil {
				t.timer.Stop()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case f := <-w.fires:
			w.fire(f)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("File watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	path := filepath.Clean(ev.Name)

	for _, t := range w.targets {
		if !w.matches(t, path) {
			continue
		}
		w.track(t, path, ev)
		w.schedule(t, path)
	}
}

func (w *Watcher) matches(t *target, path string) bool {
	if path == t.path {
		return true
	}
	if !t.direct || !t.dir {
		return false
	}
	rel, err := filepath.Rel(t.path, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if skipEntry(part) {
			return false
		}
	}
	return !strings.HasSuffix(path, ".log")
}

// track keeps the fsnotify watches in step with the tree: promotion of a
// missing target, demotion of a removed one, new subdirectories.
func (w *Watcher) track(t *target, path string, ev fsnotify.Event) {
	switch {
	case path == t.path && !t.direct && ev.Has(fsnotify.Create):
		if err := w.arm(t); err != nil {
			logger.Warnf("Watch target '%s' appeared but cannot be watched: %v", t.path, err)
			return
		}
		if t.direct {
			logger.Debugf("Watch target '%s' promoted to a direct watch", t.path)
		}
	case path == t.path && t.direct && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)):
		if err := w.fsw.Add(filepath.Dir(t.path)); err != nil {
			logger.Warnf("Watch target '%s' removed, parent not watchable: %v", t.path, err)
			return
		}
		t.direct = false
		logger.Debugf("Watch target '%s' removed, watching parent", t.path)
	case t.dir && t.direct && ev.Has(fsnotify.Create):
		if info, err := os.Lstat(path); err == nil && info.IsDir() {
			w.addTree(path)
		}
	}
}

func (w *Watcher) schedule(t *target, path string) {
	if !t.lastFire.IsZero() && time.Since(t.lastFire) < w.opts.Cooldown {
		return
	}
	t.gen++
	t.lastPath = path
	if t.timer != nil {
		t.timer.Stop()
	}
	gen := t.gen
	t.timer = time.AfterFunc(w.opts.Debounce, func() {
		select {
		case w.fires <- fire{t: t, gen: gen}:
		case <-w.done:
		case <-w.stopped:
		}
	})
}

func (w *Watcher) fire(f fire) {
	t := f.t
	if f.gen != t.gen {
		return
	}
	t.timer = nil
	t.lastFire = time.Now()
	logger.Infof("Change detected in '%s' (%s)", t.lastPath, t.Name)
	// 回调可能会关闭本 watcher，必须在事件循环之外执行
	go t.OnChange(t.lastPath)
}

// Close stops the loop and releases the native watches. Safe to call twice.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	if started {
		<-w.stopped
	}
	return err
}
