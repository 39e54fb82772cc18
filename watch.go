package kiss

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is the quiet period after the last file system event
// before a watched module is reloaded.
const DefaultWatchDebounce = 300 * time.Millisecond

// Watcher reloads one module when its files change and unloads it when its
// path disappears. Run must be called once.
type Watcher struct {
	container *Container
	fsw       *fsnotify.Watcher
	path      string
	target    string
	debounce  time.Duration
	started   atomic.Bool

	// reloaded is called after each reload attempt. Tests use it to wait.
	reloaded func(error)
}

// Watch creates a watcher for the module at path. A directory module is
// watched recursively; an archive is watched through its parent directory so
// that replacing the file is seen. A debounce of zero or less means
// DefaultWatchDebounce.
func (c *Container) Watch(path string, debounce time.Duration) (*Watcher, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	canonical, err := canonicalPath(path)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	outer, _, _ := strings.Cut(canonical, nestedSeparator)
	w := &Watcher{container: c, fsw: fsw, path: canonical, target: outer, debounce: debounce}
	if err := w.addDirectories(); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Path returns the canonical path of the watched module.
func (w *Watcher) Path() string { return w.path }

// Run processes file system events until ctx is cancelled. It returns nil on
// cancellation and an error when the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}
	logger := w.container.logger

	var (
		mu    sync.Mutex
		timer *time.Timer
		busy  sync.Mutex
	)
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		busy.Lock()
		defer busy.Unlock()
		err := w.reload(ctx)
		if err != nil {
			logger.Error("watched module reload failed", "path", w.path, "error", err)
		}
		if w.reloaded != nil {
			w.reloaded(err)
		}
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			logger.Warn("closing fsnotify watcher", "path", w.path, "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed")
			}
			if !w.relevant(evt.Name) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}
			logger.Debug("module changed", "path", w.path, "file", evt.Name, "op", evt.Op.String())
			mu.Lock()
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed")
			}
			logger.Warn("fsnotify error", "path", w.path, "error", err)
		}
	}
}

// reload loads the module again, or unloads it when its path is gone.
func (w *Watcher) reload(ctx context.Context) error {
	if _, err := os.Stat(w.target); errors.Is(err, fs.ErrNotExist) {
		return w.container.UnloadModule(ctx, w.path)
	}
	_, err := w.container.LoadModule(ctx, w.path)
	return err
}

// relevant reports whether an event on name concerns the watched module.
func (w *Watcher) relevant(name string) bool {
	return name == w.target || strings.HasPrefix(name, w.target+string(filepath.Separator))
}

// addDirectories registers the module directory tree, or the directory
// holding the archive.
func (w *Watcher) addDirectories() error {
	info, err := os.Stat(w.target)
	if err != nil || !info.IsDir() {
		dir := filepath.Dir(w.target)
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", dir, err)
		}
		return nil
	}
	// The parent is watched too so removing the module directory is seen.
	if err := w.fsw.Add(filepath.Dir(w.target)); err != nil {
		return fmt.Errorf("watch: add directory %q: %w", filepath.Dir(w.target), err)
	}
	err = filepath.WalkDir(w.target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.container.logger.Warn("watch: skipping inaccessible path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: walk directory tree: %w", err)
	}
	return nil
}

func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		w.container.logger.Warn("watch: add new directory", "path", path, "error", err)
	}
}
