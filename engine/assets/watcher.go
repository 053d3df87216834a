package assets

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima/v2/engine/assets/loaders"
	"github.com/spaghettifunk/anima/v2/engine/core"
)

var ErrWatcherClosed = errors.New("shader watcher already closed")

/**
 * @brief Watches shader directories and remembers which shader files changed. The
 * fsnotify goroutine only records paths; the render thread collects them with Drain
 * between frames and rebuilds the affected pipelines itself.
 */
type ShaderWatcher struct {
	assets *AssetManager

	mutex    sync.Mutex
	pending  map[string]struct{}
	isClosed bool

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
}

func NewShaderWatcher(am *AssetManager) (*ShaderWatcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &ShaderWatcher{
		assets:   am,
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		fsnotify: fsWatch,
	}
	go w.start()
	return w, nil
}

// Watch starts watching dir and all its sub-directories.
func (w *ShaderWatcher) Watch(dir string) error {
	w.mutex.Lock()
	closed := w.isClosed
	w.mutex.Unlock()
	if closed {
		return ErrWatcherClosed
	}
	return w.watchRecursive(dir, false)
}

// Unwatch stops watching dir and all its sub-directories.
func (w *ShaderWatcher) Unwatch(dir string) error {
	return w.watchRecursive(dir, true)
}

// Drain returns the shader files changed since the last call, sorted, and forgets them.
func (w *ShaderWatcher) Drain() []string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	out := make([]string, 0, len(w.pending))
	for p := range w.pending {
		out = append(out, p)
	}
	w.pending = make(map[string]struct{})
	sort.Strings(out)
	return out
}

func (w *ShaderWatcher) Close() error {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return nil
	}
	w.isClosed = true
	w.mutex.Unlock()

	close(w.done)
	<-w.stopped
	return nil
}

func (w *ShaderWatcher) start() {
	defer close(w.stopped)
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			w.handle(e)

		case e, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("%s", e)

		case <-w.done:
			w.fsnotify.Close()
			return
		}
	}
}

func (w *ShaderWatcher) handle(e fsnotify.Event) {
	s, err := os.Stat(e.Name)
	if err == nil && s != nil && s.IsDir() {
		if e.Has(fsnotify.Create) {
			if err := w.watchRecursive(e.Name, false); err != nil {
				core.LogWarn("failed to watch %s: %s", e.Name, err)
			}
		}
		return
	}

	if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
		w.assets.removeAsset(e.Name)
		// can't stat a deleted path, so it may have been a watched directory
		_ = w.fsnotify.Remove(e.Name)
		return
	}

	if e.Has(fsnotify.Create) || e.Has(fsnotify.Write) {
		kind := w.assets.handleFileEvent(e.Name)
		if kind != loaders.KindShaderBinary && kind != loaders.KindShaderSource {
			return
		}
		w.mutex.Lock()
		w.pending[filepath.Clean(e.Name)] = struct{}{}
		w.mutex.Unlock()
		core.LogDebug("shader changed: %s", e.Name)
	}
}

// watchRecursive adds all directories under the given one to the watch list.
func (w *ShaderWatcher) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if unWatch {
				if err = w.fsnotify.Remove(walkPath); err != nil {
					return err
				}
			} else {
				if err = w.fsnotify.Add(walkPath); err != nil {
					return err
				}
			}
		} else if !unWatch {
			w.assets.handleFileEvent(walkPath)
		}
		return nil
	})
}
