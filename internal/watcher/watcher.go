package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"devloop/internal/manifest"
	"devloop/pkg/logging"
)

// DefaultDebounce is the quiet period after the last change before a target
// re-triggers. An editor save storm collapses into one trigger per target.
const DefaultDebounce = 300 * time.Millisecond

// ignoredDirs are never watched. Matches the set excluded from build
// fingerprints, so a change here could never alter a build anyway.
var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
}

// Watcher observes every build target's context directory and emits the
// target's name once its debounce window closes. Overlapping context
// directories deliver a change to every target that contains the changed
// path.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	events   chan string

	// roots maps an absolute context directory to its resource, sorted by
	// descending path length for containment checks.
	roots []watchRoot

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

type watchRoot struct {
	dir  string
	name string
}

// New creates a watcher over the manifest's build targets. Targets without a
// context directory (cluster objects, aggregates) are not watched; their
// manifests are cheap to re-apply explicitly.
func New(m *manifest.Manifest, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		events:   make(chan string, 16),
		timers:   make(map[string]*time.Timer),
	}

	for _, res := range m.Resources {
		if !res.IsBuildTarget() {
			continue
		}
		dir, err := filepath.Abs(m.ResolvePath(res.Context))
		if err != nil {
			fsw.Close()
			return nil, err
		}
		w.roots = append(w.roots, watchRoot{dir: dir, name: res.Name})
		if err := w.addRecursive(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	sort.Slice(w.roots, func(i, j int) bool {
		return len(w.roots[i].dir) > len(w.roots[j].dir)
	})

	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if ignoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Events delivers the names of targets whose context changed, one per closed
// debounce window. The channel closes when Run returns.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Run pumps filesystem events until the context is canceled. Newly created
// directories are added to the watch set, so files born in fresh
// subdirectories still trigger.
func (w *Watcher) Run(ctx context.Context) {
	defer w.finish()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn("Watcher", "Filesystem watch error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// Chmod-only events do not change content.
	if ev.Op == fsnotify.Chmod {
		return
	}

	base := filepath.Base(ev.Name)
	if ignoredDirs[base] {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				logging.Warn("Watcher", "Could not watch new directory %s: %v", ev.Name, err)
			}
		}
	}

	for _, name := range w.ownersOf(ev.Name) {
		w.schedule(name)
	}
}

// ownersOf returns every target whose context directory contains the path.
func (w *Watcher) ownersOf(path string) []string {
	var owners []string
	for _, root := range w.roots {
		if path == root.dir || strings.HasPrefix(path, root.dir+string(filepath.Separator)) {
			owners = append(owners, root.name)
		}
	}
	return owners
}

// schedule starts or rewinds the target's debounce timer. Only the last
// change in a burst survives to fire.
func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if timer, ok := w.timers[name]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		w.fire(name)
	})
}

func (w *Watcher) fire(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	select {
	case w.events <- name:
		logging.Debug("Watcher", "Change settled for %s", name)
		delete(w.timers, name)
	default:
		// A full channel must not lose the change. Rewind the timer and
		// deliver once the consumer catches up.
		logging.Warn("Watcher", "Deferring change notification for %s (consumer behind)", name)
		if timer, ok := w.timers[name]; ok {
			timer.Reset(w.debounce)
		}
	}
}

func (w *Watcher) finish() {
	w.mu.Lock()
	w.closed = true
	for name, timer := range w.timers {
		timer.Stop()
		delete(w.timers, name)
	}
	w.mu.Unlock()

	w.fsw.Close()
	close(w.events)
}
