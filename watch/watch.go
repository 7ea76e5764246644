// Package watch wraps fsnotify into a directory-recursive filesystem
// watcher that reports raw added/changed/removed events. Debouncing and
// per-event classification (which targets a change affects) are not this
// package's job — they belong to the orchestrator that consumes these
// events (see package hot).
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// EventKind discriminates a raw filesystem event.
type EventKind int

const (
	Added EventKind = iota
	Changed
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one filesystem change, with an absolute path.
type Event struct {
	Kind EventKind
	Path string
}

// defaultIgnores are always excluded, regardless of caller-supplied
// ignore patterns.
var defaultIgnores = []string{
	"**/.git/**",
	"**/elm-stuff/**",
	"**/node_modules/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

// Watcher recursively watches BaseDir and reports events on Events(), and
// fatal/non-fatal watcher errors on Errors(). Run must be called exactly
// once.
type Watcher struct {
	fsw     *fsnotify.Watcher
	baseDir string
	ignores []string

	events  chan Event
	errors  chan error
	started atomic.Bool
	closed  atomic.Bool
}

// New creates a Watcher rooted at baseDir, registering every non-ignored
// directory under it. ignore augments the built-in default ignores with
// doublestar-compatible glob patterns.
func New(baseDir string, ignore []string) (*Watcher, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve base directory: %w", err)
	}

	for _, pat := range ignore {
		if _, err := doublestar.Match(pat, ""); err != nil {
			return nil, fmt.Errorf("watch: invalid ignore pattern %q: %w", pat, err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	ignores := make([]string, 0, len(defaultIgnores)+len(ignore))
	ignores = append(ignores, defaultIgnores...)
	ignores = append(ignores, ignore...)

	w := &Watcher{
		fsw:     fsw,
		baseDir: absBase,
		ignores: ignores,
		events:  make(chan Event, 64),
		errors:  make(chan error, 8),
	}

	if err := w.addDirectories(); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Events is the channel of raw filesystem events. Closed when Run returns.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors is the channel of non-fatal fsnotify errors. Closed when Run
// returns.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close releases fsnotify resources without starting the event loop. Use
// this only if Run will never be called; once Run starts it owns the
// fsnotify lifecycle.
func (w *Watcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	return w.fsw.Close()
}

// Run translates fsnotify events into Event values until stop is closed,
// then closes Events()/Errors() and the underlying fsnotify watcher. Run
// must be called exactly once.
func (w *Watcher) Run(stop <-chan struct{}) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.closed.Store(true)
	defer func() {
		_ = w.fsw.Close()
		close(w.events)
		close(w.errors)
	}()

	for {
		select {
		case <-stop:
			return

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.isIgnored(evt.Name) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}

			kind, ok := classify(evt)
			if !ok {
				continue
			}
			select {
			case w.events <- Event{Kind: kind, Path: evt.Name}:
			case <-stop:
				return
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-stop:
				return
			}
		}
	}
}

// classify maps an fsnotify.Op to one EventKind, preferring the first
// matching bit; fsnotify occasionally sets multiple bits on one event
// (e.g. Write|Chmod), and Write/Create/Remove/Rename are mutually
// meaningful while Chmod alone is not interesting to a build watcher.
func classify(evt fsnotify.Event) (EventKind, bool) {
	switch {
	case evt.Has(fsnotify.Create):
		return Added, true
	case evt.Has(fsnotify.Remove), evt.Has(fsnotify.Rename):
		return Removed, true
	case evt.Has(fsnotify.Write):
		return Changed, true
	default:
		return 0, false
	}
}

func (w *Watcher) addDirectories() error {
	return filepath.WalkDir(w.baseDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.isIgnoredDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if w.isIgnoredDir(path) {
		return
	}
	_ = w.fsw.Add(path)
}

func (w *Watcher) relSlash(path string) string {
	rel, err := filepath.Rel(w.baseDir, path)
	if err != nil {
		rel = path
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) isIgnored(path string) bool {
	normalized := w.relSlash(path)
	for _, pat := range w.ignores {
		if matched, _ := doublestar.Match(pat, normalized); matched {
			return true
		}
	}
	return false
}

func (w *Watcher) isIgnoredDir(path string) bool {
	return w.isIgnored(path) || w.isIgnored(path+"/")
}
