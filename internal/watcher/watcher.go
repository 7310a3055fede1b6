// Package watcher watches an inbox directory and keeps a user's documents
// in step with the PDFs dropped into it.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/nickcecere/ragchat/internal/fs"
)

// Handler reacts to settled inbox changes.
type Handler interface {
	Added(ctx context.Context, path string) error
	Removed(ctx context.Context, path string) error
}

// Inbox watches a directory tree for PDFs.
type Inbox struct {
	root    string
	handler Handler

	// debounce holds pending file events to batch process
	debounce     map[string]fsnotify.Op
	debounceMu   sync.Mutex
	debounceTime time.Duration

	// callback for status updates
	onEvent func(event string, path string)
}

// Option configures the watcher.
type Option func(*Inbox)

// WithDebounceTime sets the debounce duration for batching events.
func WithDebounceTime(d time.Duration) Option {
	return func(w *Inbox) {
		if d > 0 {
			w.debounceTime = d
		}
	}
}

// WithEventCallback sets a callback called with "upload", "remove" or
// "error" after each processed file.
func WithEventCallback(fn func(event string, path string)) Option {
	return func(w *Inbox) {
		w.onEvent = fn
	}
}

// New creates a watcher for root.
func New(root string, h Handler, opts ...Option) (*Inbox, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("inbox must be a directory")
	}

	w := &Inbox{
		root:         absRoot,
		handler:      h,
		debounce:     make(map[string]fsnotify.Op),
		debounceTime: 500 * time.Millisecond,
		onEvent:      func(string, string) {}, // noop default
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Root returns the absolute inbox path.
func (w *Inbox) Root() string { return w.root }

// Start begins watching. Blocks until ctx is cancelled.
func (w *Inbox) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addDirectories(watcher); err != nil {
		return err
	}

	log.Info("Watching inbox", "root", w.root)

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, watcher)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

// addDirectories recursively adds all non-hidden directories to the watcher.
func (w *Inbox) addDirectories(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			log.Debug("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Inbox) handleEvent(event fsnotify.Event, watcher *fsnotify.Watcher) {
	path := event.Name

	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			watcher.Add(path)
			log.Debug("Added directory to watch", "path", path)
			return
		}
	}

	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return
	}

	w.debounceMu.Lock()
	w.debounce[path] |= event.Op
	w.debounceMu.Unlock()
}

func (w *Inbox) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flushDebounced(ctx)
		}
	}
}

// flushDebounced processes all pending events. What happens to a path
// depends on whether it still exists, not on the event order.
func (w *Inbox) flushDebounced(ctx context.Context) {
	w.debounceMu.Lock()
	if len(w.debounce) == 0 {
		w.debounceMu.Unlock()
		return
	}
	events := w.debounce
	w.debounce = make(map[string]fsnotify.Op)
	w.debounceMu.Unlock()

	for path := range events {
		if ctx.Err() != nil {
			return
		}
		relPath, _ := filepath.Rel(w.root, path)

		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := w.handler.Removed(ctx, path); err != nil {
				log.Error("Failed to remove document", "file", relPath, "error", err)
				w.onEvent("error", relPath)
				continue
			}
			log.Info("Removed document", "file", relPath)
			w.onEvent("remove", relPath)
			continue
		}

		if ok, err := fs.IsPDF(path); err != nil || !ok {
			log.Debug("Skipping non-PDF file", "file", relPath, "error", err)
			continue
		}
		if err := w.handler.Added(ctx, path); err != nil {
			log.Error("Failed to upload document", "file", relPath, "error", err)
			w.onEvent("error", relPath)
			continue
		}
		log.Info("Uploaded document", "file", relPath)
		w.onEvent("upload", relPath)
	}
}
