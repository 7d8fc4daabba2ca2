package migrate

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events before re-importing.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-runs the importer when tracked memory files change.
// The manifest keeps re-imports idempotent, so a rewrite of the same
// content is a no-op.
type Watcher struct {
	importer *Importer
	fsw      *fsnotify.Watcher
	debounce time.Duration
	routes   map[string]FileOptions

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
	closed  bool
}

// NewWatcher creates a watcher over the importer.
func NewWatcher(importer *Importer, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		importer: importer,
		fsw:      fsw,
		debounce: debounce,
		routes:   make(map[string]FileOptions),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Track registers a file for re-import with the given routing.
func (w *Watcher) Track(path string, opts FileOptions) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.routes[abs] = opts
	w.mu.Unlock()

	// Watch the parent directory: editors replace files via rename,
	// which drops a watch on the file itself.
	return w.fsw.Add(filepath.Dir(abs))
}

// Run processes events until ctx is canceled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("migrate_watcher_error", slog.String("error", err.Error()))
		}
	}
}

// schedule debounces a re-import of the changed file.
func (w *Watcher) schedule(ctx context.Context, name string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	opts, tracked := w.routes[abs]
	if !tracked || w.closed {
		return
	}

	if timer, ok := w.pending[abs]; ok {
		timer.Stop()
	}
	w.pending[abs] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, abs)
		w.mu.Unlock()

		report, err := w.importer.MigrateFile(ctx, abs, opts)
		if err != nil {
			slog.Warn("reimport_failed", slog.String("path", abs), slog.String("error", err.Error()))
			return
		}
		slog.Info("reimport_complete",
			slog.String("path", abs),
			slog.Int("created", report.ChunksCreated),
			slog.Int("skipped", report.ChunksSkipped))
	})
}

// Close stops the watcher and cancels pending re-imports.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	return w.fsw.Close()
}
