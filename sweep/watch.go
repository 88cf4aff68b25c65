package sweep

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports save files that were created or rewritten. Events are
// debounced: a batch is sent once the trees have been quiet for the delay,
// since the game writes a save in several steps.
type Watcher struct {
	fs      *fsnotify.Watcher
	dirs    Dirs
	delay   time.Duration
	changes chan []string
	log     *zap.SugaredLogger
}

// NewWatcher watches the Workshop and Saves trees of d, including every
// subdirectory present now or created later.
func NewWatcher(d Dirs, delay time.Duration, log *zap.SugaredLogger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{fs: fsw, dirs: d, delay: delay, changes: make(chan []string), log: log}
	for _, root := range []string{filepath.Join(d.Mods, "Workshop"), d.Saves} {
		if err := w.addTree(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Changes delivers batches of mod filenames. It is closed when Run returns.
func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if err := w.fs.Add(path); err != nil {
				return err
			}
			w.log.Debugw("Watching directory", zap.String("dir", path))
		}
		return nil
	})
}

// Run processes filesystem events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)
	defer w.fs.Close()

	pending := make(map[string]bool)
	timer := time.NewTimer(w.delay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.handle(event, pending) {
				timer.Reset(w.delay)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warnw("Filesystem watch error", zap.Error(err))
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for name := range pending {
				batch = append(batch, name)
			}
			sort.Strings(batch)
			pending = make(map[string]bool)
			select {
			case w.changes <- batch:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// handle records a relevant event and reports whether it was one.
func (w *Watcher) handle(event fsnotify.Event, pending map[string]bool) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.log.Warnw("Failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return false
		}
	}
	if !IsModFile(event.Name) {
		return false
	}
	name, ok := w.dirs.Filename(event.Name)
	if !ok {
		return false
	}
	pending[name] = true
	return true
}
