package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/taskcue/cuebridge/pkg/telemetry"
)

// DefaultDebounce is used when a Watcher is created with a zero debounce.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reports changes to CUE sources below a module root.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *telemetry.Logger
	fsw      *fsnotify.Watcher
}

// New creates a watcher over every directory below root.
func New(root string, debounce time.Duration, logger *telemetry.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = telemetry.Nop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}

	w := &Watcher{
		root:     root,
		debounce: debounce,
		logger:   logger.NewComponentLogger("watch"),
		fsw:      fsw,
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree adds dir and all directories below it to the watcher.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return errors.Wrapf(err, "failed to watch %s", path)
		}
		return nil
	})
}

// skipDir reports whether a directory is never watched. cue.mod is kept
// since vendored dependencies live there.
func skipDir(name string) bool {
	return name != "cue.mod" && strings.HasPrefix(name, ".")
}

// relevant reports whether an event can change an evaluation.
func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(event.Name)
	return strings.HasSuffix(base, ".cue") && !strings.HasPrefix(base, ".")
}

// Run calls onChange once per burst of changes until ctx is done. Calls
// never overlap. Directories created while running are watched too.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context)) error {
	defer func() { _ = w.fsw.Close() }()

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	w.logger.WithField("root", w.root).Info("Watching for changes")

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skipDir(info.Name()) {
					if err := w.addTree(event.Name); err != nil {
						w.logger.WithError(err).Warn("Failed to watch new directory")
					}
					timer.Reset(w.debounce)
					continue
				}
			}

			if !relevant(event) {
				continue
			}

			w.logger.WithFields(map[string]interface{}{
				"file": event.Name,
				"op":   event.Op.String(),
			}).Debug("Source changed")
			timer.Reset(w.debounce)

		case <-timer.C:
			onChange(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

// Close stops the watcher without running it.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
