// Package watcher reports changes of local OpenAPI documents.
package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultDebounce = 200 * time.Millisecond

// FileEventHandler is told about a watched file after it settled.
type FileEventHandler interface {
	OnFileChanged(path string)
}

type FileWatcher struct {
	watcher *fsnotify.Watcher
	handler FileEventHandler
	log     *zerolog.Logger
}

func NewFileWatcher(handler FileEventHandler, log *zerolog.Logger) (*FileWatcher, error) {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}

	return &FileWatcher{
		watcher: watcher,
		handler: handler,
		log:     log,
	}, nil
}

// WatchFiles blocks until ctx is done, calling the handler once per burst of
// writes to any of paths. Directories are watched so editors that replace
// the file on save are covered.
func (w *FileWatcher) WatchFiles(ctx context.Context, paths []string, debounce time.Duration) error {
	defer w.watcher.Close() //nolint:errcheck

	if len(paths) == 0 {
		w.log.Info().Msg("no local documents to watch, waiting for termination")
		<-ctx.Done()
		return nil
	}

	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve %s", path)
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return errors.Wrapf(err, "failed to watch directory %s", dir)
		}
	}
	w.log.Info().Strs("files", paths).Msg("started watching files")

	timers := make(map[string]*time.Timer)
	defer func() {
		for _, timer := range timers {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping file watcher")
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("file watcher events channel closed")
			}
			path := filepath.Clean(event.Name)
			if !isTargetFileEvent(event, targets) {
				continue
			}
			w.log.Debug().Str("event", event.String()).Msg("file changed")

			if timer, ok := timers[path]; ok {
				timer.Stop()
			}
			timers[path] = time.AfterFunc(debounce, func() {
				w.handler.OnFileChanged(path)
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("file watcher errors channel closed")
			}
			w.log.Error().Err(err).Msg("file watcher error")
		}
	}
}

func isTargetFileEvent(event fsnotify.Event, targets map[string]bool) bool {
	return targets[filepath.Clean(event.Name)] &&
		event.Op&(fsnotify.Write|fsnotify.Create) != 0
}
