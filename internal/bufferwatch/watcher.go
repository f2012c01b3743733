// Package bufferwatch observes the buffer folder the recording backend
// deposits raw files into. The backend writes there unannounced; the watcher
// gives the operator visibility and feeds the archive metrics.
package bufferwatch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher logs file deposits in the buffer folder and reports them through
// an optional callback.
type Watcher struct {
	dir     string
	log     zerolog.Logger
	watcher *fsnotify.Watcher

	// OnDeposit, when set, is invoked with the file name of every newly
	// created file in the buffer folder.
	OnDeposit func(name string)
}

// New creates a watcher for dir.
func New(dir string, log zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{dir: dir, log: log, watcher: fw}, nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				name := filepath.Base(ev.Name)
				w.log.Info().Str("file", name).Msg("backend deposited file in buffer")
				if w.OnDeposit != nil {
					w.OnDeposit(name)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("buffer watch error")
		}
	}
}
