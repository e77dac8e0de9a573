package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/launchpad/pkg/config"
)

// providerFor returns a provider for a fragment file, or nil when the file is
// not a fragment.
func providerFor(path string, evaluator *config.StarlarkEvaluator) ConfigurationProvider {
	switch filepath.Ext(path) {
	case ".cue":
		return NewFile(path)
	case ".star":
		return NewScriptFile(path, nil, evaluator)
	default:
		return nil
	}
}

// LoadDirectory adds one provider per .cue and .star file found directly in dir.
func LoadDirectory(set *Set, dir string, evaluator *config.StarlarkEvaluator) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read provider directory: %w", err)
	}

	added := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if p := providerFor(filepath.Join(dir, e.Name()), evaluator); p != nil {
			set.Add(p)
			added++
		}
	}
	return added, nil
}

// Watcher keeps a Set in sync with a directory of fragment files. Created
// files become providers and removed files stop being providers. Edits need no
// action because file providers re-read on every call.
type Watcher struct {
	set       *Set
	dir       string
	evaluator *config.StarlarkEvaluator
	logger    zerolog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewWatcher creates a watcher for dir feeding set.
func NewWatcher(set *Set, dir string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		set:       set,
		dir:       dir,
		evaluator: config.NewStarlarkEvaluator(0),
		logger:    logger.With().Str("component", "provider-watcher").Str("dir", dir).Logger(),
		done:      make(chan struct{}),
	}
}

// Start loads the directory and begins watching it. The watch ends when ctx
// is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	n, err := LoadDirectory(w.set, w.dir, w.evaluator)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.watcher = watcher

	go w.processEvents(ctx)

	w.logger.Info().
		Int("providers", n).
		Msg("Started watching provider directory")

	return nil
}

// Done is closed when the event loop exits.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// processEvents applies file system events to the set.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.apply(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) apply(event fsnotify.Event) {
	ext := filepath.Ext(event.Name)
	if ext != ".cue" && ext != ".star" {
		return
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if w.set.Remove(event.Name) {
			w.logger.Info().Str("provider", event.Name).Msg("Provider removed")
		}
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if p := providerFor(event.Name, w.evaluator); p != nil && w.set.Add(p) {
			w.logger.Info().Str("provider", event.Name).Msg("Provider added")
		}
	}
}

// Stop ends the watch.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}
