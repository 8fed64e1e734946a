package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/themeindex/internal/logfields"
)

// configWatcher triggers onChange when the config file is written. Events
// are debounced because editors produce several writes per save.
type configWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func()
	debounce time.Duration
}

func newConfigWatcher(configPath string, onChange func()) (*configWatcher, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// watching the directory survives rename-into-place saves
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	return &configWatcher{
		path:     absPath,
		watcher:  watcher,
		onChange: onChange,
		debounce: 2 * time.Second,
	}, nil
}

func (cw *configWatcher) start(ctx context.Context) {
	go cw.loop(ctx)
	slog.Info("Watching configuration file", logfields.Path(cw.path))
}

func (cw *configWatcher) stop() {
	_ = cw.watcher.Close()
}

func (cw *configWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(cw.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(cw.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			cw.onChange()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", logfields.Error(err))
		}
	}
}
