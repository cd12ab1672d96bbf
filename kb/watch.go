package kb

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/signalsfoundry/netsec-simulator/internal/logging"
)

// WatchSceneFile re-applies path to s whenever the file is written or
// replaced. The parent directory is watched so editors that save by rename
// are picked up. It blocks until ctx is done; a reload that fails to parse is
// logged and the scene is left as it was.
func WatchSceneFile(ctx context.Context, path string, s *Scene, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("WatchSceneFile: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("WatchSceneFile: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("WatchSceneFile: %w", err)
	}
	log = log.With(logging.String("scene_file", abs))
	log.Info(ctx, "watching scene file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			reloadScene(ctx, abs, s, log)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn(ctx, "scene watcher error", logging.Err(err))
		}
	}
}

func reloadScene(ctx context.Context, path string, s *Scene, log logging.Logger) {
	spec, err := LoadSceneFile(path)
	if err != nil {
		// half-written files parse as errors; the next write event retries
		log.Warn(ctx, "scene reload failed", logging.Err(err))
		return
	}
	summary, err := ApplyScene(s, spec)
	if err != nil {
		log.Warn(ctx, "scene reload applied with errors", logging.Err(err))
	}
	if len(summary.Mounted)+len(summary.Moved) > 0 {
		log.Info(ctx, "scene reloaded",
			logging.Any("mounted", summary.Mounted),
			logging.Any("moved", summary.Moved),
		)
	}
}
