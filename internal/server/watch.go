package server

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/goliatone/go-cardgen/pkg/config"
	"go.uber.org/zap"
)

// WatchConfig reloads configuration whenever files under dir change. A reload
// that fails validation is logged and discarded; the orchestrator keeps
// serving the previous snapshot. Blocks until ctx is cancelled.
func (s *Server) WatchConfig(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, sub := range []string{dir, filepath.Join(dir, "sections"), filepath.Join(dir, "cards")} {
		if err := watcher.Add(sub); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			switch filepath.Ext(event.Name) {
			case ".json", ".yaml", ".yml":
			default:
				continue
			}
			s.reload(dir, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (s *Server) reload(dir string, event fsnotify.Event) {
	store, err := config.Load(os.DirFS(dir), s.orch.Functions())
	if err != nil {
		s.logger.Warn("config reload failed, keeping previous configuration",
			zap.String("trigger", event.Name),
			zap.Error(err))
		return
	}
	s.orch.ReplaceConfig(store)
	s.logger.Info("configuration reloaded",
		zap.String("trigger", event.Name),
		zap.Strings("sections", store.SectionNames()))
}
