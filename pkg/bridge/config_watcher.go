package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long the configuration file must stay quiet before a change is
// reloaded.
const DefaultSettle = time.Second

// Watch reloads configPath each time it changes on disk and returns once ctx is done.
// Bursts of writes collapse into a single reload that runs after the file has been
// quiet for settle. The containing directory is watched so a save through rename
// still counts as a change.
func (cr *ConfigReloader) Watch(ctx context.Context, configPath string, settle time.Duration) error {
	target, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", configPath, err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}

	files, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer files.Close()
	if err := files.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	cr.logger.Info("Watching configuration for changes", "config_path", configPath, "settle", settle)

	quiet := time.NewTimer(settle)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			cr.logger.Debug("Configuration watch finished", "config_path", configPath)
			return nil

		case ev, ok := <-files.Events:
			if !ok {
				return nil
			}
			if changes(ev, target) {
				quiet.Reset(settle)
			}

		case werr, ok := <-files.Errors:
			if !ok {
				return nil
			}
			cr.logger.Warn("Configuration watch error", "config_path", configPath, "error", werr)

		case <-quiet.C:
			// ReloadConfig logs and counts its own failures; the previous policies stay.
			_ = cr.ReloadConfig(configPath)
		}
	}
}

// changes reports whether ev may have altered the contents of target.
func changes(ev fsnotify.Event, target string) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name, err := filepath.Abs(ev.Name)
	return err == nil && name == target
}
