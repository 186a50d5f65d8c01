package script

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// Watch reloads scripts as they change on disk until ctx is done. It watches
// the operating system directory at the loader's path, so it is only useful
// with an OS-backed filesystem.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file system watcher: %w", err)
	}
	defer watcher.Close()

	if err := l.watchTree(watcher, l.dir); err != nil {
		return err
	}
	l.logger.Debug("Started file system watcher for script hot-reloading", "directory", l.dir)

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("File system watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			l.handleEvent(watcher, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("File system watcher error", "error", err)
		}
	}
}

func (l *Loader) watchTree(watcher *fsnotify.Watcher, root string) error {
	err := afero.Walk(l.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add directories to watcher: %w", err)
	}
	return nil
}

func (l *Loader) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	l.logger.Debug("File system event", "event", event.Op.String(), "path", event.Name)

	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		if ok, _ := afero.IsDir(l.fs, event.Name); ok {
			if err := l.watchTree(watcher, event.Name); err != nil {
				l.logger.Error("Failed to watch new directory", "path", event.Name, "error", err)
			}
			l.loadTree(event.Name)
			return
		}
		if filepath.Ext(event.Name) != Extension {
			return
		}
		if err := l.Load(event.Name); err != nil {
			l.logger.Error("Failed to reload script", "path", event.Name, "error", err)
		}

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		l.unloadTree(event.Name)
	}
}

func (l *Loader) loadTree(root string) {
	_ = afero.Walk(l.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Ext(path) == Extension {
			if err := l.Load(path); err != nil {
				l.logger.Error("Failed to load script", "path", path, "error", err)
			}
		}
		return nil
	})
}

// unloadTree handles removal of either a file or a whole directory.
func (l *Loader) unloadTree(root string) {
	prefix := root + string(filepath.Separator)

	l.mu.Lock()
	var paths []string
	for p := range l.scripts {
		if p == root || len(p) > len(prefix) && p[:len(prefix)] == prefix {
			paths = append(paths, p)
		}
	}
	l.mu.Unlock()

	for _, p := range paths {
		l.Unload(p)
	}
}
