package model

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch monitors the registry root for new version directories and pointer
// file changes, invoking onChange with the pointer file's name
// ("active"/"shadow") whenever it is rewritten. Intended for an operator
// workflow where a sidecar process drops a new model.bin and flips the
// active pointer out of band; the manager itself never polls.
func (m *Manager) Watch(ctx context.Context, log *zap.Logger, onChange func(pointer string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(m.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			base := ev.Name[len(m.root):]
			for len(base) > 0 && base[0] == '/' {
				base = base[1:]
			}
			switch base {
			case activePointerFile, shadowPointerFile:
				if onChange != nil {
					onChange(base)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("model registry watch error", zap.Error(err))
		}
	}
}
