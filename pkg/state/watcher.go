// Copyright (c) OpenMMLab. All rights reserved.

package state

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/liokouras/varuna/logger"
)

// DrainWatcher observes the launcher-owned server count file and fires once
// when it drops to zero, which is how a fleet-wide stop announces itself on
// each node. A safety poll backs up fsnotify since the file is rewritten in
// place by shell redirection and some filesystems miss those events.
type DrainWatcher struct {
	dir          string
	pollInterval time.Duration
	onDrain      func()
}

func NewDrainWatcher(dir string, onDrain func()) *DrainWatcher {
	return &DrainWatcher{
		dir:          dir,
		pollInterval: 5 * time.Second,
		onDrain:      onDrain,
	}
}

// Watch blocks until the drain condition fires or ctx is cancelled. It never
// returns an error for a missing or malformed count file; the file appears
// only once the training launcher is up.
func (w *DrainWatcher) Watch(ctx context.Context) error {
	if w.drained() {
		w.onDrain()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Logger.Warn("fsnotify unavailable, falling back to polling", zap.Error(err))
		return w.poll(ctx)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		logger.Logger.Warn("failed to watch work directory, falling back to polling",
			zap.String("dir", w.dir), zap.Error(err))
		return w.poll(ctx)
	}

	target := filepath.Join(w.dir, ServerCountFile)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return w.poll(ctx)
			}
			if event.Name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if w.drained() {
				w.onDrain()
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return w.poll(ctx)
			}
			logger.Logger.Warn("watch error on work directory", zap.Error(err))
		case <-ticker.C:
			if w.drained() {
				w.onDrain()
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *DrainWatcher) poll(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if w.drained() {
				w.onDrain()
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *DrainWatcher) drained() bool {
	count, err := ReadServerCount(w.dir)
	if err != nil {
		return false
	}
	return count == 0
}
