package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/virtaccl/virtaccl/sim/device"
)

// offsetWatcher reloads the phase-offset file whenever it is written or replaced.
type offsetWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	apply   func(map[string]float64)
}

// watchPhaseOffsets watches the directory holding path so that editors replacing
// the file by rename are seen too.
func watchPhaseOffsets(path string, apply func(map[string]float64)) (*offsetWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &offsetWatcher{path: abs, watcher: w, apply: apply}, nil
}

// Run handles events until ctx is cancelled, then closes the watcher.
func (w *offsetWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logrus.Warnf("phase offset watcher: %v", err)
		}
	}
}

func (w *offsetWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	offsets, err := device.LoadPhaseOffsets(w.path)
	if err != nil {
		// partial writes are retried on the next event
		logrus.Warnf("reloading phase offsets: %v", err)
		return
	}
	logrus.Infof("phase offsets changed, reloading %s", w.path)
	w.apply(offsets)
}
