package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReleaseWatcher monitors the configured release manifest and invokes the
// supplied callback whenever a parseable manifest lands on disk. Stop must be
// called to release filesystem resources.
type ReleaseWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *ReleaseWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchRelease wires fsnotify around the release manifest and reports every
// change as a parsed Release. The initial manifest, when present, is delivered
// synchronously before the watcher goroutine starts; a missing initial file is
// not an error, deployments may write it later.
func WatchRelease(ctx context.Context, path string, onChange func(Release), onError func(error)) (*ReleaseWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch release requires a change callback")
	}
	if path == "" {
		return nil, fmt.Errorf("config: no release file configured for watching")
	}

	resolved := path
	if abs, err := filepath.Abs(path); err == nil {
		resolved = abs
	}
	target := filepath.Clean(resolved)

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch release: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		if closeErr := watcher.Close(); closeErr != nil && onError != nil {
			onError(fmt.Errorf("config: watch release close: %w", closeErr))
		}
		cancel()
		return nil, fmt.Errorf("config: watch release add %s: %w", filepath.Dir(target), err)
	}

	if release, err := LoadRelease(target); err == nil {
		onChange(release)
	} else if !errors.Is(err, context.Canceled) && onError != nil {
		onError(err)
	}

	done := make(chan struct{})
	watch := &ReleaseWatcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch release close: %w", err))
			}
		}()

		reload := func() {
			release, err := LoadRelease(target)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(release)
		}

		// Editors and deploy tooling often replace the file with several
		// rapid events; debounce collapses them into one reload.
		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}
		flushTimer := func() {
			if reloadTimer == nil {
				return
			}
			if !reloadTimer.Stop() {
				select {
				case <-reloadTimer.C:
				default:
				}
			}
			reloadSignal = nil
		}
		defer flushTimer()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				flushTimer()
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if onError != nil {
						onError(fmt.Errorf("config: release file %s removed", target))
					}
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	return watch, nil
}
