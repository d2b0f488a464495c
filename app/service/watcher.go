package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
)

// Watch watches paths for changes and reloads the model. Directories created inside watched directories
// are added to the watcher, so new class directories are picked up.
// delay is a time to wait after the first change before reloading to avoid multiple reloads.
// Blocks until ctx is canceled.
func (s *Service) Watch(ctx context.Context, delay time.Duration, paths ...string) error {
	if len(paths) == 0 {
		return fmt.Errorf("nothing to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	errs := new(multierror.Error)
	addToWatcher := func(path string) error {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("failed to stat %q: %w", path, err)
		}
		log.Printf("[DEBUG] add %q to watcher", path)
		return watcher.Add(path)
	}
	for _, p := range paths {
		errs = multierror.Append(errs, addToWatcher(p))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("failed to add some paths to watcher: %w", err)
	}

	reloadTimer := time.NewTimer(delay)
	defer reloadTimer.Stop()
	reloadPending := false
	log.Printf("[INFO] watching %d paths for changes, reload delay %v", len(paths), delay)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] stopping watcher: %v", ctx.Err())
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			log.Printf("[DEBUG] %q updated, op: %v", event.Name, event.Op)
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						log.Printf("[WARN] failed to watch new directory %q: %v", event.Name, err)
					}
				}
			}
			if !reloadPending {
				reloadPending = true
				reloadTimer.Reset(delay)
			}
		case <-reloadTimer.C:
			if reloadPending {
				reloadPending = false
				if _, err := s.Reload(ctx); err != nil {
					log.Printf("[WARN] failed to reload model, keep the current one: %v", err)
				}
			}
		case e, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[WARN] watcher error: %v", e)
		}
	}
}
