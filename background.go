package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pantry-gpt/internal/scanerr"
)

const (
	processedDirName = "processed"
	failedDirName    = "failed"
)

// InboxProcessor processes the images waiting in an inbox. It allows the
// watcher loop to be tested without a pipeline.
type InboxProcessor interface {
	processInbox(ctx context.Context) (int, error)
}

// inboxWatcher holds the polling and backoff timings.
type inboxWatcher struct {
	minBackoff      time.Duration
	maxBackoff      time.Duration
	pollingInterval time.Duration
}

func defaultInboxWatcher() inboxWatcher {
	return inboxWatcher{
		minBackoff:      10 * time.Second,
		maxBackoff:      time.Hour,
		pollingInterval: 10 * time.Second,
	}
}

// Start runs the watcher in a goroutine until ctx is done.
func (w inboxWatcher) Start(ctx context.Context, p InboxProcessor) {
	go w.run(ctx, p)
}

func (w inboxWatcher) run(ctx context.Context, p InboxProcessor) {
	backoffDuration := w.minBackoff
	for {
		if ctx.Err() != nil {
			log.Infoln("Inbox watcher shutting down")
			return
		}

		processedCount, err := p.processInbox(ctx)

		var wait time.Duration
		if err != nil {
			log.Errorf("Error processing inbox: %v", err)
			wait = backoffDuration

			// Exponential backoff logic
			backoffDuration *= 2
			if backoffDuration > w.maxBackoff {
				log.Warnf("Max backoff duration reached. Using %v", w.maxBackoff)
				backoffDuration = w.maxBackoff
			}
		} else {
			// Reset backoff when processing succeeds
			backoffDuration = w.minBackoff
			if processedCount == 0 {
				wait = w.pollingInterval
			}
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
				log.Infoln("Inbox watcher shutting down")
				return
			case <-time.After(wait):
			}
		}
	}
}

// processInbox scans the images currently in the inbox directory and moves
// each to processed/ or failed/. A budget error stops the run and leaves the
// remaining images in place for the next cycle.
func (app *App) processInbox(ctx context.Context) (int, error) {
	inbox := app.Settings.InboxDir
	paths, err := listImages(inbox)
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		log.Debugf("No images found in %s", inbox)
		return 0, nil
	}
	log.Debugf("Found %d images in %s", len(paths), inbox)

	var errs []error
	processedCount := 0
	for _, path := range paths {
		outcome, err := app.scanFile(ctx, path)
		if errors.Is(err, scanerr.ErrBudgetExceeded) {
			return processedCount, fmt.Errorf("inbox processing halted: %w", err)
		}
		if ctx.Err() != nil {
			return processedCount, ctx.Err()
		}

		target := processedDirName
		if outcome.Status == StatusFailed {
			target = failedDirName
		}
		if err := moveToDir(path, filepath.Join(inbox, target)); err != nil {
			errs = append(errs, err)
			continue
		}
		processedCount++
	}

	if len(errs) > 0 {
		return processedCount, errors.Join(errs...)
	}
	return processedCount, nil
}

func moveToDir(path, dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("error creating %s: %w", dir, err)
	}
	target := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("error moving %s to %s: %w", path, dir, err)
	}
	return nil
}
