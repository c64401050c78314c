package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"pantry-gpt/internal/scanerr"
)

// BatchSummary collects the outcomes of one batch run.
type BatchSummary struct {
	Total        int            `json:"total"`
	Succeeded    int            `json:"succeeded"`
	ManualReview int            `json:"manual_review"`
	Failed       int            `json:"failed"`
	Skipped      int            `json:"skipped"`
	Halted       bool           `json:"halted"`
	HaltReason   string         `json:"halt_reason,omitempty"`
	Duration     time.Duration  `json:"duration"`
	Outcomes     []*ScanOutcome `json:"outcomes"`
}

func (s *BatchSummary) add(o *ScanOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case StatusSuccess:
		s.Succeeded++
	case StatusManualReview:
		s.ManualReview++
	default:
		s.Failed++
	}
}

// listImages returns the regular, non-hidden files in dir in name order.
// Content is validated later by the OCR stage.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading directory %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// processBatch scans every path. With workers <= 1 the images are processed
// in order; otherwise at most workers images are in flight. A failing image
// is logged and counted; a BudgetExceededError stops the batch and the
// remaining images are counted as skipped. progress, when non-nil, is called
// after each image.
func (app *App) processBatch(ctx context.Context, paths []string, workers int, progress func(*ScanOutcome)) (*BatchSummary, error) {
	start := time.Now()
	summary := &BatchSummary{Total: len(paths)}

	var (
		mu   sync.Mutex
		halt error
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scan := func(path string) {
		outcome, err := app.scanFile(ctx, path)

		mu.Lock()
		defer mu.Unlock()
		if halt != nil && errors.Is(err, context.Canceled) {
			summary.Skipped++
			return
		}
		summary.add(outcome)
		if errors.Is(err, scanerr.ErrBudgetExceeded) && halt == nil {
			halt = err
			cancel()
		}
		if progress != nil {
			progress(outcome)
		}
	}

	if workers <= 1 {
		for i, path := range paths {
			if ctx.Err() != nil {
				summary.Skipped += len(paths) - i
				break
			}
			scan(path)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(workers)
		for _, path := range paths {
			if ctx.Err() != nil {
				mu.Lock()
				summary.Skipped++
				mu.Unlock()
				continue
			}
			g.Go(func() error {
				scan(path)
				return nil
			})
		}
		_ = g.Wait()
	}

	summary.Duration = time.Since(start)
	if halt != nil {
		summary.Halted = true
		summary.HaltReason = halt.Error()
		log.WithError(halt).Warn("Batch halted: cost budget exhausted")
		return summary, fmt.Errorf("batch halted after %d of %d images: %w", len(summary.Outcomes), summary.Total, halt)
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// printSummary writes a human readable batch summary to w.
func printSummary(w io.Writer, s *BatchSummary) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for _, o := range s.Outcomes {
		name := filepath.Base(o.Source)
		switch o.Status {
		case StatusSuccess:
			product := ""
			if o.Result != nil && o.Result.Product != nil {
				product = o.Result.Product.ProductName
			}
			fmt.Fprintf(w, "%s %s: %s (%.2f)\n", green("OK"), name, product, o.CombinedConfidence)
		case StatusManualReview:
			fmt.Fprintf(w, "%s %s: needs review (%.2f)\n", yellow("REVIEW"), name, o.CombinedConfidence)
		default:
			fmt.Fprintf(w, "%s %s: %s\n", red("FAILED"), name, o.Error)
		}
	}

	fmt.Fprintf(w, "\nProcessed %d images in %s: %s, %s, %s",
		s.Total, s.Duration.Round(time.Millisecond),
		green(fmt.Sprintf("%d succeeded", s.Succeeded)),
		yellow(fmt.Sprintf("%d manual review", s.ManualReview)),
		red(fmt.Sprintf("%d failed", s.Failed)))
	if s.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", s.Skipped)
	}
	fmt.Fprintln(w)
	if s.Halted {
		fmt.Fprintln(w, red("Batch halted: "+s.HaltReason))
	}
}
