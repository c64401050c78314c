package fallback

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"pantry-gpt/internal/scanerr"
)

// Options configures one selection run.
type Options struct {
	// Stage names the stage in logs and errors ("ocr", "extraction").
	Stage string
	// Threshold is the confidence a result needs to be accepted.
	Threshold float64
	// FallThroughOnLow tries the next backend when a result is below
	// Threshold. When false the first successful result is returned as is.
	FallThroughOnLow bool
	// Preferred is tried first when registered.
	Preferred string
}

// Attempt calls one backend and reports the result with its confidence.
type Attempt[B, R any] func(ctx context.Context, name string, backend B) (R, float64, error)

// Outcome is the result chosen by Run.
type Outcome[R any] struct {
	Result         R
	Backend        string
	Confidence     float64
	BelowThreshold bool
	Failures       []scanerr.Failure
}

// Run tries backends in order until one returns a result at or above the
// threshold. Backend failures fall through to the next backend. Validation,
// rate-limit and budget errors and context cancellation stop the run
// immediately.
//
// When no backend meets the threshold but at least one produced a result,
// the highest-confidence result is returned together with an
// *scanerr.AllBackendsExhaustedError with HasResult set. When every backend
// failed the error carries every failure and the outcome is empty.
func Run[B, R any](ctx context.Context, reg *Registry[B], opts Options, attempt Attempt[B, R]) (Outcome[R], error) {
	ordered := reg.Ordered(opts.Preferred)
	var (
		best     Outcome[R]
		hasBest  bool
		failures []scanerr.Failure
	)

	for _, e := range ordered {
		if err := ctx.Err(); err != nil {
			return Outcome[R]{}, fmt.Errorf("%s stopped before backend %s: %w", opts.Stage, e.Name, err)
		}

		logger := log.WithFields(logrus.Fields{
			"stage":   opts.Stage,
			"backend": e.Name,
		})

		result, confidence, err := attempt(ctx, e.Name, e.Backend)
		if err != nil {
			if scanerr.Aborts(err) || ctx.Err() != nil {
				logger.WithError(err).Warn("Backend error stops fallback")
				return Outcome[R]{}, err
			}
			logger.WithError(err).Warn("Backend failed, trying next backend")
			failures = append(failures, scanerr.Failure{Backend: e.Name, Err: err})
			continue
		}

		logger = logger.WithField("confidence", confidence)
		if confidence >= opts.Threshold {
			logger.Debug("Backend result accepted")
			return Outcome[R]{
				Result:     result,
				Backend:    e.Name,
				Confidence: confidence,
				Failures:   failures,
			}, nil
		}

		if !hasBest || confidence > best.Confidence {
			best = Outcome[R]{Result: result, Backend: e.Name, Confidence: confidence}
			hasBest = true
		}

		if !opts.FallThroughOnLow {
			logger.WithField("threshold", opts.Threshold).Info("Backend result below threshold, fallback on low confidence disabled")
			best.BelowThreshold = true
			best.Failures = failures
			return best, nil
		}

		logger.WithField("threshold", opts.Threshold).Info("Backend result below threshold, trying next backend")
		failures = append(failures, scanerr.Failure{
			Backend: e.Name,
			Err:     fmt.Errorf("confidence %.2f below threshold %.2f", confidence, opts.Threshold),
		})
	}

	exhausted := &scanerr.AllBackendsExhaustedError{
		Stage:     opts.Stage,
		Threshold: opts.Threshold,
		Failures:  failures,
	}
	if !hasBest {
		return Outcome[R]{}, exhausted
	}

	exhausted.HasResult = true
	exhausted.BestBackend = best.Backend
	exhausted.BestConfidence = best.Confidence
	best.BelowThreshold = true
	best.Failures = failures
	log.WithFields(logrus.Fields{
		"stage":      opts.Stage,
		"backend":    best.Backend,
		"confidence": best.Confidence,
		"threshold":  opts.Threshold,
	}).Warn("No backend met the confidence threshold, returning best result")
	return best, exhausted
}
