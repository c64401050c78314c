package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"pantry-gpt/internal/cache"
	"pantry-gpt/internal/fallback"
	"pantry-gpt/internal/ratelimit"
	"pantry-gpt/internal/retry"
	"pantry-gpt/internal/scanerr"
)

const stageName = "ocr"

// StageConfig holds every option the OCR stage recognizes.
type StageConfig struct {
	// ConfidenceThreshold is the score a backend result needs to be
	// accepted without trying the next backend.
	ConfidenceThreshold float64
	// PreferredBackend is tried first when registered.
	PreferredBackend string
	// CacheTTL bounds how long a result is reused. Zero uses the cache default.
	CacheTTL time.Duration
	Retry    retry.Policy
}

// Validate rejects out-of-range values.
func (c StageConfig) Validate() error {
	var errs []error
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence_threshold must be within [0,1], got %v", c.ConfidenceThreshold))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache ttl must not be negative, got %v", c.CacheTTL))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.Delay < 0 {
		errs = append(errs, fmt.Errorf("retry_delay must not be negative, got %v", c.Retry.Delay))
	}
	return errors.Join(errs...)
}

// Stage turns an image into text using the registered backends, the shared
// cache and the shared rate limiter.
type Stage struct {
	cfg      StageConfig
	backends *fallback.Registry[Provider]
	cache    cache.Cache
	limiter  *ratelimit.Limiter
}

// NewStage validates cfg and assembles the stage. A nil cache disables
// caching; a nil limiter disables rate limiting.
func NewStage(cfg StageConfig, backends *fallback.Registry[Provider], c cache.Cache, limiter *ratelimit.Limiter) (*Stage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OCR stage configuration: %w", err)
	}
	if backends == nil || backends.Len() == 0 {
		return nil, errors.New("OCR stage needs at least one backend")
	}
	if c == nil {
		c = cache.Noop{}
	}
	return &Stage{
		cfg:      cfg,
		backends: backends,
		cache:    c,
		limiter:  limiter,
	}, nil
}

// ExtractTextFromFile reads path and runs ExtractText on its content.
func (s *Stage) ExtractTextFromFile(ctx context.Context, path string) (*Result, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, &scanerr.ValidationError{Reason: "unreadable image " + path, Err: err}
	}
	return s.ExtractText(ctx, image)
}

// ExtractText returns the text in image. When no backend meets the
// confidence threshold the best result is returned together with a
// *scanerr.AllBackendsExhaustedError; the result has BelowThreshold set and
// is not cached.
func (s *Stage) ExtractText(ctx context.Context, image []byte) (*Result, error) {
	start := time.Now()
	if _, err := validateImage(image); err != nil {
		return nil, err
	}

	key := cache.Key(stageName, []byte(s.backends.ChainID(s.cfg.PreferredBackend)), image)
	logger := log.WithField("cache_key", key[:12])

	if cached, ok := s.lookup(ctx, key, start); ok {
		logger.WithField("backend", cached.BackendUsed).Debug("OCR cache hit")
		return cached, nil
	}

	outcome, err := fallback.Run(ctx, s.backends, fallback.Options{
		Stage:            stageName,
		Threshold:        s.cfg.ConfidenceThreshold,
		FallThroughOnLow: true,
		Preferred:        s.cfg.PreferredBackend,
	}, func(ctx context.Context, name string, provider Provider) (*RawResult, float64, error) {
		return s.attempt(ctx, name, provider, image)
	})
	if err != nil && !scanerr.IsBelowThreshold(err) {
		return nil, err
	}

	raw := outcome.Result
	result := &Result{
		RawText:           raw.Text,
		Confidence:        clampConfidence(raw.Confidence),
		BackendUsed:       outcome.Backend,
		DetectedLanguages: normalizeLanguages(raw.Languages),
		BoundingBoxes:     raw.Boxes,
		BelowThreshold:    outcome.BelowThreshold,
	}
	if result.BoundingBoxes == nil {
		result.BoundingBoxes = []BoundingBox{}
	}

	if !result.BelowThreshold {
		s.store(ctx, key, result)
	}
	result.ProcessingTime = time.Since(start).Seconds()

	logger.WithFields(logrus.Fields{
		"backend":         result.BackendUsed,
		"confidence":      result.Confidence,
		"below_threshold": result.BelowThreshold,
		"processing_time": result.ProcessingTime,
	}).Info("OCR finished")
	return result, err
}

// attempt runs one backend under the retry policy. The limiter is consulted
// before every dispatch, retries included.
func (s *Stage) attempt(ctx context.Context, name string, provider Provider, image []byte) (*RawResult, float64, error) {
	raw, err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) (*RawResult, error) {
		if err := s.limiter.Acquire(ctx, name); err != nil {
			return nil, err
		}
		raw, err := provider.Recognize(ctx, image)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, scanerr.Recoverable(name, errors.New("backend returned no result"))
		}
		return raw, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return raw, clampConfidence(raw.Confidence), nil
}

// lookup returns a cached result, stamped with the cache read latency.
func (s *Stage) lookup(ctx context.Context, key string, start time.Time) (*Result, bool) {
	data, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		log.WithError(err).Warn("Discarding undecodable OCR cache entry")
		return nil, false
	}
	result.Cached = true
	result.ProcessingTime = time.Since(start).Seconds()
	return &result, true
}

func (s *Stage) store(ctx context.Context, key string, result *Result) {
	data, err := json.Marshal(result)
	if err != nil {
		log.WithError(err).Warn("Failed to encode OCR result for cache")
		return
	}
	if err := s.cache.Put(ctx, key, data, s.cfg.CacheTTL); err != nil {
		log.WithError(err).Warn("Failed to write OCR cache entry")
	}
}

// Close releases backend clients that hold connections.
func (s *Stage) Close() error {
	var errs []error
	for _, e := range s.backends.Ordered("") {
		if closer, ok := e.Backend.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", e.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}
