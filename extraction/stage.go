package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pantry-gpt/internal/cache"
	"pantry-gpt/internal/fallback"
	"pantry-gpt/internal/ratelimit"
	"pantry-gpt/internal/retry"
	"pantry-gpt/internal/scanerr"
	"pantry-gpt/ocr"
)

const (
	stageName = "extraction"

	// DefaultMaxOutputTokens bounds a reply and is used for cost estimates.
	DefaultMaxOutputTokens = 512
)

// Budget reserves estimated spend before a paid call.
type Budget interface {
	Reserve(ctx context.Context, estimated float64) error
}

// StageConfig holds every option the extraction stage recognizes.
type StageConfig struct {
	// MinConfidence is the score a reply needs to be accepted.
	MinConfidence float64
	// PreferredBackend is tried first when registered.
	PreferredBackend string
	UseFewShot       bool
	// RetryOnLowConfidence tries the next backend when a reply is below
	// MinConfidence.
	RetryOnLowConfidence bool
	CacheTTL             time.Duration
	Retry                retry.Policy
	// MaxOutputTokens is the reply size assumed when estimating cost.
	MaxOutputTokens int
}

// Validate rejects out-of-range values.
func (c StageConfig) Validate() error {
	var errs []error
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min_confidence must be within [0,1], got %v", c.MinConfidence))
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
	if c.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("max output tokens must not be negative, got %d", c.MaxOutputTokens))
	}
	return errors.Join(errs...)
}

// Stage turns OCR text into ProductData.
type Stage struct {
	cfg      StageConfig
	backends *fallback.Registry[Backend]
	prompts  *PromptBuilder
	cache    cache.Cache
	limiter  *ratelimit.Limiter
	budget   Budget
}

// NewStage validates cfg and assembles the stage. A nil cache disables
// caching, a nil limiter disables rate limiting and a nil budget disables
// spend limits.
func NewStage(cfg StageConfig, backends *fallback.Registry[Backend], prompts *PromptBuilder, c cache.Cache, limiter *ratelimit.Limiter, budget Budget) (*Stage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extraction stage configuration: %w", err)
	}
	if backends == nil || backends.Len() == 0 {
		return nil, errors.New("extraction stage needs at least one backend")
	}
	if prompts == nil {
		return nil, errors.New("extraction stage needs a prompt builder")
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c == nil {
		c = cache.Noop{}
	}
	return &Stage{
		cfg:      cfg,
		backends: backends,
		prompts:  prompts,
		cache:    c,
		limiter:  limiter,
		budget:   budget,
	}, nil
}

// AnalyzeProduct extracts product data from an OCR result.
func (s *Stage) AnalyzeProduct(ctx context.Context, result *ocr.Result) (*ProductData, error) {
	if result == nil {
		return nil, scanerr.Validation("no OCR result")
	}
	return s.AnalyzeText(ctx, result.RawText)
}

// AnalyzeText extracts product data from label text. When no backend reaches
// MinConfidence the best reply is returned, marked BelowThreshold, together
// with a *scanerr.AllBackendsExhaustedError. Such replies are not cached.
func (s *Stage) AnalyzeText(ctx context.Context, rawText string) (*ProductData, error) {
	start := time.Now()
	text := strings.TrimSpace(rawText)
	if text == "" {
		return nil, scanerr.Validation("empty OCR text")
	}

	key := cache.Key(stageName,
		[]byte(s.backends.ChainID(s.cfg.PreferredBackend)),
		[]byte(strconv.FormatBool(s.cfg.UseFewShot)),
		[]byte(text),
	)
	logger := log.WithField("cache_key", key[:12])

	if cached, ok := s.lookup(ctx, key, start); ok {
		logger.WithField("backend", cached.BackendUsed).Debug("Extraction cache hit")
		return cached, nil
	}

	prompt, err := s.prompts.Build(text, s.cfg.UseFewShot)
	if err != nil {
		return nil, fmt.Errorf("error building extraction prompt: %w", err)
	}

	outcome, err := fallback.Run(ctx, s.backends, fallback.Options{
		Stage:            stageName,
		Threshold:        s.cfg.MinConfidence,
		FallThroughOnLow: s.cfg.RetryOnLowConfidence,
		Preferred:        s.cfg.PreferredBackend,
	}, func(ctx context.Context, name string, backend Backend) (*ProductData, float64, error) {
		return s.attempt(ctx, name, backend, prompt)
	})
	if err != nil && !scanerr.IsBelowThreshold(err) {
		return nil, err
	}

	product := outcome.Result
	product.BackendUsed = outcome.Backend
	product.BelowThreshold = outcome.BelowThreshold
	if !product.BelowThreshold {
		s.store(ctx, key, product)
	}
	product.ProcessingTime = time.Since(start).Seconds()

	logger.WithFields(logrus.Fields{
		"backend":         product.BackendUsed,
		"model":           product.ModelUsed,
		"confidence":      product.Confidence,
		"below_threshold": product.BelowThreshold,
		"processing_time": product.ProcessingTime,
	}).Info("Extraction finished")
	return product, err
}

// attempt runs one backend under the retry policy. Every dispatch, retries
// included, first waits for the limiter and then reserves its estimated cost.
func (s *Stage) attempt(ctx context.Context, name string, backend Backend, prompt string) (*ProductData, float64, error) {
	var estimate float64
	if s.budget != nil {
		estimate = backend.EstimateCost(prompt, s.cfg.MaxOutputTokens)
	}
	logger := log.WithFields(logrus.Fields{
		"backend":        name,
		"estimated_cost": estimate,
	})

	product, err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) (*ProductData, error) {
		if err := s.limiter.Acquire(ctx, name); err != nil {
			return nil, err
		}
		if s.budget != nil {
			if err := s.budget.Reserve(ctx, estimate); err != nil {
				return nil, err
			}
		}

		completion, err := backend.Extract(ctx, prompt)
		if err != nil {
			return nil, err
		}
		product, warnings, err := parseProduct(name, completion.Text)
		if err != nil {
			logger.WithError(err).Warn("Unusable extraction reply")
			return nil, err
		}
		for _, w := range warnings {
			logger.Warn(w)
		}
		product.Warnings = warnings
		product.ModelUsed = backend.Model()
		return product, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return product, product.Confidence, nil
}

func (s *Stage) lookup(ctx context.Context, key string, start time.Time) (*ProductData, bool) {
	data, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var product ProductData
	if err := json.Unmarshal(data, &product); err != nil {
		log.WithError(err).Warn("Discarding undecodable extraction cache entry")
		return nil, false
	}
	product.Cached = true
	product.ProcessingTime = time.Since(start).Seconds()
	return &product, true
}

func (s *Stage) store(ctx context.Context, key string, product *ProductData) {
	data, err := json.Marshal(product)
	if err != nil {
		log.WithError(err).Warn("Failed to encode product data for cache")
		return
	}
	if err := s.cache.Put(ctx, key, data, s.cfg.CacheTTL); err != nil {
		log.WithError(err).Warn("Failed to write extraction cache entry")
	}
}
