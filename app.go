package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"pantry-gpt/extraction"
	"pantry-gpt/internal/cache"
	"pantry-gpt/internal/config"
	"pantry-gpt/internal/costguard"
	"pantry-gpt/internal/ratelimit"
	"pantry-gpt/internal/retry"
	"pantry-gpt/ocr"
	"pantry-gpt/pipeline"
)

// App struct to hold dependencies
type App struct {
	Settings *config.Settings
	Pipeline *pipeline.Pipeline
	Database *gorm.DB
	Cache    cache.Cache
	Limiter  *ratelimit.Limiter
	Guard    *costguard.Guard

	closers []io.Closer
}

// ScanOutcome is what the caller-facing surfaces report for one image.
type ScanOutcome struct {
	Source             string           `json:"source"`
	Status             ScanStatus       `json:"status"`
	CombinedConfidence float64          `json:"combined_confidence"`
	Result             *pipeline.Result `json:"result,omitempty"`
	Error              string           `json:"error,omitempty"`
	RecordID           uint             `json:"record_id,omitempty"`
}

// newApp wires the stages, the shared cache, limiter and cost guard from s.
func newApp(ctx context.Context, s *config.Settings) (*App, error) {
	app := &App{Settings: s}

	db, err := InitializeDB(s.DBPath)
	if err != nil {
		return nil, err
	}
	app.Database = db

	store, err := costguard.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("error creating cost ledger store: %w", err)
	}
	app.Guard = costguard.New(ctx, s.MaxCostPerRequest, s.DailyCostLimit, costguard.WithStore(store))

	app.Cache, err = newCache(ctx, s)
	if err != nil {
		return nil, err
	}
	if c, ok := app.Cache.(io.Closer); ok {
		app.closers = append(app.closers, c)
	}

	app.Limiter = ratelimit.New(s.RateLimitRequests, s.RateLimitPeriod.Std())

	policy := retry.Policy{
		MaxRetries:     s.MaxRetries,
		Delay:          s.RetryDelay.Std(),
		Backoff:        s.RetryBackoff,
		AttemptTimeout: s.AttemptTimeout.Std(),
	}

	ocrBackends, err := ocr.NewProviders(ctx, ocr.Config{
		Backends:           s.OCRBackends,
		GoogleProjectID:    s.Backends.GoogleProjectID,
		GoogleLocation:     s.Backends.GoogleLocation,
		GoogleProcessorID:  s.Backends.GoogleProcessorID,
		AzureEndpoint:      s.Backends.AzureEndpoint,
		AzureAPIKey:        s.Backends.AzureKey,
		AzureModelID:       s.Backends.AzureModelID,
		VisionLLMProvider:  s.Backends.VisionLLMProvider,
		VisionLLMModel:     s.Backends.VisionLLMModel,
		LLM:                s.Backends.LLM,
		TesseractLanguages: s.Backends.TesseractLanguages,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating OCR backends: %w", err)
	}
	ocrStage, err := ocr.NewStage(ocr.StageConfig{
		ConfidenceThreshold: s.ConfidenceThreshold,
		PreferredBackend:    s.OCRPreferredBackend,
		CacheTTL:            s.OCRCacheTTL.Std(),
		Retry:               policy,
	}, ocrBackends, app.Cache, app.Limiter)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, ocrStage)

	llmBackends, err := extraction.NewBackends(ctx, extraction.BackendsConfig{
		Names:       s.ExtractionBackends,
		Credentials: s.Backends.LLM,
		Models:      s.Backends.Models,
		Prices:      s.Backends.Prices,
		MaxTokens:   extraction.DefaultMaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating extraction backends: %w", err)
	}
	prompts, err := extraction.NewPromptBuilder(s.ExtractionPromptPath, s.TokenLimit, nil)
	if err != nil {
		return nil, err
	}
	extractionStage, err := extraction.NewStage(extraction.StageConfig{
		MinConfidence:        s.MinConfidence,
		PreferredBackend:     s.ExtractionPreferredBackend,
		UseFewShot:           s.UseFewShot,
		RetryOnLowConfidence: s.RetryOnLowConfidence,
		CacheTTL:             s.ExtractionCacheTTL.Std(),
		Retry:                policy,
	}, llmBackends, prompts, app.Cache, app.Limiter, app.Guard)
	if err != nil {
		return nil, err
	}

	app.Pipeline = pipeline.New(ocrStage, extractionStage)
	return app, nil
}

// newCache returns the configured ContentCache. Caching is an optimisation:
// a redis cache that cannot be reached degrades to no caching.
func newCache(ctx context.Context, s *config.Settings) (cache.Cache, error) {
	if !s.CacheEnabled {
		log.Info("Result cache disabled")
		return cache.Noop{}, nil
	}
	switch s.CacheBackend {
	case "redis":
		c, err := cache.NewRedisCache(ctx, s.RedisURL, s.OCRCacheTTL.Std())
		if err != nil {
			log.WithError(err).Warn("Redis cache unavailable, continuing without cache")
			return cache.Noop{}, nil
		}
		return c, nil
	case "file", "":
		c, err := cache.NewFileCache(s.CacheDir, s.OCRCacheTTL.Std())
		if err != nil {
			return nil, fmt.Errorf("error creating file cache: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", s.CacheBackend)
	}
}

// Close releases backend clients and the cache connection.
func (app *App) Close() error {
	var errs []error
	for _, c := range app.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (app *App) storageThreshold() float64 {
	if app.Settings == nil {
		return config.Defaults().StorageConfidenceThreshold
	}
	return app.Settings.StorageConfidenceThreshold
}

// scanImage runs the pipeline on one image, classifies the result and
// records it. The returned error is the pipeline error; recording failures
// are logged only.
func (app *App) scanImage(ctx context.Context, source string, image []byte) (*ScanOutcome, error) {
	start := time.Now()
	res, procErr := app.Pipeline.Process(ctx, image)
	return app.finish(ctx, source, res, procErr, start)
}

// scanFile is scanImage for a file on disk.
func (app *App) scanFile(ctx context.Context, path string) (*ScanOutcome, error) {
	start := time.Now()
	res, procErr := app.Pipeline.ProcessFile(ctx, path)
	return app.finish(ctx, path, res, procErr, start)
}

func (app *App) finish(ctx context.Context, source string, res *pipeline.Result, procErr error, start time.Time) (*ScanOutcome, error) {
	status, combined := classifyResult(res, app.storageThreshold())
	outcome := &ScanOutcome{
		Source:             source,
		Status:             status,
		CombinedConfidence: combined,
		Result:             res,
	}
	if procErr != nil {
		outcome.Error = procErr.Error()
	}

	logger := log.WithFields(logrus.Fields{
		"source":              source,
		"status":              status,
		"combined_confidence": combined,
		"duration":            time.Since(start),
	})
	if procErr != nil {
		logger.WithError(procErr).Error("Scan failed")
	} else {
		logger.Info("Scan finished")
	}

	if app.Database != nil {
		record, err := newScanRecord(source, res, status, combined, procErr)
		if err == nil {
			err = InsertScanRecord(app.Database.WithContext(ctx), &record)
		}
		if err != nil {
			logger.WithError(err).Warn("Failed to store scan record")
		} else {
			outcome.RecordID = record.ID
		}
	}
	return outcome, procErr
}
