package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry-gpt/extraction"
	"pantry-gpt/internal/cache"
	"pantry-gpt/internal/config"
	"pantry-gpt/internal/costguard"
	"pantry-gpt/internal/ratelimit"
	"pantry-gpt/internal/scanerr"
	"pantry-gpt/ocr"
	"pantry-gpt/pipeline"
)

// textOCR treats the image bytes as the recognized text.
type textOCR struct{}

func (textOCR) ExtractText(_ context.Context, image []byte) (*ocr.Result, error) {
	if len(image) == 0 {
		return nil, scanerr.Validation("empty image")
	}
	return &ocr.Result{RawText: string(image), Confidence: 0.9, BackendUsed: "stub"}, nil
}

// scriptedAnalyzer decides the outcome from keywords in the OCR text.
type scriptedAnalyzer struct{}

func (scriptedAnalyzer) AnalyzeProduct(_ context.Context, r *ocr.Result) (*extraction.ProductData, error) {
	text := r.RawText
	product := &extraction.ProductData{
		ProductName: strings.TrimSpace(text),
		Category:    extraction.CategoryOther,
		Confidence:  0.9,
		BackendUsed: "stub",
	}
	switch {
	case strings.Contains(text, "budget"):
		return nil, &scanerr.BudgetExceededError{Scope: scanerr.ScopeDaily, Estimated: 0.5, Spent: 5, Limit: 5}
	case strings.Contains(text, "fail"):
		return nil, scanerr.Recoverable("stub", errors.New("model unavailable"))
	case strings.Contains(text, "low"):
		product.Confidence = 0.4
		product.BelowThreshold = true
	case strings.Contains(text, "review"):
		product.Confidence = 0.65
	}
	return product, nil
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	settings := config.Defaults()
	settings.InboxDir = t.TempDir()

	db, err := InitializeDB(filepath.Join(t.TempDir(), "db", "pantry.db"))
	require.NoError(t, err)

	return &App{
		Settings: &settings,
		Pipeline: pipeline.New(textOCR{}, scriptedAnalyzer{}),
		Database: db,
		Cache:    cache.Noop{},
		Limiter:  ratelimit.New(0, 0),
		Guard:    costguard.New(context.Background(), 0, 0),
	}
}

// writeImages creates one file per name with the given content.
func writeImages(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestScanImage_RecordsOutcome(t *testing.T) {
	app := newTestApp(t)

	outcome, err := app.scanImage(context.Background(), "ramen.jpg", []byte("KOYO RAMEN"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.InDelta(t, 0.9, outcome.CombinedConfidence, 1e-9)
	assert.NotZero(t, outcome.RecordID)

	records, err := GetScanRecords(app.Database, "", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ramen.jpg", records[0].Source)
	assert.Equal(t, "KOYO RAMEN", records[0].ProductName)
	assert.Equal(t, "accepted", records[0].State)
}

func TestScanImage_FailureIsRecorded(t *testing.T) {
	app := newTestApp(t)

	outcome, err := app.scanImage(context.Background(), "blurry.jpg", []byte("fail"))
	require.Error(t, err)
	assert.ErrorIs(t, err, scanerr.ErrBackend)
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.NotEmpty(t, outcome.Error)

	records, err := GetScanRecords(app.Database, string(StatusFailed), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "extraction_pending", records[0].State)
	assert.Contains(t, records[0].Error, "model unavailable")
}

func TestNewCache(t *testing.T) {
	ctx := context.Background()

	s := config.Defaults()
	s.CacheEnabled = false
	c, err := newCache(ctx, &s)
	require.NoError(t, err)
	assert.Equal(t, "disabled", c.Stats().Backend)

	s = config.Defaults()
	s.CacheDir = t.TempDir()
	c, err = newCache(ctx, &s)
	require.NoError(t, err)
	assert.IsType(t, &cache.FileCache{}, c)

	s = config.Defaults()
	s.CacheBackend = "memcached"
	_, err = newCache(ctx, &s)
	assert.Error(t, err)
}
