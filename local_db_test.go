package main

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry-gpt/extraction"
	"pantry-gpt/ocr"
	"pantry-gpt/pipeline"
)

func TestNewScanRecord(t *testing.T) {
	res := &pipeline.Result{
		OCR: &ocr.Result{BackendUsed: "google_docai", Confidence: 0.95},
		Product: &extraction.ProductData{
			ProductName:    "Tofu Miso Ramen",
			Category:       "Noodles & Instant Meals",
			ExpirationDate: "2021-12-01",
			DietaryTags:    []string{"vegan"},
			Confidence:     0.92,
			BackendUsed:    "openai",
		},
		State: pipeline.Accepted,
	}

	record, err := newScanRecord("koyo.jpg", res, StatusSuccess, 0.935, nil)
	require.NoError(t, err)
	assert.Equal(t, "koyo.jpg", record.Source)
	assert.Equal(t, "Tofu Miso Ramen", record.ProductName)
	assert.Equal(t, "Noodles & Instant Meals", record.Category)
	assert.Equal(t, "2021-12-01", record.ExpirationDate)
	assert.Equal(t, "success", record.Status)
	assert.Equal(t, "accepted", record.State)
	assert.Equal(t, "google_docai", record.OCRBackend)
	assert.Equal(t, "openai", record.ExtractionBackend)
	assert.Empty(t, record.Error)

	var product extraction.ProductData
	require.NoError(t, json.Unmarshal([]byte(record.Product), &product))
	assert.Equal(t, []string{"vegan"}, product.DietaryTags)

	record, err = newScanRecord("bad.jpg", nil, StatusFailed, 0, errors.New("empty image"))
	require.NoError(t, err)
	assert.Equal(t, "submitted", record.State)
	assert.Equal(t, "empty image", record.Error)
	assert.Empty(t, record.Product)
}

func TestScanRecords(t *testing.T) {
	db, err := InitializeDB(filepath.Join(t.TempDir(), "nested", "scans.db"))
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, status := range []ScanStatus{StatusSuccess, StatusManualReview, StatusSuccess} {
		record := &ScanRecord{
			Source:    filepath.Join("inbox", string(rune('a'+i))+".jpg"),
			Status:    string(status),
			State:     "accepted",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, InsertScanRecord(db, record))
		assert.NotZero(t, record.ID)
	}

	all, err := GetScanRecords(db, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, filepath.Join("inbox", "c.jpg"), all[0].Source, "newest first")

	successes, err := GetScanRecords(db, string(StatusSuccess), 0)
	require.NoError(t, err)
	assert.Len(t, successes, 2)

	limited, err := GetScanRecords(db, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
