package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry-gpt/internal/scanerr"
)

// setupTestRouter creates a router backed by a test app and a running job queue.
func setupTestRouter(t *testing.T) (*gin.Engine, *App) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	jobs := newJobQueue(newJobStore(), 10)
	jobs.Start(ctx, app, 1)

	return newRouter(app, jobs), app
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/scan", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestScanHandler(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name       string
		field      string
		content    string
		wantCode   int
		wantStatus ScanStatus
	}{
		{"accepted", "image", "KOYO RAMEN", http.StatusOK, StatusSuccess},
		{"low confidence", "image", "low light", http.StatusOK, StatusManualReview},
		{"empty image", "image", "", http.StatusBadRequest, StatusFailed},
		{"budget", "image", "budget", http.StatusPaymentRequired, StatusFailed},
		{"backend failure", "image", "fail", http.StatusBadGateway, StatusFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, uploadRequest(t, tc.field, "label.jpg", []byte(tc.content)))
			assert.Equal(t, tc.wantCode, w.Code)

			var outcome ScanOutcome
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
			assert.Equal(t, tc.wantStatus, outcome.Status)
			assert.Equal(t, "label.jpg", outcome.Source)
		})
	}
}

func TestScanHandler_MissingFile(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "photo", "label.jpg", []byte("KOYO")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetScansHandler(t *testing.T) {
	router, app := setupTestRouter(t)
	_, err := app.scanImage(context.Background(), "a.jpg", []byte("KOYO RAMEN"))
	require.NoError(t, err)
	_, err = app.scanImage(context.Background(), "b.jpg", []byte("review me"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/scans?status=manual_review", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var records []ScanRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "b.jpg", records[0].Source)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/scans?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchHandlers(t *testing.T) {
	router, _ := setupTestRouter(t)
	dir := t.TempDir()
	writeImages(t, dir, map[string]string{"1.jpg": "KOYO RAMEN", "2.jpg": "MILK"})

	body, _ := json.Marshal(map[string]string{"directory": dir})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/batches", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, w.Code)

	var submitted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.JobID)

	var job Job
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/batches/"+submitted.JobID, nil))
		if w.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
		return job.Status == JobCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, job.Summary.Succeeded)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/batches", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var jobs []Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 1)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/batches/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/batches", strings.NewReader(`{"directory": "/does/not/exist"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/batches", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusHandler(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Contains(t, status, "cache")
	assert.Contains(t, status, "rate_limits")
	assert.Contains(t, status, "cost")
	assert.Contains(t, string(status["cache"]), `"backend":"disabled"`)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, errorStatus(scanerr.Validation("bad")))
	assert.Equal(t, http.StatusTooManyRequests, errorStatus(&scanerr.RateLimitError{Backend: "openai"}))
	assert.Equal(t, http.StatusPaymentRequired, errorStatus(&scanerr.BudgetExceededError{Scope: scanerr.ScopeDaily}))
	assert.Equal(t, http.StatusBadGateway, errorStatus(&scanerr.AllBackendsExhaustedError{Stage: "ocr"}))
}
