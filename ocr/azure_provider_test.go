package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry-gpt/internal/scanerr"
)

func TestNewAzureProvider(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		wantErr     bool
		errContains string
	}{
		{
			name: "valid config",
			config: Config{
				AzureEndpoint: "https://test.cognitiveservices.azure.com/",
				AzureAPIKey:   "test-key",
			},
			wantErr: false,
		},
		{
			name: "valid config with custom model and timeout",
			config: Config{
				AzureEndpoint: "https://test.cognitiveservices.azure.com/",
				AzureAPIKey:   "test-key",
				AzureModelID:  "custom-model",
				AzureTimeout:  60 * time.Second,
			},
			wantErr: false,
		},
		{
			name: "missing endpoint",
			config: Config{
				AzureAPIKey: "test-key",
			},
			wantErr:     true,
			errContains: "missing required Azure Document Intelligence configuration",
		},
		{
			name: "missing api key",
			config: Config{
				AzureEndpoint: "https://test.cognitiveservices.azure.com/",
			},
			wantErr:     true,
			errContains: "missing required Azure Document Intelligence configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := newAzureProvider(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https://test.cognitiveservices.azure.com", provider.endpoint)

			if tt.config.AzureModelID == "" {
				assert.Equal(t, defaultModelID, provider.modelID)
			} else {
				assert.Equal(t, tt.config.AzureModelID, provider.modelID)
			}

			if tt.config.AzureTimeout == 0 {
				assert.Equal(t, defaultTimeout, provider.timeout)
			} else {
				assert.Equal(t, tt.config.AzureTimeout, provider.timeout)
			}
			assert.Equal(t, 0, provider.httpClient.RetryMax)
		})
	}
}

func newTestAzureProvider(serverURL string, client *http.Client) *AzureProvider {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = client
	rc.RetryMax = 0
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	return &AzureProvider{
		endpoint:     serverURL,
		apiKey:       "test-key",
		modelID:      defaultModelID,
		timeout:      5 * time.Second,
		pollInterval: 10 * time.Millisecond,
		httpClient:   rc,
	}
}

func TestAzureProvider_Recognize(t *testing.T) {
	now := time.Now()
	successResult := AzureDocumentResult{
		Status:              "succeeded",
		CreatedDateTime:     now,
		LastUpdatedDateTime: now,
		AnalyzeResult: AzureAnalyzeResult{
			APIVersion: apiVersion,
			ModelID:    defaultModelID,
			Content:    "KOYO TOFU MISO RAMEN",
			Pages: []AzurePage{
				{
					PageNumber: 1,
					Width:      800,
					Height:     600,
					Unit:       "pixel",
					Words: []AzureWord{
						{Content: "KOYO", Polygon: []float64{10, 12, 60, 12, 60, 30, 10, 30}, Confidence: 0.99},
						{Content: "TOFU", Polygon: []float64{70, 12, 120, 12, 120, 30, 70, 30}, Confidence: 0.95},
						{Content: "MISO", Polygon: []float64{10, 40, 60, 40, 60, 58, 10, 58}, Confidence: 0.91},
						{Content: "RAMEN", Polygon: []float64{70, 40, 130, 40, 130, 58, 70, 58}, Confidence: 0.87},
					},
				},
			},
			Languages: []AzureLanguage{{Locale: "en", Confidence: 0.9}},
		},
	}

	tests := []struct {
		name            string
		handler         func(serverURL string) http.Handler
		wantErr         bool
		wantRecoverable bool
		errContains     string
	}{
		{
			name: "successful processing after one running poll",
			handler: func(serverURL string) http.Handler {
				var polls atomic.Int32
				mux := http.NewServeMux()
				mux.HandleFunc("/documentintelligence/documentModels/prebuilt-read:analyze", func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, "test-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
					w.Header().Set("Operation-Location", fmt.Sprintf("%s/operations/123", serverURL))
					w.WriteHeader(http.StatusAccepted)
				})
				mux.HandleFunc("/operations/123", func(w http.ResponseWriter, r *http.Request) {
					if polls.Add(1) == 1 {
						json.NewEncoder(w).Encode(AzureDocumentResult{Status: "running"})
						return
					}
					json.NewEncoder(w).Encode(successResult)
				})
				return mux
			},
		},
		{
			name: "bad request is permanent",
			handler: func(string) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusBadRequest)
					fmt.Fprintln(w, "Invalid request")
				})
			},
			wantErr:     true,
			errContains: "unexpected status code 400",
		},
		{
			name: "service unavailable is recoverable",
			handler: func(string) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusServiceUnavailable)
				})
			},
			wantErr:         true,
			wantRecoverable: true,
			errContains:     "unexpected status code 503",
		},
		{
			name: "throttled is recoverable",
			handler: func(string) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusTooManyRequests)
				})
			},
			wantErr:         true,
			wantRecoverable: true,
			errContains:     "unexpected status code 429",
		},
		{
			name: "failed operation is permanent",
			handler: func(serverURL string) http.Handler {
				mux := http.NewServeMux()
				mux.HandleFunc("/documentintelligence/documentModels/prebuilt-read:analyze", func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Operation-Location", fmt.Sprintf("%s/operations/456", serverURL))
					w.WriteHeader(http.StatusAccepted)
				})
				mux.HandleFunc("/operations/456", func(w http.ResponseWriter, r *http.Request) {
					json.NewEncoder(w).Encode(AzureDocumentResult{
						Status: "failed",
						Error:  &AzureError{Code: "InvalidContent", Message: "corrupt image"},
					})
				})
				return mux
			},
			wantErr:     true,
			errContains: "InvalidContent",
		},
	}

	image := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("JFIF test content")...)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var handler http.Handler
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handler.ServeHTTP(w, r)
			}))
			defer server.Close()
			handler = tt.handler(server.URL)

			provider := newTestAzureProvider(server.URL, server.Client())
			result, err := provider.Recognize(context.Background(), image)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				assert.ErrorIs(t, err, scanerr.ErrBackend)
				assert.Equal(t, tt.wantRecoverable, scanerr.IsRecoverable(err))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "KOYO TOFU MISO RAMEN", result.Text)
			assert.InDelta(t, 0.93, result.Confidence, 1e-9)
			assert.Equal(t, []string{"en"}, result.Languages)
			require.Len(t, result.Boxes, 4)
			assert.Equal(t, BoundingBox{Text: "KOYO", X: 10, Y: 12, Confidence: 0.99}, result.Boxes[0])
			assert.Equal(t, BoundingBox{Text: "RAMEN", X: 70, Y: 40, Confidence: 0.87}, result.Boxes[3])
		})
	}
}

func TestAzureProvider_PollTimeoutIsRecoverable(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Operation-Location", server.URL+"/operations/slow")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		json.NewEncoder(w).Encode(AzureDocumentResult{Status: "running"})
	}))
	defer server.Close()

	provider := newTestAzureProvider(server.URL, server.Client())
	provider.timeout = 100 * time.Millisecond

	_, err := provider.Recognize(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xE0})
	require.Error(t, err)
	assert.True(t, scanerr.IsRecoverable(err))
}

func TestPolygonTopLeft(t *testing.T) {
	x, y := polygonTopLeft([]float64{30.6, 20.2, 10.9, 25, 12, 5.5})
	assert.Equal(t, 10, x)
	assert.Equal(t, 5, y)

	x, y = polygonTopLeft(nil)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
}
