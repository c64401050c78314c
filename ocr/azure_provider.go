package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"pantry-gpt/internal/constants"
	"pantry-gpt/internal/scanerr"
)

const (
	apiVersion      = "2024-11-30"
	defaultModelID  = "prebuilt-read"
	defaultTimeout  = 120 * time.Second
	pollingInterval = 2 * time.Second
)

// AzureProvider implements OCR using Azure Document Intelligence
type AzureProvider struct {
	endpoint     string
	apiKey       string
	modelID      string
	timeout      time.Duration
	pollInterval time.Duration
	httpClient   *retryablehttp.Client
}

// Request body for Azure Document Intelligence
type analyzeRequest struct {
	Base64Source string `json:"base64Source"`
}

func newAzureProvider(config Config) (*AzureProvider, error) {
	logger := log.WithFields(logrus.Fields{
		"endpoint": config.AzureEndpoint,
		"model_id": config.AzureModelID,
	})
	logger.Info("Creating new Azure Document Intelligence provider")

	if config.AzureEndpoint == "" || config.AzureAPIKey == "" {
		return nil, fmt.Errorf("missing required Azure Document Intelligence configuration")
	}

	modelID := defaultModelID
	if config.AzureModelID != "" {
		modelID = config.AzureModelID
	}

	timeout := defaultTimeout
	if config.AzureTimeout > 0 {
		timeout = config.AzureTimeout
	}

	// Retries are owned by the stage's retry policy; the client only
	// surfaces responses so they can be classified.
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = logger

	return &AzureProvider{
		endpoint:     strings.TrimRight(config.AzureEndpoint, "/"),
		apiKey:       config.AzureAPIKey,
		modelID:      modelID,
		timeout:      timeout,
		pollInterval: pollingInterval,
		httpClient:   client,
	}, nil
}

// Recognize submits the image for analysis and polls until the operation
// completes or the provider timeout elapses.
func (p *AzureProvider) Recognize(ctx context.Context, image []byte) (*RawResult, error) {
	logger := log.WithField("model_id", p.modelID)
	logger.Debug("Starting Azure Document Intelligence processing")

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	operationLocation, err := p.submitDocument(ctx, image)
	if err != nil {
		return nil, err
	}

	result, err := p.pollForResults(ctx, operationLocation)
	if err != nil {
		return nil, err
	}

	raw := convertAzureResult(&result.AnalyzeResult)
	logger.WithFields(logrus.Fields{
		"content_length": len(raw.Text),
		"page_count":     len(result.AnalyzeResult.Pages),
		"confidence":     raw.Confidence,
	}).Info("Successfully processed document")
	return raw, nil
}

// classifyHTTP applies retryablehttp's default policy to decide whether a
// failed exchange is worth retrying.
func classifyHTTP(ctx context.Context, resp *http.Response, err error, cause error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return scanerr.Recoverable(BackendAzure, cause)
	}
	retry, _ := retryablehttp.DefaultRetryPolicy(context.WithoutCancel(ctx), resp, err)
	if retry {
		return scanerr.Recoverable(BackendAzure, cause)
	}
	return scanerr.Permanent(BackendAzure, cause)
}

func (p *AzureProvider) submitDocument(ctx context.Context, image []byte) (string, error) {
	requestURL := fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?api-version=%s",
		p.endpoint, p.modelID, apiVersion)

	requestBodyBytes, err := json.Marshal(analyzeRequest{
		Base64Source: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling request body: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return "", fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	req.Header.Set("User-Agent", constants.UserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", classifyHTTP(ctx, nil, err, fmt.Errorf("error sending HTTP request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", classifyHTTP(ctx, resp, nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body)))
	}

	operationLocation := resp.Header.Get("Operation-Location")
	if operationLocation == "" {
		return "", scanerr.Recoverable(BackendAzure, errors.New("no Operation-Location header in response"))
	}
	return operationLocation, nil
}

func (p *AzureProvider) poll(ctx context.Context, operationLocation string) (*AzureDocumentResult, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, operationLocation, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating poll request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	req.Header.Set("User-Agent", constants.UserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, classifyHTTP(ctx, nil, err, fmt.Errorf("error polling for results: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyHTTP(ctx, resp, nil, fmt.Errorf("unexpected status code %d while polling: %s", resp.StatusCode, string(body)))
	}

	var result AzureDocumentResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, scanerr.Recoverable(BackendAzure, fmt.Errorf("error decoding response: %w", err))
	}
	return &result, nil
}

func (p *AzureProvider) pollForResults(ctx context.Context, operationLocation string) (*AzureDocumentResult, error) {
	logger := log.WithField("operation_location", operationLocation)
	logger.Debug("Starting to poll for results")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := fmt.Errorf("operation timed out after %v: %w", p.timeout, ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, err
			}
			return nil, scanerr.Recoverable(BackendAzure, err)
		case <-ticker.C:
			result, err := p.poll(ctx, operationLocation)
			if err != nil {
				return nil, err
			}

			logger.WithField("status", result.Status).Debug("Poll response received")

			switch result.Status {
			case "succeeded":
				return result, nil
			case "failed":
				msg := "document processing failed"
				if result.Error != nil {
					msg = fmt.Sprintf("%s: %s: %s", msg, result.Error.Code, result.Error.Message)
				}
				return nil, scanerr.Permanent(BackendAzure, errors.New(msg))
			case "running", "notStarted":
				// Continue polling
			default:
				return nil, scanerr.Permanent(BackendAzure, fmt.Errorf("unexpected status: %s", result.Status))
			}
		}
	}
}

// convertAzureResult maps words to boxes and averages their confidences.
func convertAzureResult(ar *AzureAnalyzeResult) *RawResult {
	raw := &RawResult{Text: ar.Content}
	for _, page := range ar.Pages {
		for _, w := range page.Words {
			x, y := polygonTopLeft(w.Polygon)
			raw.Boxes = append(raw.Boxes, BoundingBox{
				Text:       w.Content,
				X:          x,
				Y:          y,
				Confidence: clampConfidence(w.Confidence),
			})
		}
	}
	raw.Confidence, _ = meanConfidence(raw.Boxes)
	for _, l := range ar.Languages {
		raw.Languages = append(raw.Languages, l.Locale)
	}
	return raw
}

// polygonTopLeft reads a flat [x1,y1,x2,y2,...] polygon.
func polygonTopLeft(poly []float64) (int, int) {
	if len(poly) < 2 {
		return 0, 0
	}
	x, y := poly[0], poly[1]
	for i := 2; i+1 < len(poly); i += 2 {
		x = min(x, poly[i])
		y = min(y, poly[i+1])
	}
	return int(x), int(y)
}
