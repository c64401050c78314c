package ocr

import "time"

// AzureDocumentResult represents the root response from Azure Document Intelligence
type AzureDocumentResult struct {
	Status              string             `json:"status"`
	CreatedDateTime     time.Time          `json:"createdDateTime"`
	LastUpdatedDateTime time.Time          `json:"lastUpdatedDateTime"`
	AnalyzeResult       AzureAnalyzeResult `json:"analyzeResult"`
	Error               *AzureError        `json:"error,omitempty"`
}

// AzureError is returned with a failed operation.
type AzureError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AzureAnalyzeResult represents the analyze result part of the Azure Document Intelligence response
type AzureAnalyzeResult struct {
	APIVersion string          `json:"apiVersion"`
	ModelID    string          `json:"modelId"`
	Content    string          `json:"content"`
	Pages      []AzurePage     `json:"pages"`
	Languages  []AzureLanguage `json:"languages"`
}

// AzurePage represents a single page in the document
type AzurePage struct {
	PageNumber int         `json:"pageNumber"`
	Angle      float64     `json:"angle"`
	Width      float64     `json:"width"`
	Height     float64     `json:"height"`
	Unit       string      `json:"unit"`
	Words      []AzureWord `json:"words"`
	Lines      []AzureLine `json:"lines"`
}

// AzureWord represents a single word with its properties
type AzureWord struct {
	Content    string    `json:"content"`
	Polygon    []float64 `json:"polygon"`
	Confidence float64   `json:"confidence"`
	Span       AzureSpan `json:"span"`
}

// AzureLine represents a line of text
type AzureLine struct {
	Content string      `json:"content"`
	Polygon []float64   `json:"polygon"`
	Spans   []AzureSpan `json:"spans"`
}

// AzureSpan represents a span of text with offset and length
type AzureSpan struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// AzureLanguage is a detected locale.
type AzureLanguage struct {
	Locale     string      `json:"locale"`
	Confidence float64     `json:"confidence"`
	Spans      []AzureSpan `json:"spans"`
}
