package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/gabriel-vasile/mimetype"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pantry-gpt/internal/scanerr"
)

// documentProcessor is the part of the Document AI client the provider uses.
type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// GoogleDocAIProvider implements OCR using Google Document AI
type GoogleDocAIProvider struct {
	projectID   string
	location    string
	processorID string
	client      documentProcessor
}

func newGoogleDocAIProvider(ctx context.Context, config Config) (*GoogleDocAIProvider, error) {
	logger := log.WithFields(logrus.Fields{
		"location":     config.GoogleLocation,
		"processor_id": config.GoogleProcessorID,
	})
	logger.Info("Creating new Google Document AI provider")

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.GoogleLocation)

	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		logger.WithError(err).Error("Failed to create Document AI client")
		return nil, fmt.Errorf("error creating Document AI client: %w", err)
	}

	logger.Info("Successfully initialized Google Document AI provider")
	return &GoogleDocAIProvider{
		projectID:   config.GoogleProjectID,
		location:    config.GoogleLocation,
		processorID: config.GoogleProcessorID,
		client:      client,
	}, nil
}

// Recognize sends the image to the configured OCR processor.
func (p *GoogleDocAIProvider) Recognize(ctx context.Context, image []byte) (*RawResult, error) {
	logger := log.WithFields(logrus.Fields{
		"project_id":   p.projectID,
		"location":     p.location,
		"processor_id": p.processorID,
	})
	logger.Debug("Starting Document AI processing")

	mtype := mimetype.Detect(image).String()
	if !isImageMIMEType(mtype) {
		return nil, scanerr.Validation("unsupported file type: %s", mtype)
	}

	req := &documentaipb.ProcessRequest{
		Name: fmt.Sprintf("projects/%s/locations/%s/processors/%s", p.projectID, p.location, p.processorID),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  image,
				MimeType: mtype,
			},
		},
	}

	resp, err := p.client.ProcessDocument(ctx, req)
	if err != nil {
		logger.WithError(err).Warn("Failed to process document")
		return nil, classifyGRPC(BackendGoogleDocAI, fmt.Errorf("error processing document: %w", err))
	}

	if resp == nil || resp.Document == nil {
		return nil, scanerr.Recoverable(BackendGoogleDocAI, errors.New("received nil response or document from Document AI"))
	}
	if resp.Document.Error != nil {
		return nil, scanerr.Permanent(BackendGoogleDocAI, fmt.Errorf("document processing error: %s", resp.Document.Error.Message))
	}

	result := convertDocument(resp.Document)
	logger.WithFields(logrus.Fields{
		"content_length": len(result.Text),
		"confidence":     result.Confidence,
		"words":          len(result.Boxes),
	}).Info("Successfully processed document")
	return result, nil
}

// convertDocument reads text, token boxes, confidence and languages from a
// processed document. Confidence is the mean token confidence, or the mean
// page confidence when the processor returned no tokens.
func convertDocument(doc *documentaipb.Document) *RawResult {
	result := &RawResult{Text: doc.GetText()}

	var (
		langs     []string
		pageConf  float64
		pageCount int
	)
	for _, page := range doc.GetPages() {
		width := page.GetDimension().GetWidth()
		height := page.GetDimension().GetHeight()

		for _, lang := range page.GetDetectedLanguages() {
			langs = append(langs, lang.GetLanguageCode())
		}
		if layout := page.GetLayout(); layout != nil {
			pageConf += float64(layout.GetConfidence())
			pageCount++
		}

		for _, token := range page.GetTokens() {
			layout := token.GetLayout()
			text := strings.TrimSpace(anchorText(doc.GetText(), layout.GetTextAnchor()))
			if text == "" {
				continue
			}
			x, y := topLeft(layout.GetBoundingPoly(), width, height)
			result.Boxes = append(result.Boxes, BoundingBox{
				Text:       text,
				X:          x,
				Y:          y,
				Confidence: clampConfidence(float64(layout.GetConfidence())),
			})
		}
	}

	if mean, ok := meanConfidence(result.Boxes); ok {
		result.Confidence = mean
	} else if pageCount > 0 {
		result.Confidence = clampConfidence(pageConf / float64(pageCount))
	}
	result.Languages = langs
	return result
}

// anchorText resolves a text anchor against the document text.
func anchorText(text string, anchor *documentaipb.Document_TextAnchor) string {
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 || end > int64(len(text)) || start >= end {
			continue
		}
		b.WriteString(text[start:end])
	}
	return b.String()
}

// topLeft returns the minimum corner of a polygon in pixels, preferring
// absolute vertices over normalized ones.
func topLeft(poly *documentaipb.BoundingPoly, width, height float32) (int, int) {
	if vs := poly.GetVertices(); len(vs) > 0 {
		x, y := vs[0].GetX(), vs[0].GetY()
		for _, v := range vs[1:] {
			x = min(x, v.GetX())
			y = min(y, v.GetY())
		}
		return int(x), int(y)
	}
	if vs := poly.GetNormalizedVertices(); len(vs) > 0 {
		x, y := vs[0].GetX(), vs[0].GetY()
		for _, v := range vs[1:] {
			x = min(x, v.GetX())
			y = min(y, v.GetY())
		}
		return int(x * width), int(y * height)
	}
	return 0, 0
}

// classifyGRPC marks transient gRPC status codes as recoverable.
func classifyGRPC(backend string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return scanerr.Recoverable(backend, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return scanerr.Recoverable(backend, err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal, codes.Unknown:
		return scanerr.Recoverable(backend, err)
	default:
		return scanerr.Permanent(backend, err)
	}
}

// Close releases resources used by the provider
func (p *GoogleDocAIProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
