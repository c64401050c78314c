// Package pipeline chains the OCR and extraction stages for one image.
package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"pantry-gpt/extraction"
	"pantry-gpt/internal/scanerr"
	"pantry-gpt/ocr"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the pipeline package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// TextExtractor is the OCR stage.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (*ocr.Result, error)
}

// ProductAnalyzer is the extraction stage.
type ProductAnalyzer interface {
	AnalyzeProduct(ctx context.Context, result *ocr.Result) (*extraction.ProductData, error)
}

// Result is the outcome for one image.
type Result struct {
	OCR         *ocr.Result             `json:"ocr,omitempty"`
	Product     *extraction.ProductData `json:"product,omitempty"`
	State       State                   `json:"state"`
	Transitions []State                 `json:"transitions"`
	Warnings    []string                `json:"warnings,omitempty"`
}

func (r *Result) enter(s State, observe func(State)) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
	if observe != nil {
		observe(s)
	}
}

// Pipeline composes the two stages. It holds no state of its own and is safe
// for concurrent use when the stages are.
type Pipeline struct {
	ocr        TextExtractor
	extraction ProductAnalyzer
	observe    func(State)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver calls fn on every state transition.
func WithObserver(fn func(State)) Option {
	return func(p *Pipeline) { p.observe = fn }
}

// New creates a Pipeline.
func New(ocrStage TextExtractor, extractionStage ProductAnalyzer, opts ...Option) *Pipeline {
	p := &Pipeline{ocr: ocrStage, extraction: extractionStage}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessFile reads path and runs Process on its content.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (*Result, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, &scanerr.ValidationError{Reason: "unreadable image " + path, Err: err}
	}
	return p.Process(ctx, image)
}

// Process runs OCR then extraction. Below-threshold results from either
// stage are carried forward and end in FlaggedLowConfidence; the error is
// nil in that case. An error is returned only when no ProductData could be
// produced, together with the partial Result showing where the item stopped.
func (p *Pipeline) Process(ctx context.Context, image []byte) (*Result, error) {
	res := &Result{}
	res.enter(Submitted, p.observe)

	res.enter(OCRPending, p.observe)
	ocrResult, err := p.ocr.ExtractText(ctx, image)
	switch {
	case err == nil:
	case scanerr.IsBelowThreshold(err) && ocrResult != nil:
		res.Warnings = append(res.Warnings, err.Error())
	default:
		return res, fmt.Errorf("ocr: %w", err)
	}
	res.OCR = ocrResult
	res.enter(OCRDone, p.observe)

	logger := log.WithFields(logrus.Fields{
		"ocr_backend":    ocrResult.BackendUsed,
		"ocr_confidence": ocrResult.Confidence,
	})

	res.enter(ExtractionPending, p.observe)
	product, err := p.extraction.AnalyzeProduct(ctx, ocrResult)
	switch {
	case err == nil:
	case scanerr.IsBelowThreshold(err) && product != nil:
		res.Warnings = append(res.Warnings, err.Error())
	default:
		return res, fmt.Errorf("extraction: %w", err)
	}
	res.Product = product
	res.Warnings = append(res.Warnings, product.Warnings...)
	res.enter(ExtractionDone, p.observe)

	if ocrResult.BelowThreshold || product.BelowThreshold {
		res.enter(FlaggedLowConfidence, p.observe)
	} else {
		res.enter(Accepted, p.observe)
	}

	logger.WithFields(logrus.Fields{
		"product":               product.ProductName,
		"extraction_backend":    product.BackendUsed,
		"extraction_confidence": product.Confidence,
		"state":                 res.State,
	}).Info("Pipeline finished")
	return res, nil
}
