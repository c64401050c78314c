package ocr

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"pantry-gpt/internal/fallback"
	"pantry-gpt/internal/llmclient"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the OCR package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Backend names.
const (
	BackendGoogleDocAI = "google_docai"
	BackendAzure       = "azure"
	BackendTesseract   = "tesseract"
	BackendLLM         = "llm"
)

// RawResult is what a backend reports for one image. Confidence is the
// engine's own estimate in [0,1].
type RawResult struct {
	Text       string
	Confidence float64
	Languages  []string
	Boxes      []BoundingBox
}

// Provider recognizes text in one image. Implementations wrap failures in
// scanerr.BackendError so the retry policy can tell transient from permanent.
type Provider interface {
	Recognize(ctx context.Context, image []byte) (*RawResult, error)
}

// Config holds the OCR backend configuration
type Config struct {
	// Backends lists backend names in fallback order.
	Backends []string

	// Google Document AI settings
	GoogleProjectID   string
	GoogleLocation    string
	GoogleProcessorID string

	// Azure Document Intelligence settings
	AzureEndpoint string
	AzureAPIKey   string
	AzureModelID  string        // Optional, defaults to "prebuilt-read"
	AzureTimeout  time.Duration // Optional, defaults to 120 seconds

	// Vision LLM settings
	VisionLLMProvider string
	VisionLLMModel    string
	VisionLLMPrompt   string // Optional, defaults to the built-in prompt
	LLM               llmclient.Credentials

	// Tesseract settings
	TesseractLanguages []string
}

// newProvider creates one OCR backend by name.
func newProvider(ctx context.Context, name string, config Config) (Provider, error) {
	switch name {
	case BackendGoogleDocAI:
		if config.GoogleProjectID == "" || config.GoogleLocation == "" || config.GoogleProcessorID == "" {
			return nil, fmt.Errorf("missing required Google Document AI configuration")
		}
		log.WithFields(logrus.Fields{
			"location":     config.GoogleLocation,
			"processor_id": config.GoogleProcessorID,
		}).Info("Using Google Document AI provider")
		return newGoogleDocAIProvider(ctx, config)

	case BackendAzure:
		if config.AzureEndpoint == "" || config.AzureAPIKey == "" {
			return nil, fmt.Errorf("missing required Azure Document Intelligence configuration")
		}
		return newAzureProvider(config)

	case BackendLLM:
		if config.VisionLLMProvider == "" || config.VisionLLMModel == "" {
			return nil, fmt.Errorf("missing required LLM configuration")
		}
		log.WithFields(logrus.Fields{
			"provider": config.VisionLLMProvider,
			"model":    config.VisionLLMModel,
		}).Info("Using LLM OCR provider")
		model, err := llmclient.New(ctx, config.VisionLLMProvider, config.VisionLLMModel, config.LLM)
		if err != nil {
			return nil, fmt.Errorf("error creating vision LLM client: %w", err)
		}
		return NewLLMProvider(model, config.VisionLLMProvider, config.VisionLLMModel, config.VisionLLMPrompt), nil

	case BackendTesseract:
		return newTesseractProvider(config)

	default:
		return nil, fmt.Errorf("unsupported OCR provider: %s", name)
	}
}

// NewProviders builds the registry of configured backends in the order given
// by config.Backends. A backend that is listed but not configured is skipped
// with a warning; an unknown name is an error.
func NewProviders(ctx context.Context, config Config) (*fallback.Registry[Provider], error) {
	reg := fallback.NewRegistry[Provider]()
	for _, name := range config.Backends {
		provider, err := newProvider(ctx, name, config)
		if err != nil {
			if !isKnownBackend(name) {
				return nil, err
			}
			log.WithError(err).WithField("backend", name).Warn("Skipping OCR backend")
			continue
		}
		if err := reg.Register(name, provider); err != nil {
			return nil, err
		}
	}
	if reg.Len() == 0 {
		return nil, fmt.Errorf("no OCR backend could be initialized from %v", config.Backends)
	}
	log.WithField("backends", reg.Names()).Info("OCR backends ready")
	return reg, nil
}

func isKnownBackend(name string) bool {
	switch name {
	case BackendGoogleDocAI, BackendAzure, BackendTesseract, BackendLLM:
		return true
	}
	return false
}
