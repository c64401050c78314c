package extraction

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"

	"pantry-gpt/internal/fallback"
	"pantry-gpt/internal/llmclient"
	"pantry-gpt/internal/scanerr"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the extraction package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Completion is one model reply.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Backend turns a prompt into a model reply. Implementations wrap failures
// in scanerr.BackendError.
type Backend interface {
	Extract(ctx context.Context, prompt string) (*Completion, error)
	// Model names the model answering, for ProductData.ModelUsed.
	Model() string
	// EstimateCost prices a call with prompt and up to maxOutputTokens of reply.
	EstimateCost(prompt string, maxOutputTokens int) float64
}

// LLMBackend adapts any langchaingo model.
type LLMBackend struct {
	name       string
	modelName  string
	llm        llms.Model
	pricePer1K float64
	maxTokens  int
	count      TokenCounter
}

// NewLLMBackend wraps llm. pricePer1K is the blended price in dollars per
// thousand tokens; maxTokens caps the reply and is ignored when zero.
func NewLLMBackend(name, modelName string, llm llms.Model, pricePer1K float64, maxTokens int) *LLMBackend {
	return &LLMBackend{
		name:       name,
		modelName:  modelName,
		llm:        llm,
		pricePer1K: pricePer1K,
		maxTokens:  maxTokens,
		count:      ModelTokenCounter(modelName),
	}
}

func (b *LLMBackend) Model() string { return b.modelName }

func (b *LLMBackend) EstimateCost(prompt string, maxOutputTokens int) float64 {
	return estimateCost(b.count(prompt), maxOutputTokens, b.pricePer1K)
}

func (b *LLMBackend) Extract(ctx context.Context, prompt string) (*Completion, error) {
	logger := log.WithFields(logrus.Fields{
		"backend": b.name,
		"model":   b.modelName,
	})
	logger.Debugf("Extraction prompt: %s", prompt)

	opts := []llms.CallOption{llms.WithJSONMode(), llms.WithTemperature(0)}
	if b.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(b.maxTokens))
	}

	resp, err := b.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, opts...)
	if err != nil {
		logger.WithError(err).Warn("Model call failed")
		return nil, llmclient.Classify(b.name, fmt.Errorf("error getting response from LLM: %w", err))
	}

	text, err := llmclient.Text(resp)
	if err != nil {
		return nil, scanerr.Recoverable(b.name, err)
	}
	completion := &Completion{Text: strings.TrimSpace(text)}
	if p, c, ok := llmclient.UsageTokens(resp); ok {
		completion.PromptTokens = p
		completion.CompletionTokens = c
	}
	logger.WithFields(logrus.Fields{
		"prompt_tokens":     completion.PromptTokens,
		"completion_tokens": completion.CompletionTokens,
	}).Debug("Model replied")
	return completion, nil
}

// BackendsConfig selects and configures the extraction backends.
type BackendsConfig struct {
	// Names lists backends in fallback order.
	Names       []string
	Credentials llmclient.Credentials
	// Models maps a backend name to its model.
	Models map[string]string
	// Prices maps a backend name to dollars per thousand tokens.
	Prices    map[string]float64
	MaxTokens int
}

// NewBackends builds the registry of configured backends. A known backend
// whose credentials are missing is skipped with a warning; an unknown name is
// an error.
func NewBackends(ctx context.Context, cfg BackendsConfig) (*fallback.Registry[Backend], error) {
	reg := fallback.NewRegistry[Backend]()
	for _, name := range cfg.Names {
		name = strings.ToLower(strings.TrimSpace(name))
		if !slices.Contains(llmclient.Providers, name) {
			return nil, fmt.Errorf("unsupported extraction backend: %s", name)
		}
		logger := log.WithField("backend", name)

		model, err := llmclient.New(ctx, name, cfg.Models[name], cfg.Credentials)
		if err != nil {
			logger.WithError(err).Warn("Skipping extraction backend")
			continue
		}
		backend := NewLLMBackend(name, cfg.Models[name], model, cfg.Prices[name], cfg.MaxTokens)
		if err := reg.Register(name, backend); err != nil {
			return nil, err
		}
	}
	if reg.Len() == 0 {
		return nil, fmt.Errorf("no extraction backend could be initialized from %v", cfg.Names)
	}
	log.WithField("backends", reg.Names()).Info("Extraction backends ready")
	return reg, nil
}
