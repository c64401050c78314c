// Package llmclient builds langchaingo models for the supported providers
// and maps their errors onto the pipeline's error taxonomy.
package llmclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/mistral"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pantry-gpt/internal/constants"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the llmclient package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Supported provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderMistral   = "mistral"
	ProviderAnthropic = "anthropic"
	ProviderGoogleAI  = "googleai"
	ProviderTongyi    = "tongyi"
)

// Providers lists every provider New accepts.
var Providers = []string{
	ProviderOpenAI,
	ProviderOllama,
	ProviderMistral,
	ProviderAnthropic,
	ProviderGoogleAI,
	ProviderTongyi,
}

// Credentials carries provider endpoints and keys, usually read from the
// environment.
type Credentials struct {
	OpenAIAPIKey           string
	OpenAIBaseURL          string
	OllamaHost             string
	MistralAPIKey          string
	AnthropicAPIKey        string
	GoogleAIAPIKey         string
	GoogleAIThinkingBudget *int32
	TongyiAPIKey           string
	TongyiEndpoint         string
}

// New creates a model for provider. model is the provider-specific model name.
func New(ctx context.Context, provider, model string, creds Credentials) (llms.Model, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if model == "" {
		return nil, fmt.Errorf("model name is required for provider %q", provider)
	}

	logger := log.WithFields(logrus.Fields{
		"provider": provider,
		"model":    model,
	})
	logger.Debug("Creating LLM client")

	switch provider {
	case ProviderOpenAI:
		apiKey := creds.OpenAIAPIKey
		opts := []openai.Option{openai.WithModel(model)}
		if creds.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(creds.OpenAIBaseURL))
			if apiKey == "" {
				apiKey = constants.DummyAPIKey
			}
		}
		if apiKey == "" {
			return nil, fmt.Errorf("OpenAI API key is not set")
		}
		opts = append(opts, openai.WithToken(apiKey))
		return openai.New(opts...)

	case ProviderOllama:
		host := creds.OllamaHost
		if host == "" {
			host = constants.DefaultOllamaHost
		}
		return ollama.New(
			ollama.WithModel(model),
			ollama.WithServerURL(host),
		)

	case ProviderMistral:
		if creds.MistralAPIKey == "" {
			return nil, fmt.Errorf("Mistral API key is not set")
		}
		return mistral.New(
			mistral.WithModel(model),
			mistral.WithAPIKey(creds.MistralAPIKey),
		)

	case ProviderAnthropic:
		if creds.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key is not set")
		}
		return anthropic.New(
			anthropic.WithModel(model),
			anthropic.WithToken(creds.AnthropicAPIKey),
		)

	case ProviderGoogleAI:
		return NewGoogleAIProvider(ctx, model, creds.GoogleAIAPIKey, creds.GoogleAIThinkingBudget)

	case ProviderTongyi:
		return NewTongyiProvider(creds.TongyiAPIKey, creds.TongyiEndpoint, model)

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// Text returns the first choice of a response.
func Text(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// UsageTokens reads prompt and completion token counts from a choice's
// generation info when the provider reports them.
func UsageTokens(resp *llms.ContentResponse) (prompt, completion int, ok bool) {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return 0, 0, false
	}
	info := resp.Choices[0].GenerationInfo
	if info == nil {
		return 0, 0, false
	}
	p, okP := asInt(info["PromptTokens"])
	c, okC := asInt(info["CompletionTokens"])
	if !okP && !okC {
		p, okP = asInt(info["InputTokens"])
		c, okC = asInt(info["OutputTokens"])
	}
	return p, c, okP || okC
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
