package llmclient

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"

	"pantry-gpt/internal/scanerr"
)

func int32Ptr(v int32) *int32 { return &v }

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		provider    string
		model       string
		creds       Credentials
		errContains string
	}{
		{
			name:     "openai",
			provider: "openai",
			model:    "gpt-4o-mini",
			creds:    Credentials{OpenAIAPIKey: "sk-test"},
		},
		{
			name:     "openai compatible without key",
			provider: "OpenAI",
			model:    "local-model",
			creds:    Credentials{OpenAIBaseURL: "http://localhost:8000/v1"},
		},
		{
			name:        "openai missing key",
			provider:    "openai",
			model:       "gpt-4o-mini",
			errContains: "OpenAI API key is not set",
		},
		{
			name:     "ollama default host",
			provider: "ollama",
			model:    "llava",
		},
		{
			name:        "mistral missing key",
			provider:    "mistral",
			model:       "pixtral-12b",
			errContains: "Mistral API key is not set",
		},
		{
			name:     "anthropic",
			provider: "anthropic",
			model:    "claude-3-5-haiku-latest",
			creds:    Credentials{AnthropicAPIKey: "test"},
		},
		{
			name:        "anthropic missing key",
			provider:    "anthropic",
			model:       "claude-3-5-haiku-latest",
			errContains: "Anthropic API key is not set",
		},
		{
			name:     "googleai",
			provider: "googleai",
			model:    "gemini-2.5-flash",
			creds:    Credentials{GoogleAIAPIKey: "test", GoogleAIThinkingBudget: int32Ptr(1024)},
		},
		{
			name:        "googleai missing key",
			provider:    "googleai",
			model:       "gemini-2.5-flash",
			errContains: "GOOGLEAI_API_KEY",
		},
		{
			name:     "tongyi",
			provider: "tongyi",
			model:    "qwen-plus",
			creds:    Credentials{TongyiAPIKey: "test"},
		},
		{
			name:        "unsupported",
			provider:    "bard",
			model:       "x",
			errContains: "unsupported LLM provider",
		},
		{
			name:        "missing model",
			provider:    "ollama",
			errContains: "model name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := New(context.Background(), tt.provider, tt.model, tt.creds)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				assert.Nil(t, model)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, model)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		recoverable bool
	}{
		{"authentication", llms.NewError(llms.ErrCodeAuthentication, "openai", "bad key"), false},
		{"invalid request", llms.NewError(llms.ErrCodeInvalidRequest, "openai", "bad"), false},
		{"quota", llms.NewError(llms.ErrCodeQuotaExceeded, "openai", "quota"), false},
		{"rate limit", llms.NewError(llms.ErrCodeRateLimit, "openai", "slow down"), true},
		{"unavailable", llms.NewError(llms.ErrCodeProviderUnavailable, "openai", "503"), true},
		{"unmapped 401 text", errors.New("API returned unexpected status code: 401"), false},
		{"unmapped 429 text", errors.New("status code: 429 too many requests"), true},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("openai", tt.err)
			assert.ErrorIs(t, err, scanerr.ErrBackend)
			assert.Equal(t, tt.recoverable, scanerr.IsRecoverable(err))

			var be *scanerr.BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "openai", be.Backend)
		})
	}

	assert.NoError(t, Classify("openai", nil))

	canceled := fmt.Errorf("call: %w", context.Canceled)
	assert.Equal(t, canceled, Classify("openai", canceled))
}

func TestGoogleAIProvider_GenerateConfig(t *testing.T) {
	p := &GoogleAIProvider{model: "gemini-2.5-flash"}
	assert.Nil(t, p.generateConfig(nil))

	cfg := p.generateConfig([]llms.CallOption{llms.WithJSONMode(), llms.WithTemperature(0.2), llms.WithMaxTokens(512)})
	require.NotNil(t, cfg)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.2, *cfg.Temperature, 1e-6)
	assert.Equal(t, int32(512), cfg.MaxOutputTokens)

	p.thinkingBudget = int32Ptr(2048)
	cfg = p.generateConfig(nil)
	require.NotNil(t, cfg)
	require.NotNil(t, cfg.ThinkingConfig)
	assert.Equal(t, int32(2048), *cfg.ThinkingConfig.ThinkingBudget)
}

func TestGoogleAI_ToPart(t *testing.T) {
	part, err := toPart(llms.ImageURLPart("data:image/png;base64,aGVsbG8="))
	require.NoError(t, err)
	require.NotNil(t, part.InlineData)
	assert.Equal(t, "image/png", part.InlineData.MIMEType)
	assert.Equal(t, []byte("hello"), part.InlineData.Data)

	part, err = toPart(llms.BinaryPart("", []byte{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.InlineData.MIMEType)

	_, err = toPart(llms.ImageURLPart("https://example.com/a.png"))
	assert.Error(t, err)
}

func TestGoogleAI_ContentResponse(t *testing.T) {
	resp, err := contentResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: `{"product_name":"Ramen"}`},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     40,
			CandidatesTokenCount: 8,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"product_name":"Ramen"}`, resp.Choices[0].Content)

	p, c, ok := UsageTokens(resp)
	assert.True(t, ok)
	assert.Equal(t, 40, p)
	assert.Equal(t, 8, c)

	_, err = contentResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)
}
