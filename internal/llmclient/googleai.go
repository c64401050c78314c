package llmclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"
)

// GoogleAIProvider implements llms.Model for the Gemini API using google.golang.org/genai.
type GoogleAIProvider struct {
	client         *genai.Client
	thinkingBudget *int32
	model          string
}

// NewGoogleAIProvider creates a new GoogleAIProvider instance
func NewGoogleAIProvider(ctx context.Context, model string, apiKey string, thinkingBudget *int32) (*GoogleAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLEAI_API_KEY environment variable is not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create googleai client: %w", err)
	}

	return &GoogleAIProvider{
		client:         client,
		thinkingBudget: thinkingBudget,
		model:          model,
	}, nil
}

// generateConfig maps langchaingo call options onto a Gemini request config.
func (p *GoogleAIProvider) generateConfig(opts []llms.CallOption) *genai.GenerateContentConfig {
	var callOpts llms.CallOptions
	for _, opt := range opts {
		opt(&callOpts)
	}

	var genConfig *genai.GenerateContentConfig
	ensure := func() *genai.GenerateContentConfig {
		if genConfig == nil {
			genConfig = &genai.GenerateContentConfig{}
		}
		return genConfig
	}

	if p.thinkingBudget != nil {
		ensure().ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(*p.thinkingBudget),
		}
	}
	if callOpts.JSONMode {
		ensure().ResponseMIMEType = "application/json"
	}
	if callOpts.Temperature > 0 {
		ensure().Temperature = genai.Ptr(float32(callOpts.Temperature))
	}
	if callOpts.MaxTokens > 0 {
		ensure().MaxOutputTokens = int32(callOpts.MaxTokens)
	}
	return genConfig
}

// toPart converts one langchaingo content part, decoding data URLs into
// inline blobs.
func toPart(part llms.ContentPart) (*genai.Part, error) {
	switch v := part.(type) {
	case llms.TextContent:
		return &genai.Part{Text: v.Text}, nil
	case llms.BinaryContent:
		mimeType := v.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		return &genai.Part{
			InlineData: &genai.Blob{
				Data:     v.Data,
				MIMEType: mimeType,
			},
		}, nil
	case llms.ImageURLContent:
		if !strings.HasPrefix(v.URL, "data:") {
			return nil, fmt.Errorf("unsupported ImageURLContent with non-data URL: %s", v.URL)
		}
		meta, dataBase64, ok := strings.Cut(v.URL, ",")
		if !ok {
			return nil, fmt.Errorf("invalid data URL format")
		}

		mimeType := "image/jpeg"
		if strings.Contains(meta, ";") {
			mimeType = strings.TrimPrefix(strings.Split(meta, ";")[0], "data:")
		}

		data, err := base64.StdEncoding.DecodeString(dataBase64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 image: %w", err)
		}
		return &genai.Part{
			InlineData: &genai.Blob{
				Data:     data,
				MIMEType: mimeType,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported content part type: %T", v)
	}
}

// GenerateContent implements the llms.Model interface, supporting text, binary and data URL image parts.
func (p *GoogleAIProvider) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("no prompt provided")
	}
	if p.client == nil {
		return nil, fmt.Errorf("googleai client not initialized")
	}

	var parts []*genai.Part
	for _, msg := range messages {
		for _, part := range msg.Parts {
			gp, err := toPart(part)
			if err != nil {
				return nil, err
			}
			parts = append(parts, gp)
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no valid content parts found")
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, []*genai.Content{{Parts: parts, Role: "user"}}, p.generateConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("googleai GenerateContent API error: %w", err)
	}
	return contentResponse(resp)
}

func contentResponse(resp *genai.GenerateContentResponse) (*llms.ContentResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("googleai GenerateContent API returned empty response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("googleai GenerateContent API returned a candidate with no content")
	}

	// Concatenate non-thinking text parts
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("googleai GenerateContent API returned no non-thinking text parts")
	}

	choice := &llms.ContentChoice{Content: sb.String()}
	if resp.UsageMetadata != nil {
		choice.GenerationInfo = map[string]any{
			"PromptTokens":     int(resp.UsageMetadata.PromptTokenCount),
			"CompletionTokens": int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

// Call implements the llms.Model interface.
func (p *GoogleAIProvider) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	resp, err := p.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, opts...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

// ProviderName returns the provider name
func (p *GoogleAIProvider) ProviderName() string {
	return ProviderGoogleAI
}
