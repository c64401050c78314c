package llmclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tmc/langchaingo/llms"

	"pantry-gpt/internal/constants"
)

const defaultTongyiEndpoint = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// TongyiProvider implements llms.Model for the Dashscope (Tongyi) chat
// completions API.
type TongyiProvider struct {
	apiKey   string
	endpoint string
	model    string
	client   *retryablehttp.Client
}

// NewTongyiProvider creates a new TongyiProvider. endpoint is the base URL of
// the compatible-mode API.
func NewTongyiProvider(apiKey, endpoint, model string) (*TongyiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("TONGYI_API_KEY not set")
	}
	if endpoint == "" {
		endpoint = defaultTongyiEndpoint
	}
	if model == "" {
		model = "qwen-vl-plus"
	}

	client := retryablehttp.NewClient()
	// Retries are owned by the caller's retry policy.
	client.RetryMax = 0
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.HTTPClient.Timeout = 120 * time.Second
	client.Logger = nil

	return &TongyiProvider{
		apiKey:   apiKey,
		endpoint: endpoint,
		model:    model,
		client:   client,
	}, nil
}

type tongyiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *tongyiImageURL `json:"image_url,omitempty"`
}

type tongyiImageURL struct {
	URL string `json:"url"`
}

type tongyiMessage struct {
	Role    string              `json:"role"`
	Content []tongyiContentPart `json:"content"`
}

type tongyiResponseFormat struct {
	Type string `json:"type"`
}

type tongyiRequest struct {
	Model          string                `json:"model"`
	Messages       []tongyiMessage       `json:"messages"`
	Stream         bool                  `json:"stream"`
	Temperature    *float64              `json:"temperature,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *tongyiResponseFormat `json:"response_format,omitempty"`
}

type tongyiResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// messageText reads message.content as either a string or a list of text parts.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []tongyiContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var out strings.Builder
	for _, p := range parts {
		out.WriteString(p.Text)
	}
	return out.String()
}

func toTongyiParts(parts []llms.ContentPart) ([]tongyiContentPart, error) {
	out := make([]tongyiContentPart, 0, len(parts))
	for _, part := range parts {
		switch v := part.(type) {
		case llms.TextContent:
			out = append(out, tongyiContentPart{Type: "text", Text: v.Text})
		case llms.ImageURLContent:
			out = append(out, tongyiContentPart{Type: "image_url", ImageURL: &tongyiImageURL{URL: v.URL}})
		case llms.BinaryContent:
			mimeType := v.MIMEType
			if mimeType == "" {
				mimeType = "image/jpeg"
			}
			url := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(v.Data)
			out = append(out, tongyiContentPart{Type: "image_url", ImageURL: &tongyiImageURL{URL: url}})
		default:
			return nil, fmt.Errorf("unsupported content part type: %T", v)
		}
	}
	return out, nil
}

// statusError maps an HTTP failure onto langchaingo's standard error codes.
func statusError(status int, body []byte) error {
	code := llms.ErrCodeUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = llms.ErrCodeAuthentication
	case status == http.StatusTooManyRequests:
		code = llms.ErrCodeRateLimit
	case status == http.StatusNotFound:
		code = llms.ErrCodeResourceNotFound
	case status >= 500:
		code = llms.ErrCodeProviderUnavailable
	case status >= 400:
		code = llms.ErrCodeInvalidRequest
	}
	msg := fmt.Sprintf("tongyi API error status: %d", status)
	if len(body) > 0 {
		msg += ": " + strings.TrimSpace(string(body))
	}
	return llms.NewError(code, ProviderTongyi, msg).WithDetail("status", status)
}

// GenerateContent implements llms.Model.
func (p *TongyiProvider) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("no prompt provided")
	}

	var callOpts llms.CallOptions
	for _, opt := range opts {
		opt(&callOpts)
	}

	reqBody := tongyiRequest{Model: p.model, MaxTokens: callOpts.MaxTokens}
	if callOpts.Temperature > 0 {
		reqBody.Temperature = &callOpts.Temperature
	}
	if callOpts.JSONMode {
		reqBody.ResponseFormat = &tongyiResponseFormat{Type: "json_object"}
	}
	for _, m := range messages {
		parts, err := toTongyiParts(m.Parts)
		if err != nil {
			return nil, err
		}
		role := "user"
		switch m.Role {
		case llms.ChatMessageTypeSystem:
			role = "system"
		case llms.ChatMessageTypeAI:
			role = "assistant"
		}
		reqBody.Messages = append(reqBody.Messages, tongyiMessage{Role: role, Content: parts})
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := strings.TrimRight(p.endpoint, "/") + "/chat/completions"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("User-Agent", constants.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tongyi request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tongyi response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, body)
	}

	var data tongyiResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode tongyi response: %w", err)
	}

	for _, choice := range data.Choices {
		text := messageText(choice.Message.Content)
		if text == "" {
			text = choice.Text
		}
		if text == "" {
			continue
		}
		return &llms.ContentResponse{
			Choices: []*llms.ContentChoice{{
				Content: text,
				GenerationInfo: map[string]any{
					"PromptTokens":     data.Usage.PromptTokens,
					"CompletionTokens": data.Usage.CompletionTokens,
				},
			}},
		}, nil
	}

	log.Debugf("Tongyi raw response: %s", body)
	return nil, fmt.Errorf("no usable text found in Tongyi response")
}

// Call implements the simple call interface used by langchaingo
func (p *TongyiProvider) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	resp, err := p.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, opts...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

// ProviderName returns provider identifier
func (p *TongyiProvider) ProviderName() string { return ProviderTongyi }
