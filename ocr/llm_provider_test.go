package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"

	"pantry-gpt/internal/scanerr"
)

// recordingModel captures the last request and replies with a fixed answer.
type recordingModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (m *recordingModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, opt := range options {
		opt(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *recordingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLLMProvider_Recognize(t *testing.T) {
	model := fake.NewFakeLLM([]string{
		"```json\n{\"text\": \"KOYO TOFU MISO RAMEN\", \"confidence\": 0.92, \"languages\": [\"EN\"]}\n```",
	})
	provider := NewLLMProvider(model, "ollama", "llava", "")

	raw, err := provider.Recognize(context.Background(), pngImage(t, 8, 8))
	require.NoError(t, err)
	assert.Equal(t, "KOYO TOFU MISO RAMEN", raw.Text)
	assert.InDelta(t, 0.92, raw.Confidence, 1e-9)
	assert.Equal(t, []string{"EN"}, raw.Languages)
}

func TestLLMProvider_ImagePartByProvider(t *testing.T) {
	reply := `{"text": "MISO", "confidence": 0.9, "languages": []}`

	openaiModel := &recordingModel{reply: reply}
	_, err := NewLLMProvider(openaiModel, "openai", "gpt-4o", "").Recognize(context.Background(), pngImage(t, 8, 8))
	require.NoError(t, err)
	require.Len(t, openaiModel.messages, 1)
	urlPart, ok := openaiModel.messages[0].Parts[0].(llms.ImageURLContent)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(urlPart.URL, "data:image/png;base64,"))
	assert.True(t, openaiModel.opts.JSONMode)

	ollamaModel := &recordingModel{reply: reply}
	_, err = NewLLMProvider(ollamaModel, "ollama", "llava", "").Recognize(context.Background(), pngImage(t, 8, 8))
	require.NoError(t, err)
	binPart, ok := ollamaModel.messages[0].Parts[0].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", binPart.MIMEType)
	text, ok := ollamaModel.messages[0].Parts[1].(llms.TextContent)
	require.True(t, ok)
	assert.Equal(t, defaultVisionPrompt, text.Text)
}

func TestLLMProvider_MissingConfidenceIsZero(t *testing.T) {
	model := fake.NewFakeLLM([]string{`{"text": "TOFU"}`})
	raw, err := NewLLMProvider(model, "ollama", "llava", "").Recognize(context.Background(), pngImage(t, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, 0.0, raw.Confidence)
}

func TestLLMProvider_Errors(t *testing.T) {
	tests := []struct {
		name            string
		model           llms.Model
		wantRecoverable bool
	}{
		{
			name:            "prose reply",
			model:           fake.NewFakeLLM([]string{"I can see a ramen package."}),
			wantRecoverable: true,
		},
		{
			name:            "empty text",
			model:           fake.NewFakeLLM([]string{`{"text": "", "confidence": 0.9}`}),
			wantRecoverable: true,
		},
		{
			name:  "authentication",
			model: &recordingModel{err: llms.NewError(llms.ErrCodeAuthentication, "openai", "invalid api key")},
		},
		{
			name:            "provider unavailable",
			model:           &recordingModel{err: errors.New("dial tcp: connection refused")},
			wantRecoverable: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLLMProvider(tt.model, "openai", "gpt-4o", "").Recognize(context.Background(), pngImage(t, 4, 4))
			require.Error(t, err)
			assert.ErrorIs(t, err, scanerr.ErrBackend)
			assert.Equal(t, tt.wantRecoverable, scanerr.IsRecoverable(err))
		})
	}
}

func TestPrepareVisionImage_DownscalesLargeImages(t *testing.T) {
	logger := log.WithField("test", t.Name())

	small := pngImage(t, 100, 50)
	out, mimeType := prepareVisionImage(small, logger)
	assert.Equal(t, small, out)
	assert.Equal(t, "image/png", mimeType)

	large := pngImage(t, 4096, 1024)
	out, mimeType = prepareVisionImage(large, logger)
	assert.Equal(t, "image/jpeg", mimeType)
	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2048, 512), img.Bounds())

	garbage := []byte{0xFF, 0xD8, 0xFF, 0x00, 0x01}
	out, _ = prepareVisionImage(garbage, logger)
	assert.Equal(t, garbage, out)
}
