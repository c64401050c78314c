package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"

	"pantry-gpt/internal/llmclient"
	"pantry-gpt/internal/llmjson"
	"pantry-gpt/internal/scanerr"
)

// maxVisionDimension caps the longest image side sent to a vision model.
const maxVisionDimension = 2048

const defaultVisionPrompt = `Transcribe all text visible on this product label exactly as printed, preserving line breaks.
Reply with a single JSON object and nothing else:
{"text": "<the transcribed text>", "confidence": <your confidence in the transcription, 0.0 to 1.0>, "languages": ["<ISO 639-1 codes of the languages present>"]}`

// LLMProvider implements OCR using LLM vision models
type LLMProvider struct {
	provider string
	model    string
	llm      llms.Model
	prompt   string
}

type visionReply struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
	Languages  []string `json:"languages"`
}

// NewLLMProvider wraps a vision-capable model as an OCR backend.
func NewLLMProvider(model llms.Model, provider, modelName, prompt string) *LLMProvider {
	if prompt == "" {
		prompt = defaultVisionPrompt
	}
	log.WithFields(logrus.Fields{
		"provider": provider,
		"model":    modelName,
	}).Info("Creating new LLM OCR provider")
	return &LLMProvider{
		provider: strings.ToLower(provider),
		model:    modelName,
		llm:      model,
		prompt:   prompt,
	}
}

func (p *LLMProvider) Recognize(ctx context.Context, image []byte) (*RawResult, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": p.provider,
		"model":    p.model,
	})
	logger.Debug("Starting LLM OCR processing")

	payload, mimeType := prepareVisionImage(image, logger)

	var imagePart llms.ContentPart
	if p.provider == llmclient.ProviderOpenAI || p.provider == llmclient.ProviderMistral {
		imagePart = llms.ImageURLPart("data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(payload))
	} else {
		imagePart = llms.BinaryPart(mimeType, payload)
	}

	logger.Debug("Sending request to vision model")
	completion, err := p.llm.GenerateContent(ctx, []llms.MessageContent{
		{
			Parts: []llms.ContentPart{imagePart, llms.TextPart(p.prompt)},
			Role:  llms.ChatMessageTypeHuman,
		},
	}, llms.WithJSONMode(), llms.WithTemperature(0))
	if err != nil {
		logger.WithError(err).Error("Failed to get response from vision model")
		return nil, llmclient.Classify(BackendLLM, fmt.Errorf("error getting response from LLM: %w", err))
	}

	text, err := llmclient.Text(completion)
	if err != nil {
		return nil, scanerr.Recoverable(BackendLLM, err)
	}
	var reply visionReply
	if err := llmjson.Decode(text, &reply); err != nil {
		logger.WithError(err).Warn("Vision model reply is not valid JSON")
		return nil, scanerr.Recoverable(BackendLLM, err)
	}

	raw := &RawResult{
		Text:      strings.TrimSpace(reply.Text),
		Languages: reply.Languages,
	}
	if reply.Confidence != nil {
		raw.Confidence = clampConfidence(*reply.Confidence)
	} else {
		logger.Warn("Vision model reply has no confidence, treating it as 0")
	}
	if raw.Text == "" {
		return nil, scanerr.Recoverable(BackendLLM, errors.New("vision model returned no text"))
	}

	logger.WithFields(logrus.Fields{
		"content_length": len(raw.Text),
		"confidence":     raw.Confidence,
	}).Info("Successfully processed image")
	return raw, nil
}

// prepareVisionImage downsizes large photos and re-encodes them as JPEG.
// Images that cannot be decoded are sent unchanged.
func prepareVisionImage(image []byte, logger *logrus.Entry) ([]byte, string) {
	mimeType, err := validateImage(image)
	if err != nil {
		mimeType = "image/jpeg"
	}

	img, err := imaging.Decode(bytes.NewReader(image), imaging.AutoOrientation(true))
	if err != nil {
		logger.WithError(err).Debug("Could not decode image, sending original bytes")
		return image, mimeType
	}

	bounds := img.Bounds()
	logger.WithFields(logrus.Fields{
		"width":  bounds.Dx(),
		"height": bounds.Dy(),
	}).Debug("Image dimensions")

	if bounds.Dx() <= maxVisionDimension && bounds.Dy() <= maxVisionDimension {
		return image, mimeType
	}

	resized := imaging.Fit(img, maxVisionDimension, maxVisionDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		logger.WithError(err).Warn("Failed to re-encode resized image, sending original bytes")
		return image, mimeType
	}
	return buf.Bytes(), "image/jpeg"
}
