//go:build tesseract

package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/sirupsen/logrus"

	"pantry-gpt/internal/scanerr"
)

// TesseractProvider runs the local Tesseract engine. Each call gets its own
// client, so the provider is safe for concurrent use.
type TesseractProvider struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

func newTesseractProvider(config Config) (Provider, error) {
	log.WithField("languages", config.TesseractLanguages).Info("Using Tesseract OCR provider")
	return &TesseractProvider{
		languages:     config.TesseractLanguages,
		clientFactory: gosseract.NewClient,
	}, nil
}

type tesseractOutput struct {
	raw *RawResult
	err error
}

func (p *TesseractProvider) Recognize(ctx context.Context, image []byte) (*RawResult, error) {
	done := make(chan tesseractOutput, 1)
	go func() {
		raw, err := p.recognize(image)
		done <- tesseractOutput{raw: raw, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, scanerr.Recoverable(BackendTesseract, ctx.Err())
		}
		return nil, ctx.Err()
	case out := <-done:
		return out.raw, out.err
	}
}

func (p *TesseractProvider) recognize(image []byte) (*RawResult, error) {
	c := p.clientFactory()
	defer c.Close()

	if len(p.languages) > 0 {
		if err := c.SetLanguage(p.languages...); err != nil {
			return nil, scanerr.Permanent(BackendTesseract, fmt.Errorf("set languages: %w", err))
		}
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return nil, scanerr.Permanent(BackendTesseract, fmt.Errorf("set image: %w", err))
	}

	text, err := c.Text()
	if err != nil {
		return nil, scanerr.Permanent(BackendTesseract, fmt.Errorf("recognize text: %w", err))
	}

	raw := &RawResult{Text: strings.TrimSpace(text)}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		log.WithError(err).Warn("Failed to read Tesseract word boxes")
	}
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		raw.Boxes = append(raw.Boxes, BoundingBox{
			Text:       b.Word,
			X:          b.Box.Min.X,
			Y:          b.Box.Min.Y,
			Confidence: clampConfidence(b.Confidence / 100.0),
		})
	}
	raw.Confidence, _ = meanConfidence(raw.Boxes)

	log.WithFields(logrus.Fields{
		"content_length": len(raw.Text),
		"words":          len(raw.Boxes),
		"confidence":     raw.Confidence,
	}).Debug("Tesseract finished")
	return raw, nil
}
