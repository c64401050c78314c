//go:build !tesseract

package ocr

import "errors"

func newTesseractProvider(Config) (Provider, error) {
	return nil, errors.New("tesseract support not compiled in, rebuild with -tags tesseract")
}
