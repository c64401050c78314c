package ocr

import (
	"github.com/gabriel-vasile/mimetype"

	"pantry-gpt/internal/scanerr"
)

var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/tiff": true,
	"image/bmp":  true,
	"image/webp": true,
	"image/gif":  true,
}

// validateImage rejects empty input and anything that is not a supported
// image. It returns the detected MIME type.
func validateImage(image []byte) (string, error) {
	if len(image) == 0 {
		return "", scanerr.Validation("empty image")
	}
	mtype := mimetype.Detect(image).String()
	if !supportedImageTypes[mtype] {
		return "", scanerr.Validation("unsupported file type: %s", mtype)
	}
	return mtype, nil
}

// isImageMIMEType checks if the given MIME type is a supported image type
func isImageMIMEType(mimeType string) bool {
	return supportedImageTypes[mimeType]
}
