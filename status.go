package main

import (
	"pantry-gpt/pipeline"
)

// ScanStatus is the caller-side verdict for a scanned item.
type ScanStatus string

const (
	StatusSuccess      ScanStatus = "success"
	StatusManualReview ScanStatus = "manual_review"
	StatusFailed       ScanStatus = "failed"
)

// classifyResult returns the combined confidence (mean of OCR and
// extraction confidence) and the status. An item is a success only when it
// was accepted by the pipeline and its extraction confidence reaches the
// storage threshold.
func classifyResult(res *pipeline.Result, storageThreshold float64) (ScanStatus, float64) {
	if res == nil || res.Product == nil {
		return StatusFailed, 0
	}
	ocrConfidence := 0.0
	if res.OCR != nil {
		ocrConfidence = res.OCR.Confidence
	}
	combined := (ocrConfidence + res.Product.Confidence) / 2

	if res.State == pipeline.Accepted && res.Product.Confidence >= storageThreshold {
		return StatusSuccess, combined
	}
	return StatusManualReview, combined
}
