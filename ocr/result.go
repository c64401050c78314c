package ocr

import (
	"sort"
	"strings"
)

// BoundingBox locates one recognized word. X and Y are the top-left corner in
// pixels.
type BoundingBox struct {
	Text       string  `json:"text"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Result is the output of the OCR stage.
type Result struct {
	RawText           string        `json:"raw_text"`
	Confidence        float64       `json:"confidence"`
	BackendUsed       string        `json:"backend_used"`
	ProcessingTime    float64       `json:"processing_time"`
	Cached            bool          `json:"cached"`
	DetectedLanguages []string      `json:"detected_languages"`
	BoundingBoxes     []BoundingBox `json:"bounding_boxes"`
	// BelowThreshold marks the best available result when no backend met
	// the confidence threshold.
	BelowThreshold bool `json:"below_threshold,omitempty"`
}

// normalizeLanguages lower-cases, de-duplicates and sorts language codes.
func normalizeLanguages(langs []string) []string {
	seen := make(map[string]struct{}, len(langs))
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// clampConfidence bounds a backend score to [0,1].
func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// meanConfidence averages word scores. ok is false when there are none.
func meanConfidence(boxes []BoundingBox) (float64, bool) {
	if len(boxes) == 0 {
		return 0, false
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes)), true
}
