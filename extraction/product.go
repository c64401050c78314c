package extraction

import (
	"sort"
	"strings"
)

// ProductData is the structured record extracted from label text.
type ProductData struct {
	ProductName    string   `json:"product_name"`
	Brand          string   `json:"brand,omitempty"`
	Category       string   `json:"category"`
	Subcategory    string   `json:"subcategory,omitempty"`
	ExpirationDate string   `json:"expiration_date,omitempty"`
	DietaryTags    []string `json:"dietary_tags"`
	KeyAttributes  []string `json:"key_attributes"`
	Allergens      []string `json:"allergens"`
	Confidence     float64  `json:"confidence"`
	ModelUsed      string   `json:"model_used"`
	BackendUsed    string   `json:"backend_used"`
	ProcessingTime float64  `json:"processing_time"`
	Cached         bool     `json:"cached"`
	// BelowThreshold marks a provisional record: no backend reached the
	// minimum confidence.
	BelowThreshold bool `json:"below_threshold,omitempty"`
	// Warnings lists fields that were repaired while parsing.
	Warnings []string `json:"warnings,omitempty"`
}

// ToMap returns a plain key/value representation for storage or transport.
// Optional fields that are unset map to nil.
func (p *ProductData) ToMap() map[string]any {
	return map[string]any{
		"product_name":    p.ProductName,
		"brand":           optional(p.Brand),
		"category":        p.Category,
		"subcategory":     optional(p.Subcategory),
		"expiration_date": optional(p.ExpirationDate),
		"dietary_tags":    append([]string{}, p.DietaryTags...),
		"key_attributes":  append([]string{}, p.KeyAttributes...),
		"allergens":       append([]string{}, p.Allergens...),
		"confidence":      p.Confidence,
		"model_used":      p.ModelUsed,
		"backend_used":    p.BackendUsed,
		"processing_time": p.ProcessingTime,
		"cached":          p.Cached,
		"below_threshold": p.BelowThreshold,
		"warnings":        append([]string{}, p.Warnings...),
	}
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// normalizeTagSet lower-cases, trims, de-duplicates and sorts.
func normalizeTagSet(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// normalizeAttributes trims entries and drops empty or repeated ones while
// keeping the reported order.
func normalizeAttributes(attrs []string) []string {
	seen := make(map[string]struct{}, len(attrs))
	out := make([]string, 0, len(attrs))
	for _, a := range attrs {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}
