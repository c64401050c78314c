package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pantry-gpt/internal/llmjson"
	"pantry-gpt/internal/scanerr"
)

// ErrMissingProductName is returned for a reply without a product name.
var ErrMissingProductName = errors.New("reply has no product_name")

// productReply is the JSON shape the prompt asks for. Lists tolerate a
// single string in place of an array.
type productReply struct {
	ProductName    string     `json:"product_name"`
	Brand          string     `json:"brand"`
	Category       string     `json:"category"`
	Subcategory    string     `json:"subcategory"`
	ExpirationDate string     `json:"expiration_date"`
	DietaryTags    stringList `json:"dietary_tags"`
	KeyAttributes  stringList `json:"key_attributes"`
	Allergens      stringList `json:"allergens"`
	Confidence     *float64   `json:"confidence"`
}

type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("expected a list of strings: %w", err)
	}
	if strings.TrimSpace(single) == "" {
		*l = nil
		return nil
	}
	*l = strings.Split(single, ",")
	return nil
}

// parseProduct decodes a model reply into ProductData. Malformed JSON and a
// missing product name are recoverable backend errors. Values that can be
// repaired (category, date) are repaired and reported as warnings.
func parseProduct(backend, text string) (*ProductData, []string, error) {
	var reply productReply
	if err := llmjson.Decode(text, &reply); err != nil {
		return nil, nil, scanerr.Recoverable(backend, err)
	}

	name := strings.TrimSpace(reply.ProductName)
	if name == "" {
		return nil, nil, scanerr.Recoverable(backend, ErrMissingProductName)
	}

	var warnings []string
	category, ok := NormalizeCategory(reply.Category)
	if !ok && strings.TrimSpace(reply.Category) != "" {
		warnings = append(warnings, fmt.Sprintf("category %q is not in the vocabulary, using %s", reply.Category, CategoryOther))
	}

	var expiration string
	if raw := strings.TrimSpace(reply.ExpirationDate); raw != "" {
		if expiration, ok = normalizeDate(raw); !ok {
			warnings = append(warnings, fmt.Sprintf("expiration date %q could not be read", raw))
		}
	}

	var confidence float64
	if reply.Confidence != nil {
		confidence = clamp(*reply.Confidence)
	} else {
		warnings = append(warnings, "reply has no confidence, treating it as 0")
	}

	return &ProductData{
		ProductName:    name,
		Brand:          strings.TrimSpace(reply.Brand),
		Category:       category,
		Subcategory:    strings.TrimSpace(reply.Subcategory),
		ExpirationDate: expiration,
		DietaryTags:    normalizeTagSet(reply.DietaryTags),
		KeyAttributes:  normalizeAttributes(reply.KeyAttributes),
		Allergens:      normalizeTagSet(reply.Allergens),
		Confidence:     confidence,
	}, warnings, nil
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
