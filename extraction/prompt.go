package extraction

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/sirupsen/logrus"
)

//go:embed prompts/extraction_prompt.tmpl
var defaultPromptTemplate string

// fewShotExample pairs label text with the answer expected for it.
type fewShotExample struct {
	Text string
	JSON string
}

var fewShotExamples = []fewShotExample{
	{
		Text: "NISSIN CUP NOODLES CHICKEN FLAVOR NET WT 2.25 OZ CONTAINS WHEAT SOY BEST BEFORE 05/2025",
		JSON: `{"product_name": "Cup Noodles Chicken Flavor", "brand": "Nissin", "category": "Noodles & Instant Meals", "subcategory": "Instant Noodles", "expiration_date": "2025-05", "dietary_tags": [], "key_attributes": ["chicken flavor", "net wt 2.25 oz"], "allergens": ["wheat", "soy"], "confidence": 0.9}`,
	},
	{
		Text: "Organic Valley\nWHOLE MILK\nUSDA ORGANIC\nGRASSMILK 1/2 GAL\nUSE BY 2024-03-18",
		JSON: `{"product_name": "Whole Milk", "brand": "Organic Valley", "category": "Dairy", "subcategory": "Milk", "expiration_date": "2024-03-18", "dietary_tags": ["organic"], "key_attributes": ["grassmilk", "1/2 gal"], "allergens": ["milk"], "confidence": 0.95}`,
	},
}

// PromptBuilder renders the extraction prompt and keeps it inside the token
// limit by truncating the label text.
type PromptBuilder struct {
	tmpl       *template.Template
	tokenLimit int
	counter    TokenCounter
}

// NewPromptBuilder parses the template at path, or the built-in template when
// path is empty. A tokenLimit of zero disables truncation.
func NewPromptBuilder(path string, tokenLimit int, counter TokenCounter) (*PromptBuilder, error) {
	content := defaultPromptTemplate
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading prompt template %s: %w", path, err)
		}
		content = string(data)
	}

	tmpl, err := template.New("extraction").Funcs(sprig.FuncMap()).Parse(content)
	if err != nil {
		return nil, fmt.Errorf("error parsing prompt template: %w", err)
	}
	if counter == nil {
		counter = ApproximateTokens
	}
	return &PromptBuilder{tmpl: tmpl, tokenLimit: tokenLimit, counter: counter}, nil
}

func (b *PromptBuilder) data(content string, fewShot bool) map[string]any {
	return map[string]any{
		"Categories": Categories,
		"FewShot":    fewShot,
		"Examples":   fewShotExamples,
		"Content":    content,
	}
}

// Build renders the prompt for text.
func (b *PromptBuilder) Build(text string, fewShot bool) (string, error) {
	data := b.data(text, fewShot)

	available, err := availableTokensForContent(b.tmpl, data, b.tokenLimit, b.counter)
	if err != nil {
		return "", err
	}
	truncated, err := truncateContentByTokens(text, available, b.counter)
	if err != nil {
		return "", err
	}
	if len(truncated) < len(text) {
		log.WithFields(logrus.Fields{
			"original_length":  len(text),
			"truncated_length": len(truncated),
			"token_limit":      b.tokenLimit,
		}).Warn("Label text truncated to fit the token limit")
	}
	data["Content"] = truncated

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error executing prompt template: %w", err)
	}
	return buf.String(), nil
}
