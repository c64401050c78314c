package extraction

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/tmc/langchaingo/llms"
)

// promptSafetyMargin is added to the rendered template's token count.
const promptSafetyMargin = 10

// TokenCounter counts the tokens in text.
type TokenCounter func(text string) int

// ModelTokenCounter counts with the tokenizer langchaingo associates with
// model, falling back to its approximation for unknown models.
func ModelTokenCounter(model string) TokenCounter {
	return func(text string) int {
		return llms.CountTokens(model, text)
	}
}

// ApproximateTokens assumes four characters per token.
func ApproximateTokens(text string) int {
	return len([]rune(text)) / 4
}

// availableTokensForContent renders the template with empty content and
// returns how many tokens remain for the content itself. It returns -1 when
// the limit is disabled.
func availableTokensForContent(tmpl *template.Template, data map[string]any, tokenLimit int, count TokenCounter) (int, error) {
	if tokenLimit <= 0 {
		return -1, nil
	}

	templateData := make(map[string]any, len(data))
	for k, v := range data {
		templateData[k] = v
	}
	templateData["Content"] = ""

	var promptBuffer bytes.Buffer
	if err := tmpl.Execute(&promptBuffer, templateData); err != nil {
		return 0, fmt.Errorf("error executing template: %w", err)
	}

	promptTokens := count(promptBuffer.String())
	log.Debugf("Prompt template uses %d tokens", promptTokens)
	promptTokens += promptSafetyMargin

	availableTokens := tokenLimit - promptTokens
	if availableTokens < 0 {
		return 0, fmt.Errorf("prompt template exceeds token limit")
	}
	return availableTokens, nil
}

// truncateContentByTokens returns the longest rune prefix of content whose
// token count fits availableTokens, found by binary search. A negative
// availableTokens returns content unchanged.
func truncateContentByTokens(content string, availableTokens int, count TokenCounter) (string, error) {
	if availableTokens < 0 {
		return content, nil
	}
	if count(content) <= availableTokens {
		return content, nil
	}

	runes := []rune(content)
	low := 0
	high := len(runes)
	validCut := 0

	for low <= high {
		mid := (low + high) / 2
		if count(string(runes[:mid])) <= availableTokens {
			validCut = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	truncated := string(runes[:validCut])
	if count(truncated) > availableTokens {
		return "", fmt.Errorf("truncated content still exceeds the available token limit")
	}
	return truncated, nil
}

// estimateCost prices a call at pricePer1K dollars per thousand tokens.
func estimateCost(promptTokens, outputTokens int, pricePer1K float64) float64 {
	if pricePer1K <= 0 {
		return 0
	}
	return float64(promptTokens+outputTokens) / 1000 * pricePer1K
}
