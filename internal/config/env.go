package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// envReader collects parse errors so that every bad variable is reported at
// once.
type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (r *envReader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *envReader) list(key string, dst *[]string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	*dst = out
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (r *envReader) float(key string, dst *float64) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return
	}
	*dst = f
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return
	}
	*dst = b
}

func (r *envReader) duration(key string, dst *Duration) bool {
	v, ok := r.get(key)
	if !ok {
		return false
	}
	d, err := ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return false
	}
	*dst = Duration(d)
	return true
}

// applyEnv overrides s with environment variables.
func (s *Settings) applyEnv(lookup LookupFunc) error {
	r := &envReader{lookup: lookup}

	r.float("OCR_CONFIDENCE_THRESHOLD", &s.ConfidenceThreshold)
	r.str("OCR_PREFERRED_BACKEND", &s.OCRPreferredBackend)
	r.list("OCR_BACKENDS", &s.OCRBackends)

	r.float("EXTRACTION_MIN_CONFIDENCE", &s.MinConfidence)
	r.str("EXTRACTION_PREFERRED_BACKEND", &s.ExtractionPreferredBackend)
	r.list("EXTRACTION_BACKENDS", &s.ExtractionBackends)
	r.boolean("USE_FEW_SHOT", &s.UseFewShot)
	r.boolean("RETRY_ON_LOW_CONFIDENCE", &s.RetryOnLowConfidence)
	r.integer("TOKEN_LIMIT", &s.TokenLimit)
	r.str("EXTRACTION_PROMPT_PATH", &s.ExtractionPromptPath)

	r.float("STORAGE_CONFIDENCE_THRESHOLD", &s.StorageConfidenceThreshold)

	r.boolean("CACHE_ENABLED", &s.CacheEnabled)
	r.str("CACHE_BACKEND", &s.CacheBackend)
	r.str("CACHE_DIR", &s.CacheDir)
	r.str("REDIS_URL", &s.RedisURL)
	var ttl Duration
	if r.duration("CACHE_TTL", &ttl) {
		s.OCRCacheTTL = ttl
		s.ExtractionCacheTTL = ttl
	}
	r.duration("OCR_CACHE_TTL", &s.OCRCacheTTL)
	r.duration("EXTRACTION_CACHE_TTL", &s.ExtractionCacheTTL)

	r.integer("MAX_RETRIES", &s.MaxRetries)
	r.duration("RETRY_DELAY", &s.RetryDelay)
	r.boolean("RETRY_BACKOFF", &s.RetryBackoff)
	r.duration("ATTEMPT_TIMEOUT", &s.AttemptTimeout)
	r.integer("RATE_LIMIT_REQUESTS", &s.RateLimitRequests)
	r.duration("RATE_LIMIT_PERIOD", &s.RateLimitPeriod)

	r.float("MAX_COST_PER_REQUEST", &s.MaxCostPerRequest)
	r.float("DAILY_COST_LIMIT", &s.DailyCostLimit)

	r.integer("BATCH_WORKERS", &s.BatchWorkers)
	r.str("INBOX_DIR", &s.InboxDir)
	r.str("DB_PATH", &s.DBPath)
	r.str("LISTEN_ADDR", &s.ListenAddr)
	if v, ok := r.get("LOG_LEVEL"); ok {
		s.LogLevel = strings.ToLower(v)
	}

	b := &s.Backends
	r.str("OPENAI_API_KEY", &b.LLM.OpenAIAPIKey)
	r.str("OPENAI_BASE_URL", &b.LLM.OpenAIBaseURL)
	r.str("OLLAMA_HOST", &b.LLM.OllamaHost)
	r.str("MISTRAL_API_KEY", &b.LLM.MistralAPIKey)
	r.str("ANTHROPIC_API_KEY", &b.LLM.AnthropicAPIKey)
	r.str("GOOGLEAI_API_KEY", &b.LLM.GoogleAIAPIKey)
	var budget int
	if _, ok := r.get("GOOGLEAI_THINKING_BUDGET"); ok {
		r.integer("GOOGLEAI_THINKING_BUDGET", &budget)
		v := int32(budget)
		b.LLM.GoogleAIThinkingBudget = &v
	}
	r.str("TONGYI_API_KEY", &b.LLM.TongyiAPIKey)
	r.str("TONGYI_ENDPOINT", &b.LLM.TongyiEndpoint)

	r.str("GOOGLE_PROJECT_ID", &b.GoogleProjectID)
	r.str("GOOGLE_LOCATION", &b.GoogleLocation)
	r.str("GOOGLE_PROCESSOR_ID", &b.GoogleProcessorID)
	r.str("AZURE_DOCAI_ENDPOINT", &b.AzureEndpoint)
	r.str("AZURE_DOCAI_KEY", &b.AzureKey)
	r.str("AZURE_DOCAI_MODEL_ID", &b.AzureModelID)
	r.str("VISION_LLM_PROVIDER", &b.VisionLLMProvider)
	r.str("VISION_LLM_MODEL", &b.VisionLLMModel)
	if v, ok := r.get("TESSERACT_LANGUAGES"); ok {
		b.TesseractLanguages = strings.Split(v, ",")
	}

	for name := range b.Models {
		prefix := strings.ToUpper(name)
		model := b.Models[name]
		r.str(prefix+"_MODEL", &model)
		b.Models[name] = model

		price := b.Prices[name]
		r.float(prefix+"_COST_PER_1K_TOKENS", &price)
		b.Prices[name] = price
	}

	return errors.Join(r.errs...)
}
