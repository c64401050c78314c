// Package config loads the configuration bundle from built-in defaults, an
// optional JSON settings file and environment variables, in that order.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"pantry-gpt/internal/llmclient"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the config package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// DefaultSettingsPath is read when SETTINGS_PATH is unset.
const DefaultSettingsPath = "config/settings.json"

// Duration decodes from a Go duration string ("90s", "24h") or a number of
// seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(n * float64(time.Second))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %s", b)
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration accepts "1.5" (seconds) or any time.ParseDuration string.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Settings is the configuration bundle. JSON keys are the settings file keys.
type Settings struct {
	// OCR stage
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	OCRPreferredBackend string   `json:"ocr_preferred_backend"`
	OCRBackends         []string `json:"ocr_backends"`

	// Extraction stage
	MinConfidence              float64  `json:"min_confidence"`
	ExtractionPreferredBackend string   `json:"extraction_preferred_backend"`
	ExtractionBackends         []string `json:"extraction_backends"`
	UseFewShot                 bool     `json:"use_few_shot"`
	RetryOnLowConfidence       bool     `json:"retry_on_low_confidence"`
	TokenLimit                 int      `json:"token_limit"`
	ExtractionPromptPath       string   `json:"extraction_prompt_path"`

	// Caller-side status classification
	StorageConfidenceThreshold float64 `json:"storage_confidence_threshold"`

	// Cache
	CacheEnabled       bool     `json:"cache_enabled"`
	CacheBackend       string   `json:"cache_backend"`
	CacheDir           string   `json:"cache_dir"`
	RedisURL           string   `json:"redis_url"`
	OCRCacheTTL        Duration `json:"ocr_cache_ttl"`
	ExtractionCacheTTL Duration `json:"extraction_cache_ttl"`
	// CacheTTL sets both stage TTLs unless a stage-specific key is given.
	CacheTTL *Duration `json:"cache_ttl,omitempty"`

	// Retry and rate limiting
	MaxRetries        int      `json:"max_retries"`
	RetryDelay        Duration `json:"retry_delay"`
	RetryBackoff      bool     `json:"retry_backoff"`
	AttemptTimeout    Duration `json:"attempt_timeout"`
	RateLimitRequests int      `json:"rate_limit_requests"`
	RateLimitPeriod   Duration `json:"rate_limit_period"`

	// Cost
	MaxCostPerRequest float64 `json:"max_cost_per_request"`
	DailyCostLimit    float64 `json:"daily_cost_limit"`

	// Process
	BatchWorkers int    `json:"batch_workers"`
	InboxDir     string `json:"inbox_dir"`
	DBPath       string `json:"db_path"`
	ListenAddr   string `json:"listen_addr"`
	LogLevel     string `json:"log_level"`

	// Backends holds credentials and endpoints. It is only read from the
	// environment.
	Backends Backends `json:"-"`
}

// Backends configures the concrete OCR and LLM backends.
type Backends struct {
	LLM llmclient.Credentials

	GoogleProjectID   string
	GoogleLocation    string
	GoogleProcessorID string

	AzureEndpoint string
	AzureKey      string
	AzureModelID  string

	VisionLLMProvider string
	VisionLLMModel    string

	TesseractLanguages []string

	// Models and Prices are keyed by extraction backend name.
	Models map[string]string
	Prices map[string]float64
}

// Defaults returns the documented default configuration.
func Defaults() Settings {
	return Settings{
		ConfidenceThreshold:        0.85,
		OCRBackends:                []string{"google_docai", "azure", "llm", "tesseract"},
		MinConfidence:              0.7,
		ExtractionBackends:         []string{"openai", "anthropic", "googleai"},
		UseFewShot:                 true,
		RetryOnLowConfidence:       true,
		TokenLimit:                 0,
		StorageConfidenceThreshold: 0.7,
		CacheEnabled:               true,
		CacheBackend:               "file",
		CacheDir:                   "cache",
		OCRCacheTTL:                Duration(24 * time.Hour),
		ExtractionCacheTTL:         Duration(7 * 24 * time.Hour),
		MaxRetries:                 3,
		RetryDelay:                 Duration(time.Second),
		AttemptTimeout:             Duration(60 * time.Second),
		RateLimitRequests:          60,
		RateLimitPeriod:            Duration(60 * time.Second),
		MaxCostPerRequest:          0.10,
		DailyCostLimit:             5.00,
		BatchWorkers:               1,
		DBPath:                     "db/pantry.db",
		ListenAddr:                 ":8080",
		LogLevel:                   "info",
		Backends: Backends{
			GoogleLocation:    "us",
			AzureModelID:      "prebuilt-read",
			VisionLLMProvider: llmclient.ProviderOpenAI,
			VisionLLMModel:    "gpt-4o",
			Models: map[string]string{
				llmclient.ProviderOpenAI:    "gpt-4o-mini",
				llmclient.ProviderAnthropic: "claude-3-5-haiku-latest",
				llmclient.ProviderGoogleAI:  "gemini-2.5-flash",
				llmclient.ProviderMistral:   "mistral-small-latest",
				llmclient.ProviderOllama:    "llama3.1",
				llmclient.ProviderTongyi:    "qwen-plus",
			},
			// Blended USD per 1k tokens.
			Prices: map[string]float64{
				llmclient.ProviderOpenAI:    0.0006,
				llmclient.ProviderAnthropic: 0.004,
				llmclient.ProviderGoogleAI:  0.0006,
				llmclient.ProviderMistral:   0.0006,
				llmclient.ProviderOllama:    0,
				llmclient.ProviderTongyi:    0.0012,
			},
		},
	}
}

// LoadDotEnv loads .env files when present. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			log.WithField("path", p).Debug("No env file found, using process environment")
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("error loading env file %s: %w", p, err)
		}
		log.WithField("path", p).Info("Loaded env file")
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load builds Settings from defaults, the settings file at path (skipped when
// it does not exist) and the environment, then validates the result.
func Load(path string, lookup LookupFunc) (*Settings, error) {
	s := Defaults()

	if path != "" {
		if err := s.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := s.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &s, nil
}

// mergeFile decodes the settings file over s. Keys absent from the file keep
// their current values; unknown keys are rejected.
func (s *Settings) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.WithField("path", path).Debug("Settings file not found, using defaults and environment")
			return nil
		}
		return fmt.Errorf("error reading settings file %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s); err != nil {
		return fmt.Errorf("error parsing settings file %s: %w", path, err)
	}

	if s.CacheTTL != nil {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(data, &keys); err != nil {
			return fmt.Errorf("error parsing settings file %s: %w", path, err)
		}
		if _, ok := keys["ocr_cache_ttl"]; !ok {
			s.OCRCacheTTL = *s.CacheTTL
		}
		if _, ok := keys["extraction_cache_ttl"]; !ok {
			s.ExtractionCacheTTL = *s.CacheTTL
		}
	}
	log.WithField("path", path).Info("Loaded settings file")
	return nil
}

// Validate rejects out-of-range values.
func (s *Settings) Validate() error {
	var errs []error
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1, got %v", name, v))
		}
	}
	nonNegative := func(name string, v float64) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %v", name, v))
		}
	}

	unit("confidence_threshold", s.ConfidenceThreshold)
	unit("min_confidence", s.MinConfidence)
	unit("storage_confidence_threshold", s.StorageConfidenceThreshold)
	nonNegative("max_retries", float64(s.MaxRetries))
	nonNegative("retry_delay", float64(s.RetryDelay))
	nonNegative("attempt_timeout", float64(s.AttemptTimeout))
	nonNegative("rate_limit_requests", float64(s.RateLimitRequests))
	nonNegative("rate_limit_period", float64(s.RateLimitPeriod))
	nonNegative("max_cost_per_request", s.MaxCostPerRequest)
	nonNegative("daily_cost_limit", s.DailyCostLimit)
	nonNegative("token_limit", float64(s.TokenLimit))
	nonNegative("ocr_cache_ttl", float64(s.OCRCacheTTL))
	nonNegative("extraction_cache_ttl", float64(s.ExtractionCacheTTL))

	if s.BatchWorkers < 1 {
		errs = append(errs, fmt.Errorf("batch_workers must be at least 1, got %d", s.BatchWorkers))
	}
	if s.CacheEnabled {
		switch s.CacheBackend {
		case "file":
			if s.CacheDir == "" {
				errs = append(errs, fmt.Errorf("cache_dir is required for the file cache"))
			}
		case "redis":
			if s.RedisURL == "" {
				errs = append(errs, fmt.Errorf("redis_url is required for the redis cache"))
			}
		default:
			errs = append(errs, fmt.Errorf("cache_backend must be file or redis, got %q", s.CacheBackend))
		}
	}
	if len(s.OCRBackends) == 0 {
		errs = append(errs, fmt.Errorf("ocr_backends must list at least one backend"))
	}
	if len(s.ExtractionBackends) == 0 {
		errs = append(errs, fmt.Errorf("extraction_backends must list at least one backend"))
	}
	if s.LogLevel != "" {
		if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid log level: %q", s.LogLevel))
		}
	}

	return errors.Join(errs...)
}
