package constants

// DummyAPIKey is used as a placeholder when connecting to OpenAI-compatible services
// that don't require authentication. Many services expect a token in the request
// header but don't validate it.
const DummyAPIKey = "not-needed"

// DefaultOllamaHost is used when OLLAMA_HOST is unset.
const DefaultOllamaHost = "http://127.0.0.1:11434"

// UserAgent is sent by the HTTP backends.
const UserAgent = "pantry-gpt"
