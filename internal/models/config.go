package models

// Config represents the service configuration
type Config struct {
	// Server config
	Port       int    `yaml:"port" validate:"min=1,max=65535"`
	Host       string `yaml:"host"`
	CORSOrigin string `yaml:"cors_origin"`
	LogLevel   string `yaml:"log_level" validate:"oneof=trace debug info warn warning error fatal"`

	// Upload handling
	Upload UploadConfig `yaml:"upload"`

	// Batch processing
	Ingest IngestConfig `yaml:"ingest"`

	// AI config
	AI AIConfig `yaml:"ai"`

	// Auth config
	Auth AuthConfig `yaml:"auth"`

	// Categories override the default chart of accounts
	Categories []Category `yaml:"categories" validate:"dive"`
}

// UploadConfig controls where multipart uploads are staged
type UploadConfig struct {
	Dir      string `yaml:"dir" validate:"required"`
	MaxBytes int64  `yaml:"max_bytes" validate:"gt=0"`
}

// IngestConfig controls per-batch processing
type IngestConfig struct {
	Concurrency int `yaml:"concurrency" validate:"min=1,max=32"`
}

// AIConfig represents AI provider configuration
type AIConfig struct {
	// OpenAI
	OpenAI OpenAIConfig `yaml:"openai"`

	// Gemini
	Gemini GeminiConfig `yaml:"gemini"`

	// Ollama (local)
	Ollama OllamaConfig `yaml:"ollama"`

	// Default provider
	DefaultProvider string `yaml:"default_provider" validate:"oneof=openai gemini ollama"`

	// Per-call deadline in seconds
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gt=0"`

	// Images larger than this on either side are downscaled before upload.
	// 0 selects the default and -1 disables resizing.
	MaxImageDimension int `yaml:"max_image_dimension" validate:"gte=-1"`
}

// OpenAIConfig for OpenAI or compatible endpoints
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints
	Model   string `yaml:"model"`              // Default: "gpt-4o-mini"
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"` // Default: "gemini-1.5-flash"
}

// OllamaConfig for local Ollama
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"` // Default: "http://localhost:11434"
	Model   string `yaml:"model"`    // e.g., "llava"
}

// AuthConfig enables bearer-token auth on /api routes when JWTSecret is set
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours" validate:"gte=0"`
}
