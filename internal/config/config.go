package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ledgerlens/invoice-service/internal/models"
)

const (
	defaultPort              = 8080
	defaultLogLevel          = "info"
	defaultUploadDir         = "uploads"
	defaultMaxUploadBytes    = 50 << 20
	defaultConcurrency       = 1
	defaultProvider          = "gemini"
	defaultTimeoutSeconds    = 60
	defaultMaxImageDimension = 2000
	defaultTokenTTLHours     = 24
	defaultGeminiModel       = "gemini-1.5-flash"
	defaultOpenAIModel       = "gpt-4o-mini"
	defaultOllamaBaseURL     = "http://localhost:11434"
	defaultOllamaModel       = "llava"
)

var validate = validator.New()

// Load reads the YAML file at path, applies environment overrides and
// defaults, then validates the result. A missing file is not an error; the
// service then runs on environment and defaults alone.
func Load(path string) (*models.Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var config models.Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := applyEnv(&config); err != nil {
		return nil, err
	}
	applyDefaults(&config)

	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", describe(err))
	}
	return &config, nil
}

func applyEnv(config *models.Config) error {
	if port := os.Getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		config.Port = n
	}
	setString(&config.Host, "HOST")
	setString(&config.CORSOrigin, "CORS_ORIGIN")
	setString(&config.LogLevel, "LOG_LEVEL")
	setString(&config.Upload.Dir, "UPLOAD_DIR")
	setString(&config.AI.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&config.AI.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&config.AI.OpenAI.Model, "OPENAI_MODEL")
	setString(&config.AI.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&config.AI.Gemini.Model, "GEMINI_MODEL")
	setString(&config.AI.Ollama.BaseURL, "OLLAMA_BASE_URL")
	setString(&config.AI.DefaultProvider, "AI_PROVIDER")
	setString(&config.Auth.JWTSecret, "JWT_SECRET")
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyDefaults(config *models.Config) {
	if config.Port == 0 {
		config.Port = defaultPort
	}
	if config.LogLevel == "" {
		config.LogLevel = defaultLogLevel
	}
	config.LogLevel = strings.ToLower(config.LogLevel)
	if config.Upload.Dir == "" {
		config.Upload.Dir = defaultUploadDir
	}
	if config.Upload.MaxBytes == 0 {
		config.Upload.MaxBytes = defaultMaxUploadBytes
	}
	if config.Ingest.Concurrency == 0 {
		config.Ingest.Concurrency = defaultConcurrency
	}
	if config.AI.DefaultProvider == "" {
		config.AI.DefaultProvider = defaultProvider
	}
	config.AI.DefaultProvider = strings.ToLower(config.AI.DefaultProvider)
	if config.AI.TimeoutSeconds == 0 {
		config.AI.TimeoutSeconds = defaultTimeoutSeconds
	}
	if config.AI.MaxImageDimension == 0 {
		config.AI.MaxImageDimension = defaultMaxImageDimension
	}
	if config.AI.Gemini.Model == "" {
		config.AI.Gemini.Model = defaultGeminiModel
	}
	if config.AI.OpenAI.Model == "" {
		config.AI.OpenAI.Model = defaultOpenAIModel
	}
	if config.AI.Ollama.BaseURL == "" {
		config.AI.Ollama.BaseURL = defaultOllamaBaseURL
	}
	if config.AI.Ollama.Model == "" {
		config.AI.Ollama.Model = defaultOllamaModel
	}
	if config.Auth.TokenTTLHours == 0 {
		config.Auth.TokenTTLHours = defaultTokenTTLHours
	}
}

// describe flattens validator errors into field=tag pairs
func describe(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	parts := make([]string, 0, len(validationErrors))
	for _, ve := range validationErrors {
		parts = append(parts, fmt.Sprintf("%s=%s", ve.Namespace(), ve.Tag()))
	}
	return errors.New(strings.Join(parts, ", "))
}
