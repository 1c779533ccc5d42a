package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgerlens/invoice-service/internal/models"
)

var (
	// ErrProviderFailed wraps transport and API errors from a model backend
	ErrProviderFailed = errors.New("AI provider request failed")

	// ErrUnparseable is returned when no JSON object can be recovered from a model response
	ErrUnparseable = errors.New("AI response is not valid JSON")
)

// ExtractionError carries the unmodified model output that could not be parsed
type ExtractionError struct {
	Raw string
	Err error
}

func (e *ExtractionError) Error() string {
	return e.Err.Error()
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Provider is a generative model backend. ExtractData sends the prompt
// together with the document bytes and returns the model's free text answer.
type Provider interface {
	Name() string
	ExtractData(ctx context.Context, prompt string, data []byte, mimeType string) (string, error)
	Close() error
}

// NewProvider creates the provider selected by cfg.DefaultProvider
func NewProvider(ctx context.Context, cfg models.AIConfig) (Provider, error) {
	switch cfg.DefaultProvider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model), nil

	case "gemini":
		provider, err := NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return nil, err
		}
		return provider, nil

	case "ollama":
		return NewOllamaProvider(cfg.Ollama.BaseURL, cfg.Ollama.Model), nil

	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.DefaultProvider)
	}
}

// unavailableProvider fails every call with the error that prevented setup,
// so the rest of the API keeps serving.
type unavailableProvider struct {
	name string
	err  error
}

// Unavailable returns a provider whose calls all fail with err
func Unavailable(name string, err error) Provider {
	return &unavailableProvider{name: name, err: err}
}

func (p *unavailableProvider) Name() string {
	return p.name
}

func (p *unavailableProvider) ExtractData(ctx context.Context, prompt string, data []byte, mimeType string) (string, error) {
	return "", fmt.Errorf("%s provider is not configured: %w", p.name, p.err)
}

func (p *unavailableProvider) Close() error {
	return nil
}
