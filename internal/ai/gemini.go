package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiProvider sends documents inline to Google Gemini
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini client for apiKey
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini provider requires an API key")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

// ExtractData sends the prompt and the document as an inline blob
func (p *GeminiProvider) ExtractData(ctx context.Context, prompt string, data []byte, mimeType string) (string, error) {
	model := p.client.GenerativeModel(p.model)
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx,
		genai.Text(prompt),
		genai.Blob{MIMEType: mimeType, Data: data},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		break
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text")
	}
	return sb.String(), nil
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}
