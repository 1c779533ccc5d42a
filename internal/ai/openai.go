package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider talks to OpenAI or any compatible chat completions endpoint
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider; baseURL may be empty for api.openai.com
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// ExtractData sends images as a data URL next to the prompt. Chat completions
// do not take PDF input, so PDFs are rejected.
func (p *OpenAIProvider) ExtractData(ctx context.Context, prompt string, data []byte, mimeType string) (string, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("openai provider does not accept %s documents", mimeType)
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Close() error {
	return nil
}
