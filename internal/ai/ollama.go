package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ledgerlens/invoice-service/internal/ocr"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llava"
)

// OllamaProvider calls a local Ollama server. Images go in as base64; PDFs
// are reduced to their text layer and appended to the prompt.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
	}
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

type ollamaGenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Format string   `json:"format,omitempty"`
	Stream bool     `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (p *OllamaProvider) ExtractData(ctx context.Context, prompt string, data []byte, mimeType string) (string, error) {
	payload := ollamaGenerateRequest{
		Model:  p.model,
		Prompt: prompt,
		Format: "json",
	}
	switch {
	case mimeType == "application/pdf":
		text, err := ocr.PDFText(data)
		if err != nil {
			return "", fmt.Errorf("read pdf text: %w", err)
		}
		payload.Prompt = prompt + "\n\nDocument text:\n\"\"\"\n" + text + "\n\"\"\""
	case strings.HasPrefix(mimeType, "image/"):
		payload.Images = []string{base64.StdEncoding.EncodeToString(data)}
	default:
		return "", fmt.Errorf("ollama provider does not accept %s documents", mimeType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama error: %s", out.Error)
	}
	return out.Response, nil
}

func (p *OllamaProvider) Close() error {
	return nil
}
