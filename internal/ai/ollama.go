package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatReq struct {
	Model    string        `json:"model"`
	Messages []wireMsg     `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatResp struct {
	Message wireMsg `json:"message"`
	Error   string  `json:"error,omitempty"`
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	return p.chat(ctx, ollamaChatReq{Messages: toWire(messages), Options: ollamaOptions{Temperature: replyTemperature}})
}

// ChatJSON asks Ollama to emit a single JSON object.
func (p *OllamaProvider) ChatJSON(ctx context.Context, messages []Message) (string, error) {
	return p.chat(ctx, ollamaChatReq{Messages: toWire(messages), Format: "json", Options: ollamaOptions{Temperature: classifyTemperature}})
}

func (p *OllamaProvider) chat(ctx context.Context, req ollamaChatReq) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}
	req.Model = p.Model

	var decoded ollamaChatResp
	if err := postJSON(ctx, p.Client, "ollama", p.BaseURL+"/api/chat", nil, req, &decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New("ollama: " + decoded.Error)
	}
	return decoded.Message.Content, nil
}
