package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// OpenRouterProvider talks to the OpenAI-compatible chat completions API.
type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

type openRouterResponseFormat struct {
	Type string `json:"type"`
}

type openRouterChatReq struct {
	Model          string                    `json:"model"`
	Messages       []wireMsg                 `json:"messages"`
	Temperature    float64                   `json:"temperature"`
	ResponseFormat *openRouterResponseFormat `json:"response_format,omitempty"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message wireMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	return p.chat(ctx, openRouterChatReq{Messages: toWire(messages), Temperature: replyTemperature})
}

// ChatJSON requests json_object output.
func (p *OpenRouterProvider) ChatJSON(ctx context.Context, messages []Message) (string, error) {
	return p.chat(ctx, openRouterChatReq{
		Messages:       toWire(messages),
		Temperature:    classifyTemperature,
		ResponseFormat: &openRouterResponseFormat{Type: "json_object"},
	})
}

func (p *OpenRouterProvider) chat(ctx context.Context, req openRouterChatReq) (string, error) {
	if p.Client == nil {
		return "", errors.New("openrouter: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", errors.New("openrouter: api key is required")
	}
	req.Model = strings.TrimSpace(p.Model)
	if req.Model == "" {
		return "", errors.New("openrouter: model is required")
	}

	headers := map[string]string{"Authorization": "Bearer " + p.APIKey}
	if p.SiteURL != "" {
		headers["HTTP-Referer"] = p.SiteURL
	}
	if p.AppName != "" {
		headers["X-Title"] = p.AppName
	}

	var decoded openRouterChatResp
	if err := postJSON(ctx, p.Client, "openrouter", p.BaseURL+"/chat/completions", headers, req, &decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New("openrouter: " + decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("openrouter: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}
