package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Yozuusan/Adtest-sub000/urlsafe"
)

const maxCompletionBody int64 = 1 << 20

// OpenAIBackend calls any OpenAI-compatible /v1/chat/completions server
// (OpenAI, vLLM, llama.cpp, ...).
type OpenAIBackend struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAIBackend creates a backend for baseURL (without /v1/...).
func NewOpenAIBackend(baseURL, apiKey, model string, logger *slog.Logger) *OpenAIBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float32       `json:"temperature"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	body := chatRequest{
		Model: b.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: 0.1,
	}
	body.ResponseFormat = &struct {
		Type string `json:"type"`
	}{Type: "json_object"}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("inference/openai: marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("inference/openai: request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("inference/openai: do: %w", err)
	}
	defer resp.Body.Close()

	raw, err := urlsafe.LimitedReadAll(resp.Body, maxCompletionBody)
	if err != nil {
		return "", fmt.Errorf("inference/openai: read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inference/openai: status %d: %s", resp.StatusCode, raw)
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", fmt.Errorf("inference/openai: decode: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("inference/openai: no choices")
	}
	b.logger.DebugContext(ctx, "inference/openai: completion",
		"model", b.model, "tokens", cr.Usage.TotalTokens,
		"finish_reason", cr.Choices[0].FinishReason,
		"duration_ms", time.Since(start).Milliseconds())
	return cr.Choices[0].Message.Content, nil
}
