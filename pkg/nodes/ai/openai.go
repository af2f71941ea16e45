package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
)

// OpenAIClient is a Completer for OpenAI-compatible chat completion APIs.
type OpenAIClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewOpenAIClient creates a client; an empty baseURL uses api.openai.com.
func NewOpenAIClient(baseURL, apiKey string, client *http.Client) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	if client == nil {
		client = &http.Client{}
	}

	return &OpenAIClient{BaseURL: strings.TrimSuffix(baseURL, "/"), APIKey: apiKey, HTTPClient: client}
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	body := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if req.JSON {
		body.ResponseFormat = map[string]any{"type": "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Completion{}, nodes.Terminal(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Completion{}, nodes.Terminal(err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return Completion{}, nodes.Retryable(fmt.Errorf("completion request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Completion{}, nodes.Retryable(err)
	}

	var decoded chatResponse
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(string(raw))
		if decoded.Error != nil {
			msg = decoded.Error.Message
		}

		err := fmt.Errorf("completion API returned %d: %s", resp.StatusCode, msg)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return Completion{}, nodes.Retryable(err)
		}

		return Completion{}, nodes.Terminal(err)
	}

	if len(decoded.Choices) == 0 {
		return Completion{}, nodes.Retryable(fmt.Errorf("completion API returned no choices"))
	}

	return Completion{
		Text:  decoded.Choices[0].Message.Content,
		Model: decoded.Model,
		Usage: decoded.Usage,
	}, nil
}
