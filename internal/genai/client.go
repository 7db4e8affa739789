// Package genai implements the OpenAI-compatible chat-completions client used
// for analysis invocations. It speaks the common /chat/completions wire format
// so any compatible provider endpoint can back it.
package genai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	claimerrors "github.com/Marius555/insuranceSaas-sub000/pkg/errors"
	"github.com/Marius555/insuranceSaas-sub000/pkg/types"
)

// DefaultBaseURL is the default API endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

const defaultTimeout = 90 * time.Second

// Config contains client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client issues chat-completion requests against an OpenAI-compatible API.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a new client instance.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// ImageAttachment is a single image sent alongside the prompt, already
// encoded as a data URL or fetchable URL.
type ImageAttachment struct {
	URL string
}

// Invocation describes one model call.
type Invocation struct {
	Model       string
	System      string
	Prompt      string
	Images      []ImageAttachment
	MaxTokens   int
	Temperature float64
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete performs one chat-completion call and returns the raw response.
// Failures are returned as classified errors from pkg/errors.
func (c *Client) Complete(ctx context.Context, inv Invocation) (*types.ModelResponse, error) {
	body, err := json.Marshal(c.buildRequest(inv))
	if err != nil {
		return nil, claimerrors.NewFatalError(inv.Model, fmt.Sprintf("marshal request: %v", err))
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, claimerrors.NewFatalError(inv.Model, fmt.Sprintf("create request: %v", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, claimerrors.NewFatalError(inv.Model, "request cancelled: "+ctx.Err().Error())
		}
		return nil, claimerrors.NewFatalError(inv.Model, "transport error: "+err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, claimerrors.NewFatalError(inv.Model, "read response: "+err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.mapError(inv.Model, resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, claimerrors.NewFatalError(inv.Model, "unmarshal response: "+err.Error())
	}
	if len(chatResp.Choices) == 0 {
		return nil, claimerrors.NewFatalError(inv.Model, "response contained no choices")
	}

	out := &types.ModelResponse{
		Text:         chatResp.Choices[0].Message.Content,
		FinishReason: chatResp.Choices[0].FinishReason,
	}
	if chatResp.Usage != nil {
		out.Usage = &types.TokenUsage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (c *Client) buildRequest(inv Invocation) chatRequest {
	var messages []chatMessage
	if inv.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: inv.System})
	}

	if len(inv.Images) == 0 {
		messages = append(messages, chatMessage{Role: "user", Content: inv.Prompt})
	} else {
		parts := []contentPart{{Type: "text", Text: inv.Prompt}}
		for _, img := range inv.Images {
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: img.URL},
			})
		}
		messages = append(messages, chatMessage{Role: "user", Content: parts})
	}

	return chatRequest{
		Model:          inv.Model,
		Messages:       messages,
		MaxTokens:      inv.MaxTokens,
		Temperature:    inv.Temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
	}
}

// mapError converts an upstream error response to a classified error.
func (c *Client) mapError(model string, statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return claimerrors.NewRateLimitError(model, message)
	case http.StatusServiceUnavailable, http.StatusBadGateway, 529:
		return claimerrors.NewOverloadedError(model, message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return claimerrors.NewAuthenticationError(model, message)
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(errResp.Error.Type), "content") ||
			strings.Contains(strings.ToLower(errResp.Error.Code), "content") {
			return claimerrors.NewContentPolicyError(model, message)
		}
		return claimerrors.NewInvalidRequestError(model, message)
	default:
		return claimerrors.Classify(fmt.Errorf("status %d: %s", statusCode, message), model)
	}
}
