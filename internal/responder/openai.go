// ABOUTME: OpenAI-compatible chat-completions client implementing the Gateway contract
// ABOUTME: Sends bounded recent history plus the new message, bounded by a request timeout

package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// defaultSystemPrompt primes the model when the config does not override it.
const defaultSystemPrompt = "You are a helpful assistant."

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	timeout      time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

// Options configures a responder Client.
type Options struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// NewClient creates a responder client. A zero Timeout defaults to 30s.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &Client{
		baseURL:      strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		model:        opts.Model,
		systemPrompt: systemPrompt,
		timeout:      timeout,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.With("component", "responder"),
	}
}

// chatMessage is one message in the completions request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionRequest is the OpenAI chat completion request body.
type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// chatCompletionResponse is the subset of the response body we read.
type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Reply sends the message with its history window to the completions endpoint
// and returns the assistant text. Any transport, status or decode failure maps
// to ErrUnavailable; a context deadline is treated the same way.
func (c *Client) Reply(ctx context.Context, message string, history []Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]chatMessage, 0, 2*len(history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: c.systemPrompt})
	for _, turn := range history {
		messages = append(messages, chatMessage{Role: "user", Content: turn.Request})
		if turn.Reply != "" {
			messages = append(messages, chatMessage{Role: "assistant", Content: turn.Reply})
		}
	}
	messages = append(messages, chatMessage{Role: "user", Content: message})

	body, err := json.Marshal(chatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("encoding completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("completion request rejected",
			"status", resp.StatusCode,
			"body", string(respBody))
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUnavailable)
	}

	return completion.Choices[0].Message.Content, nil
}

// Ensure Client implements the Gateway contract
var _ Gateway = (*Client)(nil)
