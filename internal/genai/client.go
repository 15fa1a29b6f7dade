// Package genai provides the generative backend client used for summary,
// matched-point, and answer generation. The backend is an opaque
// OpenAI-compatible chat-completion service.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultBaseURL     = "https://api.openai.com"
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second

	// Conservative default rate limit to stay under API quotas.
	defaultRateLimit = 50.0 / 60.0 // requests per second
	defaultBurst     = 5
)

var (
	// ErrGenerationFailed indicates the backend could not produce output.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Generator produces text completions from prompts.
type Generator interface {
	// Complete generates a completion for the given prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// Model returns the model identifier used for generation.
	Model() string
}

// Config holds configuration for the generative backend client.
type Config struct {
	// BaseURL is the API base URL. Default: https://api.openai.com.
	BaseURL string

	// APIKey authenticates requests.
	APIKey string

	// Model is the chat model. Default: gpt-4o-mini.
	Model string

	// Timeout is the HTTP client timeout. Default: 60s.
	Timeout time.Duration

	// MaxTokens caps completion length. Default: 1024.
	MaxTokens int

	// Temperature controls sampling. Default: 0.3 for factual output.
	Temperature float64
}

// Client is an OpenAI-compatible chat-completion client with rate
// limiting and retry on transient failures.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *zap.Logger
}

// NewClient creates a generative backend client.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries: defaultMaxRetries,
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.config.Model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete generates a completion for the given prompt, retrying
// transient failures with exponential backoff.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	req := chatRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			c.logger.Debug("retrying generation",
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
		}

		response, err := c.doRequest(ctx, req)
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("%w: max retries exceeded: %v", ErrGenerationFailed, lastErr)
}

func (c *Client) doRequest(ctx context.Context, req chatRequest) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("%w: %v", ErrGenerationFailed, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: fmt.Errorf("%w: rate limited (429)", ErrGenerationFailed)}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("%w: server error (%d)", ErrGenerationFailed, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp apiError
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("%w: API error (%d): %s", ErrGenerationFailed, resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("%w: API error (%d)", ErrGenerationFailed, resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	return chatResp.Choices[0].Message.Content, nil
}

// retryableError marks errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Ensure Client implements Generator.
var _ Generator = (*Client)(nil)
