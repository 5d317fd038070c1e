// Package llmclient provides the HTTP client for the external
// text-completion oracle. The pipeline treats the oracle as best-effort:
// requests are rate limited, retried with exponential backoff under a
// bounded budget, and classified into retryable and permanent failures.
package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MrDeox/Autogs/api/schemas"
	"github.com/MrDeox/Autogs/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OpenRouterClient talks to an OpenRouter-compatible chat completions
// endpoint.
type OpenRouterClient struct {
	log            *zap.Logger
	httpClient     *http.Client
	cfg            config.OracleConfig
	limiter        *rate.Limiter
	backoffFactory func() backoff.BackOff
}

var _ schemas.LLMClient = (*OpenRouterClient)(nil)

// NewOpenRouterClient builds a client from the oracle configuration.
func NewOpenRouterClient(cfg config.OracleConfig, logger *zap.Logger) *OpenRouterClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	perMin := cfg.RequestsPerMin
	if perMin < 1 {
		perMin = 1
	}
	return &OpenRouterClient{
		log:        logger.Named("OracleClient"),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = cfg.MaxElapsedTime
			return b
		},
	}
}

// request/response wire shapes for the chat completions endpoint.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate performs one completion, retrying transient failures with
// exponential backoff inside the configured retry and elapsed-time
// budget. Client-side errors (auth, malformed request) are permanent and
// fail immediately.
func (c *OpenRouterClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("oracle rate limiter: %w", err)
	}

	model := c.cfg.FastModel
	if req.Tier == schemas.TierPowerful {
		model = c.cfg.PowerfulModel
	}

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
		MaxTokens:   req.Options.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode oracle request: %w", err)
	}

	var completion string
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			// Transport errors (timeouts, resets) are retryable.
			return fmt.Errorf("oracle request failed: %w", err)
		}
		defer resp.Body.Close()

		if err := classifyStatus(resp); err != nil {
			return err
		}

		var decoded chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode oracle response: %w", err))
		}
		if decoded.Error != nil {
			return backoff.Permanent(fmt.Errorf("oracle returned error: %s", decoded.Error.Message))
		}
		if len(decoded.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("oracle returned no choices"))
		}

		completion = decoded.Choices[0].Message.Content
		c.log.Debug("Oracle completion received",
			zap.String("model", model),
			zap.String("finish_reason", decoded.Choices[0].FinishReason),
			zap.Int("prompt_tokens", decoded.Usage.PromptTokens),
			zap.Int("completion_tokens", decoded.Usage.CompletionTokens),
		)
		return nil
	}

	b := backoff.WithMaxRetries(backoff.WithContext(c.backoffFactory(), ctx), c.cfg.MaxRetries)
	if err := backoff.Retry(operation, b); err != nil {
		return "", fmt.Errorf("oracle call failed after retries: %w", err)
	}
	return completion, nil
}

// classifyStatus maps an HTTP status to retryable or permanent.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("oracle returned retryable status %d", resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return backoff.Permanent(fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, string(body)))
	}
}

// Close releases client resources. The HTTP client holds no persistent
// connections worth tearing down explicitly.
func (c *OpenRouterClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
