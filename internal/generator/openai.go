package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"outreach/internal/campaign"
	"outreach/internal/domain"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float32
	maxTokens   int32
	minLength   int
	httpClient  *http.Client
	log         *zap.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int32         `json:"max_tokens"`
	N           int           `json:"n"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func NewOpenAI(opts Options) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{
		apiKey:      opts.APIKey,
		baseURL:     baseURL,
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		minLength:   opts.minLength(),
		httpClient:  &http.Client{Timeout: timeout},
		log:         opts.logger(),
	}, nil
}

func (c *OpenAI) Generate(ctx context.Context, handle string, profile domain.ProfileSummary, campaignContext string) (string, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: BuildPrompt(handle, profile, campaignContext)}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		N:           1,
		Stop:        []string{"\n\n"},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", campaign.NewServiceError(campaign.KindUnknown, "generate", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", campaign.NewServiceError(campaign.KindUnknown, "generate", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &campaign.ServiceError{
			Kind:       campaign.KindRateLimited,
			Op:         "generate",
			Status:     resp.StatusCode,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After"), providerBackoff),
			Err:        fmt.Errorf("rate limit exceeded (429)"),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &campaign.ServiceError{
			Op:     "generate",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", campaign.NewServiceError(campaign.KindUnknown, "generate", fmt.Errorf("failed to parse response: %w", err))
	}
	if out.Error != nil {
		return "", campaign.NewServiceError(campaign.KindUnknown, "generate", fmt.Errorf("API error: %s", out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return "", campaign.NewServiceError(campaign.KindUnknown, "generate", fmt.Errorf("no completion returned"))
	}

	text := Finalize(out.Choices[0].Message.Content, c.minLength)
	c.log.Debug("completion received", zap.String("handle", handle), zap.Duration("took", time.Since(start)),
		zap.Int("len", len(text)))
	if text == domain.FallbackMessage {
		c.log.Warn("generated text too short; using fallback", zap.String("handle", handle))
	}
	return text, nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string, def time.Duration) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}
