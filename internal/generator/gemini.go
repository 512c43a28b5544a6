package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"outreach/internal/campaign"
	"outreach/internal/domain"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini generates messages with the Google GenAI SDK.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	minLength   int
	timeout     time.Duration
	log         *zap.Logger
}

func NewGemini(ctx context.Context, opts Options) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	cc := &genai.ClientConfig{APIKey: opts.APIKey, Backend: genai.BackendGeminiAPI}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{
		client:      client,
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		minLength:   opts.minLength(),
		timeout:     opts.Timeout,
		log:         opts.logger(),
	}, nil
}

func (g *Gemini) Generate(ctx context.Context, handle string, profile domain.ProfileSummary, campaignContext string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	prompt := BuildPrompt(handle, profile, campaignContext)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.temperature),
		MaxOutputTokens: g.maxTokens,
		StopSequences:   []string{"\n\n"},
		CandidateCount:  1,
	})
	if err != nil {
		return "", geminiError(err)
	}
	text := Finalize(resp.Text(), g.minLength)
	if text == domain.FallbackMessage {
		g.log.Warn("generated text too short; using fallback", zap.String("handle", handle))
	}
	return text, nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		se := &campaign.ServiceError{Op: "generate", Status: apiErr.Code, Err: err}
		if apiErr.Code == http.StatusTooManyRequests {
			se.Kind = campaign.KindRateLimited
			se.RetryAfter = providerBackoff
		}
		return se
	}
	return &campaign.ServiceError{Op: "generate", Err: err}
}
