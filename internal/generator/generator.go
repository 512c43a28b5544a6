// Package generator produces personalized outreach messages from a language
// model. Output that is too short after cleanup is replaced with
// domain.FallbackMessage, which the orchestrator refuses to send.
package generator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"outreach/internal/campaign"
	"outreach/internal/config"
)

// providerBackoff is the wait suggested to callers after a provider 429
// without a Retry-After header.
const providerBackoff = 60 * time.Second

type Options struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int32
	MinLength   int
	Timeout     time.Duration
	Logger      *zap.Logger
}

// OptionsFrom maps the generator section of a normalized config.
func OptionsFrom(cfg *config.Config, log *zap.Logger) Options {
	return Options{
		APIKey:      cfg.Generator.APIKey,
		Model:       cfg.Generator.Model,
		BaseURL:     cfg.Generator.BaseURL,
		Temperature: cfg.Generator.Temperature,
		MaxTokens:   cfg.Generator.MaxTokens,
		MinLength:   cfg.Pacing.MinMessageLength,
		Timeout:     cfg.Generator.Timeout.Std(),
		Logger:      log,
	}
}

func (o Options) minLength() int {
	if o.MinLength <= 0 {
		return 10
	}
	return o.MinLength
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// New returns the generator for provider.
func New(ctx context.Context, provider string, opts Options) (campaign.ContentGenerator, error) {
	switch provider {
	case config.ProviderGemini, "":
		return NewGemini(ctx, opts)
	case config.ProviderOpenAI:
		return NewOpenAI(opts)
	default:
		return nil, fmt.Errorf("unknown generator provider %q", provider)
	}
}
