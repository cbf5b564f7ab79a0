package extraction

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/happynocode/app-review-analysis/internal/config"
	"github.com/happynocode/app-review-analysis/internal/observability"
)

// FactoryConfig holds the parameters needed to create a ThemeExtractor.
type FactoryConfig struct {
	// Provider is "openai", "anthropic" or "static".
	Provider       string
	Temperature    float64
	Timeout        time.Duration
	MaxRetries     int
	MaxTokens      int
	MaxReviewChars int
	// RateLimitRPS is the sustained outbound request rate; <= 0 disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
	OpenAI         OpenAIConfig
	Anthropic      AnthropicConfig
}

// New creates a ThemeExtractor for cfg.Provider.
func New(cfg FactoryConfig) (ThemeExtractor, error) {
	opts := Options{
		Temperature:    cfg.Temperature,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		MaxTokens:      cfg.MaxTokens,
		MaxReviewChars: cfg.MaxReviewChars,
		Limiter:        NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}

	switch cfg.Provider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIProvider(cfg.OpenAI, opts), nil
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		if cfg.Anthropic.Model == "" {
			return nil, fmt.Errorf("anthropic provider requires a model")
		}
		return NewAnthropicProvider(cfg.Anthropic, opts), nil
	case "static":
		return NewStaticProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported extraction provider: %q", cfg.Provider)
	}
}

// FactoryConfigFrom maps the extraction section of the service config.
func FactoryConfigFrom(cfg config.ExtractionConfig) FactoryConfig {
	return FactoryConfig{
		Provider:       cfg.Provider,
		Temperature:    cfg.Temperature,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		MaxTokens:      cfg.MaxTokens,
		MaxReviewChars: cfg.MaxReviewChars,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		OpenAI: OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
		},
		Anthropic: AnthropicConfig{
			APIKey:  cfg.Anthropic.APIKey,
			Model:   cfg.Anthropic.Model,
			BaseURL: cfg.Anthropic.BaseURL,
		},
	}
}

// NewFromConfig creates the configured extractor wrapped with metrics.
func NewFromConfig(cfg config.ExtractionConfig, metrics *observability.Metrics) (*Instrumented, error) {
	ex, err := New(FactoryConfigFrom(cfg))
	if err != nil {
		return nil, err
	}
	return NewInstrumented(ex, metrics), nil
}

// NewLimiter returns a token bucket for outbound extraction calls.
// A non-positive rate yields an unlimited limiter.
func NewLimiter(ratePerSecond float64, burst int) *rate.Limiter {
	if ratePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(ratePerSecond), burst)
}

// Instrumented records call latency and failures of a wrapped extractor.
type Instrumented struct {
	next    ThemeExtractor
	metrics *observability.Metrics
}

// NewInstrumented wraps next with metrics. A nil metrics is allowed.
func NewInstrumented(next ThemeExtractor, metrics *observability.Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: metrics}
}

// ExtractThemes delegates to the wrapped extractor.
func (i *Instrumented) ExtractThemes(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := i.next.ExtractThemes(ctx, req)
	if err != nil {
		i.metrics.RecordExtractionFailed(i.next.Provider(), string(req.Platform), ClassifyError(err))
		return nil, err
	}
	i.metrics.RecordExtraction(i.next.Provider(), string(req.Platform), time.Since(start).Seconds())
	return res, nil
}

// Provider returns the wrapped provider name.
func (i *Instrumented) Provider() string { return i.next.Provider() }

// Model returns the wrapped model name.
func (i *Instrumented) Model() string { return i.next.Model() }
