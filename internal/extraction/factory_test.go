package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/happynocode/app-review-analysis/internal/config"
	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/observability"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      FactoryConfig
		provider string
		wantErr  bool
	}{
		{name: "openai", cfg: FactoryConfig{Provider: "openai", OpenAI: OpenAIConfig{APIKey: "k"}}, provider: "openai"},
		{name: "openai without key", cfg: FactoryConfig{Provider: "openai"}, wantErr: true},
		{name: "anthropic", cfg: FactoryConfig{Provider: "anthropic", Anthropic: AnthropicConfig{APIKey: "k", Model: "m"}}, provider: "anthropic"},
		{name: "anthropic without model", cfg: FactoryConfig{Provider: "anthropic", Anthropic: AnthropicConfig{APIKey: "k"}}, wantErr: true},
		{name: "static", cfg: FactoryConfig{Provider: "static"}, provider: "static"},
		{name: "unknown", cfg: FactoryConfig{Provider: "gemini"}, wantErr: true},
		{name: "empty", cfg: FactoryConfig{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, ex.Provider())
		})
	}
}

func TestNewLimiter(t *testing.T) {
	assert.Equal(t, rate.Inf, NewLimiter(0, 0).Limit())
	l := NewLimiter(2.5, 0)
	assert.Equal(t, rate.Limit(2.5), l.Limit())
	assert.Equal(t, 1, l.Burst())
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider()
	res, err := p.ExtractThemes(context.Background(), Request{
		AppName:  "Acme Notes",
		Platform: domain.PlatformAppStore,
		ReviewTexts: []string{
			"  The app keeps crashing when I open it  ",
			"Way too expensive for what it does",
			"Lovely colors",
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)

	assert.Equal(t, "App Crashes and Freezes", res.Candidates[0].Title)
	assert.Equal(t, []string{"The app keeps crashing when I open it"}, res.Candidates[0].Quotes)
	assert.Equal(t, "Pricing and Subscription Complaints", res.Candidates[1].Title)
	for _, c := range res.Candidates {
		assert.Equal(t, domain.PlatformAppStore, c.Platform)
		assert.Len(t, c.Suggestions, 1)
	}

	empty, err := p.ExtractThemes(context.Background(), Request{Platform: domain.PlatformReddit, ReviewTexts: []string{"ok"}})
	require.NoError(t, err)
	assert.Empty(t, empty.Candidates)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.ExtractThemes(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

type failingExtractor struct{ err error }

func (f failingExtractor) ExtractThemes(context.Context, Request) (*Result, error) { return nil, f.err }
func (f failingExtractor) Provider() string                                         { return "fake" }
func (f failingExtractor) Model() string                                            { return "fake-1" }

func TestInstrumented(t *testing.T) {
	metrics := observability.NewMetricsWithRegistry("extraction_test", prometheus.NewRegistry())

	ok := NewInstrumented(NewStaticProvider(), metrics)
	_, err := ok.ExtractThemes(context.Background(), Request{Platform: domain.PlatformReddit, ReviewTexts: []string{"so slow"}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ExtractionRequests.WithLabelValues("static", "reddit")))

	bad := NewInstrumented(failingExtractor{err: &ParseError{Provider: "fake", Err: errors.New("x")}}, metrics)
	_, err = bad.ExtractThemes(context.Background(), Request{Platform: domain.PlatformReddit})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ExtractionFailures.WithLabelValues("fake", "reddit", ErrorTypeParse)))
	assert.Equal(t, "fake", bad.Provider())
	assert.Equal(t, "fake-1", bad.Model())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "", ClassifyError(nil))
	assert.Equal(t, ErrorTypeTimeout, ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, ErrorTypeCanceled, ClassifyError(context.Canceled))
	assert.Equal(t, ErrorTypeRateLimited, ClassifyError(&APIError{StatusCode: 429}))
	assert.Equal(t, ErrorTypeAPI, ClassifyError(&APIError{StatusCode: 500}))
	assert.Equal(t, ErrorTypeUnknown, ClassifyError(errors.New("boom")))

	assert.True(t, (&APIError{StatusCode: 0}).IsTransient())
	assert.True(t, (&APIError{StatusCode: 502}).IsTransient())
	assert.False(t, (&APIError{StatusCode: 400}).IsTransient())
}

func TestNewFromConfig(t *testing.T) {
	t.Run("maps provider settings", func(t *testing.T) {
		fc := FactoryConfigFrom(config.ExtractionConfig{
			Provider:       "anthropic",
			MaxRetries:     2,
			MaxReviewChars: 500,
			RateLimitRPS:   3,
			RateLimitBurst: 6,
			Anthropic:      config.ProviderConfig{APIKey: "k", Model: "claude", BaseURL: "http://localhost"},
		})
		assert.Equal(t, "anthropic", fc.Provider)
		assert.Equal(t, 500, fc.MaxReviewChars)
		assert.Equal(t, AnthropicConfig{APIKey: "k", Model: "claude", BaseURL: "http://localhost"}, fc.Anthropic)
	})

	t.Run("static provider is instrumented", func(t *testing.T) {
		ex, err := NewFromConfig(config.ExtractionConfig{Provider: "static"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "static", ex.Provider())
	})

	t.Run("missing key fails", func(t *testing.T) {
		_, err := NewFromConfig(config.ExtractionConfig{Provider: "openai"}, nil)
		assert.Error(t, err)
	})
}
