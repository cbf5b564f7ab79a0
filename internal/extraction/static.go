package extraction

import (
	"context"
	"strings"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

const staticMaxQuotes = 5

type staticTopic struct {
	title       string
	description string
	keywords    []string
	suggestion  string
}

var staticTopics = []staticTopic{
	{
		title:       "App Crashes and Freezes",
		description: "Users report the app crashing, freezing or closing unexpectedly.",
		keywords:    []string{"crash", "freez", "force close", "closes itself", "bug"},
		suggestion:  "Fix the most frequent crash paths reported after the latest release",
	},
	{
		title:       "Slow Performance",
		description: "Users complain about slow loading, lag and battery drain.",
		keywords:    []string{"slow", "lag", "loading", "battery", "takes forever"},
		suggestion:  "Improve startup and sync performance on older devices",
	},
	{
		title:       "Login and Account Problems",
		description: "Users cannot sign in, get logged out or lose account access.",
		keywords:    []string{"login", "log in", "sign in", "password", "account"},
		suggestion:  "Add a reliable account recovery flow",
	},
	{
		title:       "Pricing and Subscription Complaints",
		description: "Users object to subscription cost, paywalls or unexpected charges.",
		keywords:    []string{"price", "expensive", "subscription", "paywall", "refund", "charged"},
		suggestion:  "Provide a cheaper tier or a longer free trial",
	},
	{
		title:       "Unresponsive Customer Support",
		description: "Users say support does not answer or resolve their issues.",
		keywords:    []string{"support", "customer service", "no response", "never answered"},
		suggestion:  "Introduce response time targets for support tickets",
	},
	{
		title:       "Confusing Interface Design",
		description: "Users find navigation and layout confusing or cluttered.",
		keywords:    []string{"confusing", "interface", "design", "layout", "navigation"},
		suggestion:  "Simplify navigation between the main screens",
	},
	{
		title:       "Missing Feature Requests",
		description: "Users ask for capabilities the app does not offer yet.",
		keywords:    []string{"wish", "please add", "feature", "would love", "missing"},
		suggestion:  "Add the most requested features to the public roadmap",
	},
}

// StaticProvider derives themes from keyword matches without calling a model.
// It is used for local runs and end-to-end tests.
type StaticProvider struct{}

// NewStaticProvider creates a StaticProvider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

// ExtractThemes returns one candidate per topic matched by at least one review.
// Quotes are the matching review texts, verbatim.
func (p *StaticProvider) ExtractThemes(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var candidates []domain.ThemeCandidate
	for _, topic := range staticTopics {
		var quotes []string
		for _, text := range req.ReviewTexts {
			trimmed := strings.TrimSpace(text)
			if trimmed == "" || !matchesAny(strings.ToLower(trimmed), topic.keywords) {
				continue
			}
			quotes = append(quotes, trimmed)
			if len(quotes) == staticMaxQuotes {
				break
			}
		}
		if len(quotes) == 0 {
			continue
		}
		candidates = append(candidates, domain.ThemeCandidate{
			Title:       topic.title,
			Description: topic.description,
			Quotes:      quotes,
			Suggestions: []string{topic.suggestion},
		})
	}

	return &Result{
		Candidates: tagPlatform(candidates, req.Platform),
		Model:      p.Model(),
	}, nil
}

// Provider returns "static".
func (p *StaticProvider) Provider() string { return "static" }

// Model returns "keyword-buckets".
func (p *StaticProvider) Model() string { return "keyword-buckets" }

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
