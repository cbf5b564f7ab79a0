// Package extraction provides theme extraction over batches of user reviews.
//
// An extractor receives the review texts of one platform partition and returns
// candidate themes. Providers (OpenAI-compatible, Anthropic, static) share the
// prompt builder and the tolerant response parser in this package.
//
// Example usage:
//
//	extractor, err := extraction.New(cfg)
//	result, err := extractor.ExtractThemes(ctx, extraction.Request{
//		AppName:     "Acme Notes",
//		Platform:    domain.PlatformReddit,
//		ReviewTexts: texts,
//	})
package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

// defaultMaxReviewChars caps the characters of one review placed in a prompt.
const defaultMaxReviewChars = 1000

// Request contains the input of one extraction call.
type Request struct {
	// AppName is the app the reviews are about.
	AppName string

	// Platform is the review source of every text in ReviewTexts.
	Platform domain.Platform

	// ReviewTexts are the raw review bodies.
	ReviewTexts []string
}

// Result contains the extracted candidates and call metadata.
type Result struct {
	// Candidates are the proposed themes, tagged with the request platform.
	Candidates []domain.ThemeCandidate

	// Model is the model that produced the candidates.
	Model string

	// InputTokens is the number of input tokens used.
	InputTokens int

	// OutputTokens is the number of output tokens used.
	OutputTokens int
}

// ThemeExtractor defines the interface for theme extraction providers.
type ThemeExtractor interface {
	// ExtractThemes returns candidate themes for one platform partition.
	// Malformed provider output is reported as a *ParseError.
	ExtractThemes(ctx context.Context, req Request) (*Result, error)

	// Provider returns the provider name (e.g., "openai", "static").
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}

// BuildPrompt builds the system and user prompts for one extraction call.
// Each review is truncated to maxReviewChars runes.
func BuildPrompt(req Request, maxReviewChars int) (systemPrompt, userPrompt string) {
	if maxReviewChars <= 0 {
		maxReviewChars = defaultMaxReviewChars
	}
	return buildSystemPrompt(req), buildUserPrompt(req, maxReviewChars)
}

func buildSystemPrompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("You are a product feedback analyst. You read raw user reviews of a mobile app ")
	sb.WriteString("and identify the recurring themes product teams should act on.\n\n")

	sb.WriteString("You MUST respond with valid JSON in exactly this format:\n")
	sb.WriteString(`{"themes": [{"title": "Short theme title", "description": "One or two sentences", "quotes": ["verbatim review excerpt"], "suggestions": ["concrete improvement"]}]}`)
	sb.WriteString("\n\n")

	sb.WriteString("Guidelines:\n")
	sb.WriteString("1. Titles are 2 to 6 words and name one specific problem or request.\n")
	sb.WriteString("2. Quotes MUST be copied verbatim from the reviews. Never paraphrase or summarize.\n")
	sb.WriteString("3. Suggestions start with an action verb and are specific enough to put on a roadmap.\n")
	sb.WriteString("4. Skip themes supported by a single vague review.\n")
	sb.WriteString("5. Do not invent generic themes such as \"General feedback\" or \"Other issues\".\n")

	return sb.String()
}

func buildUserPrompt(req Request, maxReviewChars int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("App: %s\n", req.AppName))
	sb.WriteString(fmt.Sprintf("Source: %s\n", req.Platform.DisplayName()))
	sb.WriteString(platformContext(req.Platform))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Reviews (%d):\n", len(req.ReviewTexts)))
	for i, text := range req.ReviewTexts {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, truncateRunes(strings.TrimSpace(text), maxReviewChars)))
	}

	return sb.String()
}

// platformContext tailors the analysis focus to the review source.
func platformContext(p domain.Platform) string {
	switch p {
	case domain.PlatformAppStore:
		return "These are Apple App Store reviews. Pay attention to iOS-specific issues, " +
			"device compatibility, update regressions and subscription complaints."
	case domain.PlatformGooglePlay:
		return "These are Google Play reviews. Pay attention to Android device fragmentation, " +
			"performance on low-end hardware, permissions and in-app purchase issues."
	case domain.PlatformReddit:
		return "These are Reddit posts and comments. Expect longer discussions, comparisons with " +
			"competing apps and workarounds shared by users."
	default:
		return "These are user reviews."
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// tagPlatform sets the platform of every candidate.
func tagPlatform(cs []domain.ThemeCandidate, p domain.Platform) []domain.ThemeCandidate {
	for i := range cs {
		cs[i].Platform = p
	}
	return cs
}
