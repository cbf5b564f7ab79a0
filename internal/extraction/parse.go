package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

const parseSnippetLen = 200

// ParseError reports provider output that could not be read as themes.
type ParseError struct {
	// Provider is the extractor that produced the output.
	Provider string
	// Snippet is the beginning of the offending output.
	Snippet string
	// Err is the decode error of the last attempted strategy.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unparseable theme output: %v (output: %q)", e.Provider, e.Err, e.Snippet)
}

// Unwrap returns the underlying decode error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

var errNoThemes = errors.New("no themes object or array found")

// rawTheme is one theme as emitted by a model.
type rawTheme struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Quotes      []string `json:"quotes"`
	Suggestions []string `json:"suggestions"`
}

type themesEnvelope struct {
	Themes *[]rawTheme `json:"themes"`
}

// ParseThemes reads model output as a list of theme candidates. It accepts, in
// order: a strict {"themes": [...]} object, the same inside a fenced code
// block, the first balanced {...} object in the text, and a bare array of
// themes. Anything else yields a *ParseError.
func ParseThemes(provider, content string) ([]domain.ThemeCandidate, error) {
	trimmed := strings.TrimSpace(content)

	themes, err := decodeObject(trimmed)
	if err == nil {
		return toCandidates(themes), nil
	}
	lastErr := err

	if block, ok := fencedBlock(trimmed); ok {
		if themes, err := decodeObject(block); err == nil {
			return toCandidates(themes), nil
		}
		if themes, err := decodeArray(block); err == nil {
			return toCandidates(themes), nil
		}
	}

	if obj, ok := firstBalanced(trimmed, '{', '}'); ok {
		themes, err := decodeObject(obj)
		if err == nil {
			return toCandidates(themes), nil
		}
		lastErr = err
	}

	if arr, ok := firstBalanced(trimmed, '[', ']'); ok {
		themes, err := decodeArray(arr)
		if err == nil {
			return toCandidates(themes), nil
		}
		lastErr = err
	}

	return nil, &ParseError{Provider: provider, Snippet: truncateRunes(trimmed, parseSnippetLen), Err: lastErr}
}

func decodeObject(s string) ([]rawTheme, error) {
	var env themesEnvelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, err
	}
	if env.Themes == nil {
		return nil, errNoThemes
	}
	return *env.Themes, nil
}

func decodeArray(s string) ([]rawTheme, error) {
	var themes []rawTheme
	if err := json.Unmarshal([]byte(s), &themes); err != nil {
		return nil, err
	}
	return themes, nil
}

// fencedBlock returns the body of the first ``` fenced block, skipping an
// optional language tag.
func fencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// firstBalanced returns the first substring that opens with open and closes
// at the matching close, ignoring brackets inside JSON strings.
func firstBalanced(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func toCandidates(themes []rawTheme) []domain.ThemeCandidate {
	out := make([]domain.ThemeCandidate, 0, len(themes))
	for _, t := range themes {
		out = append(out, domain.ThemeCandidate{
			Title:       t.Title,
			Description: t.Description,
			Quotes:      t.Quotes,
			Suggestions: t.Suggestions,
		})
	}
	return out
}
