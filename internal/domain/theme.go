package domain

import (
	"time"

	"github.com/google/uuid"
)

// ThemeCandidate is one theme proposal emitted by extraction for one batch and platform.
type ThemeCandidate struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Quotes      []string `json:"quotes"`
	Suggestions []string `json:"suggestions"`
	Platform    Platform `json:"platform,omitempty"`
}

// Theme is one consolidated, persisted theme of a report.
type Theme struct {
	ID          uuid.UUID
	ReportID    uuid.UUID
	Platform    Platform
	Title       string
	Description string
	Importance  int
	Rank        int
	Quotes      []Quote
	Suggestions []Suggestion
	CreatedAt   time.Time
}

// Quote is a verbatim review excerpt supporting a theme.
type Quote struct {
	ID        uuid.UUID
	ThemeID   uuid.UUID
	Text      string
	Frequency int
}

// Suggestion is an actionable improvement attached to a theme.
type Suggestion struct {
	ID      uuid.UUID
	ThemeID uuid.UUID
	Text    string
}
