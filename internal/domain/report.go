package domain

import (
	"time"

	"github.com/google/uuid"
)

// Report is a single analysis request for one app across a set of platforms.
type Report struct {
	ID        uuid.UUID
	UserID    string
	AppName   string
	Status    ReportStatus
	Platforms []Platform

	FailureStage FailureStage
	ErrorMessage string

	CreatedAt         time.Time
	UpdatedAt         time.Time
	ScrapingStartedAt *time.Time
	CompletedAt       *time.Time
}

// NewReport creates a pending report for the given owner and app.
func NewReport(userID, appName string, platforms []Platform) *Report {
	now := time.Now().UTC()
	ps := make([]Platform, len(platforms))
	copy(ps, platforms)
	return &Report{
		ID:        uuid.New(),
		UserID:    userID,
		AppName:   appName,
		Status:    ReportStatusPending,
		Platforms: SortPlatforms(ps),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// reportTransitions defines the forward edges of the report state graph.
// failed and error are reachable from every non-terminal state and are added in CanTransition.
var reportTransitions = map[ReportStatus]ReportStatus{
	ReportStatusPending:           ReportStatusScraping,
	ReportStatusScraping:          ReportStatusScrapingCompleted,
	ReportStatusScrapingCompleted: ReportStatusAnalyzing,
	ReportStatusAnalyzing:         ReportStatusCompleting,
	ReportStatusCompleting:        ReportStatusCompleted,
}

// CanTransition reports whether from -> to is an edge of the report state graph.
// completing -> analyzing is the one backward edge; it re-opens a completion
// whose owner stalled.
func CanTransition(from, to ReportStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == ReportStatusFailed || to == ReportStatusError {
		return true
	}
	if from == ReportStatusCompleting && to == ReportStatusAnalyzing {
		return true
	}
	next, ok := reportTransitions[from]
	return ok && next == to
}

// NextStatus returns the single forward successor of s, if any.
func NextStatus(s ReportStatus) (ReportStatus, bool) {
	next, ok := reportTransitions[s]
	return next, ok
}

// ScrapingSession tracks per-platform scraper progress for one report.
type ScrapingSession struct {
	ID               uuid.UUID
	ReportID         uuid.UUID
	EnabledPlatforms []Platform
	Statuses         map[Platform]ScraperStatus
	TotalReviews     int

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewScrapingSession creates a session where enabled platforms are pending and
// the rest are disabled.
func NewScrapingSession(reportID uuid.UUID, enabled []Platform) *ScrapingSession {
	now := time.Now().UTC()
	statuses := make(map[Platform]ScraperStatus, len(AllPlatforms))
	for _, p := range AllPlatforms {
		statuses[p] = ScraperStatusDisabled
	}
	ps := make([]Platform, 0, len(enabled))
	for _, p := range enabled {
		statuses[p] = ScraperStatusPending
		ps = append(ps, p)
	}
	return &ScrapingSession{
		ID:               uuid.New(),
		ReportID:         reportID,
		EnabledPlatforms: SortPlatforms(ps),
		Statuses:         statuses,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// StatusOf returns the scraper status for p, defaulting to disabled.
func (s *ScrapingSession) StatusOf(p Platform) ScraperStatus {
	if st, ok := s.Statuses[p]; ok {
		return st
	}
	return ScraperStatusDisabled
}

// ActivePlatforms returns the enabled platforms whose scraper is not disabled.
func (s *ScrapingSession) ActivePlatforms() []Platform {
	out := make([]Platform, 0, len(s.EnabledPlatforms))
	for _, p := range s.EnabledPlatforms {
		if s.StatusOf(p) != ScraperStatusDisabled {
			out = append(out, p)
		}
	}
	return out
}

// IsScrapingComplete reports whether every active scraper has stopped and at
// least one of them completed.
func (s *ScrapingSession) IsScrapingComplete() bool {
	active := s.ActivePlatforms()
	anyCompleted := false
	for _, p := range active {
		st := s.StatusOf(p)
		if !st.IsTerminal() {
			return false
		}
		if st == ScraperStatusCompleted {
			anyCompleted = true
		}
	}
	return anyCompleted
}

// IsActive returns true until the session is closed.
func (s *ScrapingSession) IsActive() bool {
	return s.CompletedAt == nil
}

// Review is one raw user review written by a scraper.
type Review struct {
	ID         uuid.UUID
	ReportID   uuid.UUID
	Platform   Platform
	Text       string
	Rating     *int
	ReviewDate *time.Time
	AuthorName string
	SourceURL  string
	Metadata   map[string]interface{}
	CreatedAt  time.Time
}
