package domain

import (
	"time"

	"github.com/google/uuid"
)

// Retry scheduling bounds for analysis tasks.
const (
	DefaultMaxRetries = 3
	retryBaseDelay    = 60 * time.Second
	retryMaxDelay     = 300 * time.Second
)

// AnalysisTask is one batch of reviews submitted to theme extraction.
type AnalysisTask struct {
	ID         uuid.UUID
	ReportID   uuid.UUID
	BatchIndex int
	Priority   int
	ReviewIDs  []uuid.UUID
	Status     TaskStatus
	Result     TaskResult

	RetryCount int
	MaxRetries int
	// Attempts counts claims; it fences writes from a worker whose lease expired.
	Attempts     int
	AvailableAt  time.Time
	ErrorMessage string

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskResult holds the theme candidates a batch produced, keyed by platform.
type TaskResult map[Platform][]ThemeCandidate

// CandidateCount returns the total number of candidates across platforms.
func (r TaskResult) CandidateCount() int {
	n := 0
	for _, cs := range r {
		n += len(cs)
	}
	return n
}

// RetryBackoff returns the delay before a task that has failed retryCount
// times (before this failure) becomes eligible again.
func RetryBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= 3 {
		return retryMaxDelay
	}
	d := retryBaseDelay << uint(retryCount)
	if d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}

// TaskCounts summarises the task states of one report.
type TaskCounts struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// Total returns the number of tasks counted.
func (c TaskCounts) Total() int {
	return c.Pending + c.Processing + c.Completed + c.Failed
}

// Open returns the number of tasks that are not yet settled.
func (c TaskCounts) Open() int {
	return c.Pending + c.Processing
}

// FailureRatio returns permanently failed tasks over all tasks.
func (c TaskCounts) FailureRatio() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Failed) / float64(c.Total())
}
