// -----------------------------------------------------------------------
// Scenario Job - One unit of external content generation tracked to a
// terminal state
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a scenario generation job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobType classifies the external generation capability a job exercises
type JobType string

const (
	JobTypeFaceSwap     JobType = "face_swap"
	JobTypeTalkingPhoto JobType = "talking_photo"
	JobTypeVoiceDub     JobType = "voice_dub"
)

// DefaultMaxRetries is the default retry budget per job
const DefaultMaxRetries = 2

// ScenarioJob tracks one unit of generation work for a user.
// Rows are created when the orchestrator computes a plan, updated through
// the poller/fallback path, and retained for audit - never deleted.
//
// Status lifecycle (monotonic):
//
//	pending -> in_progress -> completed
//	pending -> in_progress -> failed -> pending (only while RetryCount < MaxRetries)
//
// A terminal job is immutable except for the bounded retry escalation path.
type ScenarioJob struct {
	ID      string  `json:"id" badgerhold:"key"`
	UserID  string  `json:"user_id" badgerholdIndex:"UserID"`
	JobType JobType `json:"job_type"`
	JobKey  string  `json:"job_key"`

	Status     JobStatus `json:"status"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`

	// Exactly one of ResultURL/ErrorMessage is set on a terminal job
	ResultURL    string `json:"result_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Fallback marks the result as substitute content so consumers can
	// distinguish genuine vendor output without affecting aggregate status
	Fallback        bool   `json:"fallback,omitempty"`
	FallbackMessage string `json:"fallback_message,omitempty"`

	StartTime      *time.Time `json:"start_time,omitempty"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewScenarioJob creates a pending job for a (user, type, key) tuple
func NewScenarioJob(userID string, jobType JobType, jobKey string, maxRetries int) *ScenarioJob {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	now := time.Now()
	return &ScenarioJob{
		ID:         uuid.New().String(),
		UserID:     userID,
		JobType:    jobType,
		JobKey:     jobKey,
		Status:     JobStatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CanTransition reports whether moving a job from one status to another is
// permitted by the monotonic lifecycle. The retry escalation failed->pending
// is validated against the retry budget by the caller holding the row.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusInProgress
	case JobStatusInProgress:
		return to == JobStatusCompleted || to == JobStatusFailed
	case JobStatusFailed:
		return to == JobStatusPending
	default:
		return false
	}
}

// IsTerminal returns true if the job reached completed or failed
func (j *ScenarioJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// CanRetry reports whether the job still has retry budget
func (j *ScenarioJob) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// MarkInProgress records the start of a generation attempt
func (j *ScenarioJob) MarkInProgress() {
	j.Status = JobStatusInProgress
	now := time.Now()
	j.StartTime = &now
	j.UpdatedAt = now
}

// MarkCompleted records a terminal success. CompletionTime is set exactly
// once, on the terminal transition.
func (j *ScenarioJob) MarkCompleted(resultURL string) {
	j.Status = JobStatusCompleted
	j.ResultURL = resultURL
	j.ErrorMessage = ""
	now := time.Now()
	j.CompletionTime = &now
	j.UpdatedAt = now
}

// MarkCompletedWithFallback records a terminal success backed by substitute
// content from the degradation ladder.
func (j *ScenarioJob) MarkCompletedWithFallback(resultURL, message string) {
	j.MarkCompleted(resultURL)
	j.Fallback = true
	j.FallbackMessage = message
}

// MarkFailed records a terminal failure
func (j *ScenarioJob) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.ResultURL = ""
	now := time.Now()
	j.CompletionTime = &now
	j.UpdatedAt = now
}

// MarkRetrying consumes one unit of retry budget and returns the job to
// pending for a fresh attempt with fresh backoff.
func (j *ScenarioJob) MarkRetrying() {
	j.Status = JobStatusPending
	j.RetryCount++
	j.ErrorMessage = ""
	j.CompletionTime = nil
	j.UpdatedAt = time.Now()
}

// Validate checks required fields
func (j *ScenarioJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.UserID == "" {
		return fmt.Errorf("job user ID is required")
	}
	switch j.JobType {
	case JobTypeFaceSwap, JobTypeTalkingPhoto, JobTypeVoiceDub:
	default:
		return fmt.Errorf("invalid job type: %s", j.JobType)
	}
	if j.JobKey == "" {
		return fmt.Errorf("job key is required")
	}
	if j.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}
