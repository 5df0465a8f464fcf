package models

import "time"

// GenerationStatus is the user-level rollup of all jobs' terminal states.
// It is derived from the job set, never independently settable; fallback
// results count toward completed.
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusInProgress GenerationStatus = "in_progress"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// UserGenerationState is the per-user aggregate record. At most one
// orchestration run may be in_progress for a user at any time; the
// pending|failed -> in_progress transition happens through a conditional
// update so concurrent triggers cannot both pass the guard.
type UserGenerationState struct {
	UserID string `json:"user_id" badgerhold:"key"`

	// Inputs captured at trigger time
	ImageURL string `json:"image_url,omitempty"`
	VoiceID  string `json:"voice_id,omitempty"`
	Gender   string `json:"gender,omitempty"`

	Status      GenerationStatus `json:"status"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`

	// Per-key result URLs written back after the run so the profile can be
	// read without joining the job rows
	ResultURLs map[string]string `json:"result_urls,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUserGenerationState creates a pending aggregate for a user
func NewUserGenerationState(userID string) *UserGenerationState {
	now := time.Now()
	return &UserGenerationState{
		UserID:    userID,
		Status:    GenerationStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobCounts summarizes a user's job set for the status query surface
type JobCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Fallback   int `json:"fallback"`
}

// CountJobs tallies a job set by status
func CountJobs(jobs []*ScenarioJob) JobCounts {
	counts := JobCounts{Total: len(jobs)}
	for _, job := range jobs {
		switch job.Status {
		case JobStatusPending:
			counts.Pending++
		case JobStatusInProgress:
			counts.InProgress++
		case JobStatusCompleted:
			counts.Completed++
			if job.Fallback {
				counts.Fallback++
			}
		case JobStatusFailed:
			counts.Failed++
		}
	}
	return counts
}
