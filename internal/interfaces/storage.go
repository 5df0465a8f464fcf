package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/mirageapp/mirage/internal/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// ErrInvalidTransition is returned when a conditional status update would
// violate the monotonic job lifecycle or loses the compare-and-swap race.
var ErrInvalidTransition = errors.New("invalid status transition")

// JobListOptions filters job queries for the status surface
type JobListOptions struct {
	Status  models.JobStatus
	JobType models.JobType
	Limit   int
}

// JobStorage is the durable record of each generation unit. All status
// mutations go through conditional single-row updates - there is no
// read-modify-write path for callers.
type JobStorage interface {
	// CreateJob persists a new job row. Creation is idempotent on
	// (user_id, job_type, job_key): if a row for the tuple already exists
	// it is returned unchanged with created=false.
	CreateJob(ctx context.Context, job *models.ScenarioJob) (stored *models.ScenarioJob, created bool, err error)

	// GetJob fetches a job row by ID
	GetJob(ctx context.Context, jobID string) (*models.ScenarioJob, error)

	// GetJobByKey fetches a job row by its natural key
	GetJobByKey(ctx context.Context, userID string, jobType models.JobType, jobKey string) (*models.ScenarioJob, error)

	// ListJobs returns a user's job rows, optionally filtered
	ListJobs(ctx context.Context, userID string, opts *JobListOptions) ([]*models.ScenarioJob, error)

	// TransitionJob atomically applies mutate to the stored row iff the
	// row's current status equals from and the resulting status is a legal
	// transition. Returns ErrInvalidTransition when the precondition fails.
	TransitionJob(ctx context.Context, jobID string, from models.JobStatus, mutate func(*models.ScenarioJob)) (*models.ScenarioJob, error)
}

// UserStorage holds the per-user aggregate generation state
type UserStorage interface {
	GetUserState(ctx context.Context, userID string) (*models.UserGenerationState, error)

	// SaveUserState upserts the aggregate row
	SaveUserState(ctx context.Context, state *models.UserGenerationState) error

	// ClaimGeneration atomically moves the aggregate from pending or failed
	// to in_progress, recording the trigger inputs and StartedAt. Exactly
	// one of n concurrent callers succeeds; the rest receive the current
	// status and claimed=false.
	ClaimGeneration(ctx context.Context, userID string, req models.GenerationRequest) (status models.GenerationStatus, claimed bool, err error)

	// CompleteGeneration records the terminal aggregate outcome together
	// with the per-key result URLs
	CompleteGeneration(ctx context.Context, userID string, status models.GenerationStatus, errMsg string, resultURLs map[string]string) error
}

// NarrationStorage persists narration cache entries
type NarrationStorage interface {
	GetNarration(ctx context.Context, userID, stepID, scriptHash string) (*models.NarrationCacheEntry, error)
	PutNarration(ctx context.Context, entry *models.NarrationCacheEntry) error

	// TouchNarration increments access stats on a cache hit
	TouchNarration(ctx context.Context, entryID string, at time.Time) error

	// ListNarrations returns all entries for a user (cache metrics surface)
	ListNarrations(ctx context.Context, userID string) ([]*models.NarrationCacheEntry, error)

	// DeleteExpiredNarrations removes entries with ExpiresAt before the
	// cutoff and reports how many were reaped
	DeleteExpiredNarrations(ctx context.Context, cutoff time.Time) (int, error)

	// DeleteUserNarrations clears a user's cache entries
	DeleteUserNarrations(ctx context.Context, userID string) (int, error)
}

// StorageManager provides access to all storage interfaces
type StorageManager interface {
	JobStorage() JobStorage
	UserStorage() UserStorage
	NarrationStorage() NarrationStorage
	Close() error
}
