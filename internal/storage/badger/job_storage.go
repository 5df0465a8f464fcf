package badger

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
)

// conflictRetries bounds re-runs of a conditional update when badger
// reports a serialization conflict between concurrent transactions.
const conflictRetries = 5

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a job row, idempotent on (user_id, job_type, job_key).
// The existence check and insert run in one transaction so two concurrent
// planners cannot both create a row for the same tuple.
func (s *JobStorage) CreateJob(ctx context.Context, job *models.ScenarioJob) (*models.ScenarioJob, bool, error) {
	if err := job.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid job: %w", err)
	}

	var stored *models.ScenarioJob
	var created bool

	err := s.withConflictRetry(func() error {
		stored, created = nil, false
		return s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
			var existing []models.ScenarioJob
			query := badgerhold.Where("UserID").Eq(job.UserID).
				And("JobType").Eq(job.JobType).
				And("JobKey").Eq(job.JobKey)
			if err := s.db.Store().TxFind(txn, &existing, query); err != nil {
				return fmt.Errorf("failed to check for existing job: %w", err)
			}
			if len(existing) > 0 {
				stored = &existing[0]
				return nil
			}
			if err := s.db.Store().TxInsert(txn, job.ID, job); err != nil {
				return fmt.Errorf("failed to insert job: %w", err)
			}
			stored = job
			created = true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.ScenarioJob, error) {
	var job models.ScenarioJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) GetJobByKey(ctx context.Context, userID string, jobType models.JobType, jobKey string) (*models.ScenarioJob, error) {
	var jobs []models.ScenarioJob
	query := badgerhold.Where("UserID").Eq(userID).
		And("JobType").Eq(jobType).
		And("JobKey").Eq(jobKey)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to get job by key: %w", err)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &jobs[0], nil
}

func (s *JobStorage) ListJobs(ctx context.Context, userID string, opts *interfaces.JobListOptions) ([]*models.ScenarioJob, error) {
	query := badgerhold.Where("UserID").Eq(userID)

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.JobType != "" {
			query = query.And("JobType").Eq(opts.JobType)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
	}
	query = query.SortBy("CreatedAt")

	var jobs []models.ScenarioJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.ScenarioJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// TransitionJob is the single mutation path for job rows: a compare-and-swap
// on status inside one badger transaction. The mutate callback sets the new
// status and associated fields; the resulting status must be reachable from
// the observed one, and failed->pending additionally requires retry budget.
func (s *JobStorage) TransitionJob(ctx context.Context, jobID string, from models.JobStatus, mutate func(*models.ScenarioJob)) (*models.ScenarioJob, error) {
	var updated *models.ScenarioJob

	err := s.withConflictRetry(func() error {
		updated = nil
		return s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
			var job models.ScenarioJob
			if err := s.db.Store().TxGet(txn, jobID, &job); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return interfaces.ErrNotFound
				}
				return fmt.Errorf("failed to get job: %w", err)
			}

			if job.Status != from {
				return fmt.Errorf("%w: job %s is %s, expected %s",
					interfaces.ErrInvalidTransition, jobID, job.Status, from)
			}

			mutate(&job)

			if job.Status != from && !models.CanTransition(from, job.Status) {
				return fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, from, job.Status)
			}
			if from == models.JobStatusFailed && job.Status == models.JobStatusPending && job.RetryCount > job.MaxRetries {
				return fmt.Errorf("%w: retry budget exhausted for job %s", interfaces.ErrInvalidTransition, jobID)
			}

			if err := s.db.Store().TxUpdate(txn, jobID, &job); err != nil {
				return fmt.Errorf("failed to update job: %w", err)
			}
			updated = &job
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("from", string(from)).
		Str("to", string(updated.Status)).
		Msg("Job status transition")

	return updated, nil
}

// withConflictRetry re-runs fn while badger reports a transaction conflict.
// The CAS precondition is re-evaluated on every attempt, so a retried loser
// fails with ErrInvalidTransition rather than overwriting the winner.
func (s *JobStorage) withConflictRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return err
}
