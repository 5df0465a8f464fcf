package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
)

// AdapterCall invokes one generation capability for a job. The call is
// synchronous from the poller's view; any vendor-side submit/poll cycle is
// hidden inside it.
type AdapterCall func(ctx context.Context) (string, error)

// RetryPoller drives a single job through generation attempts until a
// terminal state: vendor success, fallback substitution, or failure. Every
// status write is a conditional transition through JobStorage, so a
// concurrent run resuming the same job loses the CAS instead of doubling
// the work.
type RetryPoller struct {
	jobs     interfaces.JobStorage
	fallback *FallbackResolver
	logger   arbor.ILogger
}

// NewRetryPoller creates a poller over the job store and fallback ladder
func NewRetryPoller(jobs interfaces.JobStorage, fallback *FallbackResolver, logger arbor.ILogger) *RetryPoller {
	return &RetryPoller{
		jobs:     jobs,
		fallback: fallback,
		logger:   logger,
	}
}

// Execute runs the job to a terminal state and returns the final row.
//
// Attempt loop: pending -> in_progress -> {completed | failed}. A transient
// failure with retry budget left escalates failed -> pending and re-enters
// the loop with fresh backoff. A permanent failure, timeout, or exhausted
// budget consults the fallback ladder before the terminal write: with a
// substitute the job completes (annotated), without one it fails with the
// error message recorded.
func (p *RetryPoller) Execute(ctx context.Context, jobID string, call AdapterCall) (*models.ScenarioJob, error) {
	for {
		job, err := p.jobs.TransitionJob(ctx, jobID, models.JobStatusPending, func(j *models.ScenarioJob) {
			j.MarkInProgress()
		})
		if err != nil {
			if errors.Is(err, interfaces.ErrInvalidTransition) {
				// Another run claimed or finished this job
				current, getErr := p.jobs.GetJob(ctx, jobID)
				if getErr != nil {
					return nil, getErr
				}
				p.logger.Debug().
					Str("job_id", jobID).
					Str("status", string(current.Status)).
					Msg("Job not pending, skipping execution")
				return current, nil
			}
			return nil, err
		}

		p.logger.Info().
			Str("job_id", job.ID).
			Str("job_key", job.JobKey).
			Str("job_type", string(job.JobType)).
			Int("retry_count", job.RetryCount).
			Msg("Generation attempt started")

		resultURL, callErr := call(ctx)
		if callErr == nil {
			completed, err := p.jobs.TransitionJob(ctx, jobID, models.JobStatusInProgress, func(j *models.ScenarioJob) {
				j.MarkCompleted(resultURL)
			})
			if err != nil {
				return nil, fmt.Errorf("failed to record job success: %w", err)
			}
			p.logger.Info().
				Str("job_id", job.ID).
				Str("job_key", job.JobKey).
				Msg("Generation attempt succeeded")
			return completed, nil
		}

		p.logger.Warn().
			Err(callErr).
			Str("job_id", job.ID).
			Str("job_key", job.JobKey).
			Bool("permanent", IsPermanent(callErr)).
			Msg("Generation attempt failed")

		if !IsPermanent(callErr) && job.CanRetry() {
			// Record the failed attempt, then consume retry budget
			failed, err := p.jobs.TransitionJob(ctx, jobID, models.JobStatusInProgress, func(j *models.ScenarioJob) {
				j.MarkFailed(callErr.Error())
			})
			if err != nil {
				return nil, fmt.Errorf("failed to record transient failure: %w", err)
			}
			if _, err := p.jobs.TransitionJob(ctx, failed.ID, models.JobStatusFailed, func(j *models.ScenarioJob) {
				j.MarkRetrying()
			}); err != nil {
				return nil, fmt.Errorf("failed to schedule retry: %w", err)
			}
			continue
		}

		return p.finishWithFallback(ctx, jobID, callErr)
	}
}

// finishWithFallback writes the terminal state for an unretryable failure
func (p *RetryPoller) finishWithFallback(ctx context.Context, jobID string, callErr error) (*models.ScenarioJob, error) {
	job, err := p.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	substitute, ok := p.fallback.Resolve(job, DirectURL(callErr))
	if ok {
		final, err := p.jobs.TransitionJob(ctx, jobID, models.JobStatusInProgress, func(j *models.ScenarioJob) {
			j.MarkCompletedWithFallback(substitute.URL, substitute.Message)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record fallback result: %w", err)
		}
		p.logger.Info().
			Str("job_id", jobID).
			Str("job_key", job.JobKey).
			Int("tier", substitute.Tier).
			Msg("Job completed with substitute content")
		return final, nil
	}

	final, err := p.jobs.TransitionJob(ctx, jobID, models.JobStatusInProgress, func(j *models.ScenarioJob) {
		j.MarkFailed(callErr.Error())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record job failure: %w", err)
	}
	p.logger.Error().
		Str("job_id", jobID).
		Str("job_key", job.JobKey).
		Str("error", callErr.Error()).
		Msg("Job failed with no fallback available")
	return final, nil
}
