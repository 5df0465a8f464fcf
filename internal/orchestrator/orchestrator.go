// -----------------------------------------------------------------------
// Orchestrator - plans the catalog job set for a user and drives it
// through two phases to a terminal aggregate
// -----------------------------------------------------------------------

package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/generation"
	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
)

// AggregatePolicy controls how hard-failed jobs roll up to the user level
type AggregatePolicy string

const (
	// PolicyLenient fails the aggregate only when a mandatory job ends with
	// no usable URL; optional jobs degrade silently
	PolicyLenient AggregatePolicy = "lenient"
	// PolicyStrict fails the aggregate when any job ends failed
	PolicyStrict AggregatePolicy = "strict"
)

// Orchestrator executes one generation run: it materializes job rows from
// the scenario catalog, fans out face swaps, waits for the phase barrier,
// then runs the dependent talking photos alongside the independent voice
// dubs, and finally writes the aggregate outcome back to the user record.
//
// Runs are resumable: rows that already reached a terminal state are
// carried forward untouched, rows interrupted mid-flight by a process
// restart are failed and re-escalated against their retry budget.
type Orchestrator struct {
	jobs       interfaces.JobStorage
	users      interfaces.UserStorage
	gen        interfaces.GenerationService
	poller     *generation.RetryPoller
	events     interfaces.EventService
	catalog    *models.ScenarioCatalog
	maxRetries int
	policy     AggregatePolicy
	logger     arbor.ILogger
}

// NewOrchestrator wires the orchestrator over storage, the vendor gateway
// and the retry poller
func NewOrchestrator(
	jobs interfaces.JobStorage,
	users interfaces.UserStorage,
	gen interfaces.GenerationService,
	poller *generation.RetryPoller,
	events interfaces.EventService,
	catalog *models.ScenarioCatalog,
	maxRetries int,
	policy AggregatePolicy,
	logger arbor.ILogger,
) *Orchestrator {
	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}
	if policy != PolicyStrict {
		policy = PolicyLenient
	}
	return &Orchestrator{
		jobs:       jobs,
		users:      users,
		gen:        gen,
		poller:     poller,
		events:     events,
		catalog:    catalog,
		maxRetries: maxRetries,
		policy:     policy,
		logger:     logger,
	}
}

// Run drives a full generation run for one user. It is called from the
// worker pool with the aggregate already claimed in_progress by the
// trigger; a non-nil return leaves the queue message unacknowledged for
// redelivery.
func (o *Orchestrator) Run(ctx context.Context, req models.GenerationRequest) error {
	plan, err := o.plan(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to plan generation run: %w", err)
	}

	o.logger.Info().
		Str("user_id", req.UserID).
		Int("jobs", len(plan)).
		Msg("Generation run planned")

	final := make(map[string]*models.ScenarioJob, len(plan))
	var mu sync.Mutex

	// Phase 1: face swaps, fully parallel
	var phase1 []jobRun
	for _, job := range plan {
		if job.JobType != models.JobTypeFaceSwap {
			continue
		}
		spec, _ := o.catalog.Spec(job.JobKey)
		baseImage := spec.BaseImage(req.Gender)
		phase1 = append(phase1, jobRun{
			job: job,
			call: func(ctx context.Context) (string, error) {
				return o.gen.FaceSwap(ctx, req.ImageURL, baseImage)
			},
		})
	}
	if err := o.runPhase(ctx, "face_swap", phase1, final, &mu); err != nil {
		return err
	}

	// Phase 2: talking photos consume phase-1 results; voice dubs are
	// independent but deliberately held behind the same barrier to keep
	// the vendor load profile in two bounded waves
	var phase2 []jobRun
	for _, job := range plan {
		switch job.JobType {
		case models.JobTypeTalkingPhoto:
			spec, _ := o.catalog.Spec(job.JobKey)
			depURL := ""
			if dep, ok := final[spec.DependsOn]; ok {
				depURL = dep.ResultURL
			}
			phase2 = append(phase2, jobRun{
				job: job,
				call: func(ctx context.Context) (string, error) {
					if depURL == "" {
						return "", generation.NewPermanentError("dependency_failed",
							fmt.Sprintf("face swap %s produced no usable image", spec.DependsOn))
					}
					return o.gen.TalkingPhoto(ctx, depURL, req.VoiceID, spec.Script)
				},
			})
		case models.JobTypeVoiceDub:
			spec, _ := o.catalog.Spec(job.JobKey)
			phase2 = append(phase2, jobRun{
				job: job,
				call: func(ctx context.Context) (string, error) {
					return o.gen.VoiceDub(ctx, spec.SourceAudioURL, req.VoiceID, spec.JobKey)
				},
			})
		}
	}
	if err := o.runPhase(ctx, "talking_photo+voice_dub", phase2, final, &mu); err != nil {
		return err
	}

	return o.finalize(ctx, req.UserID, final)
}

// jobRun pairs a planned job row with the generation call that fulfills it
type jobRun struct {
	job  *models.ScenarioJob
	call generation.AdapterCall
}

// plan materializes one job row per catalog entry, idempotently. Existing
// rows are normalized for resume: a row stranded in_progress by a restart
// is failed, and failed rows with budget left are escalated back to
// pending.
func (o *Orchestrator) plan(ctx context.Context, req models.GenerationRequest) ([]*models.ScenarioJob, error) {
	plan := make([]*models.ScenarioJob, 0, len(o.catalog.Scenarios))
	for _, spec := range o.catalog.Scenarios {
		maxRetries := spec.MaxRetries
		if maxRetries <= 0 {
			maxRetries = o.maxRetries
		}
		stored, created, err := o.jobs.CreateJob(ctx, models.NewScenarioJob(req.UserID, spec.JobType, spec.JobKey, maxRetries))
		if err != nil {
			return nil, fmt.Errorf("failed to create job %s: %w", spec.JobKey, err)
		}
		if !created {
			stored, err = o.normalize(ctx, stored)
			if err != nil {
				return nil, fmt.Errorf("failed to normalize job %s: %w", spec.JobKey, err)
			}
		}
		plan = append(plan, stored)
	}
	return plan, nil
}

// normalize prepares a pre-existing row for this run. The trigger guard
// ensures no other run is live for the user, so an in_progress row can
// only be an interrupted attempt from a dead process.
func (o *Orchestrator) normalize(ctx context.Context, job *models.ScenarioJob) (*models.ScenarioJob, error) {
	if job.Status == models.JobStatusInProgress {
		failed, err := o.jobs.TransitionJob(ctx, job.ID, models.JobStatusInProgress, func(j *models.ScenarioJob) {
			j.MarkFailed("generation attempt interrupted by restart")
		})
		if err != nil {
			return nil, err
		}
		o.logger.Warn().
			Str("job_id", job.ID).
			Str("job_key", job.JobKey).
			Msg("Recovered job stranded in_progress")
		job = failed
	}

	if job.Status == models.JobStatusFailed && job.CanRetry() {
		retried, err := o.jobs.TransitionJob(ctx, job.ID, models.JobStatusFailed, func(j *models.ScenarioJob) {
			j.MarkRetrying()
		})
		if err != nil {
			return nil, err
		}
		return retried, nil
	}

	return job, nil
}

// runPhase fans out the phase's runnable jobs and blocks until every one
// of them is terminal. Already-terminal rows pass straight into the result
// set so resumed runs skip finished work.
func (o *Orchestrator) runPhase(ctx context.Context, phase string, runs []jobRun, final map[string]*models.ScenarioJob, mu *sync.Mutex) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(runs))

	for _, run := range runs {
		if run.job.IsTerminal() {
			o.logger.Debug().
				Str("job_key", run.job.JobKey).
				Str("status", string(run.job.Status)).
				Msg("Carrying forward terminal job")
			mu.Lock()
			final[run.job.JobKey] = run.job
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(run jobRun) {
			defer wg.Done()
			result, err := o.poller.Execute(ctx, run.job.ID, run.call)
			if err != nil {
				errs <- fmt.Errorf("job %s: %w", run.job.JobKey, err)
				return
			}
			mu.Lock()
			final[result.JobKey] = result
			mu.Unlock()
			o.events.Publish(ctx, interfaces.Event{
				Type: interfaces.EventJobStatusChanged,
				Payload: map[string]interface{}{
					"user_id":  result.UserID,
					"job_key":  result.JobKey,
					"job_type": string(result.JobType),
					"status":   string(result.Status),
					"fallback": result.Fallback,
				},
			})
		}(run)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		// A storage error here means the job state is unknown; surface it
		// so the queue redelivers and the run resumes
		return fmt.Errorf("phase %s: %w", phase, err)
	}

	o.logger.Info().
		Str("phase", phase).
		Int("jobs", len(runs)).
		Msg("Phase barrier reached")
	return nil
}

// finalize rolls the terminal job set up to the user aggregate
func (o *Orchestrator) finalize(ctx context.Context, userID string, final map[string]*models.ScenarioJob) error {
	jobs := make([]*models.ScenarioJob, 0, len(final))
	for _, job := range final {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].JobKey < jobs[j].JobKey })

	resultURLs := make(map[string]string)
	var failedKeys, failedMandatory []string
	for _, job := range jobs {
		switch job.Status {
		case models.JobStatusCompleted:
			resultURLs[job.JobKey] = job.ResultURL
		case models.JobStatusFailed:
			failedKeys = append(failedKeys, job.JobKey)
			if spec, ok := o.catalog.Spec(job.JobKey); ok && spec.Mandatory {
				failedMandatory = append(failedMandatory, job.JobKey)
			}
		default:
			return fmt.Errorf("job %s is not terminal after both phases: %s", job.JobKey, job.Status)
		}
	}

	status := models.GenerationStatusCompleted
	errMsg := ""
	if len(failedMandatory) > 0 {
		status = models.GenerationStatusFailed
		errMsg = fmt.Sprintf("mandatory jobs failed with no substitute content: %s", strings.Join(failedMandatory, ", "))
	} else if o.policy == PolicyStrict && len(failedKeys) > 0 {
		status = models.GenerationStatusFailed
		errMsg = fmt.Sprintf("jobs failed with no substitute content: %s", strings.Join(failedKeys, ", "))
	}

	if err := o.users.CompleteGeneration(ctx, userID, status, errMsg, resultURLs); err != nil {
		return fmt.Errorf("failed to record aggregate outcome: %w", err)
	}

	counts := models.CountJobs(jobs)
	o.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventGenerationCompleted,
		Payload: map[string]interface{}{
			"user_id":   userID,
			"status":    string(status),
			"completed": counts.Completed,
			"failed":    counts.Failed,
			"fallback":  counts.Fallback,
		},
	})

	o.logger.Info().
		Str("user_id", userID).
		Str("status", string(status)).
		Int("completed", counts.Completed).
		Int("failed", counts.Failed).
		Int("fallback", counts.Fallback).
		Msg("Generation run finished")
	return nil
}
