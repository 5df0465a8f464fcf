// -----------------------------------------------------------------------
// Guarded trigger - the entry point that prevents duplicate or
// overlapping orchestration runs for the same user
// -----------------------------------------------------------------------

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
)

// TriggerOutcome reports what a generation request did
type TriggerOutcome string

const (
	TriggerStarted          TriggerOutcome = "started"
	TriggerAlreadyRunning   TriggerOutcome = "already_running"
	TriggerAlreadyCompleted TriggerOutcome = "already_completed"
)

// GuardedTrigger gates orchestration runs behind a conditional status
// update on the user aggregate. The claim and the queue handoff make the
// trigger effectively atomic: of two simultaneous calls for one user,
// exactly one observes started. Duplicate triggers are a no-op, not an
// error - they are logged and reported through the outcome.
type GuardedTrigger struct {
	users  interfaces.UserStorage
	queue  interfaces.QueueManager
	events interfaces.EventService
	logger arbor.ILogger
}

// NewGuardedTrigger creates the trigger over user storage and the work queue
func NewGuardedTrigger(users interfaces.UserStorage, queue interfaces.QueueManager, events interfaces.EventService, logger arbor.ILogger) *GuardedTrigger {
	return &GuardedTrigger{
		users:  users,
		queue:  queue,
		events: events,
		logger: logger,
	}
}

// Request starts generation for a user unless a run is already in progress
// or the content set is already complete. The call returns as soon as the
// work unit is enqueued - generation proceeds on the worker pool, and no
// downstream vendor failure ever surfaces here.
func (t *GuardedTrigger) Request(ctx context.Context, req models.GenerationRequest) (TriggerOutcome, error) {
	status, claimed, err := t.users.ClaimGeneration(ctx, req.UserID, req)
	if err != nil {
		return "", fmt.Errorf("failed to claim generation for user %s: %w", req.UserID, err)
	}

	if !claimed {
		outcome := TriggerAlreadyRunning
		if status == models.GenerationStatusCompleted {
			outcome = TriggerAlreadyCompleted
		}
		t.logger.Info().
			Str("user_id", req.UserID).
			Str("status", string(status)).
			Msg("Duplicate generation trigger ignored")
		return outcome, nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation request: %w", err)
	}

	msg := models.QueueMessage{
		UserID:  req.UserID,
		Type:    models.WorkTypeGeneration,
		Payload: payload,
	}
	if err := t.queue.Enqueue(ctx, msg); err != nil {
		// The claim is held but no worker will pick it up; release it as a
		// failed run so a later trigger can start fresh
		if completeErr := t.users.CompleteGeneration(ctx, req.UserID, models.GenerationStatusFailed,
			fmt.Sprintf("failed to enqueue generation work: %v", err), nil); completeErr != nil {
			t.logger.Error().Err(completeErr).Str("user_id", req.UserID).Msg("Failed to release orphaned claim")
		}
		return "", fmt.Errorf("failed to enqueue generation work: %w", err)
	}

	t.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventGenerationTriggered,
		Payload: map[string]interface{}{
			"user_id": req.UserID,
		},
	})

	t.logger.Info().
		Str("user_id", req.UserID).
		Msg("Generation run started")
	return TriggerStarted, nil
}
