package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirageapp/mirage/internal/common"
	"github.com/mirageapp/mirage/internal/models"
)

func TestTrigger_ConcurrentRequestsStartOnce(t *testing.T) {
	users := newMemUserStorage()
	queue := &memQueue{}
	trigger := NewGuardedTrigger(users, queue, nopEvents{}, common.GetLogger())
	req := baseRequest()

	const callers = 16
	outcomes := make([]TriggerOutcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := trigger.Request(context.Background(), req)
			require.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	started := 0
	for _, outcome := range outcomes {
		switch outcome {
		case TriggerStarted:
			started++
		case TriggerAlreadyRunning:
		default:
			t.Errorf("unexpected outcome %q", outcome)
		}
	}
	assert.Equal(t, 1, started, "exactly one concurrent trigger may start a run")
	assert.Equal(t, 1, queue.len(), "exactly one work unit may be enqueued")
}

func TestTrigger_AlreadyCompleted(t *testing.T) {
	users := newMemUserStorage()
	queue := &memQueue{}
	trigger := NewGuardedTrigger(users, queue, nopEvents{}, common.GetLogger())
	req := baseRequest()

	_, claimed, err := users.ClaimGeneration(context.Background(), req.UserID, req)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, users.CompleteGeneration(context.Background(), req.UserID, models.GenerationStatusCompleted, "", nil))

	outcome, err := trigger.Request(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, TriggerAlreadyCompleted, outcome)
	assert.Zero(t, queue.len())
}

func TestTrigger_FailedAggregateCanRestart(t *testing.T) {
	users := newMemUserStorage()
	queue := &memQueue{}
	trigger := NewGuardedTrigger(users, queue, nopEvents{}, common.GetLogger())
	req := baseRequest()

	_, claimed, err := users.ClaimGeneration(context.Background(), req.UserID, req)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, users.CompleteGeneration(context.Background(), req.UserID, models.GenerationStatusFailed, "mandatory jobs failed", nil))

	outcome, err := trigger.Request(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, TriggerStarted, outcome)
	assert.Equal(t, 1, queue.len())

	// The enqueued payload round-trips to the original request
	msg, ack, err := queue.Receive(context.Background())
	require.NoError(t, err)
	defer ack()
	decoded, err := models.DecodeGenerationRequest(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}
