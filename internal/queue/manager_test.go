package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirageapp/mirage/internal/models"
)

func newTestQueue(t *testing.T, visibility time.Duration, maxReceive int) *BadgerManager {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mgr, err := NewBadgerManager(db, "generation-work", visibility, maxReceive)
	require.NoError(t, err)
	return mgr
}

func workMessage(userID string) Message {
	payload, _ := json.Marshal(models.GenerationRequest{UserID: userID, VoiceID: "voice-1", Gender: "male"})
	return Message{UserID: userID, Type: models.WorkTypeGeneration, Payload: payload}
}

func TestEnqueueReceiveAck(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, workMessage("user-1")))

	msg, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", msg.UserID)
	assert.Equal(t, models.WorkTypeGeneration, msg.Type)

	req, err := models.DecodeGenerationRequest(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, "voice-1", req.VoiceID)

	require.NoError(t, ack())

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestReceive_EmptyQueue(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)

	_, _, err := q.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestReceive_DeliveryOrder(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, workMessage("user-1")))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, workMessage("user-2")))

	first, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", first.UserID)
	require.NoError(t, ack())

	second, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-2", second.UserID)
	require.NoError(t, ack())
}

func TestReceive_InvisibleUntilTimeout(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, workMessage("user-1")))

	_, _, err := q.Receive(ctx)
	require.NoError(t, err)

	// Claimed but unacknowledged - hidden for the visibility window
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	time.Sleep(80 * time.Millisecond)

	msg, ack, err := q.Receive(ctx)
	require.NoError(t, err, "unacknowledged message must be redelivered")
	assert.Equal(t, "user-1", msg.UserID)
	require.NoError(t, ack())
}

func TestReceive_PoisonPillDropped(t *testing.T) {
	q := newTestQueue(t, time.Millisecond, 2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, workMessage("user-1")))

	// Burn through the delivery budget without acknowledging
	for i := 0; i < 2; i++ {
		_, _, err := q.Receive(ctx)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	// Third receive finds the message over budget and drops it
	_, _, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	// Gone for good, not merely invisible
	time.Sleep(10 * time.Millisecond)
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestAck_IdempotentAfterRedelivery(t *testing.T) {
	q := newTestQueue(t, 20*time.Millisecond, 5)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, workMessage("user-1")))

	_, firstAck, err := q.Receive(ctx)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, secondAck, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, secondAck())

	// The stale handle acknowledges a message that is already gone
	assert.NoError(t, firstAck())

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestMessagesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)

	q, err := NewBadgerManager(db, "generation-work", time.Minute, 3)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, workMessage("user-1")))
	require.NoError(t, db.Close())

	db, err = badger.Open(opts)
	require.NoError(t, err)
	defer db.Close()

	q, err = NewBadgerManager(db, "generation-work", time.Minute, 3)
	require.NoError(t, err)

	msg, ack, err := q.Receive(ctx)
	require.NoError(t, err, "queued work must survive a restart")
	assert.Equal(t, "user-1", msg.UserID)
	require.NoError(t, ack())
}
