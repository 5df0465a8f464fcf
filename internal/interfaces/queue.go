package interfaces

import (
	"context"

	"github.com/mirageapp/mirage/internal/models"
)

// QueueManager is the persistent work queue between the trigger and the
// orchestrator workers. Receive returns models.ErrNoMessage when empty;
// the delete function acknowledges the message after processing.
type QueueManager interface {
	Enqueue(ctx context.Context, msg models.QueueMessage) error
	Receive(ctx context.Context) (*models.QueueMessage, func() error, error)
	Close() error
}
