package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
)

// WorkHandler processes one dequeued work unit. A non-nil error leaves the
// message unacknowledged so the visibility timeout redelivers it.
type WorkHandler func(ctx context.Context, msg *models.QueueMessage) error

// WorkerPool polls the work queue and dispatches messages to registered
// handlers by work type
type WorkerPool struct {
	queue        interfaces.QueueManager
	handlers     map[string]WorkHandler
	concurrency  int
	pollInterval time.Duration
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewWorkerPool creates a worker pool over the queue
func NewWorkerPool(queue interfaces.QueueManager, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 4
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:        queue,
		handlers:     make(map[string]WorkHandler),
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// RegisterHandler registers a handler for a work type
func (wp *WorkerPool) RegisterHandler(workType string, handler WorkHandler) {
	wp.handlers[workType] = handler
	wp.logger.Debug().
		Str("work_type", workType).
		Msg("Work handler registered")
}

// Start launches the worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Dur("poll_interval", wp.pollInterval).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		go wp.worker(i)
	}
}

// Stop cancels the worker loops. In-flight runs observe the cancellation
// through their context; their messages redeliver after the visibility
// timeout.
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
}

func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to spread queue polls across the interval
	staggerDelay := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Msg("Worker started")

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processMessage(workerID); err != nil && !errors.Is(err, models.ErrNoMessage) {
				wp.logger.Warn().
					Err(err).
					Int("worker_id", workerID).
					Msg("Error processing message")
			}
		}
	}
}

// processMessage receives and processes a single message
func (wp *WorkerPool) processMessage(workerID int) error {
	msg, ack, err := wp.queue.Receive(wp.ctx)
	if err != nil {
		return err
	}

	handler, exists := wp.handlers[msg.Type]
	if !exists {
		wp.logger.Error().
			Str("work_type", msg.Type).
			Str("user_id", msg.UserID).
			Msg("No handler for work type, dropping message")
		return ack()
	}

	wp.logger.Info().
		Str("work_type", msg.Type).
		Str("user_id", msg.UserID).
		Int("worker_id", workerID).
		Msg("Processing work unit")

	if err := handler(wp.ctx, msg); err != nil {
		// Leave unacknowledged; the visibility timeout will redeliver
		wp.logger.Error().
			Err(err).
			Str("work_type", msg.Type).
			Str("user_id", msg.UserID).
			Msg("Work unit failed, leaving for redelivery")
		return nil
	}

	return ack()
}

// GenerationHandler adapts the orchestrator to the worker pool's handler
// contract
func GenerationHandler(orch *Orchestrator) WorkHandler {
	return func(ctx context.Context, msg *models.QueueMessage) error {
		req, err := models.DecodeGenerationRequest(msg.Payload)
		if err != nil {
			return err
		}
		return orch.Run(ctx, req)
	}
}
