package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		var userID, jobKey, status string
		if payload, ok := event.Payload.(map[string]interface{}); ok {
			if id, ok := payload["user_id"].(string); ok {
				userID = id
			}
			if key, ok := payload["job_key"].(string); ok {
				jobKey = key
			}
			if s, ok := payload["status"].(string); ok {
				status = s
			}
		}

		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		if userID != "" {
			logEvent = logEvent.Str("user_id", userID)
		}
		if jobKey != "" {
			logEvent = logEvent.Str("job_key", jobKey)
		}
		if status != "" {
			logEvent = logEvent.Str("status", status)
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventGenerationTriggered,
		interfaces.EventJobStatusChanged,
		interfaces.EventGenerationCompleted,
		interfaces.EventNarrationCached,
		interfaces.EventStatusChanged,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Info().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
