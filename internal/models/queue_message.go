package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the structure stored in the work queue.
// Keep it simple - just enough to route the work unit.
type QueueMessage struct {
	UserID  string          `json:"user_id"` // Owning user for the run
	Type    string          `json:"type"`    // Work type for executor routing
	Payload json.RawMessage `json:"payload"` // Work-specific data (passed through)
}

// WorkTypeGeneration routes a message to the scenario orchestrator
const WorkTypeGeneration = "scenario_generation"

// GenerationRequest is the payload of a scenario generation work unit,
// snapshot at trigger time.
type GenerationRequest struct {
	UserID   string `json:"user_id"`
	ImageURL string `json:"image_url"`
	VoiceID  string `json:"voice_id"`
	Gender   string `json:"gender"`
}

// DecodeGenerationRequest unmarshals a generation work payload
func DecodeGenerationRequest(payload json.RawMessage) (GenerationRequest, error) {
	var req GenerationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return GenerationRequest{}, fmt.Errorf("invalid generation payload: %w", err)
	}
	if req.UserID == "" {
		return GenerationRequest{}, errors.New("generation payload missing user_id")
	}
	return req, nil
}
