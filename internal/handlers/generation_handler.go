package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/models"
	"github.com/mirageapp/mirage/internal/orchestrator"
	"github.com/mirageapp/mirage/internal/services/status"
)

// GenerationHandler handles HTTP requests for scenario generation
type GenerationHandler struct {
	trigger       *orchestrator.GuardedTrigger
	statusService *status.Service
	validate      *validator.Validate
	logger        arbor.ILogger
}

// NewGenerationHandler creates a new GenerationHandler
func NewGenerationHandler(trigger *orchestrator.GuardedTrigger, statusService *status.Service, logger arbor.ILogger) *GenerationHandler {
	return &GenerationHandler{
		trigger:       trigger,
		statusService: statusService,
		validate:      validator.New(),
		logger:        logger,
	}
}

// triggerRequest is the POST body for starting a generation run
type triggerRequest struct {
	ImageURL string `json:"image_url" validate:"required,url"`
	VoiceID  string `json:"voice_id" validate:"required"`
	Gender   string `json:"gender" validate:"omitempty,oneof=male female"`
}

// TriggerHandler handles POST /api/users/{id}/generation.
// The response reports only whether a run started; generation proceeds
// asynchronously and its outcome is read back through the status endpoint.
func (h *GenerationHandler) TriggerHandler(userID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req triggerRequest
		if !DecodeJSON(w, r, &req) {
			return
		}
		if err := h.validate.Struct(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid trigger request: "+err.Error())
			return
		}

		outcome, err := h.trigger.Request(r.Context(), models.GenerationRequest{
			UserID:   userID,
			ImageURL: req.ImageURL,
			VoiceID:  req.VoiceID,
			Gender:   req.Gender,
		})
		if err != nil {
			h.logger.Error().Err(err).Str("user_id", userID).Msg("Generation trigger failed")
			WriteError(w, http.StatusInternalServerError, "Failed to start generation")
			return
		}

		code := http.StatusAccepted
		if outcome != orchestrator.TriggerStarted {
			code = http.StatusOK
		}
		WriteJSON(w, code, map[string]string{
			"status":  string(outcome),
			"user_id": userID,
		})
	}
}

// StatusHandler handles GET /api/users/{id}/generation
func (h *GenerationHandler) StatusHandler(userID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userStatus, err := h.statusService.UserStatus(r.Context(), userID)
		if err != nil {
			h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load generation status")
			WriteError(w, http.StatusInternalServerError, "Failed to load generation status")
			return
		}
		WriteJSON(w, http.StatusOK, userStatus)
	}
}
