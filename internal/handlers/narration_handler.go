package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/services/narration"
)

// NarrationHandler handles HTTP requests for the narration cache
type NarrationHandler struct {
	narrationService *narration.Service
	validate         *validator.Validate
	logger           arbor.ILogger
}

// NewNarrationHandler creates a new NarrationHandler
func NewNarrationHandler(narrationService *narration.Service, logger arbor.ILogger) *NarrationHandler {
	return &NarrationHandler{
		narrationService: narrationService,
		validate:         validator.New(),
		logger:           logger,
	}
}

// narrateRequest is the POST body for fetching or generating a clip
type narrateRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	StepID  string `json:"step_id" validate:"required"`
	Script  string `json:"script" validate:"required"`
	VoiceID string `json:"voice_id" validate:"required"`
}

// NarrateHandler handles POST /api/narration
func (h *NarrationHandler) NarrateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req narrateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid narration request: "+err.Error())
		return
	}

	result, err := h.narrationService.GetOrGenerate(r.Context(), req.UserID, req.StepID, req.Script, req.VoiceID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", req.UserID).Str("step_id", req.StepID).Msg("Narration request failed")
		WriteError(w, http.StatusBadGateway, "Narration synthesis failed")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// warmRequest is the POST body for warming an education module
type warmRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	VoiceID  string `json:"voice_id" validate:"required"`
	ModuleID string `json:"module_id" validate:"required"`
}

// WarmHandler handles POST /api/narration/warm
func (h *NarrationHandler) WarmHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req warmRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid warm request: "+err.Error())
		return
	}

	warmed, err := h.narrationService.WarmModule(r.Context(), req.UserID, req.VoiceID, req.ModuleID)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"module_id": req.ModuleID,
		"warmed":    warmed,
	})
}

// StatsHandler handles GET /api/narration/stats?user_id={id}
func (h *NarrationHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	stats, err := h.narrationService.UserStats(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load narration stats")
		WriteError(w, http.StatusInternalServerError, "Failed to load narration stats")
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}

// ClearHandler handles DELETE /api/narration?user_id={id}
func (h *NarrationHandler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	deleted, err := h.narrationService.ClearUser(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to clear narration cache")
		WriteError(w, http.StatusInternalServerError, "Failed to clear narration cache")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"deleted": deleted,
	})
}
