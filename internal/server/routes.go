package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Generation (trigger + status per user)
	mux.HandleFunc("/api/users/", s.handleUserRoutes) // POST/GET /api/users/{id}/generation

	// API routes - Narration cache
	mux.HandleFunc("/api/narration", s.handleNarrationRoute) // POST (narrate), DELETE (clear)
	mux.HandleFunc("/api/narration/warm", s.app.NarrationHandler.WarmHandler)
	mux.HandleFunc("/api/narration/stats", s.app.NarrationHandler.StatsHandler)

	// API routes - System
	mux.HandleFunc("/api/status", s.app.APIHandler.GetStatusHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/health", s.app.APIHandler.HealthHandler)

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleUserRoutes dispatches /api/users/{id}/generation
func (s *Server) handleUserRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) != 2 || parts[0] == "" || parts[1] != "generation" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	userID := parts[0]

	RouteByMethod(w, r, MethodRouter{
		"POST": RouteHandler(s.app.GenerationHandler.TriggerHandler(userID)),
		"GET":  RouteHandler(s.app.GenerationHandler.StatusHandler(userID)),
	})
}

// handleNarrationRoute dispatches /api/narration by method
func (s *Server) handleNarrationRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		"POST":   s.app.NarrationHandler.NarrateHandler,
		"DELETE": s.app.NarrationHandler.ClearHandler,
	})
}
