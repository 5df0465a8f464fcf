package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
)

// AppState represents the application state
type AppState string

const (
	StateIdle       AppState = "idle"
	StateGenerating AppState = "generating"
	StateOffline    AppState = "offline"
)

// UserStatus is the per-user status view: the aggregate record, the job
// rows behind it, and a rollup summary line
type UserStatus struct {
	State   *models.UserGenerationState `json:"state"`
	Jobs    []*models.ScenarioJob       `json:"jobs"`
	Counts  models.JobCounts            `json:"counts"`
	Summary string                      `json:"summary"`
}

// Service answers status queries and tracks coarse application state
type Service struct {
	state        AppState
	mu           sync.RWMutex
	activeRuns   int
	jobs         interfaces.JobStorage
	users        interfaces.UserStorage
	eventService interfaces.EventService
	logger       arbor.ILogger
}

// NewService creates a new status service
func NewService(jobs interfaces.JobStorage, users interfaces.UserStorage, eventService interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		state:        StateIdle,
		jobs:         jobs,
		users:        users,
		eventService: eventService,
		logger:       logger,
	}
}

// UserStatus assembles the status view for one user. A user with no
// trigger history gets a pending aggregate and an empty job set.
func (s *Service) UserStatus(ctx context.Context, userID string) (*UserStatus, error) {
	state, err := s.users.GetUserState(ctx, userID)
	if err == interfaces.ErrNotFound {
		state = models.NewUserGenerationState(userID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load user state: %w", err)
	}

	jobs, err := s.jobs.ListJobs(ctx, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load user jobs: %w", err)
	}

	counts := models.CountJobs(jobs)
	return &UserStatus{
		State:   state,
		Jobs:    jobs,
		Counts:  counts,
		Summary: fmt.Sprintf("%d/%d completed", counts.Completed, counts.Total),
	}, nil
}

// GetState returns the current application state (thread-safe)
func (s *Service) GetState() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState updates the application state and broadcasts the change
func (s *Service) SetState(state AppState) {
	s.mu.Lock()
	oldState := s.state
	s.state = state
	s.mu.Unlock()

	if oldState == state {
		return
	}

	s.logger.Info().
		Str("old_state", string(oldState)).
		Str("new_state", string(state)).
		Msg("Application state changed")

	s.eventService.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventStatusChanged,
		Payload: map[string]interface{}{
			"state":     string(state),
			"timestamp": time.Now(),
		},
	})
}

// GetStatus returns the full status including state and timestamp
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"state":       string(s.state),
		"active_runs": s.activeRuns,
		"timestamp":   time.Now(),
	}
}

// SubscribeToGenerationEvents keeps the application state in step with
// orchestration runs: generating while any run is live, idle otherwise
func (s *Service) SubscribeToGenerationEvents() {
	s.eventService.Subscribe(interfaces.EventGenerationTriggered, func(ctx context.Context, event interfaces.Event) error {
		s.mu.Lock()
		s.activeRuns++
		s.mu.Unlock()
		s.SetState(StateGenerating)
		return nil
	})

	s.eventService.Subscribe(interfaces.EventGenerationCompleted, func(ctx context.Context, event interfaces.Event) error {
		s.mu.Lock()
		if s.activeRuns > 0 {
			s.activeRuns--
		}
		idle := s.activeRuns == 0
		s.mu.Unlock()
		if idle {
			s.SetState(StateIdle)
		}
		return nil
	})
}
