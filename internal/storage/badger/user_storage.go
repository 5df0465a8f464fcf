package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
)

// UserStorage implements the UserStorage interface for Badger
type UserStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewUserStorage creates a new UserStorage instance
func NewUserStorage(db *BadgerDB, logger arbor.ILogger) interfaces.UserStorage {
	return &UserStorage{
		db:     db,
		logger: logger,
	}
}

func (s *UserStorage) GetUserState(ctx context.Context, userID string) (*models.UserGenerationState, error) {
	var state models.UserGenerationState
	if err := s.db.Store().Get(userID, &state); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user state: %w", err)
	}
	return &state, nil
}

func (s *UserStorage) SaveUserState(ctx context.Context, state *models.UserGenerationState) error {
	if state.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	state.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(state.UserID, state); err != nil {
		return fmt.Errorf("failed to save user state: %w", err)
	}
	return nil
}

// ClaimGeneration is the trigger guard: a compare-and-swap that moves the
// aggregate to in_progress only from pending or failed. Both the read and
// the write happen in one badger transaction, so of two simultaneous
// triggers exactly one observes claimed=true.
func (s *UserStorage) ClaimGeneration(ctx context.Context, userID string, req models.GenerationRequest) (models.GenerationStatus, bool, error) {
	var status models.GenerationStatus
	var claimed bool

	err := s.withConflictRetry(func() error {
		status, claimed = "", false
		return s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
			var state models.UserGenerationState
			err := s.db.Store().TxGet(txn, userID, &state)
			switch {
			case errors.Is(err, badgerhold.ErrNotFound):
				state = *models.NewUserGenerationState(userID)
			case err != nil:
				return fmt.Errorf("failed to get user state: %w", err)
			}

			if state.Status == models.GenerationStatusInProgress || state.Status == models.GenerationStatusCompleted {
				status = state.Status
				return nil
			}

			now := time.Now()
			state.Status = models.GenerationStatusInProgress
			state.StartedAt = &now
			state.CompletedAt = nil
			state.Error = ""
			state.ImageURL = req.ImageURL
			state.VoiceID = req.VoiceID
			state.Gender = req.Gender
			state.UpdatedAt = now

			if err := s.db.Store().TxUpsert(txn, userID, &state); err != nil {
				return fmt.Errorf("failed to claim generation: %w", err)
			}
			status = state.Status
			claimed = true
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return status, claimed, nil
}

// CompleteGeneration records the terminal aggregate outcome. Only an
// in_progress aggregate can complete; a stale completion (after a crash
// recovery re-run already finished) is dropped.
func (s *UserStorage) CompleteGeneration(ctx context.Context, userID string, status models.GenerationStatus, errMsg string, resultURLs map[string]string) error {
	if status != models.GenerationStatusCompleted && status != models.GenerationStatusFailed {
		return fmt.Errorf("completion status must be terminal, got %s", status)
	}

	return s.withConflictRetry(func() error {
		return s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
			var state models.UserGenerationState
			if err := s.db.Store().TxGet(txn, userID, &state); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return interfaces.ErrNotFound
				}
				return fmt.Errorf("failed to get user state: %w", err)
			}

			if state.Status != models.GenerationStatusInProgress {
				s.logger.Warn().
					Str("user_id", userID).
					Str("status", string(state.Status)).
					Msg("Dropping stale generation completion")
				return nil
			}

			now := time.Now()
			state.Status = status
			state.CompletedAt = &now
			state.Error = errMsg
			if state.ResultURLs == nil {
				state.ResultURLs = make(map[string]string, len(resultURLs))
			}
			for key, url := range resultURLs {
				state.ResultURLs[key] = url
			}
			state.UpdatedAt = now

			if err := s.db.Store().TxUpsert(txn, userID, &state); err != nil {
				return fmt.Errorf("failed to complete generation: %w", err)
			}
			return nil
		})
	})
}

func (s *UserStorage) withConflictRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return err
}
