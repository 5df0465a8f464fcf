package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
)

// NarrationStorage implements the NarrationStorage interface for Badger.
// The hash key is the badgerhold key, so two racing writers for the same
// (user, step, script) upsert the same row and the last writer wins - the
// documented narration-cache race, harmless because both payloads were
// generated from identical input.
type NarrationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewNarrationStorage creates a new NarrationStorage instance
func NewNarrationStorage(db *BadgerDB, logger arbor.ILogger) interfaces.NarrationStorage {
	return &NarrationStorage{
		db:     db,
		logger: logger,
	}
}

func (s *NarrationStorage) GetNarration(ctx context.Context, userID, stepID, scriptHash string) (*models.NarrationCacheEntry, error) {
	key := models.NarrationCacheKey(userID, stepID, scriptHash)
	var entry models.NarrationCacheEntry
	if err := s.db.Store().Get(key, &entry); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get narration cache entry: %w", err)
	}
	return &entry, nil
}

func (s *NarrationStorage) PutNarration(ctx context.Context, entry *models.NarrationCacheEntry) error {
	if entry.UserID == "" || entry.StepID == "" || entry.ScriptHash == "" {
		return fmt.Errorf("narration cache entry requires user, step, and script hash")
	}
	key := models.NarrationCacheKey(entry.UserID, entry.StepID, entry.ScriptHash)
	if err := s.db.Store().Upsert(key, entry); err != nil {
		return fmt.Errorf("failed to store narration cache entry: %w", err)
	}
	return nil
}

func (s *NarrationStorage) TouchNarration(ctx context.Context, entryID string, at time.Time) error {
	err := s.db.Store().UpdateMatching(&models.NarrationCacheEntry{},
		badgerhold.Where("ID").Eq(entryID),
		func(record interface{}) error {
			entry, ok := record.(*models.NarrationCacheEntry)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			entry.Touch(at)
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to touch narration cache entry: %w", err)
	}
	return nil
}

func (s *NarrationStorage) ListNarrations(ctx context.Context, userID string) ([]*models.NarrationCacheEntry, error) {
	var entries []models.NarrationCacheEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("UserID").Eq(userID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list narration cache entries: %w", err)
	}

	result := make([]*models.NarrationCacheEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

// DeleteExpiredNarrations is the reaper's space reclamation pass. Expired
// entries are never served regardless, so this only frees storage.
func (s *NarrationStorage) DeleteExpiredNarrations(ctx context.Context, cutoff time.Time) (int, error) {
	var expired []models.NarrationCacheEntry
	query := badgerhold.Where("ExpiresAt").Lt(cutoff)
	if err := s.db.Store().Find(&expired, query); err != nil {
		return 0, fmt.Errorf("failed to find expired narration entries: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.NarrationCacheEntry{}, query); err != nil {
		return 0, fmt.Errorf("failed to delete expired narration entries: %w", err)
	}

	s.logger.Debug().Int("count", len(expired)).Msg("Reaped expired narration cache entries")
	return len(expired), nil
}

func (s *NarrationStorage) DeleteUserNarrations(ctx context.Context, userID string) (int, error) {
	entries, err := s.ListNarrations(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.NarrationCacheEntry{}, badgerhold.Where("UserID").Eq(userID)); err != nil {
		return 0, fmt.Errorf("failed to clear user narration cache: %w", err)
	}
	return len(entries), nil
}
