// -----------------------------------------------------------------------
// Narration service - script-hash keyed cache over voice synthesis with
// preload and warm paths for the education flow
// -----------------------------------------------------------------------

package narration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/common"
	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
)

// preloadConcurrency bounds parallel synthesis calls per preload batch
const preloadConcurrency = 2

// Step is one narration unit of an education module
type Step struct {
	StepID string `json:"step_id"`
	Script string `json:"script"`
}

// Result is the outcome of a narration lookup
type Result struct {
	AudioURL      string    `json:"audio_url"`
	AudioDuration float64   `json:"audio_duration,omitempty"`
	CacheHit      bool      `json:"cache_hit"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Stats summarizes a user's narration cache for the metrics surface
type Stats struct {
	Entries       int        `json:"entries"`
	Expired       int        `json:"expired"`
	TotalAccesses int        `json:"total_accesses"`
	OldestEntry   *time.Time `json:"oldest_entry,omitempty"`
}

// Service caches personalized narration clips keyed by the exact script
// text plus voice. Identical text under the same voice synthesizes once
// per TTL window; any change to either produces a distinct entry.
//
// Two concurrent misses for the same key may both synthesize - the store
// is last-writer-wins and both callers receive working audio, so the race
// costs one redundant vendor call and nothing else.
type Service struct {
	store   interfaces.NarrationStorage
	gen     interfaces.GenerationService
	events  interfaces.EventService
	modules map[string][]Step
	ttl     time.Duration
	warm    int
	logger  arbor.ILogger
}

// NewService creates the narration service from configuration
func NewService(store interfaces.NarrationStorage, gen interfaces.GenerationService, events interfaces.EventService, cfg *common.NarrationConfig, logger arbor.ILogger) *Service {
	warm := cfg.WarmSteps
	if warm <= 0 {
		warm = 3
	}
	return &Service{
		store:   store,
		gen:     gen,
		events:  events,
		modules: DefaultModules(),
		ttl:     common.Duration(cfg.TTL, models.DefaultNarrationTTL),
		warm:    warm,
		logger:  logger,
	}
}

// GetOrGenerate returns the cached clip for (user, step, script, voice) or
// synthesizes and caches a new one. Expired entries are treated as absent
// but left for the reaper to delete.
func (s *Service) GetOrGenerate(ctx context.Context, userID, stepID, script, voiceID string) (*Result, error) {
	if script == "" {
		return nil, fmt.Errorf("narration script is required")
	}
	if voiceID == "" {
		return nil, fmt.Errorf("narration voice is required")
	}

	hash := models.ScriptHash(script, voiceID)
	now := time.Now()

	entry, err := s.store.GetNarration(ctx, userID, stepID, hash)
	if err == nil && !entry.IsExpired(now) {
		if touchErr := s.store.TouchNarration(ctx, entry.ID, now); touchErr != nil {
			s.logger.Warn().Err(touchErr).Str("entry_id", entry.ID).Msg("Failed to record cache access")
		}
		s.logger.Debug().
			Str("user_id", userID).
			Str("step_id", stepID).
			Msg("Narration cache hit")
		return &Result{
			AudioURL:      entry.AudioURL,
			AudioDuration: entry.AudioDuration,
			CacheHit:      true,
			ExpiresAt:     entry.ExpiresAt,
		}, nil
	}
	if err != nil && err != interfaces.ErrNotFound {
		return nil, fmt.Errorf("narration cache lookup failed: %w", err)
	}

	audioURL, duration, err := s.gen.Narrate(ctx, script, voiceID)
	if err != nil {
		return nil, fmt.Errorf("narration synthesis failed: %w", err)
	}

	fresh := &models.NarrationCacheEntry{
		ID:            common.NewNarrationID(),
		UserID:        userID,
		StepID:        stepID,
		ScriptHash:    hash,
		AudioURL:      audioURL,
		AudioDuration: duration,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}
	if err := s.store.PutNarration(ctx, fresh); err != nil {
		// The clip itself is fine; serve it and let the next call re-cache
		s.logger.Warn().Err(err).Str("user_id", userID).Str("step_id", stepID).Msg("Failed to cache narration entry")
	} else {
		s.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventNarrationCached,
			Payload: map[string]interface{}{
				"user_id": userID,
				"step_id": stepID,
			},
		})
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("step_id", stepID).
		Float64("duration", duration).
		Msg("Narration synthesized and cached")
	return &Result{
		AudioURL:      audioURL,
		AudioDuration: duration,
		CacheHit:      false,
		ExpiresAt:     fresh.ExpiresAt,
	}, nil
}

// Preload synthesizes a batch of steps ahead of playback. Failures are
// logged and skipped - preloading is best-effort and the playback path
// regenerates anything missing.
func (s *Service) Preload(ctx context.Context, userID, voiceID string, steps []Step) {
	if len(steps) == 0 {
		return
	}

	sem := make(chan struct{}, preloadConcurrency)
	var wg sync.WaitGroup
	for _, step := range steps {
		wg.Add(1)
		go func(step Step) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if _, err := s.GetOrGenerate(ctx, userID, step.StepID, step.Script, voiceID); err != nil {
				s.logger.Warn().
					Err(err).
					Str("user_id", userID).
					Str("step_id", step.StepID).
					Msg("Narration preload failed")
			}
		}(step)
	}
	wg.Wait()

	s.logger.Info().
		Str("user_id", userID).
		Int("steps", len(steps)).
		Msg("Narration preload batch finished")
}

// WarmModule preloads the first steps of an education module so playback
// starts without a synthesis stall. Returns the number of steps warmed.
func (s *Service) WarmModule(ctx context.Context, userID, voiceID, moduleID string) (int, error) {
	steps, ok := s.modules[moduleID]
	if !ok {
		return 0, fmt.Errorf("unknown education module: %s", moduleID)
	}

	count := s.warm
	if count > len(steps) {
		count = len(steps)
	}
	s.Preload(ctx, userID, voiceID, steps[:count])
	return count, nil
}

// ModuleSteps returns the step list for an education module
func (s *Service) ModuleSteps(moduleID string) ([]Step, bool) {
	steps, ok := s.modules[moduleID]
	return steps, ok
}

// UserStats tallies a user's cache entries
func (s *Service) UserStats(ctx context.Context, userID string) (*Stats, error) {
	entries, err := s.store.ListNarrations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list narration entries: %w", err)
	}

	now := time.Now()
	stats := &Stats{Entries: len(entries)}
	for _, entry := range entries {
		stats.TotalAccesses += entry.AccessCount
		if entry.IsExpired(now) {
			stats.Expired++
		}
		if stats.OldestEntry == nil || entry.CreatedAt.Before(*stats.OldestEntry) {
			created := entry.CreatedAt
			stats.OldestEntry = &created
		}
	}
	return stats, nil
}

// ClearUser drops all of a user's cache entries, forcing fresh synthesis.
// Used when the user re-records their voice sample.
func (s *Service) ClearUser(ctx context.Context, userID string) (int, error) {
	deleted, err := s.store.DeleteUserNarrations(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear narration cache: %w", err)
	}
	s.logger.Info().
		Str("user_id", userID).
		Int("deleted", deleted).
		Msg("Narration cache cleared for user")
	return deleted, nil
}
