package narration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirageapp/mirage/internal/common"
	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
)

// memNarrationStore is an in-memory NarrationStorage keyed the same way as
// the badger implementation
type memNarrationStore struct {
	mu      sync.Mutex
	entries map[string]*models.NarrationCacheEntry // composite key -> entry
}

func newMemNarrationStore() *memNarrationStore {
	return &memNarrationStore{entries: make(map[string]*models.NarrationCacheEntry)}
}

func (s *memNarrationStore) GetNarration(ctx context.Context, userID, stepID, scriptHash string) (*models.NarrationCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[models.NarrationCacheKey(userID, stepID, scriptHash)]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	clone := *entry
	return &clone, nil
}

func (s *memNarrationStore) PutNarration(ctx context.Context, entry *models.NarrationCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *entry
	s.entries[models.NarrationCacheKey(entry.UserID, entry.StepID, entry.ScriptHash)] = &clone
	return nil
}

func (s *memNarrationStore) TouchNarration(ctx context.Context, entryID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.ID == entryID {
			entry.Touch(at)
			return nil
		}
	}
	return interfaces.ErrNotFound
}

func (s *memNarrationStore) ListNarrations(ctx context.Context, userID string) ([]*models.NarrationCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.NarrationCacheEntry
	for _, entry := range s.entries {
		if entry.UserID == userID {
			clone := *entry
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memNarrationStore) DeleteExpiredNarrations(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key, entry := range s.entries {
		if entry.ExpiresAt.Before(cutoff) {
			delete(s.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memNarrationStore) DeleteUserNarrations(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key, entry := range s.entries {
		if entry.UserID == userID {
			delete(s.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

// countingGen counts synthesis calls; other capabilities are unused here
type countingGen struct {
	mu    sync.Mutex
	calls int
}

func (g *countingGen) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *countingGen) Narrate(ctx context.Context, script, voiceID string) (string, float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return "https://cdn.example.com/narration.mp3", 3.2, nil
}

func (g *countingGen) FaceSwap(ctx context.Context, userImageURL, baseImageURL string) (string, error) {
	panic("not used")
}

func (g *countingGen) TalkingPhoto(ctx context.Context, imageURL, voiceID, script string) (string, error) {
	panic("not used")
}

func (g *countingGen) VoiceDub(ctx context.Context, sourceAudioURL, voiceID, scenarioKey string) (string, error) {
	panic("not used")
}

type nopEvents struct{}

func (nopEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) error   { return nil }
func (nopEvents) Unsubscribe(interfaces.EventType, interfaces.EventHandler) error { return nil }
func (nopEvents) Publish(context.Context, interfaces.Event) error                 { return nil }
func (nopEvents) PublishSync(context.Context, interfaces.Event) error             { return nil }
func (nopEvents) Close() error                                                    { return nil }

func newTestService(store interfaces.NarrationStorage, gen interfaces.GenerationService, ttl string) *Service {
	cfg := &common.NarrationConfig{TTL: ttl, ReaperSchedule: "0 */15 * * * *", WarmSteps: 2}
	return NewService(store, gen, nopEvents{}, cfg, common.GetLogger())
}

func TestGetOrGenerate_CacheHit(t *testing.T) {
	store := newMemNarrationStore()
	gen := &countingGen{}
	svc := newTestService(store, gen, "24h")
	ctx := context.Background()

	first, err := svc.GetOrGenerate(ctx, "user-1", "intro", "hello there", "voice-1")
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := svc.GetOrGenerate(ctx, "user-1", "intro", "hello there", "voice-1")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.AudioURL, second.AudioURL)
	assert.Equal(t, 1, gen.count(), "identical text must synthesize once")

	entries, err := store.ListNarrations(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].AccessCount)
}

func TestGetOrGenerate_ScriptChangeMisses(t *testing.T) {
	store := newMemNarrationStore()
	gen := &countingGen{}
	svc := newTestService(store, gen, "24h")
	ctx := context.Background()

	_, err := svc.GetOrGenerate(ctx, "user-1", "intro", "hello there", "voice-1")
	require.NoError(t, err)
	_, err = svc.GetOrGenerate(ctx, "user-1", "intro", "hello there!", "voice-1")
	require.NoError(t, err)
	_, err = svc.GetOrGenerate(ctx, "user-1", "intro", "hello there", "voice-2")
	require.NoError(t, err)

	assert.Equal(t, 3, gen.count(), "any script or voice change must synthesize anew")
}

func TestGetOrGenerate_ExpiredEntryRegenerates(t *testing.T) {
	store := newMemNarrationStore()
	gen := &countingGen{}
	svc := newTestService(store, gen, "1ms")
	ctx := context.Background()

	_, err := svc.GetOrGenerate(ctx, "user-1", "intro", "hello there", "voice-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	result, err := svc.GetOrGenerate(ctx, "user-1", "intro", "hello there", "voice-1")
	require.NoError(t, err)
	assert.False(t, result.CacheHit, "expired entries are logically absent")
	assert.Equal(t, 2, gen.count())
}

func TestWarmModule(t *testing.T) {
	store := newMemNarrationStore()
	gen := &countingGen{}
	svc := newTestService(store, gen, "24h")

	warmed, err := svc.WarmModule(context.Background(), "user-1", "voice-1", "deepfake_basics")
	require.NoError(t, err)
	assert.Equal(t, 2, warmed, "warm count is capped by configuration")
	assert.Equal(t, 2, gen.count())

	_, err = svc.WarmModule(context.Background(), "user-1", "voice-1", "no_such_module")
	assert.Error(t, err)
}

func TestClearUser(t *testing.T) {
	store := newMemNarrationStore()
	gen := &countingGen{}
	svc := newTestService(store, gen, "24h")
	ctx := context.Background()

	_, err := svc.GetOrGenerate(ctx, "user-1", "intro", "hello", "voice-1")
	require.NoError(t, err)
	_, err = svc.GetOrGenerate(ctx, "user-1", "wrap_up", "bye", "voice-1")
	require.NoError(t, err)
	_, err = svc.GetOrGenerate(ctx, "user-2", "intro", "hello", "voice-2")
	require.NoError(t, err)

	deleted, err := svc.ClearUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	// user-2 is untouched
	stats, err := svc.UserStats(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)

	// cleared user regenerates on next request
	_, err = svc.GetOrGenerate(ctx, "user-1", "intro", "hello", "voice-1")
	require.NoError(t, err)
	assert.Equal(t, 4, gen.count())
}

func TestReaper_DeletesOnlyExpired(t *testing.T) {
	store := newMemNarrationStore()
	now := time.Now()

	expired := &models.NarrationCacheEntry{ID: "nar_old", UserID: "u", StepID: "a", ScriptHash: "h1", ExpiresAt: now.Add(-time.Minute)}
	live := &models.NarrationCacheEntry{ID: "nar_new", UserID: "u", StepID: "b", ScriptHash: "h2", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, store.PutNarration(context.Background(), expired))
	require.NoError(t, store.PutNarration(context.Background(), live))

	reaper := NewReaper(store, "0 */15 * * * *", common.GetLogger())
	deleted, err := reaper.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	remaining, err := store.ListNarrations(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "nar_new", remaining[0].ID)
}
