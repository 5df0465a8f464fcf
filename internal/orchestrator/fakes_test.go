package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
)

// memJobStorage mirrors the badger JobStorage compare-and-swap contract
type memJobStorage struct {
	mu   sync.Mutex
	byID map[string]*models.ScenarioJob
}

func newMemJobStorage() *memJobStorage {
	return &memJobStorage{byID: make(map[string]*models.ScenarioJob)}
}

func (s *memJobStorage) CreateJob(ctx context.Context, job *models.ScenarioJob) (*models.ScenarioJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.UserID == job.UserID && existing.JobType == job.JobType && existing.JobKey == job.JobKey {
			clone := *existing
			return &clone, false, nil
		}
	}
	clone := *job
	s.byID[job.ID] = &clone
	result := clone
	return &result, true, nil
}

func (s *memJobStorage) GetJob(ctx context.Context, jobID string) (*models.ScenarioJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.byID[jobID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *memJobStorage) GetJobByKey(ctx context.Context, userID string, jobType models.JobType, jobKey string) (*models.ScenarioJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.byID {
		if job.UserID == userID && job.JobType == jobType && job.JobKey == jobKey {
			clone := *job
			return &clone, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (s *memJobStorage) ListJobs(ctx context.Context, userID string, opts *interfaces.JobListOptions) ([]*models.ScenarioJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*models.ScenarioJob
	for _, job := range s.byID {
		if job.UserID != userID {
			continue
		}
		clone := *job
		jobs = append(jobs, &clone)
	}
	return jobs, nil
}

func (s *memJobStorage) TransitionJob(ctx context.Context, jobID string, from models.JobStatus, mutate func(*models.ScenarioJob)) (*models.ScenarioJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byID[jobID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if job.Status != from {
		return nil, fmt.Errorf("%w: job is %s, expected %s", interfaces.ErrInvalidTransition, job.Status, from)
	}

	clone := *job
	mutate(&clone)

	if clone.Status != from && !models.CanTransition(from, clone.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, from, clone.Status)
	}
	if from == models.JobStatusFailed && clone.Status == models.JobStatusPending && clone.RetryCount > clone.MaxRetries {
		return nil, fmt.Errorf("%w: retry budget exhausted", interfaces.ErrInvalidTransition)
	}

	s.byID[jobID] = &clone
	result := clone
	return &result, nil
}

// memUserStorage mirrors the badger UserStorage claim semantics
type memUserStorage struct {
	mu     sync.Mutex
	states map[string]*models.UserGenerationState
}

func newMemUserStorage() *memUserStorage {
	return &memUserStorage{states: make(map[string]*models.UserGenerationState)}
}

func (s *memUserStorage) GetUserState(ctx context.Context, userID string) (*models.UserGenerationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[userID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	clone := *state
	return &clone, nil
}

func (s *memUserStorage) SaveUserState(ctx context.Context, state *models.UserGenerationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *state
	s.states[state.UserID] = &clone
	return nil
}

func (s *memUserStorage) ClaimGeneration(ctx context.Context, userID string, req models.GenerationRequest) (models.GenerationStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok {
		state = models.NewUserGenerationState(userID)
		s.states[userID] = state
	}

	switch state.Status {
	case models.GenerationStatusPending, models.GenerationStatusFailed:
		now := time.Now()
		state.Status = models.GenerationStatusInProgress
		state.ImageURL = req.ImageURL
		state.VoiceID = req.VoiceID
		state.Gender = req.Gender
		state.StartedAt = &now
		state.Error = ""
		state.UpdatedAt = now
		return state.Status, true, nil
	default:
		return state.Status, false, nil
	}
}

func (s *memUserStorage) CompleteGeneration(ctx context.Context, userID string, status models.GenerationStatus, errMsg string, resultURLs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok || state.Status != models.GenerationStatusInProgress {
		return nil
	}
	now := time.Now()
	state.Status = status
	state.Error = errMsg
	state.CompletedAt = &now
	state.UpdatedAt = now
	if state.ResultURLs == nil {
		state.ResultURLs = make(map[string]string)
	}
	for key, url := range resultURLs {
		state.ResultURLs[key] = url
	}
	return nil
}

// memQueue is an in-memory QueueManager
type memQueue struct {
	mu       sync.Mutex
	messages []models.QueueMessage
}

func (q *memQueue) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

func (q *memQueue) Receive(ctx context.Context) (*models.QueueMessage, func() error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil, nil, models.ErrNoMessage
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return &msg, func() error { return nil }, nil
}

func (q *memQueue) Close() error { return nil }

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// recordedCall is one vendor invocation in arrival order
type recordedCall struct {
	kind string
	key  string
}

// fakeGen is a scripted GenerationService that records call order
type fakeGen struct {
	mu    sync.Mutex
	calls []recordedCall

	// faceSwapErr fails FaceSwap calls keyed by base image URL
	faceSwapErr map[string]error
	// voiceDubErr fails VoiceDub calls keyed by scenario key
	voiceDubErr map[string]error
}

func (g *fakeGen) record(kind, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, recordedCall{kind: kind, key: key})
}

func (g *fakeGen) callsOf(kind string) []recordedCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []recordedCall
	for _, c := range g.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (g *fakeGen) FaceSwap(ctx context.Context, userImageURL, baseImageURL string) (string, error) {
	g.record("face_swap", baseImageURL)
	if err, ok := g.faceSwapErr[baseImageURL]; ok {
		return "", err
	}
	return "swapped:" + baseImageURL, nil
}

func (g *fakeGen) TalkingPhoto(ctx context.Context, imageURL, voiceID, script string) (string, error) {
	g.record("talking_photo", imageURL)
	return "video:" + imageURL, nil
}

func (g *fakeGen) VoiceDub(ctx context.Context, sourceAudioURL, voiceID, scenarioKey string) (string, error) {
	g.record("voice_dub", scenarioKey)
	if err, ok := g.voiceDubErr[scenarioKey]; ok {
		return "", err
	}
	return "dubbed:" + scenarioKey, nil
}

func (g *fakeGen) Narrate(ctx context.Context, script, voiceID string) (string, float64, error) {
	g.record("narrate", script)
	return "narration:" + voiceID, 2.5, nil
}

// nopEvents drops all events
type nopEvents struct{}

func (nopEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) error   { return nil }
func (nopEvents) Unsubscribe(interfaces.EventType, interfaces.EventHandler) error { return nil }
func (nopEvents) Publish(context.Context, interfaces.Event) error                 { return nil }
func (nopEvents) PublishSync(context.Context, interfaces.Event) error             { return nil }
func (nopEvents) Close() error                                                    { return nil }
