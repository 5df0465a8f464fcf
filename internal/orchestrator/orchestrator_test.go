package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirageapp/mirage/internal/common"
	"github.com/mirageapp/mirage/internal/generation"
	"github.com/mirageapp/mirage/internal/models"
)

func testCatalog() *models.ScenarioCatalog {
	return &models.ScenarioCatalog{
		Scenarios: []models.ScenarioSpec{
			{
				JobKey:          "lottery_faceswap",
				JobType:         models.JobTypeFaceSwap,
				BaseImageMale:   "https://assets.example.com/lottery-male.png",
				BaseImageFemale: "https://assets.example.com/lottery-female.png",
			},
			{
				JobKey:          "crime_faceswap",
				JobType:         models.JobTypeFaceSwap,
				BaseImageMale:   "https://assets.example.com/crime-male.png",
				BaseImageFemale: "https://assets.example.com/crime-female.png",
			},
			{
				JobKey:    "lottery_video",
				JobType:   models.JobTypeTalkingPhoto,
				Script:    "I won!",
				DependsOn: "lottery_faceswap",
				SampleURL: "https://assets.example.com/samples/lottery_video.mp4",
			},
			{
				JobKey:         "investment_call_audio",
				JobType:        models.JobTypeVoiceDub,
				SourceAudioURL: "https://assets.example.com/investment-call.mp3",
				SampleURL:      "https://assets.example.com/samples/investment_call.mp3",
				Mandatory:      true,
			},
		},
	}
}

type orchFixture struct {
	jobs  *memJobStorage
	users *memUserStorage
	gen   *fakeGen
	orch  *Orchestrator
}

func newOrchFixture(t *testing.T, catalog *models.ScenarioCatalog, gen *fakeGen, placeholderURL string, policy AggregatePolicy) *orchFixture {
	t.Helper()
	require.NoError(t, catalog.Validate())

	jobs := newMemJobStorage()
	users := newMemUserStorage()
	logger := common.GetLogger()

	fallback := generation.NewFallbackResolver(catalog, placeholderURL, "sample shown", logger)
	poller := generation.NewRetryPoller(jobs, fallback, logger)
	orch := NewOrchestrator(jobs, users, gen, poller, nopEvents{}, catalog, 2, policy, logger)

	return &orchFixture{jobs: jobs, users: users, gen: gen, orch: orch}
}

func claimAndRun(t *testing.T, f *orchFixture, req models.GenerationRequest) *models.UserGenerationState {
	t.Helper()
	_, claimed, err := f.users.ClaimGeneration(context.Background(), req.UserID, req)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, f.orch.Run(context.Background(), req))

	state, err := f.users.GetUserState(context.Background(), req.UserID)
	require.NoError(t, err)
	return state
}

func baseRequest() models.GenerationRequest {
	return models.GenerationRequest{
		UserID:   "user-1",
		ImageURL: "https://cdn.example.com/selfie.jpg",
		VoiceID:  "voice-1",
		Gender:   "female",
	}
}

func TestRun_FullSuccess(t *testing.T) {
	gen := &fakeGen{}
	f := newOrchFixture(t, testCatalog(), gen, "", PolicyLenient)

	state := claimAndRun(t, f, baseRequest())

	assert.Equal(t, models.GenerationStatusCompleted, state.Status)
	assert.Empty(t, state.Error)
	assert.Len(t, state.ResultURLs, 4)
	// The talking photo consumed the face swap output, not the raw selfie
	assert.Equal(t, "video:swapped:https://assets.example.com/lottery-female.png", state.ResultURLs["lottery_video"])
	assert.Equal(t, "dubbed:investment_call_audio", state.ResultURLs["investment_call_audio"])

	jobs, err := f.jobs.ListJobs(context.Background(), "user-1", nil)
	require.NoError(t, err)
	counts := models.CountJobs(jobs)
	assert.Equal(t, 4, counts.Completed)
	assert.Zero(t, counts.Failed)
	assert.Zero(t, counts.Fallback)
}

func TestRun_PhaseBarrier(t *testing.T) {
	gen := &fakeGen{}
	f := newOrchFixture(t, testCatalog(), gen, "", PolicyLenient)

	claimAndRun(t, f, baseRequest())

	// Every face swap call must precede every second-phase call
	lastSwap := -1
	firstPhase2 := len(gen.calls)
	for i, call := range gen.calls {
		switch call.kind {
		case "face_swap":
			if i > lastSwap {
				lastSwap = i
			}
		case "talking_photo", "voice_dub":
			if i < firstPhase2 {
				firstPhase2 = i
			}
		}
	}
	require.Len(t, gen.callsOf("face_swap"), 2)
	assert.Greater(t, firstPhase2, lastSwap, "second phase started before the face swap barrier")
}

func TestRun_DependencyFailureFallsBackWithoutVendorCall(t *testing.T) {
	gen := &fakeGen{
		faceSwapErr: map[string]error{
			// The lottery face swap fails permanently; no sample exists for it
			"https://assets.example.com/lottery-female.png": generation.NewPermanentError("bad_input", "no face detected"),
		},
	}
	f := newOrchFixture(t, testCatalog(), gen, "", PolicyLenient)

	state := claimAndRun(t, f, baseRequest())

	// The failed swap had no substitute, so the video's dependency is gone;
	// the video itself resolves through its catalog sample instead of the vendor
	assert.Empty(t, gen.callsOf("talking_photo"))

	video, err := f.jobs.GetJobByKey(context.Background(), "user-1", models.JobTypeTalkingPhoto, "lottery_video")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, video.Status)
	assert.True(t, video.Fallback)
	assert.Equal(t, "https://assets.example.com/samples/lottery_video.mp4", video.ResultURL)

	// Optional face swap failed outright, but the aggregate stays completed
	// under the lenient policy
	assert.Equal(t, models.GenerationStatusCompleted, state.Status)
	swap, err := f.jobs.GetJobByKey(context.Background(), "user-1", models.JobTypeFaceSwap, "lottery_faceswap")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, swap.Status)
}

func TestRun_MandatoryFailureFailsAggregate(t *testing.T) {
	catalog := testCatalog()
	// Strip the sample so the mandatory dub has no substitute
	catalog.Scenarios[3].SampleURL = ""
	gen := &fakeGen{
		voiceDubErr: map[string]error{
			"investment_call_audio": generation.NewPermanentError("bad_audio", "unsupported codec"),
		},
	}
	f := newOrchFixture(t, catalog, gen, "", PolicyLenient)

	state := claimAndRun(t, f, baseRequest())

	assert.Equal(t, models.GenerationStatusFailed, state.Status)
	assert.Contains(t, state.Error, "investment_call_audio")
}

func TestRun_StrictPolicyFailsOnAnyFailedJob(t *testing.T) {
	catalog := testCatalog()
	catalog.Scenarios[3].Mandatory = false
	catalog.Scenarios[3].SampleURL = ""
	gen := &fakeGen{
		voiceDubErr: map[string]error{
			"investment_call_audio": generation.NewPermanentError("bad_audio", "unsupported codec"),
		},
	}
	f := newOrchFixture(t, catalog, gen, "", PolicyStrict)

	state := claimAndRun(t, f, baseRequest())

	assert.Equal(t, models.GenerationStatusFailed, state.Status)
	assert.Contains(t, state.Error, "investment_call_audio")
}

func TestRun_PlaceholderKeepsAggregateCompleted(t *testing.T) {
	catalog := testCatalog()
	catalog.Scenarios[3].SampleURL = ""
	gen := &fakeGen{
		voiceDubErr: map[string]error{
			"investment_call_audio": generation.NewPermanentError("bad_audio", "unsupported codec"),
		},
	}
	// With a placeholder floor the mandatory dub still gets a usable URL
	f := newOrchFixture(t, catalog, gen, "https://assets.example.com/placeholder.mp3", PolicyLenient)

	state := claimAndRun(t, f, baseRequest())

	assert.Equal(t, models.GenerationStatusCompleted, state.Status)
	assert.Equal(t, "https://assets.example.com/placeholder.mp3", state.ResultURLs["investment_call_audio"])
}

func TestRun_ResumeSkipsCompletedJobs(t *testing.T) {
	gen := &fakeGen{}
	f := newOrchFixture(t, testCatalog(), gen, "", PolicyLenient)
	req := baseRequest()

	claimAndRun(t, f, req)
	firstRunCalls := len(gen.calls)

	// Second run: aggregate completed after the first, so reset it the way
	// a redelivered message would find it mid-crash recovery
	_, claimed, err := f.users.ClaimGeneration(context.Background(), req.UserID, req)
	require.NoError(t, err)
	require.False(t, claimed, "completed aggregate must not re-claim")

	require.NoError(t, f.orch.Run(context.Background(), req))
	assert.Equal(t, firstRunCalls, len(gen.calls), "terminal jobs must not be re-executed")
}

func TestRun_RecoversJobStrandedInProgress(t *testing.T) {
	gen := &fakeGen{}
	f := newOrchFixture(t, testCatalog(), gen, "", PolicyLenient)
	req := baseRequest()

	// Simulate a crash: a previous process claimed the dub job and died
	// before finishing it
	stranded, created, err := f.jobs.CreateJob(context.Background(),
		models.NewScenarioJob(req.UserID, models.JobTypeVoiceDub, "investment_call_audio", 2))
	require.NoError(t, err)
	require.True(t, created)
	_, err = f.jobs.TransitionJob(context.Background(), stranded.ID, models.JobStatusPending, func(j *models.ScenarioJob) {
		j.MarkInProgress()
	})
	require.NoError(t, err)

	state := claimAndRun(t, f, req)

	// The stranded job was failed, escalated against its budget, and re-run
	dub, err := f.jobs.GetJobByKey(context.Background(), req.UserID, models.JobTypeVoiceDub, "investment_call_audio")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, dub.Status)
	assert.Equal(t, 1, dub.RetryCount)
	assert.Equal(t, models.GenerationStatusCompleted, state.Status)
	assert.Len(t, gen.callsOf("voice_dub"), 1)
}
