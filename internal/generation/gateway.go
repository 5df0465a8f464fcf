package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/mirageapp/mirage/internal/common"
	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
)

// Gateway implements interfaces.GenerationService against the vendor HTTP
// API. Long-running capabilities submit a task and poll it through the
// shared bounded poll primitive; narration is a single synchronous call.
// Generated binaries are re-uploaded through the blob store for a durable
// URL - when that upload fails the vendor URL is surfaced for Tier-1
// fallback instead of failing the job.
type Gateway struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	blobs    interfaces.BlobStore
	policies map[models.JobType]PollPolicy
	logger   arbor.ILogger
}

// NewGateway creates a vendor gateway from configuration
func NewGateway(cfg *common.GenerationConfig, blobs interfaces.BlobStore, logger arbor.ILogger) *Gateway {
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = perSecond
	}

	return &Gateway{
		baseURL: cfg.VendorBaseURL,
		apiKey:  cfg.VendorAPIKey,
		client: &http.Client{
			Timeout: common.Duration(cfg.RequestTimeout, 30*time.Second),
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		blobs:   blobs,
		policies: map[models.JobType]PollPolicy{
			models.JobTypeFaceSwap:     PolicyFromConfig(cfg.FaceSwapPoll),
			models.JobTypeTalkingPhoto: PolicyFromConfig(cfg.TalkingPhotoPoll),
			models.JobTypeVoiceDub:     PolicyFromConfig(cfg.VoiceDubPoll),
		},
		logger: logger,
	}
}

// Policy returns the poll policy configured for a job type
func (g *Gateway) Policy(jobType models.JobType) PollPolicy {
	if policy, ok := g.policies[jobType]; ok {
		return policy
	}
	return DefaultPollPolicy
}

// FaceSwap composites the user's face onto a scenario base image
func (g *Gateway) FaceSwap(ctx context.Context, userImageURL, baseImageURL string) (string, error) {
	return g.generate(ctx, models.JobTypeFaceSwap, "/v1/face-swap", map[string]string{
		"user_image_url": userImageURL,
		"base_image_url": baseImageURL,
	}, "image/png")
}

// TalkingPhoto animates a still image speaking the script
func (g *Gateway) TalkingPhoto(ctx context.Context, imageURL, voiceID, script string) (string, error) {
	return g.generate(ctx, models.JobTypeTalkingPhoto, "/v1/talking-photo", map[string]string{
		"image_url": imageURL,
		"voice_id":  voiceID,
		"script":    script,
	}, "video/mp4")
}

// VoiceDub re-voices source audio with the user's cloned voice
func (g *Gateway) VoiceDub(ctx context.Context, sourceAudioURL, voiceID, scenarioKey string) (string, error) {
	return g.generate(ctx, models.JobTypeVoiceDub, "/v1/voice-dub", map[string]string{
		"source_audio_url": sourceAudioURL,
		"voice_id":         voiceID,
		"scenario_key":     scenarioKey,
	}, "audio/mpeg")
}

// Narrate synthesizes the script with the given voice. Narration is fast
// enough that the vendor answers synchronously.
func (g *Gateway) Narrate(ctx context.Context, script, voiceID string) (string, float64, error) {
	var result struct {
		AudioURL string  `json:"audio_url"`
		Duration float64 `json:"duration"`
	}
	if err := g.post(ctx, "/v1/narration", map[string]string{
		"script":   script,
		"voice_id": voiceID,
	}, &result); err != nil {
		return "", 0, err
	}
	if result.AudioURL == "" {
		return "", 0, NewPermanentError("empty_result", "narration returned no audio URL")
	}

	durable, err := g.persist(ctx, result.AudioURL, "audio/mpeg")
	if err != nil {
		// Serve the vendor URL directly; narration has no fallback ladder
		g.logger.Warn().Err(err).Msg("Narration upload failed, serving vendor URL")
		return result.AudioURL, result.Duration, nil
	}
	return durable, result.Duration, nil
}

// taskResponse is the vendor's task status shape
type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"` // queued | processing | completed | failed
	URL    string `json:"url"`
	Error  struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Permanent bool   `json:"permanent"`
	} `json:"error"`
}

// generate submits a task and polls it to completion under the type's policy
func (g *Gateway) generate(ctx context.Context, jobType models.JobType, path string, payload map[string]string, contentType string) (string, error) {
	var submitted taskResponse
	if err := g.post(ctx, path, payload, &submitted); err != nil {
		return "", err
	}

	// Some capabilities answer inline without a task
	if submitted.Status == "completed" && submitted.URL != "" {
		return g.persistOrDirect(ctx, submitted.URL, contentType)
	}
	if submitted.TaskID == "" {
		return "", NewPermanentError("no_task", "vendor returned neither result nor task ID")
	}

	g.logger.Debug().
		Str("task_id", submitted.TaskID).
		Str("job_type", string(jobType)).
		Msg("Vendor task submitted, polling")

	var resultURL string
	err := Poll(ctx, g.Policy(jobType), func(ctx context.Context) (bool, error) {
		var status taskResponse
		if err := g.get(ctx, "/v1/tasks/"+submitted.TaskID, &status); err != nil {
			return false, err
		}
		switch status.Status {
		case "completed":
			if status.URL == "" {
				return false, NewPermanentError("empty_result", "vendor task completed without a URL")
			}
			resultURL = status.URL
			return true, nil
		case "failed":
			if status.Error.Permanent {
				return false, NewPermanentError(status.Error.Code, status.Error.Message)
			}
			return false, NewTransientError(status.Error.Code, status.Error.Message)
		default:
			// queued/processing - keep polling
			return false, nil
		}
	})
	if err != nil {
		return "", err
	}

	return g.persistOrDirect(ctx, resultURL, contentType)
}

// persistOrDirect uploads the vendor asset to the blob store; on upload
// failure it reports a permanent error carrying the direct vendor URL so
// the Tier-1 fallback applies without burning retry budget.
func (g *Gateway) persistOrDirect(ctx context.Context, vendorURL, contentType string) (string, error) {
	durable, err := g.persist(ctx, vendorURL, contentType)
	if err != nil {
		g.logger.Warn().Err(err).Str("vendor_url", vendorURL).Msg("Blob upload failed")
		return "", &VendorError{
			Code:      "storage_upload_failed",
			Message:   err.Error(),
			Permanent: true,
			DirectURL: vendorURL,
		}
	}
	return durable, nil
}

// persist downloads a vendor asset and re-uploads it for a durable URL
func (g *Gateway) persist(ctx context.Context, vendorURL, contentType string) (string, error) {
	if g.blobs == nil {
		return vendorURL, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vendorURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build asset download request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download vendor asset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vendor asset download returned %d", resp.StatusCode)
	}

	key := fmt.Sprintf("generated/%s/%s", time.Now().UTC().Format("2006-01-02"), uuid.New().String())
	url, err := g.blobs.Upload(ctx, key, contentType, resp.Body)
	if err != nil {
		return "", fmt.Errorf("blob upload failed: %w", err)
	}
	return url, nil
}

func (g *Gateway) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal vendor request: %w", err)
	}
	return g.do(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

func (g *Gateway) get(ctx context.Context, path string, out interface{}) error {
	return g.do(ctx, http.MethodGet, path, nil, out)
}

func (g *Gateway) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build vendor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// Network failures are transient - the vendor may recover
		return NewTransientError("network", err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return NewPermanentError("bad_response", fmt.Sprintf("failed to decode vendor response: %v", err))
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return NewTransientError(fmt.Sprintf("http_%d", resp.StatusCode), readErrorBody(resp.Body))
	default:
		return NewPermanentError(fmt.Sprintf("http_%d", resp.StatusCode), readErrorBody(resp.Body))
	}
}

func readErrorBody(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 1024))
	if err != nil || len(data) == 0 {
		return "no error detail"
	}
	return string(data)
}
