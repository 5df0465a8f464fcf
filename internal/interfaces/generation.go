package interfaces

import (
	"context"
	"io"
)

// GenerationService wraps the external content generation vendors behind a
// uniform capability interface. Each call is synchronous from the caller's
// view - vendor-side submit/poll cycles are hidden inside the
// implementation - and returns a distinguishable transient-vs-permanent
// error (see generation.VendorError).
type GenerationService interface {
	// FaceSwap composites the user's face onto a scenario base image and
	// returns the URL of the generated image.
	FaceSwap(ctx context.Context, userImageURL, baseImageURL string) (string, error)

	// TalkingPhoto animates a still image speaking the script with the
	// user's cloned voice and returns the URL of the generated video.
	TalkingPhoto(ctx context.Context, imageURL, voiceID, script string) (string, error)

	// VoiceDub re-voices source audio with the user's cloned voice and
	// returns the URL of the generated audio.
	VoiceDub(ctx context.Context, sourceAudioURL, voiceID, scenarioKey string) (string, error)

	// Narrate synthesizes the script with the given voice and returns the
	// URL of the generated clip plus its duration in seconds.
	Narrate(ctx context.Context, script, voiceID string) (url string, duration float64, err error)
}

// BlobStore uploads generated binaries and returns a durable public URL.
// Upload failures never fail a job - the direct vendor URL is the Tier-1
// fallback.
type BlobStore interface {
	Upload(ctx context.Context, key string, contentType string, body io.Reader) (string, error)
}
