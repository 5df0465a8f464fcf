package generation

import (
	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/models"
)

// Fallback tiers, first applicable wins
const (
	TierDirectURL   = 1 // Vendor's own URL survived even though upload failed
	TierSample      = 2 // Scenario-specific canned sample from the catalog
	TierPlaceholder = 3 // Generic placeholder with explanatory message
)

// Substitute is the outcome of the degradation ladder
type Substitute struct {
	URL     string
	Message string
	Tier    int
}

// FallbackResolver selects substitute content for a failed or timed-out
// generation attempt. With a placeholder configured the ladder has a floor
// and Resolve is total; deployments may leave the placeholder empty for
// intermediate asset types, in which case an unresolvable job stays failed.
type FallbackResolver struct {
	catalog            *models.ScenarioCatalog
	placeholderURL     string
	placeholderMessage string
	logger             arbor.ILogger
}

// NewFallbackResolver creates a resolver over the scenario catalog
func NewFallbackResolver(catalog *models.ScenarioCatalog, placeholderURL, placeholderMessage string, logger arbor.ILogger) *FallbackResolver {
	return &FallbackResolver{
		catalog:            catalog,
		placeholderURL:     placeholderURL,
		placeholderMessage: placeholderMessage,
		logger:             logger,
	}
}

// Resolve walks the tier ladder for a job. directURL is the vendor's own
// asset URL when one survived the failed attempt (Tier 1).
func (r *FallbackResolver) Resolve(job *models.ScenarioJob, directURL string) (Substitute, bool) {
	if directURL != "" {
		r.logger.Info().
			Str("job_key", job.JobKey).
			Msg("Falling back to direct vendor URL")
		return Substitute{URL: directURL, Message: "vendor asset served directly; storage upload failed", Tier: TierDirectURL}, true
	}

	if spec, ok := r.catalog.Spec(job.JobKey); ok && spec.SampleURL != "" {
		r.logger.Info().
			Str("job_key", job.JobKey).
			Str("sample_url", spec.SampleURL).
			Msg("Falling back to scenario sample asset")
		return Substitute{URL: spec.SampleURL, Message: "generation unavailable; showing scenario sample", Tier: TierSample}, true
	}

	if r.placeholderURL != "" {
		r.logger.Warn().
			Str("job_key", job.JobKey).
			Msg("Falling back to generic placeholder asset")
		return Substitute{URL: r.placeholderURL, Message: r.placeholderMessage, Tier: TierPlaceholder}, true
	}

	r.logger.Warn().
		Str("job_key", job.JobKey).
		Str("job_type", string(job.JobType)).
		Msg("No fallback tier applicable")
	return Substitute{}, false
}
