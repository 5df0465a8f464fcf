package generation

import (
	"testing"

	"github.com/mirageapp/mirage/internal/common"
	"github.com/mirageapp/mirage/internal/models"
)

func testResolver(placeholderURL string) *FallbackResolver {
	catalog := models.DefaultCatalog("https://assets.example.com")
	return NewFallbackResolver(catalog, placeholderURL, "showing a sample instead", common.GetLogger())
}

func TestResolve_DirectURLWins(t *testing.T) {
	r := testResolver("https://assets.example.com/placeholder.mp4")
	job := models.NewScenarioJob("u", models.JobTypeFaceSwap, "lottery_faceswap", 2)

	sub, ok := r.Resolve(job, "https://vendor.example.com/raw.png")
	if !ok || sub.Tier != TierDirectURL {
		t.Fatalf("expected tier 1, got ok=%v tier=%d", ok, sub.Tier)
	}
	if sub.URL != "https://vendor.example.com/raw.png" {
		t.Errorf("unexpected substitute URL %q", sub.URL)
	}
}

func TestResolve_SampleFromCatalog(t *testing.T) {
	r := testResolver("https://assets.example.com/placeholder.mp4")
	job := models.NewScenarioJob("u", models.JobTypeTalkingPhoto, "crime_video", 2)

	sub, ok := r.Resolve(job, "")
	if !ok || sub.Tier != TierSample {
		t.Fatalf("expected tier 2, got ok=%v tier=%d", ok, sub.Tier)
	}
	if sub.URL == "" || sub.Message == "" {
		t.Error("sample substitute missing URL or message")
	}
}

func TestResolve_PlaceholderFloor(t *testing.T) {
	r := testResolver("https://assets.example.com/placeholder.mp4")
	// Unknown key, so no catalog sample applies
	job := models.NewScenarioJob("u", models.JobTypeVoiceDub, "unknown_key", 2)

	sub, ok := r.Resolve(job, "")
	if !ok || sub.Tier != TierPlaceholder {
		t.Fatalf("expected tier 3, got ok=%v tier=%d", ok, sub.Tier)
	}
	if sub.Message != "showing a sample instead" {
		t.Errorf("placeholder message = %q", sub.Message)
	}
}

func TestResolve_TotalWithPlaceholderConfigured(t *testing.T) {
	r := testResolver("https://assets.example.com/placeholder.mp4")
	catalog := models.DefaultCatalog("https://assets.example.com")

	for _, spec := range catalog.Scenarios {
		job := models.NewScenarioJob("u", spec.JobType, spec.JobKey, 2)
		if _, ok := r.Resolve(job, ""); !ok {
			t.Errorf("resolver returned no substitute for %s", spec.JobKey)
		}
	}
}

func TestResolve_NoFloorWithoutPlaceholder(t *testing.T) {
	r := testResolver("")
	job := models.NewScenarioJob("u", models.JobTypeVoiceDub, "unknown_key", 2)

	if _, ok := r.Resolve(job, ""); ok {
		t.Error("expected no substitute without a sample or placeholder")
	}
}
