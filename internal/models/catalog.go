package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ScenarioSpec declares one catalog entry: a (job_type, job_key) pair with
// the inputs its generation call needs. The catalog is the closed
// enumeration of valid jobs - job rows are only ever created from it.
type ScenarioSpec struct {
	JobKey  string  `toml:"job_key" validate:"required"`
	JobType JobType `toml:"job_type" validate:"required,oneof=face_swap talking_photo voice_dub"`

	// Face swap: scenario base image per profile gender
	BaseImageMale   string `toml:"base_image_male" validate:"omitempty,url"`
	BaseImageFemale string `toml:"base_image_female" validate:"omitempty,url"`

	// Talking photo: spoken script and the face-swap key it consumes
	Script    string `toml:"script"`
	DependsOn string `toml:"depends_on"`

	// Voice dub: source audio to re-voice
	SourceAudioURL string `toml:"source_audio_url" validate:"omitempty,url"`

	// Tier-2 fallback sample asset for this key; empty means no sample
	SampleURL string `toml:"sample_url" validate:"omitempty,url"`

	// Mandatory jobs flip the aggregate to failed when they end up with no
	// usable URL at all; optional jobs degrade silently
	Mandatory bool `toml:"mandatory"`

	MaxRetries int `toml:"max_retries" validate:"gte=0"`
}

// ScenarioCatalog is the full job set generated for each user
type ScenarioCatalog struct {
	Scenarios []ScenarioSpec `toml:"scenarios" validate:"required,min=1,dive"`
}

var catalogValidator = validator.New()

// Validate checks field constraints and cross-entry consistency: keys are
// unique and every talking_photo dependency names a face_swap entry.
func (c *ScenarioCatalog) Validate() error {
	if err := catalogValidator.Struct(c); err != nil {
		return fmt.Errorf("catalog validation failed: %w", err)
	}

	byKey := make(map[string]ScenarioSpec, len(c.Scenarios))
	for _, spec := range c.Scenarios {
		if _, exists := byKey[spec.JobKey]; exists {
			return fmt.Errorf("duplicate job key: %s", spec.JobKey)
		}
		byKey[spec.JobKey] = spec
	}

	for _, spec := range c.Scenarios {
		switch spec.JobType {
		case JobTypeFaceSwap:
			if spec.BaseImageMale == "" || spec.BaseImageFemale == "" {
				return fmt.Errorf("face_swap %s: base images for both genders are required", spec.JobKey)
			}
		case JobTypeTalkingPhoto:
			if spec.Script == "" {
				return fmt.Errorf("talking_photo %s: script is required", spec.JobKey)
			}
			dep, ok := byKey[spec.DependsOn]
			if !ok {
				return fmt.Errorf("talking_photo %s: depends_on %q is not in the catalog", spec.JobKey, spec.DependsOn)
			}
			if dep.JobType != JobTypeFaceSwap {
				return fmt.Errorf("talking_photo %s: depends_on %q is not a face_swap job", spec.JobKey, spec.DependsOn)
			}
		case JobTypeVoiceDub:
			if spec.SourceAudioURL == "" {
				return fmt.Errorf("voice_dub %s: source audio URL is required", spec.JobKey)
			}
		}
	}

	return nil
}

// Spec returns the catalog entry for a job key
func (c *ScenarioCatalog) Spec(jobKey string) (ScenarioSpec, bool) {
	for _, spec := range c.Scenarios {
		if spec.JobKey == jobKey {
			return spec, true
		}
	}
	return ScenarioSpec{}, false
}

// ByType returns the catalog entries of one job type, in catalog order
func (c *ScenarioCatalog) ByType(jobType JobType) []ScenarioSpec {
	var specs []ScenarioSpec
	for _, spec := range c.Scenarios {
		if spec.JobType == jobType {
			specs = append(specs, spec)
		}
	}
	return specs
}

// BaseImage selects the scenario base image for a profile gender,
// defaulting to the male asset when the gender is unknown.
func (s ScenarioSpec) BaseImage(gender string) string {
	if gender == "female" {
		return s.BaseImageFemale
	}
	return s.BaseImageMale
}

// DefaultCatalog returns the built-in scenario set: two face swaps, the
// two talking photos that consume them, and two independent voice dubs.
func DefaultCatalog(assetBase string) *ScenarioCatalog {
	return &ScenarioCatalog{
		Scenarios: []ScenarioSpec{
			{
				JobKey:          "lottery_faceswap",
				JobType:         JobTypeFaceSwap,
				BaseImageMale:   assetBase + "/scenarios/lottery-male.png",
				BaseImageFemale: assetBase + "/scenarios/lottery-female.png",
				SampleURL:       assetBase + "/samples/lottery_faceswap.png",
			},
			{
				JobKey:          "crime_faceswap",
				JobType:         JobTypeFaceSwap,
				BaseImageMale:   assetBase + "/scenarios/crime-male.png",
				BaseImageFemale: assetBase + "/scenarios/crime-female.png",
				SampleURL:       assetBase + "/samples/crime_faceswap.png",
			},
			{
				JobKey:    "lottery_video",
				JobType:   JobTypeTalkingPhoto,
				Script:    "I won first prize! I'm so happy, thank you!",
				DependsOn: "lottery_faceswap",
				SampleURL: assetBase + "/samples/lottery_video.mp4",
			},
			{
				JobKey:    "crime_video",
				JobType:   JobTypeTalkingPhoto,
				Script:    "It wasn't me... please stop filming. I'm sorry.",
				DependsOn: "crime_faceswap",
				SampleURL: assetBase + "/samples/crime_video.mp4",
			},
			{
				JobKey:         "investment_call_audio",
				JobType:        JobTypeVoiceDub,
				SourceAudioURL: assetBase + "/scenarios/investment-call.mp3",
				SampleURL:      assetBase + "/samples/investment_call.mp3",
			},
			{
				JobKey:         "accident_call_audio",
				JobType:        JobTypeVoiceDub,
				SourceAudioURL: assetBase + "/scenarios/accident-call.mp3",
				SampleURL:      assetBase + "/samples/accident_call.mp3",
			},
		},
	}
}
