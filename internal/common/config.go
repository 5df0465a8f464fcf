package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/mirageapp/mirage/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Queue       QueueConfig      `toml:"queue"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	Generation  GenerationConfig `toml:"generation"`
	Fallback    FallbackConfig   `toml:"fallback"`
	Narration   NarrationConfig  `toml:"narration"`
	Scenarios   ScenariosConfig  `toml:"scenarios"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "30m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before dead-letter
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// PollConfig parameterizes the bounded fixed-interval poll primitive for
// one job type. Video generation legitimately takes longer than image
// generation, so each capability carries its own ceiling.
type PollConfig struct {
	InitialDelay string `toml:"initial_delay"` // Delay before the first poll
	Interval     string `toml:"interval"`      // Fixed interval between polls
	MaxAttempts  int    `toml:"max_attempts"`  // Hard attempt ceiling
}

// GenerationConfig configures the vendor gateway and per-type poll policies
type GenerationConfig struct {
	VendorBaseURL   string `toml:"vendor_base_url"` // Generation vendor gateway base URL
	VendorAPIKey    string `toml:"vendor_api_key"`
	BlobBaseURL     string `toml:"blob_base_url"`    // Blob store upload endpoint
	RequestTimeout  string `toml:"request_timeout"`  // Per-HTTP-request timeout
	RatePerSecond   int    `toml:"rate_per_second"`  // Vendor call rate limit
	RateBurst       int    `toml:"rate_burst"`       // Vendor call burst allowance
	MaxRetries      int    `toml:"max_retries"`      // Per-job retry budget
	AggregatePolicy string `toml:"aggregate_policy"` // "lenient" or "strict": whether any hard-failed job fails the aggregate

	FaceSwapPoll     PollConfig `toml:"face_swap_poll"`
	TalkingPhotoPoll PollConfig `toml:"talking_photo_poll"`
	VoiceDubPoll     PollConfig `toml:"voice_dub_poll"`
}

// FallbackConfig registers the degradation ladder's canned assets
type FallbackConfig struct {
	AssetBase          string `toml:"asset_base"`          // Base URL for scenario and sample assets
	PlaceholderURL     string `toml:"placeholder_url"`     // Tier-3 generic placeholder asset
	PlaceholderMessage string `toml:"placeholder_message"` // User-visible explanation for the placeholder
}

// NarrationConfig configures the narration cache and its reaper
type NarrationConfig struct {
	TTL            string `toml:"ttl"`             // Cache entry lifetime, e.g. "24h"
	ReaperSchedule string `toml:"reaper_schedule"` // Cron schedule for the expiry reaper
	WarmSteps      int    `toml:"warm_steps"`      // Steps pre-generated by WarmModule
}

// ScenariosConfig optionally overrides the built-in scenario catalog
type ScenariosConfig struct {
	CatalogFile string `toml:"catalog_file"` // TOML file with a [[scenarios]] list; empty uses the default catalog
}

// NewDefaultConfig returns the default configuration
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4, // Runs are heavyweight; a run fans out internally per phase
			VisibilityTimeout: "30m",
			MaxReceive:        3,
			QueueName:         "mirage_generation",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Generation: GenerationConfig{
			VendorBaseURL:   "http://localhost:9800",
			BlobBaseURL:     "http://localhost:9810",
			RequestTimeout:  "30s",
			RatePerSecond:   5,
			RateBurst:       10,
			MaxRetries:      models.DefaultMaxRetries,
			AggregatePolicy: "lenient",
			// ~4 minute ceiling for images
			FaceSwapPoll: PollConfig{InitialDelay: "5s", Interval: "10s", MaxAttempts: 24},
			// Video generation takes longer - ~8 minute ceiling
			TalkingPhotoPoll: PollConfig{InitialDelay: "5s", Interval: "10s", MaxAttempts: 48},
			VoiceDubPoll:     PollConfig{InitialDelay: "5s", Interval: "10s", MaxAttempts: 24},
		},
		Fallback: FallbackConfig{
			AssetBase:          "https://assets.mirage.local",
			PlaceholderURL:     "https://assets.mirage.local/samples/placeholder.mp4",
			PlaceholderMessage: "Personalized content is unavailable right now; showing a sample instead.",
		},
		Narration: NarrationConfig{
			TTL:            "24h",
			ReaperSchedule: "0 */15 * * * *", // Every 15 minutes
			WarmSteps:      3,
		},
	}
}

// LoadFromFile loads configuration from a single TOML file path
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MIRAGE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("MIRAGE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MIRAGE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if concurrency := os.Getenv("MIRAGE_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if badgerPath := os.Getenv("MIRAGE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("MIRAGE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("MIRAGE_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if base := os.Getenv("MIRAGE_VENDOR_BASE_URL"); base != "" {
		config.Generation.VendorBaseURL = base
	}
	if key := os.Getenv("MIRAGE_VENDOR_API_KEY"); key != "" {
		config.Generation.VendorAPIKey = key
	}
	if base := os.Getenv("MIRAGE_BLOB_BASE_URL"); base != "" {
		config.Generation.BlobBaseURL = base
	}
	if policy := os.Getenv("MIRAGE_AGGREGATE_POLICY"); policy != "" {
		config.Generation.AggregatePolicy = policy
	}

	if ttl := os.Getenv("MIRAGE_NARRATION_TTL"); ttl != "" {
		config.Narration.TTL = ttl
	}
}

// ApplyFlagOverrides applies CLI flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks durations, schedules, and enumerated fields
func (c *Config) Validate() error {
	durations := map[string]string{
		"queue.poll_interval":        c.Queue.PollInterval,
		"queue.visibility_timeout":   c.Queue.VisibilityTimeout,
		"generation.request_timeout": c.Generation.RequestTimeout,
		"narration.ttl":              c.Narration.TTL,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	for name, pc := range map[string]PollConfig{
		"face_swap_poll":     c.Generation.FaceSwapPoll,
		"talking_photo_poll": c.Generation.TalkingPhotoPoll,
		"voice_dub_poll":     c.Generation.VoiceDubPoll,
	} {
		if _, err := time.ParseDuration(pc.InitialDelay); err != nil {
			return fmt.Errorf("invalid initial_delay for %s: %w", name, err)
		}
		if _, err := time.ParseDuration(pc.Interval); err != nil {
			return fmt.Errorf("invalid interval for %s: %w", name, err)
		}
		if pc.MaxAttempts <= 0 {
			return fmt.Errorf("max_attempts for %s must be positive", name)
		}
	}

	switch c.Generation.AggregatePolicy {
	case "lenient", "strict":
	default:
		return fmt.Errorf("invalid aggregate_policy %q (want lenient or strict)", c.Generation.AggregatePolicy)
	}

	if err := ValidateSchedule(c.Narration.ReaperSchedule); err != nil {
		return fmt.Errorf("invalid narration.reaper_schedule: %w", err)
	}

	return nil
}

// ValidateSchedule checks a 6-field cron expression (with seconds)
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("schedule is empty")
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}

// Duration parses a config duration string, falling back on parse failure
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

// LoadCatalog resolves the scenario catalog: the configured TOML file when
// set, otherwise the built-in default set.
func (c *Config) LoadCatalog() (*models.ScenarioCatalog, error) {
	if c.Scenarios.CatalogFile == "" {
		catalog := models.DefaultCatalog(c.Fallback.AssetBase)
		if err := catalog.Validate(); err != nil {
			return nil, fmt.Errorf("default catalog invalid: %w", err)
		}
		return catalog, nil
	}

	data, err := os.ReadFile(c.Scenarios.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", c.Scenarios.CatalogFile, err)
	}

	var catalog models.ScenarioCatalog
	if err := toml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", c.Scenarios.CatalogFile, err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("catalog file %s invalid: %w", c.Scenarios.CatalogFile, err)
	}
	return &catalog, nil
}
