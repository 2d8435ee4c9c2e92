package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// timeOfDayPattern validates "HH:MM" trigger times.
var timeOfDayPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// weekdayNames maps accepted day-of-week spellings to cron's numbering.
var weekdayNames = map[string]int{
	"sunday": 0, "sun": 0,
	"monday": 1, "mon": 1,
	"tuesday": 2, "tue": 2,
	"wednesday": 3, "wed": 3,
	"thursday": 4, "thu": 4,
	"friday": 5, "fri": 5,
	"saturday": 6, "sat": 6,
}

// Load loads and validates a GitPulse configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	// Pipeline section
	if cfg.Pipeline.DataDir == "" {
		cfg.Pipeline.DataDir = "./data"
	}
	if dir := os.Getenv("GITPULSE_DATA_DIR"); dir != "" {
		cfg.Pipeline.DataDir = dir
	}
	if cfg.Pipeline.Source == "" {
		cfg.Pipeline.Source = "ghes"
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 5
	}
	if cfg.Pipeline.MaxRetries == 0 {
		cfg.Pipeline.MaxRetries = 5
	}

	// Pool section
	if cfg.Pool.Size == 0 {
		cfg.Pool.Size = 3
	}
	if cfg.Pool.AcquireTimeout == 0 {
		cfg.Pool.AcquireTimeout = 30
	}
	if token := os.Getenv("GITPULSE_GHES_TOKEN"); token != "" && cfg.Pool.Token == "" {
		cfg.Pool.Token = token
	}

	// Scheduler section
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "Local"
	}
	if cfg.Scheduler.Daily.Time == "" {
		cfg.Scheduler.Daily.Time = "06:00"
	}
	if cfg.Scheduler.Daily.Workers == 0 {
		cfg.Scheduler.Daily.Workers = 5
	}
	if cfg.Scheduler.Weekly.Day == "" {
		cfg.Scheduler.Weekly.Day = "monday"
	}
	if cfg.Scheduler.Weekly.Time == "" {
		cfg.Scheduler.Weekly.Time = "07:00"
	}
	if cfg.Scheduler.Monthly.Day == 0 {
		cfg.Scheduler.Monthly.Day = 1
	}
	if cfg.Scheduler.Monthly.Time == "" {
		cfg.Scheduler.Monthly.Time = "07:30"
	}
	if cfg.Scheduler.Yearly.Month == 0 {
		cfg.Scheduler.Yearly.Month = 1
	}
	if cfg.Scheduler.Yearly.Day == 0 {
		cfg.Scheduler.Yearly.Day = 2
	}
	if cfg.Scheduler.Yearly.Time == "" {
		cfg.Scheduler.Yearly.Time = "08:00"
	}
	if cfg.Scheduler.Enabled == nil {
		enabled := true
		cfg.Scheduler.Enabled = &enabled
	}
	if !cfg.Scheduler.Notify.OnFailure && !cfg.Scheduler.Notify.OnSuccess {
		cfg.Scheduler.Notify.OnFailure = true
	}

	// History section
	if cfg.History.Driver == "" {
		cfg.History.Driver = "json"
	}
	if cfg.History.Path == "" {
		cfg.History.Path = cfg.Pipeline.DataDir + "/history.json"
	}
	if cfg.History.MaxEntries == 0 {
		cfg.History.MaxEntries = 100
	}

	// LLM section
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if key := os.Getenv("GITPULSE_LLM_API_KEY"); key != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}
	if cfg.LLM.BatchPoll == 0 {
		cfg.LLM.BatchPoll = 60
	}
	if cfg.LLM.QueryBuffer == 0 {
		cfg.LLM.QueryBuffer = 16
	}

	// Logging section
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
}

// validate checks the configuration for errors and inconsistencies.
func validate(cfg *Config) error {
	if cfg.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if cfg.Pipeline.MaxRetries < 1 {
		return fmt.Errorf("pipeline.max_retries must be at least 1")
	}

	if cfg.Pool.Size < 1 {
		return fmt.Errorf("pool.size must be at least 1")
	}
	if cfg.Pool.AcquireTimeout < 1 {
		return fmt.Errorf("pool.acquire_timeout_sec must be at least 1")
	}

	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Scheduler.Timezone, err)
	}
	if err := ValidateTimeOfDay(cfg.Scheduler.Daily.Time); err != nil {
		return fmt.Errorf("scheduler.daily.time: %w", err)
	}
	if err := ValidateTimeOfDay(cfg.Scheduler.Weekly.Time); err != nil {
		return fmt.Errorf("scheduler.weekly.time: %w", err)
	}
	if _, ok := weekdayNames[strings.ToLower(cfg.Scheduler.Weekly.Day)]; !ok {
		return fmt.Errorf("invalid scheduler.weekly.day: %s", cfg.Scheduler.Weekly.Day)
	}
	if err := ValidateTimeOfDay(cfg.Scheduler.Monthly.Time); err != nil {
		return fmt.Errorf("scheduler.monthly.time: %w", err)
	}
	if cfg.Scheduler.Monthly.Day < 1 || cfg.Scheduler.Monthly.Day > 28 {
		return fmt.Errorf("scheduler.monthly.day must be 1..28, got %d", cfg.Scheduler.Monthly.Day)
	}
	if err := ValidateTimeOfDay(cfg.Scheduler.Yearly.Time); err != nil {
		return fmt.Errorf("scheduler.yearly.time: %w", err)
	}
	if cfg.Scheduler.Yearly.Month < 1 || cfg.Scheduler.Yearly.Month > 12 {
		return fmt.Errorf("scheduler.yearly.month must be 1..12, got %d", cfg.Scheduler.Yearly.Month)
	}
	if cfg.Scheduler.Yearly.Day < 1 || cfg.Scheduler.Yearly.Day > 28 {
		return fmt.Errorf("scheduler.yearly.day must be 1..28, got %d", cfg.Scheduler.Yearly.Day)
	}

	validDrivers := map[string]bool{
		"json":  true,
		"bbolt": true,
	}
	if !validDrivers[cfg.History.Driver] {
		return fmt.Errorf("invalid history driver: %s (must be 'json' or 'bbolt')", cfg.History.Driver)
	}
	if cfg.History.MaxEntries < 1 {
		return fmt.Errorf("history.max_entries must be at least 1")
	}

	if cfg.LLM.Provider != "openai" {
		return fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
	if cfg.LLM.BatchPoll < 1 {
		return fmt.Errorf("llm.batch_poll_sec must be at least 1")
	}

	return nil
}

// ValidateTimeOfDay checks an "HH:MM" trigger time.
func ValidateTimeOfDay(s string) error {
	if !timeOfDayPattern.MatchString(strings.TrimSpace(s)) {
		return fmt.Errorf("invalid time of day %q (expected HH:MM)", s)
	}
	return nil
}

// Weekday resolves a configured day-of-week name to cron's 0-6 numbering.
func Weekday(name string) (int, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown day of week: %s", name)
	}
	return d, nil
}
