package config

// Config is the top-level configuration structure for GitPulse.
type Config struct {
	Pipeline  Pipeline  `yaml:"pipeline"`
	Pool      Pool      `yaml:"pool"`
	Scheduler Scheduler `yaml:"scheduler"`
	History   History   `yaml:"history"`
	LLM       LLM       `yaml:"llm"`
	Notify    Notify    `yaml:"notify"`
	Logging   Logging   `yaml:"logging"`
}

// Pipeline configures the fetch/normalize/summarize pipeline.
type Pipeline struct {
	DataDir    string `yaml:"data_dir"`    // root for raw/, normalized/, summaries/, cache/ and store documents
	Source     string `yaml:"source"`      // default data-source name
	Query      string `yaml:"query"`       // search query issued per time window
	Workers    int    `yaml:"workers"`     // bounded fan-out for range backfills and chunk fetches
	MaxRetries int    `yaml:"max_retries"` // per-date retry ceiling before a date is reported permanently failed
}

// Pool configures the GHES client pool.
type Pool struct {
	BaseURL        string `yaml:"base_url"` // GHES API base URL
	Token          string `yaml:"token"`    // API token (redacted in logs)
	Size           int    `yaml:"size"`     // number of independently-connected clients
	AcquireTimeout int    `yaml:"acquire_timeout_sec"`
}

// Scheduler configures the recurring digest triggers.
type Scheduler struct {
	Enabled  *bool        `yaml:"enabled"` // nil defaults to true
	Timezone string       `yaml:"timezone"`
	Daily    DailyTrigger `yaml:"daily"`
	Weekly   WeekTrigger  `yaml:"weekly"`
	Monthly  MonthTrigger `yaml:"monthly"`
	Yearly   YearTrigger  `yaml:"yearly"`
	Notify   NotifyPolicy `yaml:"notification"`
}

// DailyTrigger fires once per day at Time.
type DailyTrigger struct {
	Time    string `yaml:"time"`    // "HH:MM"
	Enrich  bool   `yaml:"enrich"`  // run the normalize enrichment pass
	Batch   bool   `yaml:"batch"`   // summarize via async LLM batch instead of synchronous chat
	Workers int    `yaml:"workers"` // catch-up backfill fan-out
}

// WeekTrigger fires once per week on Day at Time.
type WeekTrigger struct {
	Day  string `yaml:"day"` // "monday".."sunday"
	Time string `yaml:"time"`
}

// MonthTrigger fires once per month on Day at Time.
type MonthTrigger struct {
	Day  int    `yaml:"day"` // 1..28
	Time string `yaml:"time"`
}

// YearTrigger fires once per year on Month/Day at Time.
type YearTrigger struct {
	Month int    `yaml:"month"` // 1..12
	Day   int    `yaml:"day"`   // 1..28
	Time  string `yaml:"time"`
}

// NotifyPolicy controls which scheduler outcomes are forwarded to sinks.
type NotifyPolicy struct {
	OnFailure bool `yaml:"on_failure"`
	OnSuccess bool `yaml:"on_success"`
}

// History configures the scheduler history store.
type History struct {
	Driver     string `yaml:"driver"` // "json" or "bbolt"
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

// LLM configures the summarization provider.
type LLM struct {
	Provider    string `yaml:"provider"` // "openai"
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key"` // redacted in logs
	BaseURL     string `yaml:"base_url"`
	BatchPoll   int    `yaml:"batch_poll_sec"` // interval between batch status polls
	QueryBuffer int    `yaml:"query_buffer"`   // pending capacity of the async query queue
}

// Notify configures notification sinks. Sink failures are logged, never fatal.
type Notify struct {
	Webhooks []string `yaml:"webhooks"` // URLs receiving the event as a JSON POST
	Scripts  []string `yaml:"scripts"`  // executables receiving the event as JSON on stdin
}

// Logging configures the structured logger.
type Logging struct {
	Format string `yaml:"format"` // "json" or "text"
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Output string `yaml:"output"` // "stderr", "stdout", "discard", or a file path
}

// SchedulerEnabled reports whether the scheduler should register triggers.
// An absent enabled field means enabled.
func (c *Config) SchedulerEnabled() bool {
	if c.Scheduler.Enabled == nil {
		return true
	}
	return *c.Scheduler.Enabled
}
