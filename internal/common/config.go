package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Browser     BrowserConfig   `toml:"browser"`
	Retry       RetryConfig     `toml:"retry"`
	Timeouts    TimeoutConfig   `toml:"timeouts"`
	Selectors   SelectorConfig  `toml:"selectors"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Workers     WorkersConfig   `toml:"workers"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output []string `toml:"output"` // "stdout", "file"
}

// BrowserConfig controls the chromedp session used by the automation workers
type BrowserConfig struct {
	Headless    bool   `toml:"headless"`
	NoSandbox   bool   `toml:"no_sandbox"`
	DisableGPU  bool   `toml:"disable_gpu"`
	UserAgent   string `toml:"user_agent"`
	ProfilesDir string `toml:"profiles_dir"` // Base directory for persistent browser profiles
	ExecPath    string `toml:"exec_path"`    // Optional explicit Chrome binary path
}

// RetryConfig holds the default bounded-backoff retry policy
type RetryConfig struct {
	MaxAttempts int     `toml:"max_attempts" validate:"gte=1,lte=10"`
	BackoffBase float64 `toml:"backoff_base" validate:"gt=1"`
}

// TimeoutConfig carries all operation timeouts. Values in the key/value
// store (prefixed "timeout_") override these at lookup time.
type TimeoutConfig struct {
	LoginWait       time.Duration `toml:"login_wait"`        // Wait for manual login
	CompletionPoll  time.Duration `toml:"completion_poll"`   // Max time to poll for generation result
	PollInterval    time.Duration `toml:"poll_interval"`     // Interval between completion polls
	ElementWait     time.Duration `toml:"element_wait"`      // Single-pass element visibility check
	PageLoad        time.Duration `toml:"page_load"`         // Page navigation timeout
	Download        time.Duration `toml:"download"`          // Artifact download timeout
	PostSubmitDelay time.Duration `toml:"post_submit_delay"` // Delay after submit before polling
}

// SelectorConfig configures the self-healing selector registry
type SelectorConfig struct {
	Path   string              `toml:"path"`   // Registry file path (JSON)
	Groups map[string][]string `toml:"groups"` // Default selector order per logical element
}

// SchedulerConfig enables cron-driven queue sweeps
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron expression, e.g. "*/5 * * * *"
}

type WorkersConfig struct {
	Generation   GenerationConfig   `toml:"generation"`
	Distribution DistributionConfig `toml:"distribution"`
}

// GenerationConfig configures the upload/generation worker
type GenerationConfig struct {
	BaseURL        string        `toml:"base_url"`
	LoginPath      string        `toml:"login_path"`
	FormPath       string        `toml:"form_path"`
	AuthPathMarker string        `toml:"auth_path_marker"` // URL fragment that indicates the login page
	DownloadDir    string        `toml:"download_dir"`
	DelayBetween   time.Duration `toml:"delay_between_jobs"`
	MaxPerRun      int           `toml:"max_jobs_per_run"`
	DryRun         bool          `toml:"dry_run"`
	EventBuffer    int           `toml:"event_buffer"`
}

// DistributionConfig configures the distribution worker
type DistributionConfig struct {
	Backend     string        `toml:"backend"` // Distributor slug, e.g. "distrokid"
	BaseURL     string        `toml:"base_url"`
	LoginPath   string        `toml:"login_path"`
	UploadPath  string        `toml:"upload_path"`
	LoginWait   time.Duration `toml:"login_wait"`
	EventBuffer int           `toml:"event_buffer"`
}

// DefaultConfig returns configuration defaults. The timeout values carry
// over the tuning the desktop app shipped with.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".songforge")

	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8780,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: filepath.Join(dataDir, "data"),
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Browser: BrowserConfig{
			Headless:    true,
			NoSandbox:   false,
			DisableGPU:  true,
			UserAgent:   "",
			ProfilesDir: filepath.Join(dataDir, "profiles"),
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BackoffBase: 2,
		},
		Timeouts: TimeoutConfig{
			LoginWait:       5 * time.Minute,
			CompletionPoll:  10 * time.Minute,
			PollInterval:    10 * time.Second,
			ElementWait:     5 * time.Second,
			PageLoad:        15 * time.Second,
			Download:        2 * time.Minute,
			PostSubmitDelay: 5 * time.Second,
		},
		Selectors: SelectorConfig{
			Path:   filepath.Join(dataDir, "selector_registry.json"),
			Groups: map[string][]string{},
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "*/5 * * * *",
		},
		Workers: WorkersConfig{
			Generation: GenerationConfig{
				DownloadDir:  filepath.Join(home, "Music", "Songforge"),
				DelayBetween: 30 * time.Second,
				MaxPerRun:    20,
				EventBuffer:  256,
			},
			Distribution: DistributionConfig{
				Backend:     "distrokid",
				LoginWait:   10 * time.Minute,
				EventBuffer: 256,
			},
		},
	}
}

// LoadFromFile loads configuration from a TOML file layered over defaults,
// then applies environment overrides and validates the result.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against struct constraints
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies SONGFORGE_* environment variable overrides
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SONGFORGE_LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SONGFORGE_DATA_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("SONGFORGE_DOWNLOAD_DIR"); v != "" {
		config.Workers.Generation.DownloadDir = v
	}
	if v := os.Getenv("SONGFORGE_HEADLESS"); v != "" {
		config.Browser.Headless = v != "false" && v != "0"
	}
}

// IsDevelopment returns true when running in development mode
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}
