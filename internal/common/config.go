package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Carrier     CarrierConfig   `toml:"carrier"`
	Shipper     ShipperConfig   `toml:"shipper"`
	Source      SourceConfig    `toml:"source"`
	Batch       BatchConfig     `toml:"batch"`
	Labels      LabelsConfig    `toml:"labels"`
	Filter      FilterConfig    `toml:"filter"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Claude      ClaudeConfig    `toml:"claude"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	APIKey         string   `toml:"api_key"`         // Optional; when set, REST surface requires X-API-Key
	AllowedOrigins []string `toml:"allowed_origins"` // CORS allowlist for SSE/REST
}

// CarrierConfig configures the carrier subprocess. Credentials are passed to
// the child process via environment only and are never logged.
type CarrierConfig struct {
	Command                   string   `toml:"command"` // Executable for the carrier MCP service
	Args                      []string `toml:"args"`
	ClientID                  string   `toml:"client_id"`
	ClientSecret              string   `toml:"client_secret"`
	AccountNumber             string   `toml:"account_number" validate:"required"`
	BaseURL                   string   `toml:"base_url"` // Test vs production carrier endpoint
	InternationalEnabledLanes []string `toml:"international_enabled_lanes"` // Destination country whitelist; "*" enables all
}

// ShipperConfig is the static shipper identity stamped into every carrier
// payload. The account number lives under [carrier].
type ShipperConfig struct {
	Name       string `toml:"name" validate:"required"`
	Address1   string `toml:"address1" validate:"required"`
	Address2   string `toml:"address2"`
	City       string `toml:"city" validate:"required"`
	State      string `toml:"state" validate:"required"`
	PostalCode string `toml:"postal_code" validate:"required"`
	Country    string `toml:"country" validate:"required"`
	Phone      string `toml:"phone"`
}

// SourceConfig configures the data-source subprocess.
type SourceConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Path    string   `toml:"path"` // Source file/DSN handed to the subprocess via env
}

type BatchConfig struct {
	Concurrency       int    `toml:"concurrency" validate:"gte=1"`   // Semaphore permits for in-flight carrier calls
	PreviewMaxRows    int    `toml:"preview_max_rows" validate:"gte=0"` // 0 = unlimited
	WarningRowsPolicy string `toml:"warning_rows_policy" validate:"oneof=skip process ask"`
	FailFast          bool   `toml:"fail_fast"` // Default execution mode; per-job override via auto flag
}

type LabelsConfig struct {
	OutputDir string `toml:"output_dir"`
}

type FilterConfig struct {
	// HMAC key for FilterSpec signatures. Must be at least 32 bytes.
	TokenSecret string `toml:"token_secret" validate:"required,min=32"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
	Badger BadgerConfig `toml:"badger"`
}

type SQLiteConfig struct {
	Path          string `toml:"path"`
	CacheSizeMB   int    `toml:"cache_size_mb"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	WALMode       bool   `toml:"wal_mode"`
}

// BadgerConfig holds conversation session store settings
type BadgerConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

type SchedulerConfig struct {
	Enabled           bool   `toml:"enabled"`
	ReconcileSchedule string `toml:"reconcile_schedule"` // Cron schedule for orphan-job reconciliation
	SessionTTL        string `toml:"session_ttl"`        // Conversation sessions older than this are pruned
}

// DefaultConfig returns the configuration defaults applied before any file
// or environment override.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:           "localhost",
			Port:           8750,
			AllowedOrigins: []string{"*"},
		},
		Carrier: CarrierConfig{
			Command:                   "shipagent-carrier",
			BaseURL:                   "https://wwwcie.ups.com",
			InternationalEnabledLanes: []string{"*"},
		},
		Shipper: ShipperConfig{
			Name:       "ShipAgent Warehouse",
			Address1:   "1 Dock Street",
			City:       "Louisville",
			State:      "KY",
			PostalCode: "40201",
			Country:    "US",
		},
		Source: SourceConfig{
			Command: "shipagent-source",
		},
		Batch: BatchConfig{
			Concurrency:       5,
			PreviewMaxRows:    50,
			WarningRowsPolicy: "ask",
			FailFast:          true,
		},
		Labels: LabelsConfig{
			OutputDir: "./labels",
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/shipagent.db",
				CacheSizeMB:   32,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
			Badger: BadgerConfig{
				Path: "./data/sessions",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Timeout:     "60s",
			Temperature: 0,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			ReconcileSchedule: "@every 5m",
			SessionTTL:        "720h",
		},
	}
}

// LoadFromFile loads configuration from a TOML file over the defaults, then
// applies environment overrides and validates the result. A missing path is
// not an error; defaults plus environment apply.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies SHIPAGENT_* environment variables on top of file
// values. Credentials are expected to arrive this way; they are optional in
// the file precisely so deployments can keep them out of it.
func applyEnvOverrides(config *Config) {
	setString := func(target *string, key string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}

	setString(&config.Carrier.ClientID, "SHIPAGENT_CARRIER_CLIENT_ID")
	setString(&config.Carrier.ClientSecret, "SHIPAGENT_CARRIER_CLIENT_SECRET")
	setString(&config.Carrier.AccountNumber, "SHIPAGENT_CARRIER_ACCOUNT_NUMBER")
	setString(&config.Carrier.BaseURL, "SHIPAGENT_CARRIER_BASE_URL")
	setString(&config.Filter.TokenSecret, "SHIPAGENT_FILTER_TOKEN_SECRET")
	setString(&config.Server.APIKey, "SHIPAGENT_API_KEY")
	setString(&config.Claude.APIKey, "ANTHROPIC_API_KEY")
	setString(&config.Source.Path, "SHIPAGENT_SOURCE_PATH")
	setString(&config.Logging.Level, "SHIPAGENT_LOG_LEVEL")

	if v := os.Getenv("SHIPAGENT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("SHIPAGENT_BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			config.Batch.Concurrency = n
		}
	}
	if v := os.Getenv("SHIPAGENT_ALLOWED_ORIGINS"); v != "" {
		config.Server.AllowedOrigins = splitAndTrim(v, ",")
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the configuration for structural errors. Validation
// failures here map to process exit code 2.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if ok := asValidationErrors(err, &errs); ok {
			messages := make([]string, 0, len(errs))
			for _, fe := range errs {
				messages = append(messages, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := time.ParseDuration(c.Claude.Timeout); err != nil {
		return fmt.Errorf("invalid claude.timeout %q: %w", c.Claude.Timeout, err)
	}
	if _, err := time.ParseDuration(c.Scheduler.SessionTTL); err != nil {
		return fmt.Errorf("invalid scheduler.session_ttl %q: %w", c.Scheduler.SessionTTL, err)
	}

	return nil
}

// InternationalLaneEnabled reports whether shipments may be created to the
// given destination country.
func (c *CarrierConfig) InternationalLaneEnabled(country string) bool {
	country = strings.ToUpper(strings.TrimSpace(country))
	for _, lane := range c.InternationalEnabledLanes {
		if lane == "*" || strings.EqualFold(lane, country) {
			return true
		}
	}
	return false
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	if errs, ok := err.(validator.ValidationErrors); ok {
		*target = errs
		return true
	}
	return false
}

// splitAndTrim splits a string by delimiter and trims whitespace from each part
func splitAndTrim(s string, delimiter string) []string {
	parts := strings.Split(s, delimiter)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
