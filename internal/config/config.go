// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for calbridge. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import (
	"time"
	// Zone names in calendar.time_zone must resolve on hosts without a
	// system zoneinfo database.
	_ "time/tzdata"
)

// Config is the top-level configuration structure parsed from a TOML file.
// Durations are kept as strings so the file round-trips; the typed accessors
// below parse them after Validate has accepted them.
type Config struct {
	OAuth    OAuthConfig    `toml:"oauth"`
	Auth     AuthConfig     `toml:"auth"`
	Storage  StorageConfig  `toml:"storage"`
	Redis    RedisConfig    `toml:"redis"`
	Cache    CacheConfig    `toml:"cache"`
	Jobs     JobsConfig     `toml:"jobs"`
	Calendar CalendarConfig `toml:"calendar"`
	Mail     MailConfig     `toml:"mail"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`
}

// OAuthConfig identifies the OAuth client registered with the provider.
type OAuthConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	Scopes       []string `toml:"scopes"`
}

// AuthConfig controls token lifecycle policy.
type AuthConfig struct {
	// SafetyWindow is how long before expiry a token is already refreshed.
	SafetyWindow string `toml:"safety_window"`
	// User is the user ID CLI commands act for.
	User string `toml:"user"`
}

// StorageConfig selects where credentials live.
type StorageConfig struct {
	Backend        string `toml:"backend"`
	DatabasePath   string `toml:"database_path"`
	CredentialsDir string `toml:"credentials_dir"`
}

// RedisConfig addresses the Redis server shared by the cache and the asynq
// job queue.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// CacheConfig selects the blob store behind the event cache and the job
// result store.
type CacheConfig struct {
	Backend              string `toml:"backend"`
	KeyPrefix            string `toml:"key_prefix"`
	RefreshAfterMutation bool   `toml:"refresh_after_mutation"`
}

// JobsConfig controls background job execution.
type JobsConfig struct {
	Queue             string `toml:"queue"`
	QueueName         string `toml:"queue_name"`
	Workers           int    `toml:"workers"`
	Buffer            int    `toml:"buffer"`
	Timeout           string `toml:"timeout"`
	ImportConcurrency int    `toml:"import_concurrency"`
}

// CalendarConfig controls event operations.
type CalendarConfig struct {
	CalendarID string `toml:"calendar_id"`
	TimeZone   string `toml:"time_zone"`
	Lookback   string `toml:"lookback"`
}

// MailConfig selects how exports are delivered.
type MailConfig struct {
	Backend  string `toml:"backend"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	From     string `toml:"from"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	TLS      string `toml:"tls"`
}

// LoggingConfig controls log output behavior: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls provider HTTP calls and the metrics listener.
type NetworkConfig struct {
	RequestTimeout string `toml:"request_timeout"`
	CalendarURL    string `toml:"calendar_url"`
	SheetsURL      string `toml:"sheets_url"`
	DriveURL       string `toml:"drive_url"`
	MetricsAddr    string `toml:"metrics_addr"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty strings mean "not specified".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	User       string // --user flag
}

// SafetyWindow returns auth.safety_window.
func (c *Config) SafetyWindow() time.Duration {
	return durationOr(c.Auth.SafetyWindow, defaultSafetyWindowDuration)
}

// JobTimeout returns jobs.timeout.
func (c *Config) JobTimeout() time.Duration {
	return durationOr(c.Jobs.Timeout, defaultJobTimeoutDuration)
}

// Lookback returns calendar.lookback.
func (c *Config) Lookback() time.Duration {
	return durationOr(c.Calendar.Lookback, defaultLookbackDuration)
}

// RequestTimeout returns network.request_timeout.
func (c *Config) RequestTimeout() time.Duration {
	return durationOr(c.Network.RequestTimeout, defaultRequestTimeoutDuration)
}

// Location loads calendar.time_zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Calendar.TimeZone)
	if err != nil {
		return time.UTC
	}

	return loc
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}

	return d
}
