package config

import (
	"time"

	"github.com/tonimelisma/calbridge/internal/auth"
	"github.com/tonimelisma/calbridge/internal/provider"
)

// Backend and queue names.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSMTP   = "smtp"
	BackendLog    = "log"
	QueueLocal    = "local"
	QueueAsynq    = "asynq"
)

// SMTP TLS policies.
const (
	MailTLSMandatory     = "mandatory"
	MailTLSOpportunistic = "opportunistic"
	MailTLSNone          = "none"
)

// Log output formats.
const (
	LogFormatAuto = "auto"
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultSafetyWindow      = "5m"
	defaultUser              = "me"
	defaultKeyPrefix         = "calbridge"
	defaultJobWorkers        = 4
	defaultJobBuffer         = 64
	defaultJobTimeout        = "10m"
	defaultImportConcurrency = 4
	defaultQueueName         = "calbridge"
	defaultCalendarID        = "primary"
	defaultTimeZone          = "UTC"
	defaultLookback          = "8760h"
	defaultSMTPPort          = 587
	defaultLogLevel          = "info"
	defaultRequestTimeout    = "30s"

	defaultSafetyWindowDuration   = 5 * time.Minute
	defaultJobTimeoutDuration     = 10 * time.Minute
	defaultLookbackDuration       = 365 * 24 * time.Hour
	defaultRequestTimeoutDuration = 30 * time.Second
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		OAuth: OAuthConfig{
			AuthURL:  auth.DefaultAuthURL,
			TokenURL: auth.DefaultTokenURL,
			Scopes:   append([]string(nil), auth.DefaultScopes...),
		},
		Auth: AuthConfig{
			SafetyWindow: defaultSafetyWindow,
			User:         defaultUser,
		},
		Storage: StorageConfig{
			Backend:        BackendSQLite,
			DatabasePath:   DefaultDatabasePath(),
			CredentialsDir: DefaultCredentialsDir(),
		},
		Cache: CacheConfig{
			Backend:              BackendSQLite,
			KeyPrefix:            defaultKeyPrefix,
			RefreshAfterMutation: true,
		},
		Jobs: JobsConfig{
			Queue:             QueueLocal,
			QueueName:         defaultQueueName,
			Workers:           defaultJobWorkers,
			Buffer:            defaultJobBuffer,
			Timeout:           defaultJobTimeout,
			ImportConcurrency: defaultImportConcurrency,
		},
		Calendar: CalendarConfig{
			CalendarID: defaultCalendarID,
			TimeZone:   defaultTimeZone,
			Lookback:   defaultLookback,
		},
		Mail: MailConfig{
			Backend: BackendLog,
			Port:    defaultSMTPPort,
			TLS:     MailTLSMandatory,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: LogFormatAuto,
		},
		Network: NetworkConfig{
			RequestTimeout: defaultRequestTimeout,
			CalendarURL:    provider.DefaultCalendarURL,
			SheetsURL:      provider.DefaultSheetsURL,
			DriveURL:       provider.DefaultDriveURL,
		},
	}
}
