package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minSafetyWindow   = 0
	maxSafetyWindow   = time.Hour
	minJobWorkers     = 1
	maxJobWorkers     = 64
	minJobTimeout     = time.Second
	maxImportWorkers  = 32
	minRequestTimeout = time.Second
	maxRedisDB        = 15
	maxPort           = 65535
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateOAuth(&cfg.OAuth)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateCache(&cfg.Cache, &cfg.Redis)...)
	errs = append(errs, validateJobs(cfg)...)
	errs = append(errs, validateCalendar(&cfg.Calendar)...)
	errs = append(errs, validateMail(&cfg.Mail)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateOAuth(o *OAuthConfig) []error {
	var errs []error

	errs = append(errs, validateURL("oauth.auth_url", o.AuthURL)...)
	errs = append(errs, validateURL("oauth.token_url", o.TokenURL)...)

	if len(o.Scopes) == 0 {
		errs = append(errs, errors.New("oauth.scopes: must not be empty"))
	}

	return errs
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if err := validateDurationRange("auth.safety_window", a.SafetyWindow, minSafetyWindow, maxSafetyWindow); err != nil {
		errs = append(errs, err)
	}

	if a.User == "" {
		errs = append(errs, errors.New("auth.user: must not be empty"))
	}

	return errs
}

func validateStorage(s *StorageConfig) []error {
	switch s.Backend {
	case BackendSQLite:
		if s.DatabasePath == "" {
			return []error{errors.New("storage.database_path: required for the sqlite backend")}
		}
	case BackendFile:
		if s.CredentialsDir == "" {
			return []error{errors.New("storage.credentials_dir: required for the file backend")}
		}
	case BackendMemory:
	default:
		return []error{fmt.Errorf("storage.backend: must be one of sqlite, file, memory; got %q", s.Backend)}
	}

	return nil
}

func validateCache(c *CacheConfig, r *RedisConfig) []error {
	var errs []error

	switch c.Backend {
	case BackendRedis:
		if r.Addr == "" {
			errs = append(errs, errors.New("redis.addr: required when cache.backend is \"redis\""))
		}
	case BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("cache.backend: must be one of redis, sqlite, memory; got %q", c.Backend))
	}

	if r.DB < 0 || r.DB > maxRedisDB {
		errs = append(errs, fmt.Errorf("redis.db: must be between 0 and %d, got %d", maxRedisDB, r.DB))
	}

	return errs
}

func validateJobs(cfg *Config) []error {
	var errs []error

	j := &cfg.Jobs

	switch j.Queue {
	case QueueLocal:
	case QueueAsynq:
		if cfg.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr: required when jobs.queue is \"asynq\""))
		}

		// Results written by another process must be visible to the poller.
		if cfg.Cache.Backend == BackendMemory {
			errs = append(errs, errors.New("cache.backend: \"memory\" cannot hold results for jobs.queue \"asynq\""))
		}
	default:
		errs = append(errs, fmt.Errorf("jobs.queue: must be one of local, asynq; got %q", j.Queue))
	}

	if j.Workers < minJobWorkers || j.Workers > maxJobWorkers {
		errs = append(errs, fmt.Errorf("jobs.workers: must be between %d and %d, got %d",
			minJobWorkers, maxJobWorkers, j.Workers))
	}

	if j.Buffer < 1 {
		errs = append(errs, fmt.Errorf("jobs.buffer: must be >= 1, got %d", j.Buffer))
	}

	if j.ImportConcurrency < 1 || j.ImportConcurrency > maxImportWorkers {
		errs = append(errs, fmt.Errorf("jobs.import_concurrency: must be between 1 and %d, got %d",
			maxImportWorkers, j.ImportConcurrency))
	}

	if err := validateDuration("jobs.timeout", j.Timeout, minJobTimeout); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateCalendar(c *CalendarConfig) []error {
	var errs []error

	if c.CalendarID == "" {
		errs = append(errs, errors.New("calendar.calendar_id: must not be empty"))
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("calendar.time_zone: %w", err))
	}

	if err := validateDuration("calendar.lookback", c.Lookback, 0); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateMail(m *MailConfig) []error {
	var errs []error

	switch m.Backend {
	case BackendLog:
	case BackendSMTP:
		if m.Host == "" {
			errs = append(errs, errors.New("mail.host: required for the smtp backend"))
		}

		if m.From == "" {
			errs = append(errs, errors.New("mail.from: required for the smtp backend"))
		}

		if m.Port < 1 || m.Port > maxPort {
			errs = append(errs, fmt.Errorf("mail.port: must be between 1 and %d, got %d", maxPort, m.Port))
		}

		switch m.TLS {
		case MailTLSMandatory, MailTLSOpportunistic, MailTLSNone:
		default:
			errs = append(errs, fmt.Errorf("mail.tls: must be one of mandatory, opportunistic, none; got %q", m.TLS))
		}
	default:
		errs = append(errs, fmt.Errorf("mail.backend: must be one of smtp, log; got %q", m.Backend))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	LogFormatAuto: true,
	LogFormatText: true,
	LogFormatJSON: true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if err := validateDuration("network.request_timeout", n.RequestTimeout, minRequestTimeout); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateURL("network.calendar_url", n.CalendarURL)...)
	errs = append(errs, validateURL("network.sheets_url", n.SheetsURL)...)
	errs = append(errs, validateURL("network.drive_url", n.DriveURL)...)

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationRange(field, value string, minimum, maximum time.Duration) error {
	if err := validateDuration(field, value, minimum); err != nil {
		return err
	}

	if d, _ := time.ParseDuration(value); d > maximum {
		return fmt.Errorf("%s: must be <= %s, got %s", field, maximum, d)
	}

	return nil
}

func validateURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute URL, got %q", field, value)}
	}

	return nil
}
