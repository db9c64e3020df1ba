package config

import (
	"fmt"
	"io"
	"strings"
)

// redacted replaces secret values in rendered output.
const redacted = "<redacted>"

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command. Secrets are
// shown only as set or unset.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("[oauth]\n")
	ew.printf("  client_id     = %q\n", cfg.OAuth.ClientID)
	ew.printf("  client_secret = %s\n", secret(cfg.OAuth.ClientSecret))
	ew.printf("  auth_url      = %q\n", cfg.OAuth.AuthURL)
	ew.printf("  token_url     = %q\n", cfg.OAuth.TokenURL)
	ew.printf("  scopes        = [%s]\n\n", joinQuoted(cfg.OAuth.Scopes))

	ew.printf("[auth]\n")
	ew.printf("  safety_window = %q\n", cfg.Auth.SafetyWindow)
	ew.printf("  user          = %q\n\n", cfg.Auth.User)

	ew.printf("[storage]\n")
	ew.printf("  backend         = %q\n", cfg.Storage.Backend)
	ew.printf("  database_path   = %q\n", cfg.Storage.DatabasePath)
	ew.printf("  credentials_dir = %q\n\n", cfg.Storage.CredentialsDir)

	ew.printf("[redis]\n")
	ew.printf("  addr     = %q\n", cfg.Redis.Addr)
	ew.printf("  password = %s\n", secret(cfg.Redis.Password))
	ew.printf("  db       = %d\n\n", cfg.Redis.DB)

	ew.printf("[cache]\n")
	ew.printf("  backend                = %q\n", cfg.Cache.Backend)
	ew.printf("  key_prefix             = %q\n", cfg.Cache.KeyPrefix)
	ew.printf("  refresh_after_mutation = %t\n\n", cfg.Cache.RefreshAfterMutation)

	ew.printf("[jobs]\n")
	ew.printf("  queue              = %q\n", cfg.Jobs.Queue)
	ew.printf("  queue_name         = %q\n", cfg.Jobs.QueueName)
	ew.printf("  workers            = %d\n", cfg.Jobs.Workers)
	ew.printf("  buffer             = %d\n", cfg.Jobs.Buffer)
	ew.printf("  timeout            = %q\n", cfg.Jobs.Timeout)
	ew.printf("  import_concurrency = %d\n\n", cfg.Jobs.ImportConcurrency)

	ew.printf("[calendar]\n")
	ew.printf("  calendar_id = %q\n", cfg.Calendar.CalendarID)
	ew.printf("  time_zone   = %q\n", cfg.Calendar.TimeZone)
	ew.printf("  lookback    = %q\n\n", cfg.Calendar.Lookback)

	ew.printf("[mail]\n")
	ew.printf("  backend  = %q\n", cfg.Mail.Backend)

	if cfg.Mail.Backend == BackendSMTP {
		ew.printf("  host     = %q\n", cfg.Mail.Host)
		ew.printf("  port     = %d\n", cfg.Mail.Port)
		ew.printf("  from     = %q\n", cfg.Mail.From)
		ew.printf("  username = %q\n", cfg.Mail.Username)
		ew.printf("  password = %s\n", secret(cfg.Mail.Password))
		ew.printf("  tls      = %q\n", cfg.Mail.TLS)
	}

	ew.printf("\n[logging]\n")
	ew.printf("  log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("  log_format = %q\n\n", cfg.Logging.LogFormat)

	ew.printf("[network]\n")
	ew.printf("  request_timeout = %q\n", cfg.Network.RequestTimeout)
	ew.printf("  calendar_url    = %q\n", cfg.Network.CalendarURL)
	ew.printf("  sheets_url      = %q\n", cfg.Network.SheetsURL)
	ew.printf("  drive_url       = %q\n", cfg.Network.DriveURL)

	if cfg.Network.MetricsAddr != "" {
		ew.printf("  metrics_addr    = %q\n", cfg.Network.MetricsAddr)
	}

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func secret(v string) string {
	if v == "" {
		return `""`
	}

	return redacted
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
