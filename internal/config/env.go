package config

import "os"

// Environment variable names for overrides. Secrets are expected here
// rather than in the config file.
const (
	EnvConfig        = "CALBRIDGE_CONFIG"
	EnvUser          = "CALBRIDGE_USER"
	EnvClientID      = "CALBRIDGE_CLIENT_ID"
	EnvClientSecret  = "CALBRIDGE_CLIENT_SECRET"
	EnvDatabasePath  = "CALBRIDGE_DATABASE_PATH"
	EnvRedisAddr     = "CALBRIDGE_REDIS_ADDR"
	EnvRedisPassword = "CALBRIDGE_REDIS_PASSWORD"
	EnvSMTPPassword  = "CALBRIDGE_SMTP_PASSWORD"
)

// EnvOverrides holds values derived from environment variables.
// Empty fields mean the variable is unset.
type EnvOverrides struct {
	ConfigPath    string
	User          string
	ClientID      string
	ClientSecret  string
	DatabasePath  string
	RedisAddr     string
	RedisPassword string
	SMTPPassword  string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Apply does.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:    os.Getenv(EnvConfig),
		User:          os.Getenv(EnvUser),
		ClientID:      os.Getenv(EnvClientID),
		ClientSecret:  os.Getenv(EnvClientSecret),
		DatabasePath:  os.Getenv(EnvDatabasePath),
		RedisAddr:     os.Getenv(EnvRedisAddr),
		RedisPassword: os.Getenv(EnvRedisPassword),
		SMTPPassword:  os.Getenv(EnvSMTPPassword),
	}
}

// Apply copies every set override into cfg.
func (e EnvOverrides) Apply(cfg *Config) {
	setIf(&cfg.Auth.User, e.User)
	setIf(&cfg.OAuth.ClientID, e.ClientID)
	setIf(&cfg.OAuth.ClientSecret, e.ClientSecret)
	setIf(&cfg.Storage.DatabasePath, e.DatabasePath)
	setIf(&cfg.Redis.Addr, e.RedisAddr)
	setIf(&cfg.Redis.Password, e.RedisPassword)
	setIf(&cfg.Mail.Password, e.SMTPPassword)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
