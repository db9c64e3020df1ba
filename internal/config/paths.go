package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// appName names the calbridge directory on every platform.
const appName = "calbridge"

// Settings live apart from the state calbridge accumulates:
//
//	<config dir>/config.toml            settings, written by "config init"
//	<data dir>/calbridge.db             sqlite credentials, cache and job results
//	<data dir>/credentials/cred-*.json  file credential store, one per user
const (
	configFileName   = "config.toml"
	databaseFileName = "calbridge.db"
	credentialsDir   = "credentials"
)

// DefaultConfigDir returns the directory holding config.toml:
// $XDG_CONFIG_HOME/calbridge or ~/.config/calbridge on Linux and other
// systems, ~/Library/Application Support/calbridge on macOS. Empty when the
// home directory is unknown.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir prefers XDG_CONFIG_HOME over ~/.config.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the directory holding calbridge.db and the
// credentials directory: $XDG_DATA_HOME/calbridge or
// ~/.local/share/calbridge on Linux and other systems. On macOS it is the
// same directory as DefaultConfigDir.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir prefers XDG_DATA_HOME over ~/.local/share.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath is the config file read when neither --config nor
// CALBRIDGE_CONFIG names one.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultDatabasePath is storage.database_path when unset: one sqlite file
// shared by credentials, cached events and job results.
func DefaultDatabasePath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, databaseFileName)
}

// DefaultCredentialsDir is storage.credentials_dir when unset. The file
// backend writes one JSON credential per user here.
func DefaultCredentialsDir() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, credentialsDir)
}
