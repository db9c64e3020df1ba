// Package testutil provides shared helpers for the E2E tests: locating the
// module root, loading optional .env settings and writing isolated config
// files.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, "\"'")

		// Env vars take precedence over .env file.
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// Config describes an isolated calbridge setup rooted in one directory.
type Config struct {
	Dir     string
	User    string
	APIURL  string
	AuthURL string
	// RedisAddr switches the cache and job queue to Redis when set.
	RedisAddr string
}

// WriteConfig writes a config.toml for c into c.Dir and returns its path.
// Credentials live in files under c.Dir and the cache in SQLite (or Redis),
// so separate CLI invocations share state.
func WriteConfig(c Config) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "[oauth]\nclient_id = \"e2e-client\"\nclient_secret = \"e2e-secret\"\n")
	fmt.Fprintf(&b, "auth_url = %q\ntoken_url = %q\n\n", c.AuthURL+"/auth", c.AuthURL+"/token")
	fmt.Fprintf(&b, "[auth]\nuser = %q\n\n", c.User)
	fmt.Fprintf(&b, "[storage]\nbackend = \"file\"\ncredentials_dir = %q\ndatabase_path = %q\n\n",
		filepath.Join(c.Dir, "credentials"), filepath.Join(c.Dir, "calbridge.db"))

	if c.RedisAddr != "" {
		// Keys and queue are namespaced per test directory.
		ns := "e2e-" + filepath.Base(c.Dir)

		fmt.Fprintf(&b, "[redis]\naddr = %q\n\n", c.RedisAddr)
		fmt.Fprintf(&b, "[cache]\nbackend = \"redis\"\nkey_prefix = %q\n\n", ns)
		fmt.Fprintf(&b, "[jobs]\nqueue = \"asynq\"\nqueue_name = %q\n\n", ns)
	} else {
		fmt.Fprintf(&b, "[cache]\nbackend = \"sqlite\"\n\n")
	}

	fmt.Fprintf(&b, "[network]\ncalendar_url = %q\nsheets_url = %q\ndrive_url = %q\n", c.APIURL, c.APIURL, c.APIURL)

	path := filepath.Join(c.Dir, "config.toml")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}

	return path, nil
}
