package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSections maps each config section to its valid keys.
var knownSections = map[string][]string{
	"oauth":    {"client_id", "client_secret", "auth_url", "token_url", "scopes"},
	"auth":     {"safety_window", "user"},
	"storage":  {"backend", "database_path", "credentials_dir"},
	"redis":    {"addr", "password", "db"},
	"cache":    {"backend", "key_prefix", "refresh_after_mutation"},
	"jobs":     {"queue", "queue_name", "workers", "buffer", "timeout", "import_concurrency"},
	"calendar": {"calendar_id", "time_zone", "lookback"},
	"mail":     {"backend", "host", "port", "from", "username", "password", "tls"},
	"logging":  {"log_level", "log_format"},
	"network":  {"request_timeout", "calendar_url", "sheets_url", "drive_url", "metrics_addr"},
}

// knownSectionsList is the sorted list of section names for Levenshtein
// matching. Sorted for deterministic suggestions when two candidates have
// the same edit distance.
var knownSectionsList = func() []string {
	names := make([]string, 0, len(knownSections))
	for k := range knownSections {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. An unknown
// section is reported once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	reported := make(map[string]bool)

	for _, key := range undecoded {
		if len(key) == 0 {
			continue
		}

		section := key[0]

		keys, ok := knownSections[section]
		if !ok || len(key) == 1 {
			if !reported[section] {
				reported[section] = true
				errs = append(errs, unknownKeyError(section, "", knownSectionsList))
			}

			continue
		}

		errs = append(errs, unknownKeyError(key[1], section, sorted(keys)))
	}

	return errors.Join(errs...)
}

// unknownKeyError describes an unknown key, suggesting the closest known
// one. section is empty for top-level keys.
func unknownKeyError(name, section string, known []string) error {
	where := ""
	if section != "" {
		where = fmt.Sprintf(" in [%s]", section)
	}

	if suggestion := closestMatch(name, known); suggestion != "" {
		return fmt.Errorf("unknown config key %q%s, did you mean %q?", name, where, suggestion)
	}

	return fmt.Errorf("unknown config key %q%s", name, where)
}

func sorted(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)

	return out
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
