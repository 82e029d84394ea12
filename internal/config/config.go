package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config holds all janitor configuration values. Values load from
// JANITOR_* environment variables; command-line flags override them.
type Config struct {
	RunID            string
	Kubeconfig       string        // JANITOR_KUBECONFIG, default: in-cluster then ~/.kube/config
	BaselinePath     string        // JANITOR_BASELINE, path to the baseline YAML
	NamespaceFilter  string        // JANITOR_NAMESPACE_FILTER, "*" wildcard pattern
	Workers          int           // JANITOR_WORKERS, default: 4, deletions in flight per group
	DeleteTimeout    time.Duration // JANITOR_DELETE_TIMEOUT, default: 60s for pods/jobs/config
	NamespaceTimeout time.Duration // JANITOR_NAMESPACE_TIMEOUT, default: 300s
	ListPageSize     int64         // JANITOR_LIST_PAGE_SIZE, default: 500
	StatusPort       int           // JANITOR_STATUS_PORT, default: 0 (disabled)
	ReportFile       string        // JANITOR_REPORT_FILE, ".zst" suffix enables compression
	MinJobAge        time.Duration // JANITOR_MIN_JOB_AGE, default: 0 (phase-only classification)
	NonInteractive   bool          // JANITOR_NON_INTERACTIVE, default: false
	DryRun           bool
}

// Load reads configuration from environment variables and returns a Config
// with defaults applied for any unset values.
func Load() Config {
	return Config{
		RunID:            uuid.New().String(),
		Kubeconfig:       os.Getenv("JANITOR_KUBECONFIG"),
		BaselinePath:     os.Getenv("JANITOR_BASELINE"),
		NamespaceFilter:  os.Getenv("JANITOR_NAMESPACE_FILTER"),
		Workers:          parseInt("JANITOR_WORKERS", 4),
		DeleteTimeout:    parseDuration("JANITOR_DELETE_TIMEOUT", 60*time.Second),
		NamespaceTimeout: parseDuration("JANITOR_NAMESPACE_TIMEOUT", 300*time.Second),
		ListPageSize:     parseInt64("JANITOR_LIST_PAGE_SIZE", 500),
		StatusPort:       parseInt("JANITOR_STATUS_PORT", 0),
		ReportFile:       os.Getenv("JANITOR_REPORT_FILE"),
		MinJobAge:        parseDuration("JANITOR_MIN_JOB_AGE", 0),
		NonInteractive:   parseBool("JANITOR_NON_INTERACTIVE", false),
	}
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	// Fallback: treat as integer seconds
	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}
