// Package config defines the explicit run configuration for the movie
// catalog ETL.
//
// There are no ambient globals: main loads one Config from a JSON file,
// validates it, and hands it (or its sections) to each component by value.
// Secrets (API token, DSN) support ${ENV_VAR} expansion so config files can
// be committed without credentials.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Duration wraps time.Duration so JSON configs can say "30s" or "2m".
type Duration time.Duration

// UnmarshalJSON accepts either a duration string ("500ms") or a number of
// seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", t, err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(t * float64(time.Second)))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

// MarshalJSON renders the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full run configuration.
type Config struct {
	Job       string    `json:"job"`
	API       API       `json:"api"`
	Storage   Storage   `json:"storage"`
	Transform Transform `json:"transform"`
	Runtime   Runtime   `json:"runtime"`
}

// API configures the extractor.
type API struct {
	BaseURL string `json:"base_url"`

	// AccessToken is the bearer token; ${VAR} references are expanded from
	// the environment at load time.
	AccessToken string `json:"access_token"`

	GenrePath    string `json:"genre_path"`
	DiscoverPath string `json:"discover_path"`

	// SortBy is sent on every page request so page boundaries are stable
	// across retries.
	SortBy string `json:"sort_by"`

	RequestTimeout Duration `json:"request_timeout"`
}

// Storage configures the loader backend.
type Storage struct {
	// Kind selects a registered backend: "postgres" | "sqlite" | "mssql".
	Kind string `json:"kind"`

	// DSN is backend-specific; ${VAR} references are expanded.
	DSN string `json:"dsn"`

	// Schema is the namespace the three tables live under. Backends without
	// schema support (sqlite) ignore it.
	Schema string `json:"schema"`

	// BatchSize caps rows per INSERT statement to stay under placeholder
	// limits.
	BatchSize int `json:"batch_size"`
}

// DatePolicy decides what happens to a record whose release date is absent
// or unparseable.
type DatePolicy string

const (
	// DateToNull keeps the record and persists a NULL release date.
	DateToNull DatePolicy = "null"
	// DropRecord discards the whole record.
	DropRecord DatePolicy = "drop"
)

// Transform configures the normalizer.
type Transform struct {
	DatePolicy DatePolicy `json:"date_policy"`
}

// Runtime controls orchestration behavior.
type Runtime struct {
	// FetchWorkers bounds concurrent in-flight page fetches once the page
	// count is known. 1 means fully sequential.
	FetchWorkers int `json:"fetch_workers"`

	// MaxAttempts bounds retries per page fetch (including the first try).
	MaxAttempts int `json:"max_attempts"`

	BaseBackoff Duration `json:"base_backoff"`
	MaxBackoff  Duration `json:"max_backoff"`

	// AbortOnError switches the per-page failure policy from "log and
	// continue" (default) to fail-fast.
	AbortOnError bool `json:"abort_on_error"`
}

// Load reads, decodes, expands, and defaults a Config from path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.API.AccessToken = os.ExpandEnv(cfg.API.AccessToken)
	cfg.Storage.DSN = os.ExpandEnv(cfg.Storage.DSN)

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Job == "" {
		cfg.Job = "movietl"
	}
	if cfg.API.GenrePath == "" {
		cfg.API.GenrePath = "/genre/movie/list"
	}
	if cfg.API.DiscoverPath == "" {
		cfg.API.DiscoverPath = "/discover/movie"
	}
	if cfg.API.SortBy == "" {
		cfg.API.SortBy = "primary_release_date.asc"
	}
	if cfg.API.RequestTimeout <= 0 {
		cfg.API.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Storage.Schema == "" {
		cfg.Storage.Schema = "etl_project"
	}
	if cfg.Storage.BatchSize <= 0 {
		cfg.Storage.BatchSize = 500
	}
	if cfg.Transform.DatePolicy == "" {
		cfg.Transform.DatePolicy = DateToNull
	}
	if cfg.Runtime.FetchWorkers <= 0 {
		cfg.Runtime.FetchWorkers = 4
	}
	if cfg.Runtime.MaxAttempts <= 0 {
		cfg.Runtime.MaxAttempts = 4
	}
	if cfg.Runtime.BaseBackoff <= 0 {
		cfg.Runtime.BaseBackoff = Duration(2 * time.Second)
	}
	if cfg.Runtime.MaxBackoff <= 0 {
		cfg.Runtime.MaxBackoff = Duration(30 * time.Second)
	}
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, addressable by config path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// Validate checks a loaded Config and returns all findings. Callers decide
// whether warnings are acceptable; any SeverityError should stop the run.
func Validate(cfg Config) []Issue {
	var issues []Issue

	add := func(sev Severity, path, msg string) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: msg})
	}

	if strings.TrimSpace(cfg.API.BaseURL) == "" {
		add(SeverityError, "api.base_url", "must be set")
	}
	if strings.TrimSpace(cfg.API.AccessToken) == "" {
		add(SeverityError, "api.access_token", "must be set (use ${TMDB_ACCESS_TOKEN})")
	} else if strings.Contains(cfg.API.AccessToken, "${") {
		add(SeverityError, "api.access_token", "contains an unexpanded ${...} reference")
	}

	switch cfg.Storage.Kind {
	case "postgres", "sqlite", "mssql":
	case "":
		add(SeverityError, "storage.kind", "must be set")
	default:
		add(SeverityError, "storage.kind", fmt.Sprintf("unsupported kind %q", cfg.Storage.Kind))
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "must be set")
	}

	switch cfg.Transform.DatePolicy {
	case DateToNull, DropRecord:
	default:
		add(SeverityError, "transform.date_policy",
			fmt.Sprintf("must be %q or %q, got %q", DateToNull, DropRecord, cfg.Transform.DatePolicy))
	}

	if cfg.Runtime.FetchWorkers > 16 {
		add(SeverityWarning, "runtime.fetch_workers",
			"more than 16 concurrent fetches is likely to trip API rate limits")
	}
	if cfg.Runtime.MaxBackoff < cfg.Runtime.BaseBackoff {
		add(SeverityError, "runtime.max_backoff", "must be >= runtime.base_backoff")
	}

	return issues
}
