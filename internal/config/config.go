// Package config loads the process configuration: a YAML file for the
// stable, checked-in settings (services roster, country list, timeouts,
// thresholds) overlaid with environment variables for secrets and
// per-deployment overrides, following the env-overlay convention the rest
// of this codebase's lineage uses for its LLM provider configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration for one process.
type Config struct {
	Services []string `yaml:"services"`
	Country  string   `yaml:"country"`

	GitOpsRepoPath   string `yaml:"gitops_repo_path"`
	GitOpsRemote     string `yaml:"gitops_remote"`
	ValuesGlob       string `yaml:"values_glob"`
	PreReleaseBranch string `yaml:"prerelease_branch"`

	// SharedValuesService, if set, names the one service whose staging tag
	// lives at a nested path inside a shared values file instead of its own
	// <service>/values-staging-<country>.yaml (spec.md §4.4.3's "one named
	// exception").
	SharedValuesService string   `yaml:"shared_values_service"`
	SharedValuesFile    string   `yaml:"shared_values_file"` // relative to GitOpsRepoPath, country-templated with "%s"
	SharedValuesTagPath []string `yaml:"shared_values_tag_path"`

	// DefaultTagPath is where every other service's tag lives inside its own
	// <service>/values-staging-<country>.yaml, walked from the document
	// root rather than scanning the whole file for any key literally named
	// "tag" — a values file with more than one "tag:" node (a subchart
	// image, a sibling block) must not be corrupted by a blind rewrite.
	DefaultTagPath []string `yaml:"default_tag_path"`

	LiveStateFile   string        `yaml:"live_state_file"`
	RosterFile      string        `yaml:"roster_file"`
	ServiceDirFile  string        `yaml:"service_directory_file"`
	CountryLockTTL  time.Duration `yaml:"country_lock_ttl"`

	RetryMax      int           `yaml:"retry_max"`
	BuildTimeout  time.Duration `yaml:"build_timeout"`
	DeployCheck   time.Duration `yaml:"deploy_check_interval"`
	SettleGrace   time.Duration `yaml:"settle_grace"`
	DeployTimeout time.Duration `yaml:"deploy_timeout"`
	JobTimeout    time.Duration `yaml:"job_timeout"`

	AutoExecuteConfidence int `yaml:"auto_execute_confidence"`

	Anthropic AnthropicConfig `yaml:"anthropic"`
	Database  DatabaseConfig  `yaml:"database"`

	Dev bool `yaml:"-"`
}

// AnthropicConfig configures the diagnostics engine's LLM client.
type AnthropicConfig struct {
	Model   string `yaml:"model"`
	APIKey  string `yaml:"-"` // from ANTHROPIC_API_KEY only, never written to disk
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig configures the durable run-record store.
type DatabaseConfig struct {
	DSN string `yaml:"-"` // from QAGP_DATABASE_DSN only
}

// Default returns the baked-in defaults, used as the starting point before
// a YAML file and environment overrides are applied.
func Default() Config {
	return Config{
		PreReleaseBranch:      "pre-release",
		ValuesGlob:            "**/values-*.yaml",
		DefaultTagPath:        []string{"image", "tag"},
		LiveStateFile:         "live_state.json",
		RosterFile:            "roster.json",
		ServiceDirFile:        "services.yaml",
		CountryLockTTL:        30 * time.Minute,
		RetryMax:              3,
		BuildTimeout:          10 * time.Minute,
		DeployCheck:           2 * time.Second,
		SettleGrace:           30 * time.Second,
		DeployTimeout:         15 * time.Minute,
		JobTimeout:            20 * time.Minute,
		AutoExecuteConfidence: 80,
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-5",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		body, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(body, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_BASE_URL"); v != "" {
		cfg.Anthropic.BaseURL = v
	}
	if v := os.Getenv("QAGP_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("QAGP_COUNTRY"); v != "" {
		cfg.Country = v
	}
	if v := os.Getenv("QAGP_RETRY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryMax = n
		}
	}
	if v := os.Getenv("QAGP_DEV"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Dev = b
		}
	}
}

// Validate checks the minimal set of invariants the engine relies on.
func (c Config) Validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("config: at least one service is required")
	}
	if c.Country == "" {
		return fmt.Errorf("config: country is required")
	}
	if c.GitOpsRepoPath == "" {
		return fmt.Errorf("config: gitops_repo_path is required")
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("config: retry_max must be >= 0")
	}
	return nil
}
