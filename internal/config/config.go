// Package config loads the service's own operational configuration (the
// AMBIENT STACK: listen address, redis address, worker concurrency,
// timeouts) and validates the per-request GSASTConfig payload the
// control-plane API accepts (spec.md §6.2).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service's own startup configuration, loaded from a YAML
// file and overlaid with environment variables (spec.md §6.4), in the
// teacher's config.Load style.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	TempRoot   string `yaml:"temp_root"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	APISecretKey string `yaml:"api_secret_key"`

	Worker struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"worker"`

	Timeouts Timeouts `yaml:"timeouts"`
}

// Timeouts holds the defaults enumerated in spec.md §6.5.
type Timeouts struct {
	Clone             time.Duration `yaml:"clone"`
	WorkerWait        time.Duration `yaml:"worker_wait"`
	JobPollInterval   time.Duration `yaml:"job_poll_interval"`
	ProjectStatusPoll time.Duration `yaml:"project_status_poll_interval"`
	Job               time.Duration `yaml:"job_timeout"`
	JobResultTTL      time.Duration `yaml:"job_result_ttl"`
}

func defaultTimeouts() Timeouts {
	return Timeouts{
		Clone:             300 * time.Second,
		WorkerWait:        120 * time.Second,
		JobPollInterval:   3 * time.Second,
		ProjectStatusPoll: 1 * time.Second,
		Job:               15 * time.Minute,
		JobResultTTL:      3 * 24 * time.Hour,
	}
}

// Load reads path (if it exists), applies defaults for anything absent,
// then overlays recognized environment variables (spec.md §6.4).
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr: ":8080",
		TempRoot:   os.TempDir(),
		Timeouts:   defaultTimeouts(),
	}
	cfg.Worker.Concurrency = 4

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("API_SECRET_KEY"); v != "" {
		cfg.APISecretKey = v
	}
}

func (cfg *Config) validate() error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr (or REDIS_URL) is required")
	}
	if cfg.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be at least 1")
	}
	if cfg.Timeouts.Clone <= 0 {
		return fmt.Errorf("config: timeouts.clone must be positive")
	}
	return nil
}

// Env bundles the provider-token environment described in spec.md §6.4.
type Env struct {
	GitHubToken      string
	GitLabURL        string
	GitLabToken      string
	CABundle         string
	GitHubDisableSSL bool
}

func LoadEnv() Env {
	return Env{
		GitHubToken:      os.Getenv("GITHUB_API_TOKEN"),
		GitLabURL:        os.Getenv("GITLAB_URL"),
		GitLabToken:      os.Getenv("GITLAB_API_TOKEN"),
		CABundle:         firstNonEmpty(os.Getenv("REQUESTS_CA_BUNDLE"), os.Getenv("SSL_CERT_FILE")),
		GitHubDisableSSL: os.Getenv("GITHUB_DISABLE_SSL_VERIFY") == "true",
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
