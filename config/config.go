// Package config loads plugwatch configuration from a YAML file, with
// environment overrides for deployment-specific values.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/plugwatch/session"
)

// Config is the top-level plugwatch configuration.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	Listen    string          `yaml:"listen"`
	Browser   BrowserConfig   `yaml:"browser"`
	Session   SessionConfig   `yaml:"session"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Headless        *bool         `yaml:"headless"`
	Stealth         *bool         `yaml:"stealth"`
	WindowWidth     int           `yaml:"window_width"`
	WindowHeight    int           `yaml:"window_height"`
	PageLoadTimeout time.Duration `yaml:"page_load_timeout"`
}

// SessionConfig controls login automation.
type SessionConfig struct {
	LoginURL      string            `yaml:"login_url"`
	Selectors     session.Selectors `yaml:"selectors"`
	StepTimeout   time.Duration     `yaml:"step_timeout"`
	SettleDelay   time.Duration     `yaml:"settle_delay"`
	ScreenshotDir string            `yaml:"screenshot_dir"`
}

// RefreshConfig controls extraction batches.
type RefreshConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// SchedulerConfig controls the background loops.
type SchedulerConfig struct {
	CookieCheckInterval time.Duration `yaml:"cookie_check_interval"`
	CookieHorizon       time.Duration `yaml:"cookie_horizon"`
	JobVisibility       time.Duration `yaml:"job_visibility"`
	JobPollInterval     time.Duration `yaml:"job_poll_interval"`
	JobRetryBackoff     time.Duration `yaml:"job_retry_backoff"`
}

// CredentialKeyEnv names the environment variable holding the base64
// credential encryption key. It is never read from the YAML file.
const CredentialKeyEnv = "PLUGWATCH_CRED_KEY"

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "plugwatch.db"
	}
	if c.Listen == "" {
		c.Listen = ":8090"
	}
	if c.Session.LoginURL == "" {
		c.Session.LoginURL = "https://placetoplug.com/es/login"
	}
	if c.Refresh.Concurrency <= 0 {
		c.Refresh.Concurrency = 2
	}
	if c.Scheduler.CookieCheckInterval <= 0 {
		c.Scheduler.CookieCheckInterval = time.Hour
	}
	if c.Scheduler.CookieHorizon <= 0 {
		c.Scheduler.CookieHorizon = 24 * time.Hour
	}
	if c.Scheduler.JobVisibility <= 0 {
		c.Scheduler.JobVisibility = 5 * time.Minute
	}
	if c.Scheduler.JobPollInterval <= 0 {
		c.Scheduler.JobPollInterval = 15 * time.Second
	}
	if c.Scheduler.JobRetryBackoff <= 0 {
		c.Scheduler.JobRetryBackoff = time.Minute
	}
}

// LoadFile reads a YAML configuration file and applies defaults. An absent
// path yields the defaults alone.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.defaults()
	return cfg, nil
}

// applyEnv overrides file values with environment variables so deployments
// can reconfigure without editing the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("PLUGWATCH_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("PLUGWATCH_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("PLUGWATCH_LOGIN_URL"); v != "" {
		c.Session.LoginURL = v
	}
}
