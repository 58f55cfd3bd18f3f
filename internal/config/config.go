// Package config loads firewall configuration. Precedence is defaults,
// then the YAML file, then AEGIS_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimit configures the fixed-window limiter.
type RateLimit struct {
	Enabled  bool `yaml:"enabled"`
	WindowMs int  `yaml:"windowMs"`
	Max      int  `yaml:"max"`
}

// IPBlocking configures automatic IP blocking on repeat violations.
type IPBlocking struct {
	Enabled       bool          `yaml:"enabled"`
	BlockDuration time.Duration `yaml:"blockDuration"`
	MaxViolations int           `yaml:"maxViolations"`
}

// Stats configures the counters collector.
type Stats struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retentionDays"`
}

// Config is the full firewall configuration.
type Config struct {
	Listen      string `yaml:"listen"`
	LogLevel    string `yaml:"logLevel"`
	Upstream    string `yaml:"upstream"`
	DatabaseURL string `yaml:"databaseUrl"`
	RulesFile   string `yaml:"rulesFile"`
	APIKey      string `yaml:"apiKey"`

	Enabled   bool     `yaml:"enabled"`
	DryRun    bool     `yaml:"dryRun"`
	Threshold float64  `yaml:"threshold"`
	Modules   []string `yaml:"modules"`
	SkipPaths []string `yaml:"skipPaths"`

	AdaptiveLearning bool `yaml:"adaptiveLearning"`
	LearningPeriod   int  `yaml:"learningPeriod"` // days

	AnomalyThreshold float64 `yaml:"anomalyThreshold"`

	RateLimit  RateLimit  `yaml:"rateLimit"`
	IPBlocking IPBlocking `yaml:"ipBlocking"`

	CommunityRules bool          `yaml:"communityRules"`
	CommunityURL   string        `yaml:"communityUrl"`
	AutoUpdate     bool          `yaml:"autoUpdate"`
	UpdateInterval time.Duration `yaml:"updateInterval"`

	Stats   Stats `yaml:"stats"`
	MaxLogs int   `yaml:"maxLogs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:    ":8080",
		LogLevel:  "info",
		Enabled:   true,
		DryRun:    false,
		Threshold: 10,
		Modules:   []string{"xss", "sqli"},
		SkipPaths: []string{"/health", "/metrics", "/favicon.ico"},

		AdaptiveLearning: false,
		LearningPeriod:   7,
		AnomalyThreshold: 5,

		RateLimit: RateLimit{
			Enabled:  true,
			WindowMs: 60000,
			Max:      100,
		},
		IPBlocking: IPBlocking{
			Enabled:       true,
			BlockDuration: time.Hour,
			MaxViolations: 5,
		},

		CommunityRules: false,
		AutoUpdate:     false,
		UpdateInterval: 24 * time.Hour,

		Stats:   Stats{Enabled: true, RetentionDays: 7},
		MaxLogs: 10000,
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %v", c.Threshold)
	}
	if c.LearningPeriod < 0 {
		return fmt.Errorf("learningPeriod must not be negative, got %d", c.LearningPeriod)
	}
	if c.RateLimit.Enabled && (c.RateLimit.WindowMs <= 0 || c.RateLimit.Max <= 0) {
		return fmt.Errorf("rateLimit requires positive windowMs and max")
	}
	return nil
}

// LearningDuration returns the learning period as a duration.
func (c *Config) LearningDuration() time.Duration {
	return time.Duration(c.LearningPeriod) * 24 * time.Hour
}

// RateLimitWindow returns the limiter window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMs) * time.Millisecond
}

func applyEnv(cfg *Config) {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr("AEGIS_LISTEN", &cfg.Listen)
	setStr("AEGIS_LOG_LEVEL", &cfg.LogLevel)
	setStr("AEGIS_UPSTREAM", &cfg.Upstream)
	setStr("DATABASE_URL", &cfg.DatabaseURL)
	setStr("AEGIS_RULES_FILE", &cfg.RulesFile)
	setStr("AEGIS_API_KEY", &cfg.APIKey)

	setBool("AEGIS_ENABLED", &cfg.Enabled)
	setBool("AEGIS_DRY_RUN", &cfg.DryRun)
	setFloat("AEGIS_THRESHOLD", &cfg.Threshold)
	if v := os.Getenv("AEGIS_MODULES"); v != "" {
		cfg.Modules = splitList(v)
	}
	if v := os.Getenv("AEGIS_SKIP_PATHS"); v != "" {
		cfg.SkipPaths = splitList(v)
	}

	setBool("AEGIS_ADAPTIVE_LEARNING", &cfg.AdaptiveLearning)
	setInt("AEGIS_LEARNING_PERIOD", &cfg.LearningPeriod)
	setFloat("AEGIS_ANOMALY_THRESHOLD", &cfg.AnomalyThreshold)

	setBool("AEGIS_RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	setInt("AEGIS_RATE_LIMIT_WINDOW_MS", &cfg.RateLimit.WindowMs)
	setInt("AEGIS_RATE_LIMIT_MAX", &cfg.RateLimit.Max)

	setBool("AEGIS_IP_BLOCKING_ENABLED", &cfg.IPBlocking.Enabled)
	setInt("AEGIS_IP_BLOCKING_MAX_VIOLATIONS", &cfg.IPBlocking.MaxViolations)
	if v := os.Getenv("AEGIS_IP_BLOCKING_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IPBlocking.BlockDuration = d
		}
	}

	setBool("AEGIS_COMMUNITY_RULES", &cfg.CommunityRules)
	setStr("AEGIS_COMMUNITY_URL", &cfg.CommunityURL)
	setBool("AEGIS_AUTO_UPDATE", &cfg.AutoUpdate)
	if v := os.Getenv("AEGIS_UPDATE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.UpdateInterval = d
		}
	}

	setBool("AEGIS_STATS_ENABLED", &cfg.Stats.Enabled)
	setInt("AEGIS_STATS_RETENTION_DAYS", &cfg.Stats.RetentionDays)
	setInt("AEGIS_MAX_LOGS", &cfg.MaxLogs)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
