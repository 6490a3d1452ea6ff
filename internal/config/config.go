// Package config provides configuration management for the scanner.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mwhitfield/spreadscan/internal/policy"
	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultConcurrency bounds parallel snapshot fetches when scan.concurrency is unset
	defaultConcurrency = 4
	// defaultReportPath is used when report.path is unset
	defaultReportPath = "reports.json"
	// defaultDashboardPort is used when the dashboard is enabled without a port
	defaultDashboardPort = 8080
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Provider    ProviderConfig    `yaml:"provider"`
	Scan        ScanConfig        `yaml:"scan"`
	Risk        policy.RiskPolicy `yaml:"risk"`
	Report      ReportConfig      `yaml:"report"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ProviderConfig defines where option-chain snapshots come from.
type ProviderConfig struct {
	Mode string `yaml:"mode"` // file | synthetic
	// Path to the snapshot YAML file when mode is "file".
	Path string `yaml:"path"`
	// Seed for the synthetic provider; zero means derive from the clock.
	Seed int64 `yaml:"seed"`
	// CircuitBreaker wraps the provider so repeated fetch failures
	// short-circuit instead of stalling the whole scan.
	CircuitBreaker bool `yaml:"circuit_breaker"`
}

// ScanConfig defines what to scan and how hard to push the machine.
type ScanConfig struct {
	Symbols []string `yaml:"symbols"`
	// Strategies to run; empty means all registered strategies.
	Strategies []string `yaml:"strategies"`
	// Expirations pins specific expirations per symbol. Symbols absent
	// from the map use whatever the provider lists.
	Expirations map[string][]string `yaml:"expirations"`
	Concurrency int                 `yaml:"concurrency"`
	// Policies carries per-strategy overrides keyed by strategy ID.
	Policies map[string]*policy.Request `yaml:"policies"`
}

// ReportConfig defines persistence settings for scan reports.
type ReportConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the read-only report viewer.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
// It also fills in defaults for optional fields.
func (c *Config) Validate() error {
	c.normalize()

	if c.Environment.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.Environment.LogLevel); err != nil {
			return fmt.Errorf("environment.log_level invalid: %w", err)
		}
	}

	switch c.Provider.Mode {
	case "file":
		if c.Provider.Path == "" {
			return fmt.Errorf("provider.path is required when provider.mode is 'file'")
		}
	case "synthetic":
	default:
		return fmt.Errorf("provider.mode must be 'file' or 'synthetic'")
	}

	if len(c.Scan.Symbols) == 0 {
		return fmt.Errorf("scan.symbols is required")
	}
	for _, sym := range c.Scan.Symbols {
		if sym == "" {
			return fmt.Errorf("scan.symbols must not contain empty entries")
		}
	}
	for _, id := range c.Scan.Strategies {
		if !knownStrategy(id) {
			return fmt.Errorf("scan.strategies contains unknown strategy %q", id)
		}
	}
	for id := range c.Scan.Policies {
		if !knownStrategy(id) {
			return fmt.Errorf("scan.policies keyed by unknown strategy %q", id)
		}
	}
	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("scan.concurrency must be > 0")
	}

	// Risk keys are validated at resolve time against the policy schema;
	// here we only reject values that can never be valid.
	for key, v := range c.Risk {
		if v < 0 {
			return fmt.Errorf("risk.%s must be >= 0", key)
		}
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in [1,65535]")
	}

	return nil
}

// StrategyIDs returns the strategies to run, defaulting to all of them.
func (c *Config) StrategyIDs() []string {
	if len(c.Scan.Strategies) == 0 {
		return append([]string(nil), policy.StrategyIDs...)
	}
	return c.Scan.Strategies
}

// LogLevel parses environment.log_level, defaulting to info.
func (c *Config) LogLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.Environment.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (c *Config) normalize() {
	if c.Provider.Mode == "" {
		c.Provider.Mode = "file"
	}
	if c.Scan.Concurrency == 0 {
		c.Scan.Concurrency = defaultConcurrency
	}
	if c.Report.Path == "" {
		c.Report.Path = defaultReportPath
	}
	if c.Dashboard.Enabled && c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
}

func knownStrategy(id string) bool {
	for _, known := range policy.StrategyIDs {
		if id == known {
			return true
		}
	}
	return false
}
