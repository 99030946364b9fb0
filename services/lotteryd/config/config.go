package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Oracle modes.
const (
	OracleModeLocal = "local"
	OracleModeNATS  = "nats"
)

// Config captures runtime configuration for lotteryd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"environment"`
	DataDir       string          `yaml:"data_dir"`
	ArchivePath   string          `yaml:"archive"`
	GenesisPath   string          `yaml:"genesis"`
	Paused        bool            `yaml:"paused"`
	Logging       LoggingConfig   `yaml:"logging"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Keeper        KeeperConfig    `yaml:"keeper"`
	Oracle        OracleConfig    `yaml:"oracle"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// LoggingConfig selects the optional rotating log file.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// AuthConfig configures JWT bearer authentication.
type AuthConfig struct {
	Secret        string   `yaml:"secret"`
	Issuer        string   `yaml:"issuer"`
	Audience      string   `yaml:"audience"`
	OperatorScope string   `yaml:"operator_scope"`
	ClockSkew     Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// KeeperConfig tunes the background draw loop.
type KeeperConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
}

// OracleConfig selects the randomness source for oracle-mode lotteries.
type OracleConfig struct {
	Mode           string   `yaml:"mode"`
	URL            string   `yaml:"url"`
	RequestSubject string   `yaml:"request_subject"`
	FulfilSubject  string   `yaml:"fulfil_subject"`
	PublishTimeout Duration `yaml:"publish_timeout"`
	// FallbackAfter is how long a draw may await randomness before the local
	// fallback is allowed.
	FallbackAfter Duration `yaml:"fallback_after"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Load reads configuration from the supplied path, applies environment
// overrides and defaults, and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg, os.Getenv)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv("LOTTERYD_JWT_SECRET")); v != "" {
		cfg.Auth.Secret = v
	}
	if v := strings.TrimSpace(getenv("LOTTERYD_LISTEN")); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(getenv("LOTTERYD_LOG_FILE")); v != "" {
		cfg.Logging.File = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "/var/data/lotteryd"
	}
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = cfg.DataDir + "/events.sqlite"
	}
	if cfg.Auth.OperatorScope == "" {
		cfg.Auth.OperatorScope = "lottery:operator"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Keeper.Interval.Duration == 0 {
		cfg.Keeper.Interval.Duration = 15 * time.Second
	}
	cfg.Oracle.Mode = strings.ToLower(strings.TrimSpace(cfg.Oracle.Mode))
	if cfg.Oracle.Mode == "" {
		cfg.Oracle.Mode = OracleModeLocal
	}
	if cfg.Oracle.RequestSubject == "" {
		cfg.Oracle.RequestSubject = "lottery.vrf.request"
	}
	if cfg.Oracle.FulfilSubject == "" {
		cfg.Oracle.FulfilSubject = "lottery.vrf.fulfil"
	}
	if cfg.Oracle.PublishTimeout.Duration == 0 {
		cfg.Oracle.PublishTimeout.Duration = 5 * time.Second
	}
	if cfg.Oracle.FallbackAfter.Duration == 0 {
		cfg.Oracle.FallbackAfter.Duration = 10 * time.Minute
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Auth.Secret) == "" {
		return fmt.Errorf("auth.secret (or LOTTERYD_JWT_SECRET) must be configured")
	}
	if len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 bytes")
	}
	switch cfg.Oracle.Mode {
	case OracleModeLocal:
	case OracleModeNATS:
		if strings.TrimSpace(cfg.Oracle.URL) == "" {
			return fmt.Errorf("oracle.url must be configured for nats mode")
		}
	default:
		return fmt.Errorf("unknown oracle mode %q", cfg.Oracle.Mode)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if cfg.Keeper.Interval.Duration < time.Second {
		return fmt.Errorf("keeper.interval must be at least 1s")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within 0..1")
	}
	return nil
}
