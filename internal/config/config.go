package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables recognised on top of the YAML file.
const (
	EnvConfigPath  = "POLICY_ROUTER_CONFIG"
	EnvDatabaseDSN = "POLICY_ROUTER_DSN"
	EnvPort        = "POLICY_ROUTER_PORT"
	EnvPolicyAuth  = "POLICY_ROUTER_POLICY_AUTH"
	EnvAdminAuth   = "POLICY_ROUTER_ADMIN_AUTH"
	EnvLogLevel    = "POLICY_ROUTER_LOG_LEVEL"
)

const (
	defaultConfigPath        = "config.yaml"
	defaultDSN               = "data/policy-router.db"
	defaultPort              = 8080
	defaultUpstreamTimeout   = 10 * time.Second
	defaultRandomProbes      = 50
	defaultRetentionDays     = 30
	defaultPruneSchedule     = "0 3 * * *"
	defaultBodySnippetBytes  = 2048
	defaultRedisStreamMaxLen = 100000
	defaultMetricsPath       = "/metrics"
)

// AppConfig holds process-level options supplied on the command line.
type AppConfig struct {
	ConfigPath string
}

// Config is the full router configuration, loaded once at startup.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	PolicyAuth AuthConfig       `yaml:"policy-auth"`
	AdminAuth  AuthConfig       `yaml:"admin-auth"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Validation ValidationConfig `yaml:"validation"`
	RequestLog RequestLogConfig `yaml:"request-log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	SchemaFile string           `yaml:"schema-file"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read-timeout"`
	WriteTimeout    time.Duration `yaml:"write-timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`
	TrustedProxies  []string      `yaml:"trusted-proxies"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig toggles basic auth and seeds credentials.
type AuthConfig struct {
	Enabled bool             `yaml:"enabled"`
	Users   []CredentialSeed `yaml:"users"`
}

// CredentialSeed is a credential upserted at startup. Password may be plain text or a bcrypt hash.
type CredentialSeed struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// UpstreamConfig tunes calls to upstream policy servers.
type UpstreamConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ValidationConfig tunes the rule overlap heuristic.
type ValidationConfig struct {
	RandomProbes int `yaml:"random-probes"`
}

// RequestLogConfig configures the audit trail.
type RequestLogConfig struct {
	RetentionDays    int               `yaml:"retention-days"`
	PruneSchedule    string            `yaml:"prune-schedule"`
	BodySnippetBytes int               `yaml:"body-snippet-bytes"`
	Redis            RedisStreamConfig `yaml:"redis"`
}

// RedisStreamConfig enables mirroring audit entries to a Redis stream.
type RedisStreamConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max-len"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logrus output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// ResolveConfigPath picks the config file from the flag, the environment, or the default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return filepath.Clean(trimmed)
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return filepath.Clean(env)
	}
	return defaultConfigPath
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads .env (when present), the YAML file at path and environment overrides.
// A missing file is not an error; defaults and environment still apply.
func Load(path string) (*Config, error) {
	if errEnv := godotenv.Load(); errEnv == nil {
		log.Debug("loaded .env file")
	}

	cfg := &Config{}
	data, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		expanded := os.ExpandEnv(string(data))
		if errUnmarshal := yaml.Unmarshal([]byte(expanded), cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
		log.Warnf("config file %s not found, using defaults", path)
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	if errOverride := cfg.applyEnv(); errOverride != nil {
		return nil, errOverride
	}
	cfg.applyDefaults()
	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

// LoadDatabaseDSN loads the configuration at path and returns only the DSN.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	return cfg.Database.DSN, nil
}

func (c *Config) applyEnv() error {
	if dsn := strings.TrimSpace(os.Getenv(EnvDatabaseDSN)); dsn != "" {
		c.Database.DSN = dsn
	}
	if raw := strings.TrimSpace(os.Getenv(EnvPort)); raw != "" {
		port, errParse := strconv.Atoi(raw)
		if errParse != nil {
			return fmt.Errorf("config: %s: %w", EnvPort, errParse)
		}
		c.Server.Port = port
	}
	if raw := strings.TrimSpace(os.Getenv(EnvPolicyAuth)); raw != "" {
		enabled, errParse := strconv.ParseBool(raw)
		if errParse != nil {
			return fmt.Errorf("config: %s: %w", EnvPolicyAuth, errParse)
		}
		c.PolicyAuth.Enabled = enabled
	}
	if raw := strings.TrimSpace(os.Getenv(EnvAdminAuth)); raw != "" {
		enabled, errParse := strconv.ParseBool(raw)
		if errParse != nil {
			return fmt.Errorf("config: %s: %w", EnvAdminAuth, errParse)
		}
		c.AdminAuth.Enabled = enabled
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.Logging.Level = level
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Database.DSN) == "" {
		c.Database.DSN = defaultDSN
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		// Must outlive the upstream timeout.
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = defaultUpstreamTimeout
	}
	if c.Validation.RandomProbes <= 0 {
		c.Validation.RandomProbes = defaultRandomProbes
	}
	if c.RequestLog.RetentionDays == 0 {
		c.RequestLog.RetentionDays = defaultRetentionDays
	}
	if strings.TrimSpace(c.RequestLog.PruneSchedule) == "" {
		c.RequestLog.PruneSchedule = defaultPruneSchedule
	}
	if c.RequestLog.BodySnippetBytes <= 0 {
		c.RequestLog.BodySnippetBytes = defaultBodySnippetBytes
	}
	if strings.TrimSpace(c.RequestLog.Redis.Stream) == "" {
		c.RequestLog.Redis.Stream = "policy-router:requests"
	}
	if c.RequestLog.Redis.MaxLen <= 0 {
		c.RequestLog.Redis.MaxLen = defaultRedisStreamMaxLen
	}
	if strings.TrimSpace(c.Metrics.Path) == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 10
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 30
	}
}

// Validate rejects configurations the router cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.RequestLog.Redis.Enabled && strings.TrimSpace(c.RequestLog.Redis.Addr) == "" {
		return fmt.Errorf("config: request-log.redis.addr is required when redis is enabled")
	}
	for _, seed := range append(append([]CredentialSeed{}, c.PolicyAuth.Users...), c.AdminAuth.Users...) {
		if strings.TrimSpace(seed.Username) == "" || seed.Password == "" {
			return fmt.Errorf("config: credential seeds need a username and a password")
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unsupported logging format %q", c.Logging.Format)
	}
	return nil
}
