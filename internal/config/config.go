package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/sendrotor/sendrotor/internal/account"
	"github.com/sendrotor/sendrotor/internal/api"
	"github.com/sendrotor/sendrotor/internal/cache"
	"github.com/sendrotor/sendrotor/internal/pipeline"
	"github.com/sendrotor/sendrotor/internal/plan"
	"github.com/sendrotor/sendrotor/internal/queue"
	"github.com/sendrotor/sendrotor/internal/sender"
	"github.com/sendrotor/sendrotor/internal/validator"
)

// maxConfigFileSize caps what LoadConfig will read. Config files are small;
// anything bigger is a mistake or an attack.
const maxConfigFileSize = 1 << 20

// Config is the full daemon configuration, one section per subsystem.
type Config struct {
	API api.Config `toml:"api"`

	Logging LoggingConfig `toml:"logging"`

	Secrets SecretsConfig `toml:"secrets"`

	Cache cache.Config `toml:"cache"`

	Queue QueueConfig `toml:"queue"`

	Accounts account.StoreConfig `toml:"accounts"`

	// Plans overrides the built-in plan tiers. Empty means defaults.
	Plans map[string]plan.Limits `toml:"plans"`

	RateLimit RateLimitConfig `toml:"rate_limit"`

	Validator validator.Config `toml:"validator"`

	Sender sender.Config `toml:"sender"`

	Pipeline pipeline.Config `toml:"pipeline"`
}

// LoggingConfig controls the process-wide slog handler.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// SecretsConfig locates the credential encryption key. Exactly one of Key or
// KeyFile must be set; KeyFile wins when both are.
type SecretsConfig struct {
	Key     string `toml:"key"`
	KeyFile string `toml:"key_file"`
}

// QueueConfig groups the retry engine tunables with dead-letter persistence.
type QueueConfig struct {
	Engine     queue.EngineConfig `toml:"engine"`
	DeadLetter queue.SQLConfig    `toml:"dead_letter"`
}

// RateLimitConfig selects the admission bucket backend.
type RateLimitConfig struct {
	Backend  string `toml:"backend"` // "memory" or "redis"
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	Database int    `toml:"database"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		API: api.Config{
			Enabled:    true,
			ListenAddr: "127.0.0.1:8025",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Cache: cache.DefaultConfig(),
		Queue: QueueConfig{
			Engine: queue.DefaultEngineConfig(),
			DeadLetter: queue.SQLConfig{
				Driver: "sqlite3",
				DSN:    "./sendrotor-dlq.db",
			},
		},
		Accounts:  account.DefaultStoreConfig(),
		RateLimit: RateLimitConfig{Backend: "memory"},
		Validator: validator.DefaultConfig(),
		Sender:    sender.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
	}
}

// FindConfigFile looks for a configuration file in common locations. An
// explicit path is checked alone; an empty path walks the usual spots.
func FindConfigFile(configPath string) (string, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		return "", fmt.Errorf("config file not found at specified path: %s", configPath)
	}

	locations := []string{
		"./sendrotor.conf",
		"./config/sendrotor.conf",
		os.ExpandEnv("$HOME/.sendrotor.conf"),
		"/etc/sendrotor/sendrotor.conf",
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}

	return "", fmt.Errorf("no config file found")
}

// LoadConfig loads configuration from a file, falling back to defaults when
// no file is found. The SENDROTOR_SECRETS_KEY environment variable overrides
// the configured encryption key so it can stay out of the file.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	logger := slog.Default().With("component", "config")

	configFile, err := FindConfigFile(configPath)
	if err != nil {
		if configPath != "" {
			return nil, err
		}
		logger.Info("no config file found, using defaults")
		return cfg, applyEnvOverrides(cfg)
	}

	info, err := os.Stat(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing TOML configuration: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	result := cfg.Validate()
	if !result.Valid {
		var messages []string
		for _, verr := range result.Errors {
			messages = append(messages, verr.Error())
		}
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(messages, "; "))
	}
	for _, warning := range result.Warnings {
		logger.Warn("configuration warning", "warning", warning.Error())
	}

	logger.Info("configuration loaded",
		"path", configFile,
		"api_listen", cfg.API.ListenAddr)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if key := os.Getenv("SENDROTOR_SECRETS_KEY"); key != "" {
		cfg.Secrets.Key = key
		cfg.Secrets.KeyFile = ""
	}
	return nil
}

// EncryptionKey resolves the credential encryption key from the secrets
// section. The returned string is the base64 key the secrets package expects.
func (c *Config) EncryptionKey() (string, error) {
	if c.Secrets.KeyFile != "" {
		data, err := os.ReadFile(c.Secrets.KeyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read secrets key file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if c.Secrets.Key != "" {
		return c.Secrets.Key, nil
	}
	return "", fmt.Errorf("no credential encryption key configured")
}

// PlanLimits converts the configured tier overrides into registry form.
func (c *Config) PlanLimits() map[plan.Tier]plan.Limits {
	if len(c.Plans) == 0 {
		return nil
	}
	limits := make(map[plan.Tier]plan.Limits, len(c.Plans))
	for name, l := range c.Plans {
		limits[plan.Tier(name)] = l
	}
	return limits
}

// SaveConfig writes the configuration to a file in TOML format.
func (c *Config) SaveConfig(configPath string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SlogLevel maps the configured level name onto a slog level. Unknown names
// fall back to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isValidListenAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		// Hostnames are allowed; reject anything with spaces or slashes.
		if strings.ContainsAny(host, " /") {
			return false
		}
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n > 0 && n <= 65535
}
