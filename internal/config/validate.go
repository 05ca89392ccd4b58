package config

import (
	"fmt"

	"github.com/sendrotor/sendrotor/internal/plan"
)

// ValidationError describes a single configuration problem.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (value: %v)", e.Field, e.Message, e.Value)
}

// ValidationResult collects errors and warnings from a validation pass.
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// AddError records a fatal configuration problem.
func (vr *ValidationResult) AddError(field string, value interface{}, message string) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message})
}

// AddWarning records a suspicious but non-fatal setting.
func (vr *ValidationResult) AddWarning(field string, value interface{}, message string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message})
}

// Validate checks the whole configuration and returns everything wrong with
// it, not just the first problem.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}

	c.validateAPI(result)
	c.validateLogging(result)
	c.validateCache(result)
	c.validateQueue(result)
	c.validatePlans(result)
	c.validateRateLimit(result)
	c.validatePipeline(result)
	c.validateSecrets(result)

	return result
}

func (c *Config) validateAPI(result *ValidationResult) {
	if !c.API.Enabled {
		return
	}
	if c.API.ListenAddr == "" {
		result.AddError("api.listen_addr", c.API.ListenAddr, "listen address is required when the API is enabled")
		return
	}
	if !isValidListenAddress(c.API.ListenAddr) {
		result.AddError("api.listen_addr", c.API.ListenAddr, "invalid listen address, expected host:port")
	}
}

func (c *Config) validateLogging(result *ValidationResult) {
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		result.AddError("logging.format", c.Logging.Format, "must be text or json")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		result.AddWarning("logging.level", c.Logging.Level, "unknown level, falling back to info")
	}
}

func (c *Config) validateCache(result *ValidationResult) {
	switch c.Cache.Backend {
	case "", "memory":
	case "redis", "memcached":
		if c.Cache.Addr == "" {
			result.AddError("cache.addr", c.Cache.Addr, fmt.Sprintf("address is required for the %s backend", c.Cache.Backend))
		}
	default:
		result.AddError("cache.backend", c.Cache.Backend, "must be memory, redis, or memcached")
	}
}

func (c *Config) validateQueue(result *ValidationResult) {
	if c.Queue.Engine.FairnessQuota < 0 {
		result.AddError("queue.engine.fairness_quota", c.Queue.Engine.FairnessQuota, "must be zero or positive")
	}
	switch c.Queue.DeadLetter.Driver {
	case "", "sqlite3", "mysql", "postgres":
	default:
		result.AddError("queue.dead_letter.driver", c.Queue.DeadLetter.Driver, "must be sqlite3, mysql, or postgres")
	}
	if c.Queue.DeadLetter.Driver != "" && c.Queue.DeadLetter.DSN == "" {
		result.AddError("queue.dead_letter.dsn", c.Queue.DeadLetter.DSN, "dsn is required when a driver is set")
	}
}

func (c *Config) validatePlans(result *ValidationResult) {
	for name, limits := range c.Plans {
		tier := plan.Tier(name)
		if !tier.Valid() {
			result.AddError("plans."+name, name, "unknown plan tier")
			continue
		}
		if limits.RetryCeiling < 1 {
			result.AddError("plans."+name+".retry_ceiling", limits.RetryCeiling, "must be at least 1")
		}
		if limits.BackoffBase <= 0 {
			result.AddError("plans."+name+".backoff_base", limits.BackoffBase, "must be positive")
		}
		if limits.BackoffMax < limits.BackoffBase {
			result.AddError("plans."+name+".backoff_max", limits.BackoffMax, "must be at least backoff_base")
		}
		if limits.JitterFraction < 0 || limits.JitterFraction >= 1 {
			result.AddError("plans."+name+".jitter_fraction", limits.JitterFraction, "must be in [0, 1)")
		}
		if limits.SendCapacity <= 0 {
			result.AddError("plans."+name+".send_capacity", limits.SendCapacity, "must be positive")
		}
	}
}

func (c *Config) validateRateLimit(result *ValidationResult) {
	switch c.RateLimit.Backend {
	case "", "memory":
	case "redis":
		if c.RateLimit.Addr == "" {
			result.AddError("rate_limit.addr", c.RateLimit.Addr, "address is required for the redis backend")
		}
	default:
		result.AddError("rate_limit.backend", c.RateLimit.Backend, "must be memory or redis")
	}
}

func (c *Config) validatePipeline(result *ValidationResult) {
	if err := c.Pipeline.Validate(); err != nil {
		result.AddError("pipeline", "", err.Error())
	}
}

func (c *Config) validateSecrets(result *ValidationResult) {
	if c.Secrets.Key == "" && c.Secrets.KeyFile == "" {
		result.AddWarning("secrets", "", "no credential encryption key configured; account registration will fail")
	}
	if c.Secrets.Key != "" && c.Secrets.KeyFile != "" {
		result.AddWarning("secrets.key", "(set)", "both key and key_file set; key_file wins")
	}
}
