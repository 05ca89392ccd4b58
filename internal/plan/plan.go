package plan

import (
	"fmt"
	"time"
)

// Tier identifies a subscription plan tier.
type Tier string

const (
	// TierFree is the entry-level plan with low throughput and concurrency.
	TierFree Tier = "free"
	// TierPremium is the paid plan with higher throughput and concurrency.
	TierPremium Tier = "premium"
)

// Valid reports whether the tier is a known plan tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium:
		return true
	}
	return false
}

// QueuePriority returns the dequeue priority for the tier. Higher values
// dequeue first.
func (t Tier) QueuePriority() int {
	switch t {
	case TierPremium:
		return 2
	case TierFree:
		return 1
	default:
		return 0
	}
}

// Limits holds the read-only pipeline limits for one plan tier. The pipeline
// never mutates these; they come from the plan-definition configuration.
type Limits struct {
	// Retry and backoff settings for the queue engine
	RetryCeiling   int           `toml:"retry_ceiling" json:"retry_ceiling"`
	BackoffBase    time.Duration `toml:"backoff_base" json:"backoff_base"`
	BackoffMax     time.Duration `toml:"backoff_max" json:"backoff_max"`
	JitterFraction float64       `toml:"jitter_fraction" json:"jitter_fraction"`

	// Rate-limit capacities per fixed window
	SendCapacity  int           `toml:"send_capacity" json:"send_capacity"`
	SendWindow    time.Duration `toml:"send_window" json:"send_window"`
	ProbeCapacity int           `toml:"probe_capacity" json:"probe_capacity"`
	ProbeWindow   time.Duration `toml:"probe_window" json:"probe_window"`

	// Usage ceilings per sending account
	AccountHourlyCap int `toml:"account_hourly_cap" json:"account_hourly_cap"`
	AccountDailyCap  int `toml:"account_daily_cap" json:"account_daily_cap"`

	// Retention for validation results, enforced by a collaborator
	ResultRetention time.Duration `toml:"result_retention" json:"result_retention"`
}

// Validate checks the limits for values the pipeline cannot operate with.
func (l Limits) Validate() error {
	if l.RetryCeiling < 1 {
		return fmt.Errorf("retry_ceiling must be at least 1, got %d", l.RetryCeiling)
	}
	if l.BackoffBase <= 0 {
		return fmt.Errorf("backoff_base must be positive, got %s", l.BackoffBase)
	}
	if l.BackoffMax < l.BackoffBase {
		return fmt.Errorf("backoff_max (%s) must not be below backoff_base (%s)", l.BackoffMax, l.BackoffBase)
	}
	if l.JitterFraction < 0 || l.JitterFraction >= 1 {
		return fmt.Errorf("jitter_fraction must be in [0, 1), got %f", l.JitterFraction)
	}
	if l.SendCapacity < 1 || l.ProbeCapacity < 1 {
		return fmt.Errorf("send_capacity and probe_capacity must be at least 1")
	}
	if l.SendWindow <= 0 || l.ProbeWindow <= 0 {
		return fmt.Errorf("send_window and probe_window must be positive")
	}
	if l.AccountHourlyCap < 1 || l.AccountDailyCap < 1 {
		return fmt.Errorf("account caps must be at least 1")
	}
	return nil
}

// DefaultLimits returns the built-in limits per tier. Production deployments
// override these through configuration.
func DefaultLimits() map[Tier]Limits {
	return map[Tier]Limits{
		TierFree: {
			RetryCeiling:     3,
			BackoffBase:      time.Minute,
			BackoffMax:       6 * time.Hour,
			JitterFraction:   0.1,
			SendCapacity:     20,
			SendWindow:       time.Minute,
			ProbeCapacity:    10,
			ProbeWindow:      time.Minute,
			AccountHourlyCap: 50,
			AccountDailyCap:  500,
			ResultRetention:  7 * 24 * time.Hour,
		},
		TierPremium: {
			RetryCeiling:     5,
			BackoffBase:      time.Minute,
			BackoffMax:       6 * time.Hour,
			JitterFraction:   0.1,
			SendCapacity:     200,
			SendWindow:       time.Minute,
			ProbeCapacity:    100,
			ProbeWindow:      time.Minute,
			AccountHourlyCap: 500,
			AccountDailyCap:  5000,
			ResultRetention:  90 * 24 * time.Hour,
		},
	}
}

// Registry resolves plan tiers to their limits. It is immutable after
// construction so concurrent lookups need no locking.
type Registry struct {
	limits map[Tier]Limits
}

// NewRegistry creates a registry from the given per-tier limits. Every entry
// is validated; an empty map falls back to the defaults.
func NewRegistry(limits map[Tier]Limits) (*Registry, error) {
	if len(limits) == 0 {
		limits = DefaultLimits()
	}

	resolved := make(map[Tier]Limits, len(limits))
	for tier, l := range limits {
		if !tier.Valid() {
			return nil, fmt.Errorf("unknown plan tier %q", tier)
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("invalid limits for tier %q: %w", tier, err)
		}
		resolved[tier] = l
	}

	return &Registry{limits: resolved}, nil
}

// Lookup returns the limits for a tier. Unknown tiers are a configuration
// error and must fail fast at enqueue time.
func (r *Registry) Lookup(tier Tier) (Limits, error) {
	l, ok := r.limits[tier]
	if !ok {
		return Limits{}, fmt.Errorf("no plan definition for tier %q", tier)
	}
	return l, nil
}

// Tiers returns the tiers known to the registry.
func (r *Registry) Tiers() []Tier {
	tiers := make([]Tier, 0, len(r.limits))
	for t := range r.limits {
		tiers = append(tiers, t)
	}
	return tiers
}
