package account

import (
	"fmt"
	"time"
)

// HealthState is the closed set of sending-account health states.
type HealthState string

const (
	// Healthy accounts are preferred for sending.
	Healthy HealthState = "healthy"
	// Degraded accounts have crossed the soft-failure threshold and are used
	// only when no healthy account is available.
	Degraded HealthState = "degraded"
	// Suspended accounts are never selected. Suspension is cleared only by an
	// explicit operator reset, never automatically.
	Suspended HealthState = "suspended"
)

// Valid reports whether the state is a known health state.
func (s HealthState) Valid() bool {
	switch s {
	case Healthy, Degraded, Suspended:
		return true
	}
	return false
}

// Outcome is the closed set of account-level outcome signals reported after
// a send or probe executed through an account.
type Outcome string

const (
	// OutcomeSuccess means the operation completed against the remote server.
	OutcomeSuccess Outcome = "success"
	// OutcomeSoftFailure means a transient problem (SMTP 4xx, timeout).
	OutcomeSoftFailure Outcome = "soft_failure"
	// OutcomeHardFailure means the account itself is burned (auth rejected,
	// provider flagged it). The account is suspended immediately.
	OutcomeHardFailure Outcome = "hard_failure"
)

// Valid reports whether the outcome is a known outcome signal.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeSoftFailure, OutcomeHardFailure:
		return true
	}
	return false
}

// Account describes one SMTP sending account. Credentials holds the sealed
// ciphertext produced by the secrets package; the store treats it as an
// opaque handle and it is excluded from every serialized or logged form.
type Account struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Credentials   string `json:"-"`
	RotationGroup string `json:"rotation_group,omitempty"`
}

// Validate checks the account definition before registration.
func (a Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if a.TenantID == "" {
		return fmt.Errorf("account %s: tenant id is required", a.ID)
	}
	if a.Host == "" {
		return fmt.Errorf("account %s: host is required", a.ID)
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("account %s: invalid port %d", a.ID, a.Port)
	}
	if a.Username == "" {
		return fmt.Errorf("account %s: username is required", a.ID)
	}
	return nil
}

// Status is the queryable view of an account's health and usage. It carries
// no credential material.
type Status struct {
	ID                 string      `json:"id"`
	TenantID           string      `json:"tenant_id"`
	RotationGroup      string      `json:"rotation_group,omitempty"`
	State              HealthState `json:"state"`
	ConsecutiveFails   int         `json:"consecutive_failures"`
	RecentSoftFailures int         `json:"recent_soft_failures"`
	HourlyUsed         int         `json:"hourly_used"`
	DailyUsed          int         `json:"daily_used"`
	LastUsed           time.Time   `json:"last_used,omitempty"`
	SuspendReason      string      `json:"suspend_reason,omitempty"`
}
