package account

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// StoreConfig holds the health thresholds applied to every account. The
// numbers come from external configuration, not from this package.
type StoreConfig struct {
	// SoftFailureThreshold soft failures within SoftFailureWindow move a
	// healthy account to degraded.
	SoftFailureThreshold int           `toml:"soft_failure_threshold" json:"soft_failure_threshold"`
	SoftFailureWindow    time.Duration `toml:"soft_failure_window" json:"soft_failure_window"`

	// EscalationThreshold further soft failures within EscalationWindow move
	// a degraded account to suspended.
	EscalationThreshold int           `toml:"escalation_threshold" json:"escalation_threshold"`
	EscalationWindow    time.Duration `toml:"escalation_window" json:"escalation_window"`
}

// DefaultStoreConfig returns sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		SoftFailureThreshold: 3,
		SoftFailureWindow:    15 * time.Minute,
		EscalationThreshold:  1,
		EscalationWindow:     5 * time.Minute,
	}
}

// Validate checks the thresholds for values the store cannot operate with.
func (c StoreConfig) Validate() error {
	if c.SoftFailureThreshold < 1 || c.EscalationThreshold < 1 {
		return fmt.Errorf("failure thresholds must be at least 1")
	}
	if c.SoftFailureWindow <= 0 || c.EscalationWindow <= 0 {
		return fmt.Errorf("failure windows must be positive")
	}
	return nil
}

// entry is the mutable health record for one account. Every mutation happens
// under the entry mutex so concurrent reports never lose updates.
type entry struct {
	mu sync.Mutex

	acct Account

	state            HealthState
	softFailures     []time.Time // rolling window, pruned on report
	escalationFails  []time.Time // soft failures observed while degraded
	consecutiveFails int
	suspendReason    string

	lastUsed  time.Time
	hourStart time.Time
	hourUsed  int
	dayStart  time.Time
	dayUsed   int
}

// Store tracks health state and usage counters for every registered sending
// account. It is safe for concurrent use by many workers.
type Store struct {
	config StoreConfig
	logger *slog.Logger

	mu       sync.RWMutex
	accounts map[string]*entry

	// now is swappable in tests
	now func() time.Time
}

// NewStore creates an account health store.
func NewStore(config StoreConfig) *Store {
	return &Store{
		config:   config,
		logger:   slog.Default().With("component", "account-store"),
		accounts: make(map[string]*entry),
		now:      time.Now,
	}
}

// Register adds an account to the store in the healthy state. Registering an
// existing ID is an error; health history never resets implicitly.
func (s *Store) Register(acct Account) error {
	if err := acct.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acct.ID]; exists {
		return fmt.Errorf("account %s already registered", acct.ID)
	}

	s.accounts[acct.ID] = &entry{
		acct:  acct,
		state: Healthy,
	}

	s.logger.Info("account registered",
		"account_id", acct.ID,
		"tenant_id", acct.TenantID,
		"host", acct.Host,
		"rotation_group", acct.RotationGroup)

	return nil
}

// Report records the outcome of an operation executed through an account.
// Hard failures suspend immediately. Soft failures accumulate in a sliding
// window; crossing the first threshold degrades the account and further
// failures within the escalation window suspend it. Success clears the
// rolling window but never clears a suspension.
func (s *Store) Report(accountID string, oc Outcome) error {
	if !oc.Valid() {
		return fmt.Errorf("unknown outcome %q", oc)
	}

	e, err := s.lookup(accountID)
	if err != nil {
		return err
	}

	now := s.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	switch oc {
	case OutcomeSuccess:
		e.consecutiveFails = 0
		e.softFailures = e.softFailures[:0]
		e.escalationFails = e.escalationFails[:0]
		if e.state == Degraded {
			e.state = Healthy
			s.logger.Info("account recovered",
				"account_id", accountID,
				"state", e.state)
		}

	case OutcomeHardFailure:
		e.consecutiveFails++
		if e.state != Suspended {
			e.state = Suspended
			e.suspendReason = "hard failure reported"
			s.logger.Warn("account suspended",
				"account_id", accountID,
				"reason", e.suspendReason)
		}

	case OutcomeSoftFailure:
		e.consecutiveFails++
		e.softFailures = pruneBefore(append(e.softFailures, now), now.Add(-s.config.SoftFailureWindow))

		switch e.state {
		case Healthy:
			if len(e.softFailures) >= s.config.SoftFailureThreshold {
				e.state = Degraded
				e.escalationFails = e.escalationFails[:0]
				s.logger.Warn("account degraded",
					"account_id", accountID,
					"soft_failures", len(e.softFailures),
					"window", s.config.SoftFailureWindow)
			}
		case Degraded:
			e.escalationFails = pruneBefore(append(e.escalationFails, now), now.Add(-s.config.EscalationWindow))
			if len(e.escalationFails) >= s.config.EscalationThreshold {
				e.state = Suspended
				e.suspendReason = "soft failure escalation"
				s.logger.Warn("account suspended",
					"account_id", accountID,
					"reason", e.suspendReason)
			}
		case Suspended:
			// already out of rotation
		}
	}

	return nil
}

// Query returns the current health state and usage counters for an account.
func (s *Store) Query(accountID string) (Status, error) {
	e, err := s.lookup(accountID)
	if err != nil {
		return Status{}, err
	}

	now := s.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	return s.statusLocked(e, now), nil
}

// ListEligible returns the tenant's accounts that are not suspended and under
// the given usage caps, ordered least-recently-used first. A non-empty
// rotationGroup restricts the result to accounts registered under that group.
func (s *Store) ListEligible(tenantID, rotationGroup string, hourlyCap, dailyCap int) []Status {
	now := s.now()

	s.mu.RLock()
	candidates := make([]*entry, 0, len(s.accounts))
	for _, e := range s.accounts {
		if e.acct.TenantID != tenantID {
			continue
		}
		if rotationGroup != "" && e.acct.RotationGroup != rotationGroup {
			continue
		}
		candidates = append(candidates, e)
	}
	s.mu.RUnlock()

	eligible := make([]Status, 0, len(candidates))
	for _, e := range candidates {
		e.mu.Lock()
		s.rollUsageLocked(e, now)
		if e.state != Suspended && e.hourUsed < hourlyCap && e.dayUsed < dailyCap {
			eligible = append(eligible, s.statusLocked(e, now))
		}
		e.mu.Unlock()
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].LastUsed.Before(eligible[j].LastUsed)
	})

	return eligible
}

// Acquire claims one usage slot on an account if it is still eligible under
// the given caps. The eligibility check and the counter increment happen
// under the entry lock, so two workers can never double-book the last slot.
// It returns the full account (including the sealed credentials) for the
// caller to execute with.
func (s *Store) Acquire(accountID string, hourlyCap, dailyCap int) (Account, bool) {
	e, err := s.lookup(accountID)
	if err != nil {
		return Account{}, false
	}

	now := s.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	s.rollUsageLocked(e, now)
	if e.state == Suspended || e.hourUsed >= hourlyCap || e.dayUsed >= dailyCap {
		return Account{}, false
	}

	e.hourUsed++
	e.dayUsed++
	e.lastUsed = now
	return e.acct, true
}

// Reset clears a suspension and restores the account to healthy. This is the
// only path out of Suspended and is invoked by an operator, never by the
// pipeline itself.
func (s *Store) Reset(accountID string) error {
	e, err := s.lookup(accountID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.state
	e.state = Healthy
	e.suspendReason = ""
	e.consecutiveFails = 0
	e.softFailures = e.softFailures[:0]
	e.escalationFails = e.escalationFails[:0]

	s.logger.Info("account reset",
		"account_id", accountID,
		"previous_state", prev)

	return nil
}

// ListTenant returns the status of every account belonging to a tenant,
// regardless of eligibility.
func (s *Store) ListTenant(tenantID string) []Status {
	now := s.now()

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.accounts))
	for _, e := range s.accounts {
		if e.acct.TenantID == tenantID {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	statuses := make([]Status, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		s.rollUsageLocked(e, now)
		statuses = append(statuses, s.statusLocked(e, now))
		e.mu.Unlock()
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

func (s *Store) lookup(accountID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.accounts[accountID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("account %s not found", accountID)
	}
	return e, nil
}

// rollUsageLocked resets the hourly and daily usage counters when their
// fixed windows have elapsed. Caller holds e.mu.
func (s *Store) rollUsageLocked(e *entry, now time.Time) {
	hour := now.Truncate(time.Hour)
	if !e.hourStart.Equal(hour) {
		e.hourStart = hour
		e.hourUsed = 0
	}

	day := now.Truncate(24 * time.Hour)
	if !e.dayStart.Equal(day) {
		e.dayStart = day
		e.dayUsed = 0
	}
}

// statusLocked builds a Status snapshot. Caller holds e.mu.
func (s *Store) statusLocked(e *entry, now time.Time) Status {
	recent := 0
	cutoff := now.Add(-s.config.SoftFailureWindow)
	for _, t := range e.softFailures {
		if !t.Before(cutoff) {
			recent++
		}
	}

	return Status{
		ID:                 e.acct.ID,
		TenantID:           e.acct.TenantID,
		RotationGroup:      e.acct.RotationGroup,
		State:              e.state,
		ConsecutiveFails:   e.consecutiveFails,
		RecentSoftFailures: recent,
		HourlyUsed:         e.hourUsed,
		DailyUsed:          e.dayUsed,
		LastUsed:           e.lastUsed,
		SuspendReason:      e.suspendReason,
	}
}

// pruneBefore drops timestamps older than the cutoff, in place.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
