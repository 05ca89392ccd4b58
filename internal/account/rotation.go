package account

import (
	"errors"
	"log/slog"
)

// ErrNoAccountAvailable signals that no account currently qualifies for
// selection. This is a defer signal, not a work-item failure: callers must
// re-evaluate the item later rather than failing it.
var ErrNoAccountAvailable = errors.New("no eligible sending account available")

// Selector implements account rotation: healthy before degraded,
// least-recently-used within the same state, usage caps respected.
type Selector struct {
	store  *Store
	logger *slog.Logger
}

// NewSelector creates a rotation selector backed by the given store.
func NewSelector(store *Store) *Selector {
	return &Selector{
		store:  store,
		logger: slog.Default().With("component", "rotation-selector"),
	}
}

// Select picks the next account for a tenant's send and claims one usage
// slot on it in the same step. The caps come from the tenant's plan. A
// non-empty rotationGroup limits rotation to that group's accounts.
//
// ListEligible orders by least-recently-used; the selector walks healthy
// accounts first, then degraded ones. Because another worker may claim the
// last slot between listing and acquiring, each candidate is re-checked
// atomically by Acquire and the walk continues on contention.
func (sel *Selector) Select(tenantID, rotationGroup string, hourlyCap, dailyCap int) (Account, error) {
	eligible := sel.store.ListEligible(tenantID, rotationGroup, hourlyCap, dailyCap)
	if len(eligible) == 0 {
		return Account{}, ErrNoAccountAvailable
	}

	for _, state := range []HealthState{Healthy, Degraded} {
		for _, st := range eligible {
			if st.State != state {
				continue
			}

			acct, ok := sel.store.Acquire(st.ID, hourlyCap, dailyCap)
			if !ok {
				// lost the race for the last slot, or the account was
				// suspended since listing
				continue
			}

			sel.logger.Debug("account selected",
				"tenant_id", tenantID,
				"account_id", acct.ID,
				"state", state)

			return acct, nil
		}
	}

	return Account{}, ErrNoAccountAvailable
}
