package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierValidity(t *testing.T) {
	assert.True(t, TierFree.Valid())
	assert.True(t, TierPremium.Valid())
	assert.False(t, Tier("platinum").Valid())
	assert.False(t, Tier("").Valid())
}

func TestPremiumDequeuesBeforeFree(t *testing.T) {
	assert.Greater(t, TierPremium.QueuePriority(), TierFree.QueuePriority())
	assert.Equal(t, 0, Tier("unknown").QueuePriority())
}

func TestDefaultLimitsValidate(t *testing.T) {
	for tier, limits := range DefaultLimits() {
		assert.NoError(t, limits.Validate(), "tier %s", tier)
	}
}

func TestLimitsValidateRejectsBadValues(t *testing.T) {
	good := DefaultLimits()[TierFree]

	cases := map[string]func(*Limits){
		"zero retry ceiling":    func(l *Limits) { l.RetryCeiling = 0 },
		"zero backoff base":     func(l *Limits) { l.BackoffBase = 0 },
		"max below base":        func(l *Limits) { l.BackoffMax = l.BackoffBase - time.Second },
		"negative jitter":       func(l *Limits) { l.JitterFraction = -0.1 },
		"jitter of one":         func(l *Limits) { l.JitterFraction = 1.0 },
		"zero send capacity":    func(l *Limits) { l.SendCapacity = 0 },
		"zero send window":      func(l *Limits) { l.SendWindow = 0 },
		"zero hourly cap":       func(l *Limits) { l.AccountHourlyCap = 0 },
	}

	for name, mutate := range cases {
		l := good
		mutate(&l)
		assert.Error(t, l.Validate(), name)
	}
}

func TestRegistryDefaultsWhenEmpty(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []Tier{TierFree, TierPremium}, reg.Tiers())

	free, err := reg.Lookup(TierFree)
	require.NoError(t, err)
	assert.Equal(t, 3, free.RetryCeiling)

	premium, err := reg.Lookup(TierPremium)
	require.NoError(t, err)
	assert.Equal(t, 5, premium.RetryCeiling)
}

func TestRegistryRejectsUnknownTier(t *testing.T) {
	_, err := NewRegistry(map[Tier]Limits{
		Tier("platinum"): DefaultLimits()[TierFree],
	})
	require.Error(t, err)
}

func TestRegistryRejectsInvalidLimits(t *testing.T) {
	bad := DefaultLimits()[TierFree]
	bad.RetryCeiling = 0

	_, err := NewRegistry(map[Tier]Limits{TierFree: bad})
	require.Error(t, err)
}

func TestRegistryLookupUnknownTier(t *testing.T) {
	reg, err := NewRegistry(map[Tier]Limits{TierFree: DefaultLimits()[TierFree]})
	require.NoError(t, err)

	_, err = reg.Lookup(TierPremium)
	assert.Error(t, err)
}
