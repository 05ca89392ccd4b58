package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sendrotor/sendrotor/internal/cache"
	"github.com/sendrotor/sendrotor/internal/outcome"
)

// Config tunes the deliverability validator.
type Config struct {
	DNS   DNSConfig   `toml:"dns" json:"dns"`
	Probe ProbeConfig `toml:"probe" json:"probe"`

	// VerdictTTL is how long conclusive verdicts are cached.
	VerdictTTL time.Duration `toml:"verdict_ttl" json:"verdict_ttl"`
	// UnknownTTL is how long unknown verdicts are cached before a re-check.
	UnknownTTL time.Duration `toml:"unknown_ttl" json:"unknown_ttl"`

	// ExtraFreeDomains and ExtraDisposableDomains extend the built-in
	// provider lists.
	ExtraFreeDomains       []string `toml:"extra_free_domains" json:"extra_free_domains"`
	ExtraDisposableDomains []string `toml:"extra_disposable_domains" json:"extra_disposable_domains"`
}

// DefaultConfig returns the standard validator tuning.
func DefaultConfig() Config {
	return Config{
		DNS:        DefaultDNSConfig(),
		Probe:      DefaultProbeConfig(),
		VerdictTTL: 24 * time.Hour,
		UnknownTTL: time.Hour,
	}
}

// Validator checks whether addresses are worth sending to. It works from
// syntax outward: malformed addresses never touch the network, domains
// without mail exchangers never get probed.
type Validator struct {
	config     Config
	resolver   Resolver
	prober     Prober
	store      cache.Store
	classifier *classifier
	logger     *slog.Logger

	now func() time.Time
}

// New creates a validator. The store backs both verdict caching and the DNS
// resolver cache.
func New(config Config, store cache.Store) *Validator {
	return NewWith(config, store, NewResolver(config.DNS, store), NewProber(config.Probe))
}

// NewWith creates a validator with explicit resolver and prober, used by
// tests and by callers that share a resolver.
func NewWith(config Config, store cache.Store, resolver Resolver, prober Prober) *Validator {
	return &Validator{
		config:     config,
		resolver:   resolver,
		prober:     prober,
		store:      store,
		classifier: newClassifier(config.ExtraFreeDomains, config.ExtraDisposableDomains),
		logger:     slog.Default().With("component", "validator"),
		now:        time.Now,
	}
}

// CheckEmail produces a deliverability verdict for one address. Verdicts are
// cached; conclusive ones for VerdictTTL, unknown ones for UnknownTTL.
func (v *Validator) CheckEmail(ctx context.Context, address string) (Verdict, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		// malformed addresses resolve without any network traffic
		return v.finish(ctx, Verdict{
			Address:  address,
			State:    StateInvalid,
			Category: CategoryPremium,
			Detail:   err.Error(),
		}), nil
	}

	key := "verdict:" + normalized
	if data, err := v.store.Get(ctx, key); err == nil {
		var cached Verdict
		if err := json.Unmarshal(data, &cached); err == nil {
			v.logger.Debug("Verdict cache hit", "domain", cached.Domain, "state", cached.State)
			return cached, nil
		}
	}

	domain := addressDomain(normalized)
	verdict := Verdict{
		Address:  normalized,
		Domain:   domain,
		Category: v.classifier.Classify(domain),
	}

	mxHosts, err := v.exchangers(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			verdict.State = StateInvalid
			verdict.Detail = "domain has no mail exchangers"
			return v.finish(ctx, verdict), nil
		}
		verdict.State = StateUnknown
		verdict.Detail = fmt.Sprintf("mx lookup failed: %v", err)
		return v.finish(ctx, verdict), nil
	}
	if len(mxHosts) == 0 {
		verdict.State = StateInvalid
		verdict.Detail = "domain has no mail exchangers"
		return v.finish(ctx, verdict), nil
	}

	verdict.State, verdict.Detail = v.probeExchangers(ctx, mxHosts, normalized)
	return v.finish(ctx, verdict), nil
}

// exchangers resolves and priority-orders the domain's MX hosts.
func (v *Validator) exchangers(ctx context.Context, domain string) ([]string, error) {
	records, err := v.resolver.LookupMX(ctx, domain)
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })

	hosts := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.Host != "" && rec.Host != "." {
			hosts = append(hosts, rec.Host)
		}
	}
	return hosts, nil
}

// probeExchangers walks the MX hosts in priority order. A permanent rejection
// from any host settles the address as invalid; acceptance settles it as
// valid unless the exchanger turns out to accept any recipient; if every host
// only fails transiently the verdict stays unknown.
func (v *Validator) probeExchangers(ctx context.Context, mxHosts []string, address string) (State, string) {
	var lastDetail string
	for _, host := range mxHosts {
		err := v.prober.Probe(ctx, host, address)
		if err == nil {
			if domain := addressDomain(address); domain != "" && v.acceptsAnyRecipient(ctx, host, domain) {
				return StateUnknown, "catch-all domain accepts any recipient"
			}
			return StateValid, ""
		}

		var rejection *outcome.ProtocolRejection
		if errors.As(err, &rejection) {
			return StateInvalid, fmt.Sprintf("recipient rejected: %d %s", rejection.Code, rejection.Message)
		}

		lastDetail = err.Error()
		v.logger.Debug("Probe attempt failed", "mx_host", host, "error", err)
	}
	return StateUnknown, lastDetail
}

// acceptsAnyRecipient re-probes an accepting exchanger with a random local
// part that cannot name a real mailbox. Acceptance marks the domain as
// catch-all, where individual acceptances prove nothing. A rejection or a
// transient failure leaves the original acceptance standing.
func (v *Validator) acceptsAnyRecipient(ctx context.Context, host, domain string) bool {
	local := strings.ReplaceAll(uuid.New().String(), "-", "")
	err := v.prober.Probe(ctx, host, local+"@"+domain)
	if err != nil {
		v.logger.Debug("Catch-all probe rejected", "mx_host", host, "domain", domain, "error", err)
		return false
	}
	return true
}

// finish stamps and caches a verdict.
func (v *Validator) finish(ctx context.Context, verdict Verdict) Verdict {
	verdict.CheckedAt = v.now()

	ttl := v.config.VerdictTTL
	if !verdict.Conclusive() {
		ttl = v.config.UnknownTTL
	}

	// Lookups always use the normalized form, and malformed input never
	// normalizes, so only verdicts that carry a domain are worth caching.
	if verdict.Domain != "" {
		if data, err := json.Marshal(verdict); err == nil {
			if err := v.store.Set(ctx, "verdict:"+verdict.Address, data, ttl); err != nil {
				v.logger.Debug("Failed to cache verdict", "domain", verdict.Domain, "error", err)
			}
		}
	}

	v.logger.Info("Address checked",
		"event_type", "address_checked",
		"domain", verdict.Domain,
		"state", verdict.State,
		"category", verdict.Category)

	return verdict
}
