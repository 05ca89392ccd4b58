package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/sendrotor/sendrotor/internal/cache"
)

// Resolver performs the DNS lookups the validator needs.
type Resolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// DNSConfig tunes the caching resolver.
type DNSConfig struct {
	// Timeout bounds each individual lookup attempt.
	Timeout time.Duration `toml:"timeout" json:"timeout"`
	// Retries is the number of attempts per lookup.
	Retries int `toml:"retries" json:"retries"`
	// CacheTTL is how long successful lookups are cached.
	CacheTTL time.Duration `toml:"cache_ttl" json:"cache_ttl"`
}

// DefaultDNSConfig returns the standard resolver tuning.
func DefaultDNSConfig() DNSConfig {
	return DNSConfig{
		Timeout:  5 * time.Second,
		Retries:  3,
		CacheTTL: 15 * time.Minute,
	}
}

// cachingResolver wraps the system resolver with the shared cache store so
// repeated checks against the same domain don't repeat lookups.
type cachingResolver struct {
	config DNSConfig
	store  cache.Store
	logger *slog.Logger

	// lookup hooks, replaceable in tests
	lookupMX  func(ctx context.Context, domain string) ([]*net.MX, error)
	lookupTXT func(ctx context.Context, name string) ([]string, error)
}

// NewResolver creates a caching resolver backed by the given store.
func NewResolver(config DNSConfig, store cache.Store) Resolver {
	return &cachingResolver{
		config:    config,
		store:     store,
		logger:    slog.Default().With("component", "dns-resolver"),
		lookupMX:  net.DefaultResolver.LookupMX,
		lookupTXT: net.DefaultResolver.LookupTXT,
	}
}

type mxRecord struct {
	Host string `json:"host"`
	Pref uint16 `json:"pref"`
}

func (r *cachingResolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	key := fmt.Sprintf("dns:mx:%s", domain)

	if data, err := r.store.Get(ctx, key); err == nil {
		var cached []mxRecord
		if err := json.Unmarshal(data, &cached); err == nil {
			records := make([]*net.MX, len(cached))
			for i, rec := range cached {
				records[i] = &net.MX{Host: rec.Host, Pref: rec.Pref}
			}
			r.logger.Debug("DNS cache hit", "domain", domain, "type", "MX")
			return records, nil
		}
	}

	start := time.Now()
	records, err := withRetries(ctx, r.config, func(ctx context.Context) ([]*net.MX, error) {
		return r.lookupMX(ctx, domain)
	})
	if err != nil {
		return nil, err
	}

	cached := make([]mxRecord, len(records))
	for i, rec := range records {
		cached[i] = mxRecord{Host: rec.Host, Pref: rec.Pref}
	}
	if data, err := json.Marshal(cached); err == nil {
		if err := r.store.Set(ctx, key, data, r.config.CacheTTL); err != nil {
			r.logger.Debug("Failed to cache MX records", "domain", domain, "error", err)
		}
	}

	r.logger.Debug("DNS lookup completed",
		"domain", domain,
		"type", "MX",
		"records", len(records),
		"latency", time.Since(start))

	return records, nil
}

func (r *cachingResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	key := fmt.Sprintf("dns:txt:%s", name)

	if data, err := r.store.Get(ctx, key); err == nil {
		var cached []string
		if err := json.Unmarshal(data, &cached); err == nil {
			r.logger.Debug("DNS cache hit", "name", name, "type", "TXT")
			return cached, nil
		}
	}

	start := time.Now()
	records, err := withRetries(ctx, r.config, func(ctx context.Context) ([]string, error) {
		return r.lookupTXT(ctx, name)
	})
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(records); err == nil {
		if err := r.store.Set(ctx, key, data, r.config.CacheTTL); err != nil {
			r.logger.Debug("Failed to cache TXT records", "name", name, "error", err)
		}
	}

	r.logger.Debug("DNS lookup completed",
		"name", name,
		"type", "TXT",
		"records", len(records),
		"latency", time.Since(start))

	return records, nil
}

// withRetries runs a lookup with a per-attempt timeout and linear backoff
// between attempts. NXDOMAIN-style failures are not retried.
func withRetries[T any](ctx context.Context, config DNSConfig, lookup func(ctx context.Context) (T, error)) (T, error) {
	var result T
	var err error

	retries := config.Retries
	if retries < 1 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		lookupCtx, cancel := context.WithTimeout(ctx, config.Timeout)
		result, err = lookup(lookupCtx)
		cancel()

		if err == nil {
			return result, nil
		}

		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return result, err
		}

		if attempt < retries-1 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}

	return result, err
}
