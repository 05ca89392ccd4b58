package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RiskLevel grades a sending domain's authentication posture.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// DomainReport describes the authentication records found for a sending
// domain. Missing records raise the risk that mail from the domain lands in
// spam.
type DomainReport struct {
	Domain    string    `json:"domain"`
	HasSPF    bool      `json:"has_spf"`
	HasDKIM   bool      `json:"has_dkim"`
	HasDMARC  bool      `json:"has_dmarc"`
	RiskScore int       `json:"risk_score"`
	RiskLevel RiskLevel `json:"risk_level"`
	CheckedAt time.Time `json:"checked_at"`
}

// defaultDKIMSelectors are the selectors tried when the caller doesn't know
// which one the domain signs with.
var defaultDKIMSelectors = []string{"default", "google", "selector1", "selector2", "k1", "dkim"}

// CheckDomain inspects a sending domain's SPF, DKIM and DMARC records and
// grades the result. Reports are cached alongside address verdicts.
func (v *Validator) CheckDomain(ctx context.Context, domain string, dkimSelectors []string) (DomainReport, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || !strings.Contains(domain, ".") {
		return DomainReport{}, fmt.Errorf("invalid domain %q", domain)
	}

	key := "domain-report:" + domain
	if data, err := v.store.Get(ctx, key); err == nil {
		var cached DomainReport
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	report := DomainReport{
		Domain:    domain,
		HasSPF:    v.hasTXTRecord(ctx, domain, "v=spf1"),
		HasDMARC:  v.hasTXTRecord(ctx, "_dmarc."+domain, "v=dmarc1"),
		CheckedAt: v.now(),
	}

	selectors := dkimSelectors
	if len(selectors) == 0 {
		selectors = defaultDKIMSelectors
	}
	for _, selector := range selectors {
		if v.hasTXTRecord(ctx, selector+"._domainkey."+domain, "v=dkim1") {
			report.HasDKIM = true
			break
		}
	}

	report.RiskScore, report.RiskLevel = gradeRisk(report)

	if data, err := json.Marshal(report); err == nil {
		if err := v.store.Set(ctx, key, data, v.config.VerdictTTL); err != nil {
			v.logger.Debug("Failed to cache domain report", "domain", domain, "error", err)
		}
	}

	v.logger.Info("Domain checked",
		"event_type", "domain_checked",
		"domain", domain,
		"risk_level", report.RiskLevel,
		"risk_score", report.RiskScore)

	return report, nil
}

// hasTXTRecord reports whether any TXT record at name starts with the given
// marker. Lookup failures count as absent.
func (v *Validator) hasTXTRecord(ctx context.Context, name, marker string) bool {
	records, err := v.resolver.LookupTXT(ctx, name)
	if err != nil {
		return false
	}
	for _, record := range records {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(record)), marker) {
			return true
		}
	}
	return false
}

// gradeRisk scores the report: SPF and DKIM weigh heaviest since most
// providers filter on them, DMARC adds the rest.
func gradeRisk(report DomainReport) (int, RiskLevel) {
	score := 0
	if !report.HasSPF {
		score += 40
	}
	if !report.HasDKIM {
		score += 40
	}
	if !report.HasDMARC {
		score += 20
	}

	switch {
	case score >= 60:
		return score, RiskHigh
	case score >= 20:
		return score, RiskMedium
	default:
		return score, RiskLow
	}
}
