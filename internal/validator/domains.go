package validator

import "strings"

// Known free-mail and disposable providers. Anything unlisted is treated as a
// premium (custom) domain. The lists are seeds; deployments extend them via
// configuration.
var (
	freeProviders = map[string]struct{}{
		"gmail.com":       {},
		"googlemail.com":  {},
		"yahoo.com":       {},
		"yahoo.co.uk":     {},
		"hotmail.com":     {},
		"outlook.com":     {},
		"live.com":        {},
		"aol.com":         {},
		"icloud.com":      {},
		"me.com":          {},
		"gmx.com":         {},
		"gmx.de":          {},
		"mail.com":        {},
		"protonmail.com":  {},
		"proton.me":       {},
		"zoho.com":        {},
		"yandex.com":      {},
		"fastmail.com":    {},
		"mail.ru":         {},
		"web.de":          {},
		"qq.com":          {},
		"163.com":         {},
	}

	disposableProviders = map[string]struct{}{
		"mailinator.com":    {},
		"guerrillamail.com": {},
		"10minutemail.com":  {},
		"tempmail.com":      {},
		"temp-mail.org":     {},
		"throwawaymail.com": {},
		"yopmail.com":       {},
		"getnada.com":       {},
		"trashmail.com":     {},
		"sharklasers.com":   {},
		"dispostable.com":   {},
		"maildrop.cc":       {},
	}
)

// classifier maps domains to provider categories.
type classifier struct {
	free       map[string]struct{}
	disposable map[string]struct{}
}

// newClassifier builds a classifier from the built-in lists plus any extra
// configured domains.
func newClassifier(extraFree, extraDisposable []string) *classifier {
	c := &classifier{
		free:       make(map[string]struct{}, len(freeProviders)+len(extraFree)),
		disposable: make(map[string]struct{}, len(disposableProviders)+len(extraDisposable)),
	}
	for domain := range freeProviders {
		c.free[domain] = struct{}{}
	}
	for domain := range disposableProviders {
		c.disposable[domain] = struct{}{}
	}
	// Configured extras arrive in whatever case the operator typed, while
	// lookups always use the lowercased domain.
	for _, domain := range extraFree {
		c.free[strings.ToLower(domain)] = struct{}{}
	}
	for _, domain := range extraDisposable {
		c.disposable[strings.ToLower(domain)] = struct{}{}
	}
	return c
}

// Classify returns the provider category for a lowercased domain. Disposable
// wins over free when a domain is listed in both.
func (c *classifier) Classify(domain string) Category {
	if _, ok := c.disposable[domain]; ok {
		return CategoryDisposable
	}
	if _, ok := c.free[domain]; ok {
		return CategoryFree
	}
	return CategoryPremium
}
