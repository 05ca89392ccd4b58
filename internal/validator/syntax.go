package validator

import (
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeAddress canonicalizes an address for checking and cache keying:
// NFC-normalized, surrounding whitespace stripped, domain lowercased. The
// local part keeps its case since some servers treat it as significant.
func NormalizeAddress(address string) (string, error) {
	address = norm.NFC.String(strings.TrimSpace(address))
	if address == "" {
		return "", fmt.Errorf("empty address")
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return "", fmt.Errorf("malformed address: %w", err)
	}
	// reject display-name forms like "Bob <bob@example.com>"
	if parsed.Address != address {
		return "", fmt.Errorf("address contains extra content")
	}

	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", fmt.Errorf("address missing local part or domain")
	}

	local, domain := address[:at], strings.ToLower(address[at+1:])
	if !strings.Contains(domain, ".") {
		return "", fmt.Errorf("domain %q is not fully qualified", domain)
	}

	return local + "@" + domain, nil
}

// addressDomain returns the lowercased domain of an already-normalized
// address.
func addressDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return address[at+1:]
}
