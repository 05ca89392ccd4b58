package validator

import "time"

// State is the deliverability conclusion for an address.
type State string

const (
	// StateValid means the receiving server accepted the recipient.
	StateValid State = "valid"
	// StateInvalid means the address can never be delivered to: malformed
	// syntax, a domain with no mail exchangers, or a permanent rejection.
	StateInvalid State = "invalid"
	// StateUnknown means the check could not reach a conclusion, typically a
	// transient failure or a server that defers probes.
	StateUnknown State = "unknown"
)

// Category classifies the mailbox provider behind an address.
type Category string

const (
	// CategoryPremium covers custom and corporate domains.
	CategoryPremium Category = "premium"
	// CategoryFree covers consumer free-mail providers.
	CategoryFree Category = "free"
	// CategoryDisposable covers throwaway-address providers.
	CategoryDisposable Category = "disposable"
)

// Verdict is the result of checking a single address.
type Verdict struct {
	Address   string    `json:"address"`
	Domain    string    `json:"domain"`
	State     State     `json:"state"`
	Category  Category  `json:"category"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Conclusive reports whether the verdict settled on valid or invalid. Unknown
// verdicts are cached for a shorter period so they get re-checked.
func (v Verdict) Conclusive() bool {
	return v.State == StateValid || v.State == StateInvalid
}
