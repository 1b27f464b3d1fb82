package txmanager

import "strings"

// RevertClass is the post-receipt classification of a failed
// (status == 0) transaction, per spec.md §4.E/§7.
type RevertClass string

const (
	RevertOutOfGas      RevertClass = "out_of_gas"
	RevertNonceError    RevertClass = "nonce_error"
	RevertPermission    RevertClass = "permission"
	RevertInvalidValue  RevertClass = "invalid_value"
	RevertOther         RevertClass = "other"
)

// ClassifyRevert inspects a revert reason string (as recovered from a
// failed call's return data, or empty if unavailable) and buckets it.
func ClassifyRevert(reason string) RevertClass {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "out of gas") || strings.Contains(lower, "gas required exceeds"):
		return RevertOutOfGas
	case strings.Contains(lower, "nonce"):
		return RevertNonceError
	case strings.Contains(lower, "permission") || strings.Contains(lower, "not owner") ||
		strings.Contains(lower, "unauthorized") || strings.Contains(lower, "not authorized") ||
		strings.Contains(lower, "access denied"):
		return RevertPermission
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "out of range") ||
		strings.Contains(lower, "overflow"):
		return RevertInvalidValue
	default:
		return RevertOther
	}
}

// Retryable reports whether a revert class should be retried once with
// a higher gas limit (out_of_gas) or never retried (permission,
// invalid_value all terminal; "other" is treated conservatively as
// non-retryable too since its cause is unknown).
func (c RevertClass) Retryable() bool {
	return c == RevertOutOfGas
}
