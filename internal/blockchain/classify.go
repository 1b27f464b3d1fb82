package blockchain

import (
	"context"
	"errors"
	"strings"
)

// ErrorClass buckets a chain RPC failure into the categories the
// transaction manager and metrics need to distinguish retryable
// conditions from terminal ones.
type ErrorClass string

const (
	ClassTimeout        ErrorClass = "timeout"
	ClassRateLimit      ErrorClass = "rate_limit"
	ClassConnection     ErrorClass = "connection"
	ClassNonce          ErrorClass = "nonce"
	ClassInsufficient   ErrorClass = "insufficient_funds"
	ClassRevert         ErrorClass = "revert"
	ClassGas            ErrorClass = "gas"
	ClassOther          ErrorClass = "other"
)

// Classify inspects an error returned by a Provider method and assigns
// it an ErrorClass. Matching is string-based because go-ethereum and
// the RPC nodes behind it do not expose a stable typed error hierarchy
// for most of these conditions.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ClassTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return ClassRateLimit
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "eof") || strings.Contains(msg, "broken pipe"):
		return ClassConnection
	case strings.Contains(msg, "nonce too low") || strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "already known") || strings.Contains(msg, "replacement transaction underpriced"):
		return ClassNonce
	case strings.Contains(msg, "insufficient funds"):
		return ClassInsufficient
	case strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert"):
		return ClassRevert
	case strings.Contains(msg, "intrinsic gas too low") || strings.Contains(msg, "gas required exceeds allowance") ||
		strings.Contains(msg, "out of gas") || strings.Contains(msg, "gas limit"):
		return ClassGas
	default:
		return ClassOther
	}
}

// Retryable reports whether the transaction manager should retry an
// operation that failed with this classification, as opposed to
// surfacing it as a terminal failure (spec.md §7).
func (c ErrorClass) Retryable() bool {
	switch c {
	case ClassTimeout, ClassRateLimit, ClassConnection:
		return true
	default:
		return false
	}
}
