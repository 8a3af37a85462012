package apperrors

import "errors"

// Standardized exchange errors. Adapters map venue-specific responses onto
// these so the retry harness and the run loop can classify failures without
// knowing which venue produced them.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrOrderRejected        = errors.New("order rejected")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrExchangeMaintenance  = errors.New("exchange maintenance")
	ErrOrderNotFound        = errors.New("order not found")
	ErrExchangeLimits       = errors.New("order outside exchange limits")
)

// IsRetryable reports whether an error is a transient exchange failure
// worth retrying. Everything else propagates immediately.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrExchangeMaintenance)
}
