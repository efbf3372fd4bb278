package resilience

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"supplyintel/internal/domain"
)

// ErrorCategory says what the shell should do with a failed call.
type ErrorCategory int

const (
	CategoryUnknown     ErrorCategory = iota
	CategoryTransient                 // rate limit, quota, timeout, network, 429/503/504
	CategoryPermanent                 // auth, bad request, malformed output
	CategoryCircuitOpen               // breaker refused the call
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// ClassifiedError holds the result of error classification.
type ClassifiedError struct {
	Original   error
	Category   ErrorCategory
	Sentinel   error // mapped domain sentinel, or nil
	StatusCode int   // extracted HTTP status, or 0 if unknown
}

// Retryable reports whether the retry loop should try again.
func (c ClassifiedError) Retryable() bool { return c.Category == CategoryTransient }

// apiErrorPattern matches "API error <status_code>:" produced by the provider adapters.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// transientStatus are the HTTP statuses retried by the shell.
var transientStatus = map[int]error{
	408: domain.ErrTimeout,
	429: domain.ErrRateLimit,
	503: domain.ErrNetwork,
	504: domain.ErrTimeout,
}

// Classify inspects a provider error and returns its category and sentinel.
func Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}

	if c := classifyBySentinel(err); c.Category != CategoryUnknown {
		return c
	}

	errStr := err.Error()
	if matches := apiErrorPattern.FindStringSubmatch(errStr); len(matches) == 2 {
		code, _ := strconv.Atoi(matches[1])
		if sentinel, ok := transientStatus[code]; ok {
			return ClassifiedError{Original: err, Category: CategoryTransient, Sentinel: sentinel, StatusCode: code}
		}
		return ClassifiedError{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrProviderError, StatusCode: code}
	}

	return classifyByString(err, errStr)
}

func classifyBySentinel(err error) ClassifiedError {
	switch {
	case errors.Is(err, domain.ErrCircuitOpen):
		return ClassifiedError{Original: err, Category: CategoryCircuitOpen, Sentinel: domain.ErrCircuitOpen}
	case errors.Is(err, context.Canceled):
		return ClassifiedError{Original: err, Category: CategoryPermanent}
	case errors.Is(err, domain.ErrInvalidInput):
		return ClassifiedError{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrInvalidInput}
	case errors.Is(err, domain.ErrAuthInvalid):
		return ClassifiedError{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrAuthInvalid}
	case errors.Is(err, domain.ErrMissingConfig):
		return ClassifiedError{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrMissingConfig}
	case errors.Is(err, domain.ErrQualityRejected):
		return ClassifiedError{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrQualityRejected}
	case errors.Is(err, domain.ErrParse):
		return ClassifiedError{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrParse}
	}

	for _, s := range []error{domain.ErrRateLimit, domain.ErrQuotaExceeded, domain.ErrTimeout, domain.ErrNetwork} {
		if errors.Is(err, s) {
			return ClassifiedError{Original: err, Category: CategoryTransient, Sentinel: s}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassifiedError{Original: err, Category: CategoryTransient, Sentinel: domain.ErrTimeout}
	}
	return ClassifiedError{Original: err, Category: CategoryUnknown}
}

// transientPatterns are lowercase substrings of errors worth retrying.
var transientPatterns = []struct {
	pattern  string
	sentinel error
}{
	{"rate limit", domain.ErrRateLimit},
	{"too many requests", domain.ErrRateLimit},
	{"quota", domain.ErrQuotaExceeded},
	{"resource_exhausted", domain.ErrQuotaExceeded},
	{"timeout", domain.ErrTimeout},
	{"timed out", domain.ErrTimeout},
	{"deadline exceeded", domain.ErrTimeout},
	{"connection refused", domain.ErrNetwork},
	{"connection reset", domain.ErrNetwork},
	{"no such host", domain.ErrNetwork},
	{"network", domain.ErrNetwork},
	{"econnreset", domain.ErrNetwork},
	{"unavailable", domain.ErrNetwork},
}

func classifyByString(err error, errStr string) ClassifiedError {
	lower := strings.ToLower(errStr)
	for _, p := range transientPatterns {
		if strings.Contains(lower, p.pattern) {
			return ClassifiedError{Original: err, Category: CategoryTransient, Sentinel: p.sentinel}
		}
	}
	return ClassifiedError{Original: err, Category: CategoryPermanent}
}
