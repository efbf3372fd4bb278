package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Wrap them with NewDomainError or NewSubSystemError so
// callers can match with errors.Is and ErrorCodeOf can resolve a code.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrProviderError = fmt.Errorf("provider error")
	ErrConfigLoad    = fmt.Errorf("failed to load configuration")
	ErrDecryption    = fmt.Errorf("decryption failed")
)

// Provider / resilience errors.
var (
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrQuotaExceeded   = fmt.Errorf("quota exceeded")
	ErrNetwork         = fmt.Errorf("network error")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrCircuitOpen     = fmt.Errorf("circuit breaker open")
	ErrQualityRejected = fmt.Errorf("response rejected by quality gate")
	ErrParse           = fmt.Errorf("structured output parse failed")
	ErrMissingConfig   = fmt.Errorf("required configuration missing")
)

// Orchestration errors.
var (
	ErrAgentNotFound = fmt.Errorf("agent not found")
	ErrAgentFailed   = fmt.Errorf("agent execution failed")
	ErrSynthesis     = fmt.Errorf("synthesis failed")
	ErrHistoryStore  = fmt.Errorf("history store failed")
	ErrUnauthorized  = fmt.Errorf("unauthorized")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Shell.Generate")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "completion", "search"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTransientError reports whether err wraps one of the transient provider sentinels.
// Status-code and message based detection lives in the resilience classifier.
func IsTransientError(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNetwork)
}

// ErrorCode is a machine-parseable error category for monitoring and API responses.
type ErrorCode string

const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeProviderError   ErrorCode = "PROVIDER_ERROR"
	CodeConfigLoad      ErrorCode = "CONFIG_LOAD"
	CodeDecryption      ErrorCode = "DECRYPTION"
	CodeRateLimit       ErrorCode = "RATE_LIMIT"
	CodeQuotaExceeded   ErrorCode = "QUOTA_EXCEEDED"
	CodeNetwork         ErrorCode = "NETWORK"
	CodeAuthInvalid     ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen     ErrorCode = "CIRCUIT_OPEN"
	CodeQualityRejected ErrorCode = "QUALITY_REJECTED"
	CodeParse           ErrorCode = "PARSE_FAILED"
	CodeMissingConfig   ErrorCode = "MISSING_CONFIG"
	CodeAgentNotFound   ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentFailed     ErrorCode = "AGENT_FAILED"
	CodeSynthesis       ErrorCode = "SYNTHESIS_FAILED"
	CodeHistoryStore    ErrorCode = "HISTORY_STORE"
	CodeUnauthorized    ErrorCode = "UNAUTHORIZED"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeCompletionTimeout ErrorCode = "COMPLETION_TIMEOUT"
	CodeSearchTimeout     ErrorCode = "SEARCH_TIMEOUT"
	CodeCompletionFailure ErrorCode = "COMPLETION_FAILURE"
	CodeSearchFailure     ErrorCode = "SEARCH_FAILURE"
	CodeHistoryNotFound   ErrorCode = "HISTORY_NOT_FOUND"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:        CodeNotFound,
	ErrInvalidInput:    CodeInvalidInput,
	ErrTimeout:         CodeTimeout,
	ErrProviderError:   CodeProviderError,
	ErrConfigLoad:      CodeConfigLoad,
	ErrDecryption:      CodeDecryption,
	ErrRateLimit:       CodeRateLimit,
	ErrQuotaExceeded:   CodeQuotaExceeded,
	ErrNetwork:         CodeNetwork,
	ErrAuthInvalid:     CodeAuthInvalid,
	ErrCircuitOpen:     CodeCircuitOpen,
	ErrQualityRejected: CodeQualityRejected,
	ErrParse:           CodeParse,
	ErrMissingConfig:   CodeMissingConfig,
	ErrAgentNotFound:   CodeAgentNotFound,
	ErrAgentFailed:     CodeAgentFailed,
	ErrSynthesis:       CodeSynthesis,
	ErrHistoryStore:    CodeHistoryStore,
	ErrUnauthorized:    CodeUnauthorized,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrTimeout: {
		"completion": CodeCompletionTimeout,
		"search":     CodeSearchTimeout,
	},
	ErrProviderError: {
		"completion": CodeCompletionFailure,
		"search":     CodeSearchFailure,
	},
	ErrNotFound: {
		"history": CodeHistoryNotFound,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// Map iteration order is random; check the more specific sentinels first
	// so a chain wrapping both ErrCircuitOpen and ErrProviderError is stable.
	for _, sentinel := range codePrecedence {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// codePrecedence orders sentinels from most to least specific.
var codePrecedence = []error{
	ErrCircuitOpen,
	ErrRateLimit,
	ErrQuotaExceeded,
	ErrTimeout,
	ErrNetwork,
	ErrAuthInvalid,
	ErrQualityRejected,
	ErrParse,
	ErrMissingConfig,
	ErrAgentNotFound,
	ErrAgentFailed,
	ErrSynthesis,
	ErrHistoryStore,
	ErrUnauthorized,
	ErrInvalidInput,
	ErrNotFound,
	ErrConfigLoad,
	ErrDecryption,
	ErrProviderError,
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
