package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUnavailable       = "SOURCE_UNAVAILABLE"
	ErrCodeProviderTransient = "PROVIDER_TRANSIENT"
	ErrCodeProviderConfig    = "PROVIDER_CONFIG"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeInvalidOperation  = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrEmptyQuery           = NewDomainError(ErrCodeValidation, "query cannot be empty")
	ErrInvalidSourceType    = NewDomainError(ErrCodeValidation, "invalid knowledge source type")
	ErrInvalidSpecialist    = NewDomainError(ErrCodeValidation, "invalid specialist")
	ErrInvalidFeedbackState = NewDomainError(ErrCodeValidation, "invalid feedback status")
	ErrWrongDimensions      = NewDomainError(ErrCodeValidation, "embedding has unexpected dimensions")
)

// Not found errors
var (
	ErrItemNotFound     = NewDomainError(ErrCodeNotFound, "knowledge item not found")
	ErrTicketNotFound   = NewDomainError(ErrCodeNotFound, "ticket solution not found")
	ErrFeedbackNotFound = NewDomainError(ErrCodeNotFound, "feedback record not found")
	ErrCacheMiss        = NewDomainError(ErrCodeNotFound, "no cached response for query")
)

// Availability errors
var (
	ErrSourceNotReady = NewDomainError(ErrCodeUnavailable, "knowledge source is not loaded yet")
	ErrSourceDisabled = NewDomainError(ErrCodeUnavailable, "knowledge source is disabled by configuration")
)

// Provider errors. Transient errors are retryable and degradable; config
// errors disable the affected capability for the life of the process.
var (
	ErrProviderTimeout       = NewDomainError(ErrCodeProviderTransient, "provider request timed out")
	ErrProviderRateLimited   = NewDomainError(ErrCodeProviderTransient, "provider rate limit exceeded")
	ErrProviderNotConfigured = NewDomainError(ErrCodeProviderConfig, "provider credentials not configured")
)

// Operation errors
var (
	ErrFeedbackAlreadyApplied = NewDomainError(ErrCodeInvalidOperation, "feedback record was already applied")
	ErrFeedbackDismissed      = NewDomainError(ErrCodeInvalidOperation, "feedback record was dismissed")
)
