package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the API surfaces. The set is closed:
// httpx maps each kind to exactly one status family, so a new kind forces the
// switch there to be revisited.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindAuthentication covers missing or unverifiable tokens and failed
	// logins (401).
	KindAuthentication
	// KindAuthorization covers verified identities lacking a capability (403).
	KindAuthorization
	// KindValidation covers malformed input rejected before storage (400).
	KindValidation
	// KindConflict covers unique-key collisions surfaced to the caller (409).
	KindConflict
	// KindNotFound covers lookups of absent resources (404).
	KindNotFound
	// KindTransientStorage covers storage faults where a blind retry is safe
	// (503).
	KindTransientStorage
)

// String reports the kind for logs.
func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransientStorage:
		return "transient_storage"
	default:
		return "unknown"
	}
}

// Stable machine codes carried to clients. Codes, not messages, are the
// contract.
const (
	CodeMissingToken       = "MISSING_TOKEN"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenMalformed     = "TOKEN_MALFORMED"
	CodeTokenSignature     = "TOKEN_SIGNATURE"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeForbidden          = "FORBIDDEN"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeEmailTaken         = "EMAIL_TAKEN"
	CodeSlugTaken          = "SLUG_TAKEN"
	CodeNotFound           = "NOT_FOUND"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
)

// Error is the single error type crossing service boundaries. Kind drives the
// HTTP status, Code is the machine-readable discriminator, Message is safe to
// show to clients. The wrapped cause stays server-side.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so tagged sentinels compare by meaning, not pointer.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithCause attaches the underlying error without changing what clients see.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.cause = cause
	return &clone
}

// Authentication builds a 401-kind error.
func Authentication(code, message string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: message}
}

// Authorization builds a 403-kind error. The message must name required roles
// only, never the resource or its owner.
func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Code: CodeForbidden, Message: message}
}

// Validation builds a 400-kind error.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidationFailed, Message: message}
}

// Conflict builds a 409-kind error.
func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// NotFound builds a 404-kind error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: message}
}

// TransientStorage builds a 503-kind error. Callers may retry blind: every
// write behind this kind is idempotent.
func TransientStorage(cause error) *Error {
	return &Error{
		Kind:    KindTransientStorage,
		Code:    CodeStorageUnavailable,
		Message: "storage temporarily unavailable, retry the request",
		cause:   cause,
	}
}

// KindOf extracts the kind from any error chain; KindUnknown when untagged.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ErrInvalidCredentials is returned for every login failure. Unknown emails
// and wrong passwords are indistinguishable to callers.
var ErrInvalidCredentials = Authentication(CodeInvalidCredentials, "invalid email or password")
