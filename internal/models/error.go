package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound          = errors.New("resource not found")
	ErrConflict          = errors.New("resource already exists")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrBadRequest        = errors.New("bad request")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Account state errors
	ErrAccountSuspended = errors.New("account is suspended")
	ErrAccountBanned    = errors.New("account is banned")
	ErrAccountLocked    = errors.New("account is temporarily locked")
)

// Kind classifies an error for the transport layer. Each kind maps to exactly
// one HTTP status in pkg/http.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is the typed result every service operation returns on failure.
// Message is safe to show to clients.
type Error struct {
	Kind        Kind
	Message     string
	Fields      map[string]string // field -> message, validation only
	Suggestions []string          // alternative usernames, conflict only
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches an underlying cause to a new Error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func ValidationError(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

func AuthenticationError(message string) *Error {
	return NewError(KindAuthentication, message)
}

func AuthorizationError(message string) *Error {
	return NewError(KindAuthorization, message)
}

func NotFoundError(message string) *Error {
	return NewError(KindNotFound, message)
}

func ConflictError(message string, suggestions []string) *Error {
	return &Error{Kind: KindConflict, Message: message, Suggestions: suggestions}
}

// InternalError hides the cause behind a generic message.
func InternalError(err error) *Error {
	return Wrap(KindInternal, "Internal server error", err)
}

// AsError resolves any error into an *Error. Sentinels are mapped to their
// kind; anything unknown becomes an internal error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return Wrap(KindNotFound, "Resource not found", err)
	case errors.Is(err, ErrConflict):
		return Wrap(KindConflict, "Resource already exists", err)
	case errors.Is(err, ErrUnauthorized):
		return Wrap(KindAuthentication, "Authentication required", err)
	case errors.Is(err, ErrForbidden):
		return Wrap(KindAuthorization, "Forbidden", err)
	case errors.Is(err, ErrBadRequest):
		return Wrap(KindValidation, "Invalid request", err)
	case errors.Is(err, ErrRateLimitExceeded):
		return Wrap(KindRateLimited, "Too many requests, please try again later", err)
	case errors.Is(err, ErrAccountSuspended), errors.Is(err, ErrAccountBanned):
		return Wrap(KindAuthorization, "Account is not active", err)
	case errors.Is(err, ErrAccountLocked):
		return Wrap(KindAuthorization, "Account is temporarily locked", err)
	default:
		return InternalError(err)
	}
}

// KindOf reports the kind of err.
func KindOf(err error) Kind {
	if appErr := AsError(err); appErr != nil {
		return appErr.Kind
	}
	return KindInternal
}
