// Package apperr defines the structured failure vocabulary shared by every
// handler: a fixed set of caller-visible kinds plus precondition helpers used
// at the top of each operation.
package apperr

import (
	"errors"
	"fmt"

	"scolara.org/internal/obs"
)

// Kind classifies a failure for the caller.
type Kind int

const (
	KindUnknown Kind = iota
	Unauthenticated
	PermissionDenied
	InvalidArgument
	NotFound
	AlreadyExists
	FailedPrecondition
	Internal
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case PermissionDenied:
		return "permission_denied"
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case FailedPrecondition:
		return "failed_precondition"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a typed failure carrying a kind and a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a typed failure.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs a typed failure with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err. Unknown when err is not a typed failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// MessageOf returns the caller-safe message, or an empty string.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// RequireAuthenticated fails with Unauthenticated when no caller identity is
// present. Must be the first check in every handler that is not public.
func RequireAuthenticated(callerID string) error {
	if callerID == "" {
		return New(Unauthenticated, "authentication required")
	}
	return nil
}

// RequirePermission fails with PermissionDenied when allowed is false.
func RequirePermission(allowed bool, message string) error {
	if !allowed {
		if message == "" {
			message = "permission denied"
		}
		return New(PermissionDenied, message)
	}
	return nil
}

// RequireArgument fails with InvalidArgument when cond is false. Used for all
// payload validation.
func RequireArgument(cond bool, message string) error {
	if !cond {
		return New(InvalidArgument, message)
	}
	return nil
}

// WrapUnexpected passes typed failures through unchanged; anything else is
// logged server-side and re-raised as Internal with the fallback message so
// the underlying error never leaks to the caller.
func WrapUnexpected(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	obs.LogError(fallback, err)
	return &Error{Kind: Internal, Message: fallback, cause: err}
}
