package depot

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Store and ContentChannel implementations.
var (
	// ErrDuplicate is returned when an insert or update violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound is returned by a content channel when a container or item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned by a content channel when a container or item cannot be read or written.
	ErrForbidden = errors.New("forbidden")
)

// Kind classifies failures for the orchestration boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindConfiguration
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConfiguration:
		return "configuration"
	case KindExternal:
		return "external"
	default:
		return "internal"
	}
}

// Error codes carried by *Error.
const (
	CodeMalformedLocator      = "malformed_locator"
	CodeLocationMismatch      = "location_mismatch"
	CodeMissingField          = "missing_field"
	CodeFormExpired           = "form_expired"
	CodeNotOwner              = "not_owner"
	CodeConsentRequired       = "consent_required"
	CodeWarehouseUnconfigured = "warehouse_unconfigured"
	CodeWarehouseAccess       = "warehouse_access"
	CodeCreationFailed        = "creation_failed"
	CodeNotFound              = "not_found"
	CodeAccessDenied          = "access_denied"
	CodeAllUploadsFailed      = "all_uploads_failed"
	CodeResourceGone          = "resource_gone"
	CodePasswordMismatch      = "password_mismatch"
	CodeInternal              = "internal"
)

// Error is a typed failure returned by the services in this package.
// Message is safe to show to the actor; Err holds the underlying cause, if any.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// KindOf returns the Kind of err. Untyped errors are internal.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Named constructors. These keep call sites short and the messages consistent.

// ErrConfiguration reports a missing warehouse root.
func ErrConfiguration(message string) *Error {
	return newError(KindConfiguration, CodeWarehouseUnconfigured, message, nil)
}

// ErrAccess reports a warehouse root that cannot be reached or is not a valid container root.
func ErrAccess(cause error) *Error {
	return newError(KindConfiguration, CodeWarehouseAccess, "the configured warehouse root cannot be used", cause)
}

// ErrCreation reports a proxy container that could not be created.
func ErrCreation(cause error) *Error {
	return newError(KindExternal, CodeCreationFailed, "the warehouse container could not be created", cause)
}

func errNotOwner() *Error {
	return newError(KindAuthorization, CodeNotOwner, "only the thread owner can do this", nil)
}

func errResourceGone(cause error) *Error {
	return newError(KindExternal, CodeResourceGone, "this resource is no longer available", cause)
}

func errPasswordMismatch() *Error {
	return newError(KindValidation, CodePasswordMismatch, "the password is incorrect", nil)
}

func errMissingField(field string) *Error {
	return newError(KindValidation, CodeMissingField, fmt.Sprintf("%s is required", field), nil)
}
