// Package apperror defines the typed error taxonomy used across the focus
// service so callers can branch on error kind instead of matching strings.
package apperror

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure from the spec's error taxonomy.
type Kind string

const (
	// Validation kinds (source model).
	KindInvalidSsrc              Kind = "invalid-ssrc"
	KindSsrcAlreadyUsed          Kind = "ssrc-already-used"
	KindSsrcLimitExceeded        Kind = "ssrc-limit-exceeded"
	KindSsrcGroupLimitExceeded   Kind = "ssrc-group-limit-exceeded"
	KindMsidConflict             Kind = "msid-conflict"
	KindGroupUnknownSource       Kind = "group-references-unknown-source"
	KindInvalidFidGroup          Kind = "invalid-fid-group"
	KindRequiredParameterMissing Kind = "required-parameter-missing"
	KindGroupMsidMismatch        Kind = "group-msid-mismatch"
	KindSourceDoesNotExist       Kind = "source-does-not-exist"
	KindSourceGroupDoesNotExist  Kind = "source-group-does-not-exist"

	// Bridge kinds.
	KindConferenceNotFound Kind = "conference-not-found"
	KindBadRequest         Kind = "bad-request"
	KindTimeout            Kind = "timeout"
	KindWrongResponseType  Kind = "wrong-response-type"
	KindGenericColibri     Kind = "generic-colibri"

	// Allocation kinds.
	KindBridgeSelectionFailed  Kind = "bridge-selection-failed"
	KindBridgeFailed           Kind = "bridge-failed"
	KindColibriConfDisposed    Kind = "colibri-conference-disposed"
	KindColibriConfExpired     Kind = "colibri-conference-expired"
	KindColibriParsing         Kind = "colibri-parsing"

	// Worker-start kinds.
	KindNoWorkersAvailable Kind = "not-available"
	KindAllBusy            Kind = "all-busy"
	KindOneBusy            Kind = "one-busy"
	KindInternalServer     Kind = "internal-server-error"
	KindUnexpectedResponse Kind = "unexpected-response"

	// Request kinds.
	KindItemNotFound        Kind = "item-not-found"
	KindForbidden           Kind = "forbidden"
	KindNotAuthorized       Kind = "not_authorized"
	KindServiceUnavailable  Kind = "service-unavailable"
	KindRemoteServerTimeout Kind = "remote-server-timeout"
)

// Error is a typed error carrying a Kind plus an optional wrapped cause and
// a RestartConference hint (set for colibri-conference-expired / bridge-failed).
type Error struct {
	Kind              Kind
	Message           string
	RestartConference bool
	Cause             error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, apperror.New(kind, "")) to match purely on Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error with a kind, message and underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithRestart marks the error as requiring the conference to be restarted.
func (e *Error) WithRestart() *Error {
	e.RestartConference = true
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, returning ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// HasKind reports whether err is (or wraps) an *Error of the given kind.
func HasKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
