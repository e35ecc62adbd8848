// SPDX-License-Identifier: MIT

// Package portalerr defines the stable, client-visible error taxonomy.
// Every failure that crosses the API boundary is classified by a Kind;
// handlers map kinds to HTTP status codes.
package portalerr

import (
	"errors"
	"fmt"
)

// Kind is a stable error identifier exposed to API clients.
type Kind string

const (
	// Input errors
	KindMissingField    Kind = "MISSING_FIELD"
	KindInvalidType     Kind = "INVALID_TYPE"
	KindUnknownEndpoint Kind = "UNKNOWN_ENDPOINT"

	// Session errors
	KindSessionNotFound  Kind = "SESSION_NOT_FOUND"
	KindSessionDead      Kind = "SESSION_DEAD"
	KindCapacityExceeded Kind = "CAPACITY_EXCEEDED"

	// Auth errors
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindCaptchaFailed      Kind = "CAPTCHA_FAILED"
	KindLoginTimeout       Kind = "LOGIN_TIMEOUT"
	KindDriverStartup      Kind = "DRIVER_STARTUP"

	// Navigation / driver errors
	KindNavTimeout       Kind = "NAV_TIMEOUT"
	KindElementNotFound  Kind = "ELEMENT_NOT_FOUND"
	KindClickIntercepted Kind = "CLICK_INTERCEPTED"
	KindDownloadTimeout  Kind = "DOWNLOAD_TIMEOUT"

	// Workflow errors
	KindDropdownNotFound Kind = "DROPDOWN_NOT_FOUND"
	KindOptionNotFound   Kind = "OPTION_NOT_FOUND"
	KindStepperStuck     Kind = "STEPPER_STUCK"
	KindValidation       Kind = "VALIDATION"
	KindCheckboxStuck    Kind = "CHECKBOX_STUCK"
	KindSubmitFailed     Kind = "SUBMIT_FAILED"
	KindSessionExpired   Kind = "SESSION_EXPIRED"

	// Data errors
	KindContainerNotFound Kind = "CONTAINER_NOT_FOUND"
	KindPregateUnknown    Kind = "PREGATE_UNKNOWN"

	// Fallback
	KindInternal Kind = "INTERNAL"
)

// Error is a classified failure. Optional fields carry resumption state
// for the appointment workflow and forensic pointers.
type Error struct {
	Kind          Kind
	Message       string
	Field         string // offending field name, for MISSING_FIELD / OPTION_NOT_FOUND
	Phase         int    // appointment phase the failure occurred in, 0 if n/a
	ApptID        string // appointment sub-session to resume with, if any
	ScreenshotURL string // forensic screenshot, if one was captured
	Err           error  // wrapped cause
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// MissingField reports a field the caller must supply.
func MissingField(name string) *Error {
	return &Error{Kind: KindMissingField, Message: fmt.Sprintf("missing required field %q", name), Field: name}
}

// OptionNotFound reports a dropdown option mismatch, naming the dropdown.
func OptionNotFound(label, value string) *Error {
	return &Error{
		Kind:    KindOptionNotFound,
		Message: fmt.Sprintf("option %q not found in dropdown %q", value, label),
		Field:   label,
	}
}

// KindOf extracts the taxonomy kind from err, or KindInternal when the
// error is unclassified.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// AsError returns the classified error inside err, wrapping it as INTERNAL
// when it carries no classification.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindInternal, Message: err.Error(), Err: err}
}

// ClientAttributable reports whether the kind maps to a 4xx status.
func ClientAttributable(k Kind) bool {
	switch k {
	case KindMissingField, KindInvalidType, KindUnknownEndpoint,
		KindSessionNotFound, KindInvalidCredentials, KindOptionNotFound,
		KindValidation, KindContainerNotFound, KindSessionExpired:
		return true
	}
	return false
}

// HTTPStatus maps a kind to the response status code.
func HTTPStatus(k Kind) int {
	switch k {
	case KindMissingField, KindInvalidType, KindOptionNotFound, KindValidation:
		return 400
	case KindInvalidCredentials:
		return 401
	case KindSessionNotFound, KindUnknownEndpoint, KindContainerNotFound:
		return 404
	case KindSessionExpired:
		return 410
	case KindCapacityExceeded:
		return 429
	case KindNavTimeout, KindLoginTimeout, KindDownloadTimeout:
		return 504
	default:
		return 500
	}
}
