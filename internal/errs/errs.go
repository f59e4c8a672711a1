// Package errs defines the closed error enumeration used at every module
// boundary. Foreign errors are translated into this envelope at the boundary
// that owns them.
package errs

import (
	"errors"
	"fmt"
)

// Code is a stable string error code. The set is closed; new codes are an API
// change, not a convenience.
type Code string

const (
	ToolNotAllowed           Code = "TOOL_NOT_ALLOWED"
	ToolArgInvalid           Code = "TOOL_ARG_INVALID"
	ToolTimeout              Code = "TOOL_TIMEOUT"
	ToolExecFailed           Code = "TOOL_EXEC_FAILED"
	DesktopConfirmRequired   Code = "DESKTOP_CONFIRM_REQUIRED"
	DesktopPermissionMissing Code = "DESKTOP_PERMISSION_MISSING"
	DesktopAnchorNotFound    Code = "DESKTOP_ANCHOR_NOT_FOUND"
	DesktopModalBlocking     Code = "DESKTOP_MODAL_BLOCKING"
	DesktopTimeout           Code = "DESKTOP_TIMEOUT"
	TransportUnavailable     Code = "TRANSPORT_UNAVAILABLE"
	TransportTimeout         Code = "TRANSPORT_TIMEOUT"
	ProviderError            Code = "PROVIDER_ERROR"
	EmptyResponse            Code = "EMPTY_RESPONSE"
	ConfigInvalid            Code = "CONFIG_INVALID"
	PathOutOfRoot            Code = "PATH_OUT_OF_ROOT"
	NotBound                 Code = "NOT_BOUND"
	NotWhitelisted           Code = "NOT_WHITELISTED"
	Unknown                  Code = "UNKNOWN_ERROR"
)

// E is the structured error envelope.
type E struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	wrapped error
}

func (e *E) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *E) Unwrap() error { return e.wrapped }

// Is matches another *E by code, so errors.Is(err, &E{Code: NotBound}) works.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	return ok && t.Code == e.Code
}

// With attaches a detail field and returns the same error for chaining.
func (e *E) With(key string, value any) *E {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New builds a coded error with a formatted message.
func New(code Code, format string, args ...any) *E {
	return &E{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap translates a foreign error into the envelope, preserving the chain.
// Wrapping an *E keeps its code.
func Wrap(code Code, err error) *E {
	if err == nil {
		return nil
	}
	var e *E
	if errors.As(err, &e) {
		return &E{Code: e.Code, Message: e.Message, Details: e.Details, wrapped: err}
	}
	return &E{Code: code, Message: err.Error(), wrapped: err}
}

// CodeOf extracts the code from an error chain, Unknown for foreign errors
// and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
