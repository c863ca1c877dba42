// Package oerrors defines the error types returned by the OData client.
//
// Every typed error matches its sentinel through errors.Is, so callers can
// test the class of a failure without caring which concrete type carries it:
//
//	if errors.Is(err, oerrors.ErrUnresolvable) { ... }
package oerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is classification.
var (
	ErrUnresolvable     = errors.New("unresolvable object")
	ErrWebRequest       = errors.New("web request failed")
	ErrNotSupported     = errors.New("not supported")
	ErrFormat           = errors.New("format error")
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrNotImplemented is returned by the response reader for payload
	// combinations it has no parser for.
	ErrNotImplemented = errors.New("not implemented")
)

// ObjectKind names the kind of metadata object a lookup was looking for.
type ObjectKind string

const (
	KindCollection ObjectKind = "collection"
	KindProperty   ObjectKind = "property"
	KindNavigation ObjectKind = "navigation property"
	KindFunction   ObjectKind = "function"
	KindAction     ObjectKind = "action"
	KindType       ObjectKind = "type"
)

// UnresolvableObjectError reports a name that could not be matched against
// service metadata.
type UnresolvableObjectError struct {
	Kind ObjectKind
	Name string
	Hint string
}

// Unresolvable builds an UnresolvableObjectError.
func Unresolvable(kind ObjectKind, name, hint string) *UnresolvableObjectError {
	return &UnresolvableObjectError{Kind: kind, Name: name, Hint: hint}
}

func (e *UnresolvableObjectError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.Name)
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

func (e *UnresolvableObjectError) Is(target error) bool { return target == ErrUnresolvable }

// InnerError is one level of a server-side exception chain.
type InnerError struct {
	Message    string
	TypeName   string
	StackTrace string
	Inner      *InnerError
}

// ErrorDetails is a parsed OData error payload.
type ErrorDetails struct {
	Code    string
	Message string
	Target  string
	Details []ErrorDetails
	Inner   *InnerError
}

// String renders the message followed by the inner error messages.
func (d *ErrorDetails) String() string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	if d.Code != "" {
		b.WriteString(d.Code)
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	for in := d.Inner; in != nil; in = in.Inner {
		if in.Message != "" {
			b.WriteString(" -> ")
			b.WriteString(in.Message)
		}
	}
	return b.String()
}

// WebRequestError reports a non-success HTTP status.
type WebRequestError struct {
	StatusCode int
	Body       []byte
	// Details holds the parsed error payload, or nil when the body carried none.
	Details    *ErrorDetails
	RequestURI string
}

func (e *WebRequestError) Error() string {
	msg := fmt.Sprintf("request %s failed with status %d", e.RequestURI, e.StatusCode)
	if e.Details != nil && e.Details.Message != "" {
		msg += ": " + e.Details.String()
	}
	return msg
}

func (e *WebRequestError) Is(target error) bool { return target == ErrWebRequest }

// NotSupportedError reports a value or payload the client cannot handle.
type NotSupportedError struct {
	What string
}

func NotSupported(format string, args ...any) *NotSupportedError {
	return &NotSupportedError{What: fmt.Sprintf(format, args...)}
}

func (e *NotSupportedError) Error() string { return "not supported: " + e.What }

func (e *NotSupportedError) Is(target error) bool { return target == ErrNotSupported }

// FormatError reports a failed scalar conversion.
type FormatError struct {
	Value  string
	Target string
	Err    error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("cannot convert %q to %s", e.Value, e.Target)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// InvalidOperationError reports misuse of the command builder.
type InvalidOperationError struct {
	Op     string
	Reason string
}

func InvalidOperation(op, reason string) *InvalidOperationError {
	return &InvalidOperationError{Op: op, Reason: reason}
}

func (e *InvalidOperationError) Error() string {
	if e.Op == "" {
		return "invalid operation: " + e.Reason
	}
	return fmt.Sprintf("invalid operation %s: %s", e.Op, e.Reason)
}

func (e *InvalidOperationError) Is(target error) bool { return target == ErrInvalidOperation }

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var we *WebRequestError
	if errors.As(err, &we) {
		return we.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a WebRequestError with status 404.
func IsNotFound(err error) bool {
	return StatusCode(err) == 404
}
