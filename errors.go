package odata

import "github.com/nlstn/go-odataclient/internal/oerrors"

// Error types. Each matches its sentinel with errors.Is.
type (
	UnresolvableObjectError = oerrors.UnresolvableObjectError
	WebRequestError         = oerrors.WebRequestError
	NotSupportedError       = oerrors.NotSupportedError
	FormatError             = oerrors.FormatError
	InvalidOperationError   = oerrors.InvalidOperationError

	// ErrorDetails is the parsed error payload of a failed request.
	ErrorDetails = oerrors.ErrorDetails
	InnerError   = oerrors.InnerError
)

var (
	ErrUnresolvable     = oerrors.ErrUnresolvable
	ErrWebRequest       = oerrors.ErrWebRequest
	ErrNotSupported     = oerrors.ErrNotSupported
	ErrFormat           = oerrors.ErrFormat
	ErrInvalidOperation = oerrors.ErrInvalidOperation
	ErrNotImplemented   = oerrors.ErrNotImplemented
)

// StatusCode returns the HTTP status of a failed request, or 0.
func StatusCode(err error) int { return oerrors.StatusCode(err) }

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool { return oerrors.IsNotFound(err) }
