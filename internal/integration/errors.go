package integration

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures at the Habu boundary
type ErrorKind string

const (
	KindConfiguration  ErrorKind = "ConfigurationError"
	KindAuthentication ErrorKind = "AuthenticationError"
	KindAPI            ErrorKind = "APIError"
	KindNetwork        ErrorKind = "NetworkError"
)

// Error codes carried on Error.Code
const (
	CodeMissingCredentials = "MISSING_CREDENTIALS"
	CodeTokenRequestFailed = "TOKEN_REQUEST_FAILED"
	CodeHTTPStatus         = "HTTP_STATUS"
	CodeTimeout            = "TIMEOUT"
	CodeConnection         = "CONNECTION_FAILED"
	CodeCircuitOpen        = "CIRCUIT_OPEN"
	CodeInvalidResponse    = "INVALID_RESPONSE"
)

// Error is the single error type returned by the Habu client
type Error struct {
	Kind       ErrorKind
	Message    string
	Code       string
	StatusCode int
	Details    map[string]interface{}
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewConfigurationError reports missing or invalid local configuration
func NewConfigurationError(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message, Code: CodeMissingCredentials}
}

// NewAuthenticationError reports a failed token acquisition
func NewAuthenticationError(message string, err error) *Error {
	return &Error{Kind: KindAuthentication, Message: message, Code: CodeTokenRequestFailed, Err: err}
}

// NewAPIError reports a non-2xx response from Habu
func NewAPIError(statusCode int, message string) *Error {
	return &Error{Kind: KindAPI, Message: message, Code: CodeHTTPStatus, StatusCode: statusCode}
}

// NewNetworkError reports a timeout, connection failure or open circuit
func NewNetworkError(code, message string, err error) *Error {
	return &Error{Kind: KindNetwork, Message: message, Code: code, Err: err}
}

// IsKind reports whether err wraps an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// Describe returns the kind and code of err for the uniform tool error shape
func Describe(err error) (kind ErrorKind, code string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, e.Code
	}
	return "", ""
}
