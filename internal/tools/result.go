package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/habubridge/habubridge/internal/integration"
)

// Result statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error codes produced at the tool boundary, alongside integration's codes
const (
	CodeInvalidInput = "INVALID_INPUT"
	CodeUnknownTool  = "UNKNOWN_TOOL"
	CodeInternal     = "INTERNAL_ERROR"
)

// Result is the uniform JSON object every tool returns. It always carries
// "status" and "summary".
type Result map[string]interface{}

// Success starts a successful result
func Success(summary string) Result {
	return Result{"status": StatusSuccess, "summary": summary}
}

// With sets a field and returns the result for chaining
func (r Result) With(key string, value interface{}) Result {
	r[key] = value
	return r
}

// Status returns the status field
func (r Result) Status() string {
	s, _ := r["status"].(string)
	return s
}

// Summary returns the summary field
func (r Result) Summary() string {
	s, _ := r["summary"].(string)
	return s
}

// IsError reports whether the tool failed
func (r Result) IsError() bool {
	return r.Status() != StatusSuccess
}

// Cached reports whether the result was served from the cache
func (r Result) Cached() bool {
	b, _ := r["cached"].(bool)
	return b
}

// String returns a string field, or ""
func (r Result) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// JSON encodes the result. Results are built from JSON-safe values, so the
// fallback only triggers on programming errors.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"status":"error","error_code":%q,"summary":"result could not be encoded"}`, CodeInternal)
	}
	return string(data)
}

// InvalidInput builds the error result for bad or missing arguments
func InvalidInput(message string) Result {
	return Result{
		"status":     StatusError,
		"error":      message,
		"error_code": CodeInvalidInput,
		"summary":    message,
	}
}

// Failure converts any error into the uniform error shape
func Failure(err error) Result {
	if err == nil {
		err = errors.New("unknown error")
	}

	kind, code := integration.Describe(err)
	if code == "" {
		code = CodeInternal
	}

	r := Result{
		"status":     StatusError,
		"error":      err.Error(),
		"error_code": code,
		"summary":    failureSummary(err),
	}
	if kind != "" {
		r["error_type"] = string(kind)
	}
	if status := integration.StatusCode(err); status != 0 {
		r["status_code"] = status
	}
	return r
}

func failureSummary(err error) string {
	var e *integration.Error
	if !errors.As(err, &e) {
		return fmt.Sprintf("Unexpected error: %v", err)
	}

	switch e.Kind {
	case integration.KindConfiguration:
		return "Habu credentials are not configured: " + e.Message
	case integration.KindAuthentication:
		return "Could not authenticate with Habu: " + e.Message
	case integration.KindAPI:
		return fmt.Sprintf("Habu returned an error (HTTP %d): %s", e.StatusCode, e.Message)
	case integration.KindNetwork:
		if e.Code == integration.CodeCircuitOpen {
			return "Habu is temporarily unavailable, please try again shortly"
		}
		return "Could not reach Habu: " + e.Message
	default:
		return e.Message
	}
}
