// Package provider holds the pieces shared by every capability contract:
// the Error type that vendor adapters return for transport and non-OK
// responses, and the body-truncation rule that keeps those errors loggable.
//
// The contracts themselves live in the subpackages asr, llm, tts and
// realtime; concrete vendor adapters live one level below those.
package provider

import "fmt"

// maxBodyExcerpt caps how much of a failed HTTP response body an Error
// carries. Vendor error pages can be arbitrarily large; 200 bytes is enough
// to identify the failure in a log line.
const maxBodyExcerpt = 200

// Error describes a failed provider call. Status is the HTTP status code for
// non-OK responses and 0 for pure transport failures, in which case Err
// carries the underlying error.
type Error struct {
	Provider string
	Op       string
	Status   int
	Body     string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s: status %d: %s", e.Provider, e.Op, e.Status, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s failed", e.Provider, e.Op)
}

// Unwrap returns the underlying transport error, if any.
func (e *Error) Unwrap() error { return e.Err }

// NewHTTPError builds an Error for a non-OK HTTP response, truncating body
// to a loggable excerpt.
func NewHTTPError(providerName, op string, status int, body []byte) *Error {
	excerpt := body
	if len(excerpt) > maxBodyExcerpt {
		excerpt = excerpt[:maxBodyExcerpt]
	}
	return &Error{Provider: providerName, Op: op, Status: status, Body: string(excerpt)}
}

// NewTransportError builds an Error for a failed request that never produced
// an HTTP response.
func NewTransportError(providerName, op string, err error) *Error {
	return &Error{Provider: providerName, Op: op, Err: err}
}
