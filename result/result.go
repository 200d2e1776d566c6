// Package result holds the response envelope for expected outcomes and the
// error type handlers return for failures they anticipated.
package result

import (
	"fmt"
	"net/http"
)

const (
	// SuccessMessage and SuccessCode fill a successful envelope.
	SuccessMessage = "SUCCESS"
	SuccessCode    = "0"
)

// Result is the JSON envelope returned by API endpoints.
type Result[T any] struct {
	Data    *T     `json:"data"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Empty is the payload type of envelopes that carry no data.
type Empty struct{}

// Success wraps data in a successful envelope.
func Success[T any](data T) Result[T] {
	return Result[T]{Data: &data, Message: SuccessMessage, Code: SuccessCode}
}

// OK is a successful envelope without data.
func OK() Result[Empty] {
	return Result[Empty]{Message: SuccessMessage, Code: SuccessCode}
}

// Failure builds an envelope without data for an expected failure.
func Failure(code, message string) Result[Empty] {
	return Result[Empty]{Message: message, Code: code}
}

// KnownError is an anticipated failure. It is rendered as a Failure envelope
// with Status instead of going through the unhandled-error path.
type KnownError struct {
	Status  int
	Code    string
	Message string
}

func (e *KnownError) Error() string {
	return fmt.Sprintf("known error %s: %s", e.Code, e.Message)
}

// Envelope returns the response body for e.
func (e *KnownError) Envelope() Result[Empty] {
	return Failure(e.Code, e.Message)
}

// Known returns a *KnownError. An out-of-range status becomes 500.
func Known(status int, code, message string) error {
	if status < 100 || status > 599 {
		status = http.StatusInternalServerError
	}
	return &KnownError{Status: status, Code: code, Message: message}
}
